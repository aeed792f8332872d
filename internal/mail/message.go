// Package mail renders the transactional emails of the CRM and delivers
// them through an SMTP relay.
package mail

import (
	"errors"
	"net/mail"
	"strings"
)

// Message is a rendered plain-text email.
type Message struct {
	To       string
	Subject  string
	Body     string
	Template string
}

// Validate checks that the message can be handed to a relay.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.New("mail: recipient is required")
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return errors.New("mail: invalid recipient address")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("mail: subject is required")
	}
	return nil
}
