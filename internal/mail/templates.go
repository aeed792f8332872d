package mail

import (
	"bytes"
	"fmt"
	"text/template"
)

// Template names.
const (
	TemplateSecurityCode   = "security_code"
	TemplateInvitation     = "invitation"
	TemplatePasswordReset  = "password_reset"
	TemplateLockoutAlert   = "lockout_alert"
	TemplateAccountUpdated = "account_updated"
	TemplateAccountDeleted = "account_deleted"
)

type emailTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[string]emailTemplate{
	TemplateSecurityCode: {
		subject: "Admin Security Code - CRM System",
		body: template.Must(template.New(TemplateSecurityCode).Parse(`Hello {{.FullName}},

Your security code is: {{.Code}}.

Please enter this code to verify your email.

Thank you!
`)),
	},
	TemplateInvitation: {
		subject: "You're invited to the CRM System",
		body: template.Must(template.New(TemplateInvitation).Parse(`Hello {{.Username}},

An administrator created an account for you.

Temporary password: {{.TempPassword}}

Complete your account setup here:
{{.SetupLink}}

The link expires in {{.ExpiresIn}}.
`)),
	},
	TemplatePasswordReset: {
		subject: "Password Reset Request",
		body: template.Must(template.New(TemplatePasswordReset).Parse(`Click the link to reset your password:

{{.ResetLink}}

Expires in {{.ExpiresIn}}.
`)),
	},
	TemplateLockoutAlert: {
		subject: "Admin account locked - CRM System",
		body: template.Must(template.New(TemplateLockoutAlert).Parse(`The admin account {{.Email}} was locked after {{.Attempts}} failed login attempts.

Locked until: {{.Until}}
`)),
	},
	TemplateAccountUpdated: {
		subject: "Your CRM account was updated",
		body: template.Must(template.New(TemplateAccountUpdated).Parse(`Hello {{.Username}},

An administrator updated your account.

Username: {{.Username}}
Email: {{.Email}}
Status: {{.Status}}
`)),
	},
	TemplateAccountDeleted: {
		subject: "Your CRM account was removed",
		body: template.Must(template.New(TemplateAccountDeleted).Parse(`Hello {{.Username}},

Your account has been removed by an administrator.
`)),
	},
}

// Render builds a message for to from the named template.
func Render(name, to string, data any) (Message, error) {
	tpl, ok := templates[name]
	if !ok {
		return Message{}, fmt.Errorf("mail: unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("mail: render %s: %w", name, err)
	}
	return Message{
		To:       to,
		Subject:  tpl.subject,
		Body:     buf.String(),
		Template: name,
	}, nil
}
