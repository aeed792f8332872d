package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const minPasswordLength = 8

// RegisterInput is the self-service admin registration form.
type RegisterInput struct {
	FullName        string
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

func (in *RegisterInput) normalize() {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
}

// Validate checks field presence and shape.
func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Username, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(minPasswordLength, 72)),
		validation.Field(&in.ConfirmPassword, validation.Required),
	)
}

// Credentials is an email/password pair submitted to a login endpoint.
type Credentials struct {
	Email    string
	Password string
}

func (in Credentials) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required),
		validation.Field(&in.Password, validation.Required),
	)
}

// VerifyInput carries the emailed security code.
type VerifyInput struct {
	Email        string
	SecurityCode string
}

func (in VerifyInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required),
		validation.Field(&in.SecurityCode, validation.Required, validation.Length(securityCodeLength, securityCodeLength)),
	)
}

// InviteInput is what an admin submits to invite a user.
type InviteInput struct {
	Username string
	Email    string
}

func (in *InviteInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
}

func (in InviteInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
	)
}

// SetupInput completes an invitation.
type SetupInput struct {
	Token           string
	TempPassword    string
	NewPassword     string
	ConfirmPassword string
}

func (in SetupInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Token, validation.Required),
		validation.Field(&in.TempPassword, validation.Required),
		validation.Field(&in.NewPassword, validation.Required, validation.Length(minPasswordLength, 72)),
		validation.Field(&in.ConfirmPassword, validation.Required),
	)
}

// ResetInput rotates a password with a reset token.
type ResetInput struct {
	Token       string
	NewPassword string
}

func (in ResetInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Token, validation.Required),
		validation.Field(&in.NewPassword, validation.Required, validation.Length(minPasswordLength, 72)),
	)
}

// UpdateUserInput is the admin edit form for a user.
type UpdateUserInput struct {
	Username string
	Email    string
	Status   UserStatus
}

func (in *UpdateUserInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.Status = UserStatus(strings.ToLower(strings.TrimSpace(string(in.Status))))
}

func (in UpdateUserInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.Status, validation.Required,
			validation.In(StatusPending, StatusActive, StatusInactive)),
	)
}

func invalid(err error) error {
	return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
}

// ProfileInput is the self-service profile form of a user.
type ProfileInput struct {
	Username string
}

func (in ProfileInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required, validation.Length(1, 100)),
	)
}

func validateEmail(email string) error {
	return validation.Validate(email, validation.Required, is.Email)
}
