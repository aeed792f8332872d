package auth

import "time"

// Role distinguishes the two account variants.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// UserStatus tracks the invitation lifecycle of a User.
type UserStatus string

const (
	StatusPending  UserStatus = "pending"
	StatusActive   UserStatus = "active"
	StatusInactive UserStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusInactive:
		return true
	}
	return false
}

// Admin is a self-registered operator of the CRM.
type Admin struct {
	ID               int64
	FullName         string
	Username         string
	Email            string
	PasswordHash     string
	SecurityCodeHash string
	IsVerified       bool
	LoginAttempts    int
	IsLocked         bool
	LockoutUntil     *time.Time
	ResetTokenHash   *string
	ResetTokenExpiry *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LockedAt reports whether the admin is locked out at now.
func (a *Admin) LockedAt(now time.Time) bool {
	return a.IsLocked && a.LockoutUntil != nil && a.LockoutUntil.After(now)
}

// User is an account invited by an Admin.
type User struct {
	ID                int64
	Username          string
	Email             string
	PasswordHash      *string
	TempPasswordHash  *string
	SetupTokenHash    *string
	SetupTokenExpires *time.Time
	Status            UserStatus
	CreatedBy         *int64
	ResetTokenHash    *string
	ResetTokenExpiry  *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	AccountID int64
	Email     string
	Role      Role
	Redirect  string
}

// FailedLogin is the counter state after a failed admin password check.
type FailedLogin struct {
	Attempts     int
	Locked       bool
	LockoutUntil *time.Time
}
