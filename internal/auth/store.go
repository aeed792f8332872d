package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Tx runs fn against a transactional view; returning an error rolls back.
type Store interface {
	Emails(ctx context.Context) EmailRegistry
	Admins(ctx context.Context) AdminStore
	Users(ctx context.Context) UserStore
	Tx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// EmailRegistry keeps one row per address across both account variants.
type EmailRegistry interface {
	// Claim reserves email for kind, returning ErrConflict when taken.
	Claim(ctx context.Context, email string, kind Role) error
	Lookup(ctx context.Context, email string) (Role, error)
	Rename(ctx context.Context, from, to string) error
	Release(ctx context.Context, email string) error
}

// AdminStore manages admins.
type AdminStore interface {
	Create(ctx context.Context, a *Admin) error
	Find(ctx context.Context, id int64) (*Admin, error)
	FindByEmail(ctx context.Context, email string) (*Admin, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	MarkVerified(ctx context.Context, id int64) error
	// RecordFailedLogin atomically increments the attempt counter and locks
	// the account until lockUntil once attempts reach threshold.
	RecordFailedLogin(ctx context.Context, id int64, threshold int, lockUntil time.Time) (FailedLogin, error)
	ClearLoginFailures(ctx context.Context, id int64) error
	SetResetToken(ctx context.Context, id int64, tokenHash string, expiry time.Time) error
	FindByResetToken(ctx context.Context, tokenHash string) (*Admin, error)
	// ConsumeResetToken stores passwordHash and clears the token if it is
	// still present and unexpired at now. It reports whether a row changed.
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (bool, error)
}

// UserStore manages invited users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindBySetupToken(ctx context.Context, tokenHash string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	// Activate consumes the setup token, stores passwordHash and sets status active.
	Activate(ctx context.Context, tokenHash, passwordHash string, now time.Time) (bool, error)
	Update(ctx context.Context, u *User) error
	UpdateUsername(ctx context.Context, id int64, username string) error
	Delete(ctx context.Context, id int64) error
	SetResetToken(ctx context.Context, id int64, tokenHash string, expiry time.Time) error
	FindByResetToken(ctx context.Context, tokenHash string) (*User, error)
	ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (bool, error)
}
