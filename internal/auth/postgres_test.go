package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func TestPGEmailClaimConflict(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("insert into account_emails").WithArgs("a@x.com", "admin").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	if err := store.Emails(ctx).Claim(ctx, "a@x.com", RoleAdmin); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	mock.ExpectQuery("select kind from account_emails").WithArgs("u@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"kind"}).AddRow("user"))
	kind, err := store.Emails(ctx).Lookup(ctx, "u@x.com")
	if err != nil || kind != RoleUser {
		t.Fatalf("Lookup = %s, %v", kind, err)
	}

	mock.ExpectExec("update account_emails set email").WithArgs("old@x.com", "new@x.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Emails(ctx).Rename(ctx, "old@x.com", "new@x.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing email, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRecordFailedLogin(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	until := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`update admins\s+set login_attempts = login_attempts \+ 1`).
		WithArgs(int64(3), int64(5), until).
		WillReturnRows(sqlmock.NewRows([]string{"login_attempts", "is_locked", "lockout_until"}).AddRow(5, true, until))

	state, err := store.Admins(ctx).RecordFailedLogin(ctx, 3, 5, until)
	if err != nil {
		t.Fatalf("RecordFailedLogin: %v", err)
	}
	if state.Attempts != 5 || !state.Locked || state.LockoutUntil == nil || !state.LockoutUntil.Equal(until) {
		t.Fatalf("unexpected state: %+v", state)
	}

	mock.ExpectQuery(`update admins\s+set login_attempts`).
		WithArgs(int64(99), int64(5), until).
		WillReturnError(sql.ErrNoRows)
	if _, err := store.Admins(ctx).RecordFailedLogin(ctx, 99, 5, until); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGFindAdminByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cols := []string{"id", "full_name", "username", "email", "password", "security_code", "is_verified",
		"login_attempts", "is_locked", "lockout_until", "reset_token", "reset_token_expiry", "created_at", "updated_at"}
	mock.ExpectQuery("select .* from admins where email=").WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(1, "A", "a", "a@x.com", "hash", "code", true, 2, false, nil, nil, nil, now, now))

	admin, err := store.Admins(ctx).FindByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if admin.ID != 1 || admin.LoginAttempts != 2 || admin.LockoutUntil != nil || admin.ResetTokenHash != nil {
		t.Fatalf("unexpected admin: %+v", admin)
	}

	mock.ExpectQuery("select .* from admins where email=").WithArgs("none@x.com").WillReturnError(sql.ErrNoRows)
	if _, err := store.Admins(ctx).FindByEmail(ctx, "none@x.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGConsumeTokensAreConditional(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec(`update users\s+set password=\$2, temp_password=null`).
		WithArgs("hash", "pw", now).WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := store.Users(ctx).Activate(ctx, "hash", "pw", now)
	if err != nil || !ok {
		t.Fatalf("Activate = %v, %v", ok, err)
	}

	mock.ExpectExec(`update users\s+set password=\$2, temp_password=null`).
		WithArgs("hash", "pw", now).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.Users(ctx).Activate(ctx, "hash", "pw", now)
	if err != nil || ok {
		t.Fatalf("replayed Activate = %v, %v", ok, err)
	}

	mock.ExpectExec(`update admins\s+set password=\$2, reset_token=null`).
		WithArgs("tok", "pw", now).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.Admins(ctx).ConsumeResetToken(ctx, "tok", "pw", now)
	if err != nil || ok {
		t.Fatalf("ConsumeResetToken = %v, %v", ok, err)
	}

	mock.ExpectExec(`(?s)update users\s+set password=\$2, reset_token=null.*status <> 'pending'`).
		WithArgs("tok", "pw", now).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.Users(ctx).ConsumeResetToken(ctx, "tok", "pw", now)
	if err != nil || ok {
		t.Fatalf("user ConsumeResetToken = %v, %v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("insert into account_emails").WithArgs("a@x.com", "user").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("mail failed")
	err := store.Tx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.Emails(ctx).Claim(ctx, "a@x.com", RoleUser); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("delete from users").WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from account_emails").WithArgs("u@x.com").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.Tx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.Users(ctx).Delete(ctx, 4); err != nil {
			return err
		}
		return tx.Emails(ctx).Release(ctx, "u@x.com")
	})
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
