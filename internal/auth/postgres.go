package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crmdesk.io/internal/store/pg"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
	q  pg.DBTX
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, q: db}
}

func (s *PGStore) Emails(context.Context) EmailRegistry { return &emailRegistry{q: s.q} }
func (s *PGStore) Admins(context.Context) AdminStore    { return &adminStore{q: s.q} }
func (s *PGStore) Users(context.Context) UserStore      { return &userStore{q: s.q} }

// Tx runs fn in a database transaction. Calls on a transactional view join
// the outer transaction.
func (s *PGStore) Tx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.db == nil {
		return fn(ctx, s)
	}
	return pg.WithTx(ctx, s.db, nil, func(ctx context.Context, tx pg.DBTX) error {
		return fn(ctx, &PGStore{q: tx})
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func mapWriteErr(op string, err error) error {
	if pg.IsUniqueViolation(err) {
		return ErrConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// Email registry -----------------------------------------------------------
type emailRegistry struct{ q pg.DBTX }

func (r *emailRegistry) Claim(ctx context.Context, email string, kind Role) error {
	_, err := r.q.ExecContext(ctx,
		`insert into account_emails(email, kind) values($1,$2)`, email, string(kind))
	if err != nil {
		return mapWriteErr("claim email", err)
	}
	return nil
}

func (r *emailRegistry) Lookup(ctx context.Context, email string) (Role, error) {
	var kind string
	err := r.q.QueryRowContext(ctx, `select kind from account_emails where email=$1`, email).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Role(kind), nil
}

func (r *emailRegistry) Rename(ctx context.Context, from, to string) error {
	res, err := r.q.ExecContext(ctx, `update account_emails set email=$2 where email=$1`, from, to)
	if err != nil {
		return mapWriteErr("rename email", err)
	}
	ok, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *emailRegistry) Release(ctx context.Context, email string) error {
	_, err := r.q.ExecContext(ctx, `delete from account_emails where email=$1`, email)
	return err
}

// Admin store --------------------------------------------------------------
type adminStore struct{ q pg.DBTX }

const adminColumns = `id, full_name, username, email, password, security_code, is_verified,
	login_attempts, is_locked, lockout_until, reset_token, reset_token_expiry, created_at, updated_at`

func scanAdmin(row scanner) (*Admin, error) {
	var (
		a        Admin
		code     sql.NullString
		lockout  sql.NullTime
		reset    sql.NullString
		resetExp sql.NullTime
	)
	err := row.Scan(&a.ID, &a.FullName, &a.Username, &a.Email, &a.PasswordHash, &code, &a.IsVerified,
		&a.LoginAttempts, &a.IsLocked, &lockout, &reset, &resetExp, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.SecurityCodeHash = code.String
	a.LockoutUntil = nullTime(lockout)
	a.ResetTokenHash = nullString(reset)
	a.ResetTokenExpiry = nullTime(resetExp)
	return &a, nil
}

func (s *adminStore) Create(ctx context.Context, a *Admin) error {
	err := s.q.QueryRowContext(ctx,
		`insert into admins(full_name, username, email, password, security_code, is_verified)
		 values($1,$2,$3,$4,$5,$6) returning id, created_at, updated_at`,
		a.FullName, a.Username, a.Email, a.PasswordHash, a.SecurityCodeHash, a.IsVerified,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return mapWriteErr("create admin", err)
	}
	return nil
}

func (s *adminStore) Find(ctx context.Context, id int64) (*Admin, error) {
	return scanAdmin(s.q.QueryRowContext(ctx, `select `+adminColumns+` from admins where id=$1`, id))
}

func (s *adminStore) FindByEmail(ctx context.Context, email string) (*Admin, error) {
	return scanAdmin(s.q.QueryRowContext(ctx, `select `+adminColumns+` from admins where email=$1`, email))
}

func (s *adminStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`select exists(select 1 from admins where lower(username)=lower($1))`, username).Scan(&exists)
	return exists, err
}

func (s *adminStore) MarkVerified(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx,
		`update admins set is_verified=true, updated_at=now() where id=$1`, id)
	return err
}

func (s *adminStore) RecordFailedLogin(ctx context.Context, id int64, threshold int, lockUntil time.Time) (FailedLogin, error) {
	var (
		out     FailedLogin
		lockout sql.NullTime
	)
	err := s.q.QueryRowContext(ctx,
		`update admins
		    set login_attempts = login_attempts + 1,
		        is_locked = login_attempts + 1 >= $2,
		        lockout_until = case when login_attempts + 1 >= $2 then $3 else lockout_until end,
		        updated_at = now()
		  where id = $1
		  returning login_attempts, is_locked, lockout_until`,
		id, threshold, lockUntil,
	).Scan(&out.Attempts, &out.Locked, &lockout)
	if errors.Is(err, sql.ErrNoRows) {
		return FailedLogin{}, ErrNotFound
	}
	if err != nil {
		return FailedLogin{}, err
	}
	out.LockoutUntil = nullTime(lockout)
	return out, nil
}

func (s *adminStore) ClearLoginFailures(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx,
		`update admins set login_attempts=0, is_locked=false, lockout_until=null, updated_at=now() where id=$1`, id)
	return err
}

func (s *adminStore) SetResetToken(ctx context.Context, id int64, tokenHash string, expiry time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`update admins set reset_token=$2, reset_token_expiry=$3, updated_at=now() where id=$1`,
		id, tokenHash, expiry)
	return err
}

func (s *adminStore) FindByResetToken(ctx context.Context, tokenHash string) (*Admin, error) {
	return scanAdmin(s.q.QueryRowContext(ctx, `select `+adminColumns+` from admins where reset_token=$1`, tokenHash))
}

func (s *adminStore) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`update admins
		    set password=$2, reset_token=null, reset_token_expiry=null,
		        login_attempts=0, is_locked=false, lockout_until=null, updated_at=now()
		  where reset_token=$1 and reset_token_expiry > $3`,
		tokenHash, passwordHash, now)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

// User store ---------------------------------------------------------------
type userStore struct{ q pg.DBTX }

const userColumns = `id, username, email, password, temp_password, temp_token, token_expires_at,
	status, created_by, reset_token, reset_token_expiry, created_at, updated_at`

func scanUser(row scanner) (*User, error) {
	var (
		u         User
		password  sql.NullString
		tempPass  sql.NullString
		tempToken sql.NullString
		tokenExp  sql.NullTime
		status    string
		createdBy sql.NullInt64
		reset     sql.NullString
		resetExp  sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &password, &tempPass, &tempToken, &tokenExp,
		&status, &createdBy, &reset, &resetExp, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.PasswordHash = nullString(password)
	u.TempPasswordHash = nullString(tempPass)
	u.SetupTokenHash = nullString(tempToken)
	u.SetupTokenExpires = nullTime(tokenExp)
	u.Status = UserStatus(status)
	if createdBy.Valid {
		id := createdBy.Int64
		u.CreatedBy = &id
	}
	u.ResetTokenHash = nullString(reset)
	u.ResetTokenExpiry = nullTime(resetExp)
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *User) error {
	err := s.q.QueryRowContext(ctx,
		`insert into users(username, email, temp_password, temp_token, token_expires_at, status, created_by)
		 values($1,$2,$3,$4,$5,$6,$7) returning id, created_at, updated_at`,
		u.Username, u.Email, u.TempPasswordHash, u.SetupTokenHash, u.SetupTokenExpires, string(u.Status), u.CreatedBy,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return mapWriteErr("create user", err)
	}
	return nil
}

func (s *userStore) Find(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where email=$1`, email))
}

func (s *userStore) FindBySetupToken(ctx context.Context, tokenHash string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where temp_token=$1`, tokenHash))
}

func (s *userStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.q.QueryContext(ctx, `select `+userColumns+` from users order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *userStore) Activate(ctx context.Context, tokenHash, passwordHash string, now time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`update users
		    set password=$2, temp_password=null, temp_token=null, token_expires_at=null,
		        status='active', updated_at=now()
		  where temp_token=$1 and status='pending' and token_expires_at > $3`,
		tokenHash, passwordHash, now)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

func (s *userStore) Update(ctx context.Context, u *User) error {
	res, err := s.q.ExecContext(ctx,
		`update users set username=$2, email=$3, status=$4, updated_at=now() where id=$1`,
		u.ID, u.Username, u.Email, string(u.Status))
	if err != nil {
		return mapWriteErr("update user", err)
	}
	ok, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) UpdateUsername(ctx context.Context, id int64, username string) error {
	res, err := s.q.ExecContext(ctx,
		`update users set username=$2, updated_at=now() where id=$1`, id, username)
	if err != nil {
		return err
	}
	ok, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) Delete(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `delete from users where id=$1`, id)
	if err != nil {
		return err
	}
	ok, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *userStore) SetResetToken(ctx context.Context, id int64, tokenHash string, expiry time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`update users set reset_token=$2, reset_token_expiry=$3, updated_at=now() where id=$1`,
		id, tokenHash, expiry)
	return err
}

func (s *userStore) FindByResetToken(ctx context.Context, tokenHash string) (*User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where reset_token=$1`, tokenHash))
}

func (s *userStore) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`update users set password=$2, reset_token=null, reset_token_expiry=null, updated_at=now()
		  where reset_token=$1 and reset_token_expiry > $3 and status <> 'pending'`,
		tokenHash, passwordHash, now)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}
