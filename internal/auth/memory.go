package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store used by tests and local demos. Tx
// serialises callers and restores a snapshot when fn fails.
type MemoryStore struct {
	mu sync.Mutex
	st *memState
}

type memState struct {
	emails    map[string]Role
	admins    map[int64]*Admin
	users     map[int64]*User
	nextAdmin int64
	nextUser  int64
	clock     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: &memState{
		emails: make(map[string]Role),
		admins: make(map[int64]*Admin),
		users:  make(map[int64]*User),
		clock:  time.Now,
	}}
}

func (m *MemoryStore) Emails(context.Context) EmailRegistry { return lockedEmails{m} }
func (m *MemoryStore) Admins(context.Context) AdminStore    { return lockedAdmins{m} }
func (m *MemoryStore) Users(context.Context) UserStore      { return lockedUsers{m} }

func (m *MemoryStore) Tx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.st.clone()
	if err := fn(ctx, &memTx{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *memState) clone() *memState {
	out := &memState{
		emails:    make(map[string]Role, len(s.emails)),
		admins:    make(map[int64]*Admin, len(s.admins)),
		users:     make(map[int64]*User, len(s.users)),
		nextAdmin: s.nextAdmin,
		nextUser:  s.nextUser,
		clock:     s.clock,
	}
	for k, v := range s.emails {
		out.emails[k] = v
	}
	for k, v := range s.admins {
		cp := *v
		out.admins[k] = &cp
	}
	for k, v := range s.users {
		cp := *v
		out.users[k] = &cp
	}
	return out
}

// memTx is the unlocked view handed to Tx callbacks.
type memTx struct{ st *memState }

func (t *memTx) Emails(context.Context) EmailRegistry { return memEmails{t.st} }
func (t *memTx) Admins(context.Context) AdminStore    { return memAdmins{t.st} }
func (t *memTx) Users(context.Context) UserStore      { return memUsers{t.st} }
func (t *memTx) Tx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}

// withState runs fn under the store mutex; the locked* wrappers below use it.
func withState[T any](m *MemoryStore, fn func(st *memState) (T, error)) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

func withStateErr(m *MemoryStore, fn func(st *memState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

func copyAdmin(a *Admin) *Admin {
	cp := *a
	return &cp
}

func copyUser(u *User) *User {
	cp := *u
	return &cp
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Email registry -----------------------------------------------------------
type memEmails struct{ st *memState }

func (r memEmails) Claim(_ context.Context, email string, kind Role) error {
	key := normalizeEmail(email)
	if _, ok := r.st.emails[key]; ok {
		return ErrConflict
	}
	r.st.emails[key] = kind
	return nil
}

func (r memEmails) Lookup(_ context.Context, email string) (Role, error) {
	kind, ok := r.st.emails[normalizeEmail(email)]
	if !ok {
		return "", ErrNotFound
	}
	return kind, nil
}

func (r memEmails) Rename(_ context.Context, from, to string) error {
	from, to = normalizeEmail(from), normalizeEmail(to)
	kind, ok := r.st.emails[from]
	if !ok {
		return ErrNotFound
	}
	if from == to {
		return nil
	}
	if _, taken := r.st.emails[to]; taken {
		return ErrConflict
	}
	delete(r.st.emails, from)
	r.st.emails[to] = kind
	return nil
}

func (r memEmails) Release(_ context.Context, email string) error {
	delete(r.st.emails, normalizeEmail(email))
	return nil
}

type lockedEmails struct{ m *MemoryStore }

func (l lockedEmails) Claim(ctx context.Context, email string, kind Role) error {
	return withStateErr(l.m, func(st *memState) error { return memEmails{st}.Claim(ctx, email, kind) })
}

func (l lockedEmails) Lookup(ctx context.Context, email string) (Role, error) {
	return withState(l.m, func(st *memState) (Role, error) { return memEmails{st}.Lookup(ctx, email) })
}

func (l lockedEmails) Rename(ctx context.Context, from, to string) error {
	return withStateErr(l.m, func(st *memState) error { return memEmails{st}.Rename(ctx, from, to) })
}

func (l lockedEmails) Release(ctx context.Context, email string) error {
	return withStateErr(l.m, func(st *memState) error { return memEmails{st}.Release(ctx, email) })
}

// Admin store --------------------------------------------------------------
type memAdmins struct{ st *memState }

func (s memAdmins) Create(_ context.Context, a *Admin) error {
	for _, existing := range s.st.admins {
		if strings.EqualFold(existing.Email, a.Email) || strings.EqualFold(existing.Username, a.Username) {
			return ErrConflict
		}
	}
	s.st.nextAdmin++
	now := s.st.clock().UTC()
	a.ID = s.st.nextAdmin
	a.CreatedAt, a.UpdatedAt = now, now
	s.st.admins[a.ID] = copyAdmin(a)
	return nil
}

func (s memAdmins) Find(_ context.Context, id int64) (*Admin, error) {
	a, ok := s.st.admins[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAdmin(a), nil
}

func (s memAdmins) FindByEmail(_ context.Context, email string) (*Admin, error) {
	for _, a := range s.st.admins {
		if a.Email == email {
			return copyAdmin(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s memAdmins) UsernameTaken(_ context.Context, username string) (bool, error) {
	for _, a := range s.st.admins {
		if strings.EqualFold(a.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (s memAdmins) MarkVerified(_ context.Context, id int64) error {
	a, ok := s.st.admins[id]
	if !ok {
		return ErrNotFound
	}
	a.IsVerified = true
	return nil
}

func (s memAdmins) RecordFailedLogin(_ context.Context, id int64, threshold int, lockUntil time.Time) (FailedLogin, error) {
	a, ok := s.st.admins[id]
	if !ok {
		return FailedLogin{}, ErrNotFound
	}
	a.LoginAttempts++
	if a.LoginAttempts >= threshold {
		a.IsLocked = true
		until := lockUntil
		a.LockoutUntil = &until
	}
	return FailedLogin{Attempts: a.LoginAttempts, Locked: a.IsLocked, LockoutUntil: a.LockoutUntil}, nil
}

func (s memAdmins) ClearLoginFailures(_ context.Context, id int64) error {
	a, ok := s.st.admins[id]
	if !ok {
		return ErrNotFound
	}
	a.LoginAttempts = 0
	a.IsLocked = false
	a.LockoutUntil = nil
	return nil
}

func (s memAdmins) SetResetToken(_ context.Context, id int64, tokenHash string, expiry time.Time) error {
	a, ok := s.st.admins[id]
	if !ok {
		return ErrNotFound
	}
	a.ResetTokenHash = &tokenHash
	a.ResetTokenExpiry = &expiry
	return nil
}

func (s memAdmins) FindByResetToken(_ context.Context, tokenHash string) (*Admin, error) {
	for _, a := range s.st.admins {
		if a.ResetTokenHash != nil && *a.ResetTokenHash == tokenHash {
			return copyAdmin(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s memAdmins) ConsumeResetToken(_ context.Context, tokenHash, passwordHash string, now time.Time) (bool, error) {
	for _, a := range s.st.admins {
		if a.ResetTokenHash == nil || *a.ResetTokenHash != tokenHash {
			continue
		}
		if a.ResetTokenExpiry == nil || !a.ResetTokenExpiry.After(now) {
			return false, nil
		}
		a.PasswordHash = passwordHash
		a.ResetTokenHash, a.ResetTokenExpiry = nil, nil
		a.LoginAttempts, a.IsLocked, a.LockoutUntil = 0, false, nil
		return true, nil
	}
	return false, nil
}

type lockedAdmins struct{ m *MemoryStore }

func (l lockedAdmins) Create(ctx context.Context, a *Admin) error {
	return withStateErr(l.m, func(st *memState) error { return memAdmins{st}.Create(ctx, a) })
}

func (l lockedAdmins) Find(ctx context.Context, id int64) (*Admin, error) {
	return withState(l.m, func(st *memState) (*Admin, error) { return memAdmins{st}.Find(ctx, id) })
}

func (l lockedAdmins) FindByEmail(ctx context.Context, email string) (*Admin, error) {
	return withState(l.m, func(st *memState) (*Admin, error) { return memAdmins{st}.FindByEmail(ctx, email) })
}

func (l lockedAdmins) UsernameTaken(ctx context.Context, username string) (bool, error) {
	return withState(l.m, func(st *memState) (bool, error) { return memAdmins{st}.UsernameTaken(ctx, username) })
}

func (l lockedAdmins) MarkVerified(ctx context.Context, id int64) error {
	return withStateErr(l.m, func(st *memState) error { return memAdmins{st}.MarkVerified(ctx, id) })
}

func (l lockedAdmins) RecordFailedLogin(ctx context.Context, id int64, threshold int, lockUntil time.Time) (FailedLogin, error) {
	return withState(l.m, func(st *memState) (FailedLogin, error) {
		return memAdmins{st}.RecordFailedLogin(ctx, id, threshold, lockUntil)
	})
}

func (l lockedAdmins) ClearLoginFailures(ctx context.Context, id int64) error {
	return withStateErr(l.m, func(st *memState) error { return memAdmins{st}.ClearLoginFailures(ctx, id) })
}

func (l lockedAdmins) SetResetToken(ctx context.Context, id int64, tokenHash string, expiry time.Time) error {
	return withStateErr(l.m, func(st *memState) error { return memAdmins{st}.SetResetToken(ctx, id, tokenHash, expiry) })
}

func (l lockedAdmins) FindByResetToken(ctx context.Context, tokenHash string) (*Admin, error) {
	return withState(l.m, func(st *memState) (*Admin, error) { return memAdmins{st}.FindByResetToken(ctx, tokenHash) })
}

func (l lockedAdmins) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (bool, error) {
	return withState(l.m, func(st *memState) (bool, error) {
		return memAdmins{st}.ConsumeResetToken(ctx, tokenHash, passwordHash, now)
	})
}

// User store ---------------------------------------------------------------
type memUsers struct{ st *memState }

func (s memUsers) Create(_ context.Context, u *User) error {
	for _, existing := range s.st.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrConflict
		}
	}
	s.st.nextUser++
	now := s.st.clock().UTC()
	u.ID = s.st.nextUser
	u.CreatedAt, u.UpdatedAt = now, now
	s.st.users[u.ID] = copyUser(u)
	return nil
}

func (s memUsers) Find(_ context.Context, id int64) (*User, error) {
	u, ok := s.st.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range s.st.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s memUsers) FindBySetupToken(_ context.Context, tokenHash string) (*User, error) {
	for _, u := range s.st.users {
		if u.SetupTokenHash != nil && *u.SetupTokenHash == tokenHash {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s memUsers) List(_ context.Context) ([]*User, error) {
	out := make([]*User, 0, len(s.st.users))
	for _, u := range s.st.users {
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memUsers) Activate(_ context.Context, tokenHash, passwordHash string, now time.Time) (bool, error) {
	for _, u := range s.st.users {
		if u.SetupTokenHash == nil || *u.SetupTokenHash != tokenHash {
			continue
		}
		if u.Status != StatusPending || u.SetupTokenExpires == nil || !u.SetupTokenExpires.After(now) {
			return false, nil
		}
		u.PasswordHash = &passwordHash
		u.TempPasswordHash, u.SetupTokenHash, u.SetupTokenExpires = nil, nil, nil
		u.Status = StatusActive
		return true, nil
	}
	return false, nil
}

func (s memUsers) Update(_ context.Context, u *User) error {
	existing, ok := s.st.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	for id, other := range s.st.users {
		if id != u.ID && strings.EqualFold(other.Email, u.Email) {
			return ErrConflict
		}
	}
	existing.Username = u.Username
	existing.Email = u.Email
	existing.Status = u.Status
	existing.UpdatedAt = s.st.clock().UTC()
	return nil
}

func (s memUsers) UpdateUsername(_ context.Context, id int64, username string) error {
	u, ok := s.st.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Username = username
	return nil
}

func (s memUsers) Delete(_ context.Context, id int64) error {
	if _, ok := s.st.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.st.users, id)
	return nil
}

func (s memUsers) SetResetToken(_ context.Context, id int64, tokenHash string, expiry time.Time) error {
	u, ok := s.st.users[id]
	if !ok {
		return ErrNotFound
	}
	u.ResetTokenHash = &tokenHash
	u.ResetTokenExpiry = &expiry
	return nil
}

func (s memUsers) FindByResetToken(_ context.Context, tokenHash string) (*User, error) {
	for _, u := range s.st.users {
		if u.ResetTokenHash != nil && *u.ResetTokenHash == tokenHash {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s memUsers) ConsumeResetToken(_ context.Context, tokenHash, passwordHash string, now time.Time) (bool, error) {
	for _, u := range s.st.users {
		if u.ResetTokenHash == nil || *u.ResetTokenHash != tokenHash {
			continue
		}
		if u.ResetTokenExpiry == nil || !u.ResetTokenExpiry.After(now) || u.Status == StatusPending {
			return false, nil
		}
		u.PasswordHash = &passwordHash
		u.ResetTokenHash, u.ResetTokenExpiry = nil, nil
		return true, nil
	}
	return false, nil
}

type lockedUsers struct{ m *MemoryStore }

func (l lockedUsers) Create(ctx context.Context, u *User) error {
	return withStateErr(l.m, func(st *memState) error { return memUsers{st}.Create(ctx, u) })
}

func (l lockedUsers) Find(ctx context.Context, id int64) (*User, error) {
	return withState(l.m, func(st *memState) (*User, error) { return memUsers{st}.Find(ctx, id) })
}

func (l lockedUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return withState(l.m, func(st *memState) (*User, error) { return memUsers{st}.FindByEmail(ctx, email) })
}

func (l lockedUsers) FindBySetupToken(ctx context.Context, tokenHash string) (*User, error) {
	return withState(l.m, func(st *memState) (*User, error) { return memUsers{st}.FindBySetupToken(ctx, tokenHash) })
}

func (l lockedUsers) List(ctx context.Context) ([]*User, error) {
	return withState(l.m, func(st *memState) ([]*User, error) { return memUsers{st}.List(ctx) })
}

func (l lockedUsers) Activate(ctx context.Context, tokenHash, passwordHash string, now time.Time) (bool, error) {
	return withState(l.m, func(st *memState) (bool, error) {
		return memUsers{st}.Activate(ctx, tokenHash, passwordHash, now)
	})
}

func (l lockedUsers) Update(ctx context.Context, u *User) error {
	return withStateErr(l.m, func(st *memState) error { return memUsers{st}.Update(ctx, u) })
}

func (l lockedUsers) UpdateUsername(ctx context.Context, id int64, username string) error {
	return withStateErr(l.m, func(st *memState) error { return memUsers{st}.UpdateUsername(ctx, id, username) })
}

func (l lockedUsers) Delete(ctx context.Context, id int64) error {
	return withStateErr(l.m, func(st *memState) error { return memUsers{st}.Delete(ctx, id) })
}

func (l lockedUsers) SetResetToken(ctx context.Context, id int64, tokenHash string, expiry time.Time) error {
	return withStateErr(l.m, func(st *memState) error { return memUsers{st}.SetResetToken(ctx, id, tokenHash, expiry) })
}

func (l lockedUsers) FindByResetToken(ctx context.Context, tokenHash string) (*User, error) {
	return withState(l.m, func(st *memState) (*User, error) { return memUsers{st}.FindByResetToken(ctx, tokenHash) })
}

func (l lockedUsers) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (bool, error) {
	return withState(l.m, func(st *memState) (bool, error) {
		return memUsers{st}.ConsumeResetToken(ctx, tokenHash, passwordHash, now)
	})
}
