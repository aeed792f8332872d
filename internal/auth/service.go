package auth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"crmdesk.io/internal/audit"
	"crmdesk.io/internal/mail"
	"crmdesk.io/internal/obs"
)

const (
	defaultSessionTTL       = time.Hour
	defaultResetTTL         = time.Hour
	defaultSetupTTL         = 24 * time.Hour
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 30 * time.Minute

	adminRedirect = "/admin"
	userRedirect  = "/users-dashboard"
)

// Mailer delivers a rendered message. Implementations do not retry.
type Mailer interface {
	Send(ctx context.Context, m mail.Message) error
}

// Service runs the credential lifecycle of admins and invited users.
type Service struct {
	store  Store
	mailer Mailer
	tokens *TokenIssuer
	hasher Hasher
	now    func() time.Time

	lockoutThreshold int
	lockoutDuration  time.Duration
	sessionTTL       time.Duration
	resetTTL         time.Duration
	setupTTL         time.Duration

	appURL        string
	operatorEmail string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithHasher sets the bcrypt work factor.
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

// WithLockout sets the failed-login threshold and lock duration.
// A threshold of zero disables lockout.
func WithLockout(threshold int, d time.Duration) ServiceOption {
	return func(s *Service) error {
		if threshold < 0 {
			return errors.New("auth: lockout threshold must not be negative")
		}
		if threshold > 0 && d <= 0 {
			return errors.New("auth: lockout duration must be positive")
		}
		s.lockoutThreshold = threshold
		s.lockoutDuration = d
		return nil
	}
}

// WithSessionTTL configures session token lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithResetTTL configures password reset token lifetime.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetTTL = ttl
		}
		return nil
	}
}

// WithSetupTTL configures invitation setup token lifetime.
func WithSetupTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.setupTTL = ttl
		}
		return nil
	}
}

// WithAppURL sets the public base URL used in emailed links.
func WithAppURL(raw string) ServiceOption {
	return func(s *Service) error {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("auth: invalid app url %q", raw)
		}
		s.appURL = strings.TrimRight(u.String(), "/")
		return nil
	}
}

// WithOperatorEmail sets the address notified when an admin gets locked.
func WithOperatorEmail(email string) ServiceOption {
	return func(s *Service) error {
		s.operatorEmail = normalizeEmail(email)
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, mailer Mailer, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if mailer == nil {
		return nil, errors.New("auth: mailer is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{
		store:            store,
		mailer:           mailer,
		tokens:           tokens,
		hasher:           NewHasher(0),
		now:              time.Now,
		lockoutThreshold: defaultLockoutThreshold,
		lockoutDuration:  defaultLockoutDuration,
		sessionTTL:       defaultSessionTTL,
		resetTTL:         defaultResetTTL,
		setupTTL:         defaultSetupTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.appURL == "" {
		return nil, errors.New("auth: app url is required")
	}
	return svc, nil
}

// Register creates an unverified admin and mails the security code. The row
// and the email are one unit: if the relay fails nothing is persisted.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Admin, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, invalid(err)
	}
	if in.Password != in.ConfirmPassword {
		return nil, newError(KindMismatch, "Passwords do not match")
	}

	code, err := newSecurityCode()
	if err != nil {
		return nil, dependency("generate security code", err)
	}
	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, dependency("hash password", err)
	}
	codeHash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, dependency("hash security code", err)
	}

	var admin *Admin
	err = s.store.Tx(ctx, func(ctx context.Context, tx Store) error {
		taken, err := tx.Admins(ctx).UsernameTaken(ctx, in.Username)
		if err != nil {
			return storeErr(err)
		}
		if taken {
			return newError(KindConflict, "Username already exists")
		}
		if err := tx.Emails(ctx).Claim(ctx, in.Email, RoleAdmin); err != nil {
			return conflictOr(err, "Email already exists")
		}
		a := &Admin{
			FullName:         in.FullName,
			Username:         in.Username,
			Email:            in.Email,
			PasswordHash:     passwordHash,
			SecurityCodeHash: codeHash,
		}
		if err := tx.Admins(ctx).Create(ctx, a); err != nil {
			return conflictOr(err, "Username already exists")
		}
		if err := s.send(ctx, mail.TemplateSecurityCode, a.Email, map[string]any{
			"FullName": a.FullName,
			"Code":     code,
		}); err != nil {
			return dependency("Failed to send security code", err)
		}
		admin = a
		return nil
	})
	if err != nil {
		obs.AuthEvent("register", KindOf(err).String())
		return nil, err
	}
	obs.AuthEvent("register", "ok")
	_ = audit.LogEvent(ctx, "auth.admin.registered", map[string]any{"admin_id": admin.ID, "email": admin.Email})
	return admin, nil
}

// VerifySecurityCode marks the admin verified when code matches. A correct
// code on an already verified admin is a no-op.
func (s *Service) VerifySecurityCode(ctx context.Context, email, code string) error {
	in := VerifyInput{Email: normalizeEmail(email), SecurityCode: strings.TrimSpace(code)}
	if err := in.Validate(); err != nil {
		return invalid(err)
	}
	admin, err := s.store.Admins(ctx).FindByEmail(ctx, in.Email)
	if err != nil {
		return notFoundOr(err, "Admin not found")
	}
	if admin.SecurityCodeHash == "" || !s.hasher.Matches(admin.SecurityCodeHash, in.SecurityCode) {
		obs.AuthEvent("verify", "invalid_code")
		return newError(KindInvalidCredential, "Invalid security code")
	}
	if admin.IsVerified {
		return nil
	}
	if err := s.store.Admins(ctx).MarkVerified(ctx, admin.ID); err != nil {
		return storeErr(err)
	}
	obs.AuthEvent("verify", "ok")
	_ = audit.LogEvent(ctx, "auth.admin.verified", map[string]any{"admin_id": admin.ID})
	return nil
}

// LoginAdmin authenticates an admin, applying the lockout policy.
func (s *Service) LoginAdmin(ctx context.Context, email, password string) (*Session, error) {
	creds := Credentials{Email: normalizeEmail(email), Password: password}
	if err := creds.Validate(); err != nil {
		return nil, invalid(err)
	}
	admin, err := s.store.Admins(ctx).FindByEmail(ctx, creds.Email)
	if err != nil {
		return nil, s.unknownAccount(ctx, err, creds.Email)
	}
	return s.loginAdmin(ctx, admin, creds.Password)
}

// LoginUser authenticates an invited user who completed setup.
func (s *Service) LoginUser(ctx context.Context, email, password string) (*Session, error) {
	creds := Credentials{Email: normalizeEmail(email), Password: password}
	if err := creds.Validate(); err != nil {
		return nil, invalid(err)
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, creds.Email)
	if err != nil {
		return nil, s.unknownAccount(ctx, err, creds.Email)
	}
	return s.loginUser(ctx, user, creds.Password)
}

// Login tries the admin table first and then users.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	creds := Credentials{Email: normalizeEmail(email), Password: password}
	if err := creds.Validate(); err != nil {
		return nil, invalid(err)
	}
	admin, err := s.store.Admins(ctx).FindByEmail(ctx, creds.Email)
	switch {
	case err == nil:
		return s.loginAdmin(ctx, admin, creds.Password)
	case !errors.Is(err, ErrNotFound):
		return nil, storeErr(err)
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, creds.Email)
	if err != nil {
		return nil, s.unknownAccount(ctx, err, creds.Email)
	}
	return s.loginUser(ctx, user, creds.Password)
}

func (s *Service) unknownAccount(ctx context.Context, err error, email string) error {
	if !errors.Is(err, ErrNotFound) {
		return storeErr(err)
	}
	obs.AuthEvent("login", "unknown_account")
	_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{"email": email, "reason": "unknown_account"})
	return newError(KindInvalidCredential, "Invalid email or password")
}

func (s *Service) loginAdmin(ctx context.Context, admin *Admin, password string) (*Session, error) {
	now := s.now().UTC()
	if admin.LockedAt(now) {
		obs.AuthEvent("login", "locked")
		return nil, newError(KindForbidden, "Account is locked. Try again in %d minutes.",
			minutesUntil(now, *admin.LockoutUntil))
	}
	if admin.IsLocked {
		// Lock elapsed: start counting from zero again.
		if err := s.store.Admins(ctx).ClearLoginFailures(ctx, admin.ID); err != nil {
			return nil, storeErr(err)
		}
		admin.LoginAttempts, admin.IsLocked, admin.LockoutUntil = 0, false, nil
	}

	if !s.hasher.Matches(admin.PasswordHash, password) {
		return nil, s.failedAdminLogin(ctx, admin, now)
	}
	if !admin.IsVerified {
		obs.AuthEvent("login", "unverified")
		return nil, newError(KindForbidden, "Please verify your email before logging in")
	}
	if admin.LoginAttempts > 0 {
		if err := s.store.Admins(ctx).ClearLoginFailures(ctx, admin.ID); err != nil {
			return nil, storeErr(err)
		}
	}
	return s.issueSession(ctx, admin.ID, admin.Email, RoleAdmin)
}

func (s *Service) failedAdminLogin(ctx context.Context, admin *Admin, now time.Time) error {
	if s.lockoutThreshold == 0 {
		obs.AuthEvent("login", "bad_password")
		_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{"admin_id": admin.ID, "reason": "bad_password"})
		return newError(KindInvalidCredential, "Invalid email or password")
	}
	until := now.Add(s.lockoutDuration)
	state, err := s.store.Admins(ctx).RecordFailedLogin(ctx, admin.ID, s.lockoutThreshold, until)
	if err != nil {
		return storeErr(err)
	}
	_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{
		"admin_id": admin.ID,
		"reason":   "bad_password",
		"attempts": state.Attempts,
	})
	if !state.Locked {
		obs.AuthEvent("login", "bad_password")
		return newError(KindInvalidCredential, "Invalid email or password (attempt %d of %d)",
			state.Attempts, s.lockoutThreshold)
	}

	obs.AuthEvent("login", "locked")
	lockedUntil := until
	if state.LockoutUntil != nil {
		lockedUntil = *state.LockoutUntil
	}
	_ = audit.LogEvent(ctx, "auth.admin.locked", map[string]any{
		"admin_id": admin.ID,
		"until":    lockedUntil.Format(time.RFC3339),
	})
	if s.operatorEmail != "" {
		s.notify(ctx, mail.TemplateLockoutAlert, s.operatorEmail, map[string]any{
			"Email":    admin.Email,
			"Attempts": state.Attempts,
			"Until":    lockedUntil.Format(time.RFC1123),
		})
	}
	return newError(KindForbidden, "Account locked due to too many failed attempts. Try again in %d minutes.",
		minutesUntil(now, lockedUntil))
}

func (s *Service) loginUser(ctx context.Context, user *User, password string) (*Session, error) {
	if user.PasswordHash == nil {
		obs.AuthEvent("login", "not_set_up")
		return nil, newError(KindForbidden, "Account not fully set up. Please complete setup first.")
	}
	if !s.hasher.Matches(*user.PasswordHash, password) {
		obs.AuthEvent("login", "bad_password")
		_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{"user_id": user.ID, "reason": "bad_password"})
		return nil, newError(KindInvalidCredential, "Invalid email or password")
	}
	if user.Status != StatusActive {
		obs.AuthEvent("login", "inactive")
		return nil, newError(KindForbidden, "Account is not active")
	}
	return s.issueSession(ctx, user.ID, user.Email, RoleUser)
}

func (s *Service) issueSession(ctx context.Context, id int64, email string, role Role) (*Session, error) {
	token, exp, err := s.tokens.IssueSession(id, email, role, s.sessionTTL)
	if err != nil {
		return nil, dependency("issue token", err)
	}
	redirect := userRedirect
	if role == RoleAdmin {
		redirect = adminRedirect
	}
	obs.AuthEvent("login", "ok")
	_ = audit.LogEvent(ctx, "auth.login.succeeded", map[string]any{"account_id": id, "role": string(role)})
	return &Session{
		Token:     token,
		ExpiresAt: exp,
		AccountID: id,
		Email:     email,
		Role:      role,
		Redirect:  redirect,
	}, nil
}

// InviteUser creates a pending user and mails the temporary password with a
// setup link. Like Register, the row is kept only if the mail is accepted.
func (s *Service) InviteUser(ctx context.Context, adminID int64, in InviteInput) (*User, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, invalid(err)
	}
	inviter, err := s.store.Admins(ctx).Find(ctx, adminID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindForbidden, "Admin access required")
		}
		return nil, storeErr(err)
	}
	if !inviter.IsVerified {
		return nil, newError(KindForbidden, "Admin access required")
	}

	tempPassword, err := newTempPassword()
	if err != nil {
		return nil, dependency("generate temporary password", err)
	}
	tempHash, err := s.hasher.Hash(tempPassword)
	if err != nil {
		return nil, dependency("hash temporary password", err)
	}
	token, exp, err := s.tokens.IssueSetup(in.Email, s.setupTTL)
	if err != nil {
		return nil, dependency("issue setup token", err)
	}
	tokenHash := hashToken(token)

	var user *User
	err = s.store.Tx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.Emails(ctx).Claim(ctx, in.Email, RoleUser); err != nil {
			return conflictOr(err, "Email already exists")
		}
		u := &User{
			Username:          in.Username,
			Email:             in.Email,
			TempPasswordHash:  &tempHash,
			SetupTokenHash:    &tokenHash,
			SetupTokenExpires: &exp,
			Status:            StatusPending,
			CreatedBy:         &inviter.ID,
		}
		if err := tx.Users(ctx).Create(ctx, u); err != nil {
			return conflictOr(err, "Email already exists")
		}
		if err := s.send(ctx, mail.TemplateInvitation, u.Email, map[string]any{
			"Username":     u.Username,
			"TempPassword": tempPassword,
			"SetupLink":    s.link("/setup-account", token),
			"ExpiresIn":    humanDuration(s.setupTTL),
		}); err != nil {
			return dependency("Failed to send invitation email", err)
		}
		user = u
		return nil
	})
	if err != nil {
		obs.AuthEvent("invite", KindOf(err).String())
		return nil, err
	}
	obs.AuthEvent("invite", "ok")
	_ = audit.LogEvent(ctx, "auth.user.invited", map[string]any{"user_id": user.ID, "email": user.Email})
	return user, nil
}

// CheckSetupToken returns the invitee email for a live setup token.
func (s *Service) CheckSetupToken(ctx context.Context, token string) (string, error) {
	user, err := s.pendingUser(ctx, token)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

func (s *Service) pendingUser(ctx context.Context, token string) (*User, error) {
	claims, err := s.tokens.ParseSetup(token)
	if err != nil {
		return nil, newError(KindInvalidToken, "Invalid or expired token")
	}
	user, err := s.store.Users(ctx).FindBySetupToken(ctx, hashToken(strings.TrimSpace(token)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindInvalidToken, "Invalid or expired token")
		}
		return nil, storeErr(err)
	}
	now := s.now()
	if user.Status != StatusPending || user.Email != normalizeEmail(claims.Email) ||
		user.SetupTokenExpires == nil || !user.SetupTokenExpires.After(now) {
		return nil, newError(KindInvalidToken, "Invalid or expired token")
	}
	return user, nil
}

// SetupAccount consumes the setup token and activates the user.
func (s *Service) SetupAccount(ctx context.Context, in SetupInput) (*User, error) {
	in.Token = strings.TrimSpace(in.Token)
	if err := in.Validate(); err != nil {
		return nil, invalid(err)
	}
	if in.NewPassword != in.ConfirmPassword {
		return nil, newError(KindMismatch, "Passwords do not match")
	}
	user, err := s.pendingUser(ctx, in.Token)
	if err != nil {
		return nil, err
	}
	if user.TempPasswordHash == nil || !s.hasher.Matches(*user.TempPasswordHash, in.TempPassword) {
		obs.AuthEvent("setup", "bad_temp_password")
		return nil, newError(KindInvalidCredential, "Invalid temporary password")
	}
	passwordHash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return nil, dependency("hash password", err)
	}
	ok, err := s.store.Users(ctx).Activate(ctx, hashToken(in.Token), passwordHash, s.now())
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, newError(KindInvalidToken, "Invalid or expired token")
	}
	activated, err := s.store.Users(ctx).Find(ctx, user.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	obs.AuthEvent("setup", "ok")
	_ = audit.LogEvent(ctx, "auth.user.activated", map[string]any{"user_id": user.ID})
	return activated, nil
}

// ForgotPassword stores a reset token and mails the link. The email registry
// decides which variant owns the address.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return newError(KindValidation, "email: %v", err)
	}
	token, err := newResetToken()
	if err != nil {
		return dependency("generate reset token", err)
	}
	tokenHash := hashToken(token)
	expiry := s.now().UTC().Add(s.resetTTL)

	var role Role
	err = s.store.Tx(ctx, func(ctx context.Context, tx Store) error {
		kind, err := tx.Emails(ctx).Lookup(ctx, email)
		if err != nil {
			return notFoundOr(err, "No account found with that email")
		}
		role = kind
		switch kind {
		case RoleAdmin:
			admin, err := tx.Admins(ctx).FindByEmail(ctx, email)
			if err != nil {
				return notFoundOr(err, "No account found with that email")
			}
			if err := tx.Admins(ctx).SetResetToken(ctx, admin.ID, tokenHash, expiry); err != nil {
				return storeErr(err)
			}
		default:
			user, err := tx.Users(ctx).FindByEmail(ctx, email)
			if err != nil {
				return notFoundOr(err, "No account found with that email")
			}
			// A pending invitee has no permanent password to reset.
			if user.Status == StatusPending {
				return newError(KindForbidden, "Account not fully set up. Please complete setup first.")
			}
			if err := tx.Users(ctx).SetResetToken(ctx, user.ID, tokenHash, expiry); err != nil {
				return storeErr(err)
			}
		}
		if err := s.send(ctx, mail.TemplatePasswordReset, email, map[string]any{
			"ResetLink": s.link("/reset-password", token),
			"ExpiresIn": humanDuration(s.resetTTL),
		}); err != nil {
			return dependency("Failed to send reset email", err)
		}
		return nil
	})
	if err != nil {
		obs.AuthEvent("forgot_password", KindOf(err).String())
		return err
	}
	obs.AuthEvent("forgot_password", "ok")
	_ = audit.LogEvent(ctx, "auth.password.reset_requested", map[string]any{"role": string(role)})
	return nil
}

// ResetPassword rotates the password of whichever account holds token. The
// token is cleared by the same statement that stores the new hash.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	in := ResetInput{Token: strings.TrimSpace(token), NewPassword: newPassword}
	if err := in.Validate(); err != nil {
		return invalid(err)
	}
	tokenHash := hashToken(in.Token)
	now := s.now()

	var (
		expiry  *time.Time
		consume func(string) (bool, error)
		subject map[string]any
	)
	admin, err := s.store.Admins(ctx).FindByResetToken(ctx, tokenHash)
	switch {
	case err == nil:
		expiry = admin.ResetTokenExpiry
		subject = map[string]any{"admin_id": admin.ID}
		consume = func(hash string) (bool, error) {
			return s.store.Admins(ctx).ConsumeResetToken(ctx, tokenHash, hash, now)
		}
	case errors.Is(err, ErrNotFound):
		user, err := s.store.Users(ctx).FindByResetToken(ctx, tokenHash)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return newError(KindInvalidToken, "Invalid or expired token")
			}
			return storeErr(err)
		}
		expiry = user.ResetTokenExpiry
		subject = map[string]any{"user_id": user.ID}
		consume = func(hash string) (bool, error) {
			return s.store.Users(ctx).ConsumeResetToken(ctx, tokenHash, hash, now)
		}
	default:
		return storeErr(err)
	}

	if expiry == nil || !expiry.After(now) {
		obs.AuthEvent("reset_password", "expired")
		return newError(KindExpired, "Reset token has expired")
	}
	passwordHash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return dependency("hash password", err)
	}
	ok, err := consume(passwordHash)
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return newError(KindInvalidToken, "Invalid or expired token")
	}
	obs.AuthEvent("reset_password", "ok")
	_ = audit.LogEvent(ctx, "auth.password.reset", subject)
	return nil
}

// ListUsers returns every invited user ordered by id.
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	users, err := s.store.Users(ctx).List(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return users, nil
}

// UpdateUser edits a user and notifies them afterwards. The notification is
// best effort.
func (s *Service) UpdateUser(ctx context.Context, id int64, in UpdateUserInput) (*User, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, invalid(err)
	}
	var updated *User
	err := s.store.Tx(ctx, func(ctx context.Context, tx Store) error {
		user, err := tx.Users(ctx).Find(ctx, id)
		if err != nil {
			return notFoundOr(err, "User not found")
		}
		if in.Status == StatusPending && user.Status != StatusPending {
			return newError(KindValidation, "status: cannot return an account to pending")
		}
		if user.Status == StatusPending && in.Email != user.Email {
			return newError(KindValidation, "email: cannot change the email of a pending invitation")
		}
		if in.Status == StatusActive && user.PasswordHash == nil {
			return newError(KindValidation, "status: user has not completed account setup")
		}
		if in.Email != user.Email {
			if err := tx.Emails(ctx).Rename(ctx, user.Email, in.Email); err != nil {
				return conflictOr(err, "Email already exists")
			}
		}
		user.Username, user.Email, user.Status = in.Username, in.Email, in.Status
		if err := tx.Users(ctx).Update(ctx, user); err != nil {
			return conflictOr(err, "Email already exists")
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "auth.user.updated", map[string]any{"user_id": id, "status": string(updated.Status)})
	s.notify(ctx, mail.TemplateAccountUpdated, updated.Email, map[string]any{
		"Username": updated.Username,
		"Email":    updated.Email,
		"Status":   string(updated.Status),
	})
	return updated, nil
}

// DeleteUser removes a user and frees their email address.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	var deleted *User
	err := s.store.Tx(ctx, func(ctx context.Context, tx Store) error {
		user, err := tx.Users(ctx).Find(ctx, id)
		if err != nil {
			return notFoundOr(err, "User not found")
		}
		if err := tx.Users(ctx).Delete(ctx, id); err != nil {
			return notFoundOr(err, "User not found")
		}
		if err := tx.Emails(ctx).Release(ctx, user.Email); err != nil {
			return storeErr(err)
		}
		deleted = user
		return nil
	})
	if err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "auth.user.deleted", map[string]any{"user_id": id})
	s.notify(ctx, mail.TemplateAccountDeleted, deleted.Email, map[string]any{"Username": deleted.Username})
	return nil
}

// AdminProfile loads the admin behind a session.
func (s *Service) AdminProfile(ctx context.Context, id int64) (*Admin, error) {
	admin, err := s.store.Admins(ctx).Find(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "Admin not found")
	}
	return admin, nil
}

// UserProfile loads the user behind a session. Sessions outlive status
// changes, so an account that is no longer active is refused here.
func (s *Service) UserProfile(ctx context.Context, id int64) (*User, error) {
	user, err := s.store.Users(ctx).Find(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "User not found")
	}
	if user.Status != StatusActive {
		obs.AuthEvent("profile", "inactive")
		return nil, newError(KindForbidden, "Account is not active")
	}
	return user, nil
}

// UpdateUserProfile lets an active user change their username.
func (s *Service) UpdateUserProfile(ctx context.Context, id int64, username string) (*User, error) {
	in := ProfileInput{Username: strings.TrimSpace(username)}
	if err := in.Validate(); err != nil {
		return nil, invalid(err)
	}
	if _, err := s.UserProfile(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.Users(ctx).UpdateUsername(ctx, id, in.Username); err != nil {
		return nil, notFoundOr(err, "User not found")
	}
	return s.UserProfile(ctx, id)
}

// Authenticate verifies a bearer session token.
func (s *Service) Authenticate(_ context.Context, bearer string) (*Claims, error) {
	claims, err := s.tokens.ParseSession(bearer)
	if err != nil {
		return nil, newError(KindInvalidToken, "Invalid token")
	}
	return claims, nil
}

func (s *Service) send(ctx context.Context, template, to string, data any) error {
	msg, err := mail.Render(template, to, data)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, msg)
}

// notify sends a message whose failure must not fail the caller.
func (s *Service) notify(ctx context.Context, template, to string, data any) {
	if err := s.send(ctx, template, to, data); err != nil {
		obs.Warn("notification email failed", map[string]any{
			"template":   template,
			"request_id": audit.RequestIDFromContext(ctx),
			"error":      err.Error(),
		})
	}
}

func (s *Service) link(path, token string) string {
	return s.appURL + path + "?token=" + url.QueryEscape(token)
}

func storeErr(err error) error {
	if KindOf(err) != 0 {
		return err
	}
	return dependency("database error", err)
}

func conflictOr(err error, msg string) error {
	if errors.Is(err, ErrConflict) {
		return newError(KindConflict, "%s", msg)
	}
	return storeErr(err)
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, ErrNotFound) {
		return newError(KindNotFound, "%s", msg)
	}
	return storeErr(err)
}

func minutesUntil(now, until time.Time) int {
	m := int(math.Ceil(until.Sub(now).Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
