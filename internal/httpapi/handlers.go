package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/dashboard"
	"crmdesk.io/internal/obs"
)

const serviceName = "crm-api"

// ReadyProbe is a readiness check (ping the database).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Accounts is the credential service behind the HTTP surface.
type Accounts interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Admin, error)
	VerifySecurityCode(ctx context.Context, email, code string) error
	LoginAdmin(ctx context.Context, email, password string) (*auth.Session, error)
	LoginUser(ctx context.Context, email, password string) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	InviteUser(ctx context.Context, adminID int64, in auth.InviteInput) (*auth.User, error)
	CheckSetupToken(ctx context.Context, token string) (string, error)
	SetupAccount(ctx context.Context, in auth.SetupInput) (*auth.User, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ListUsers(ctx context.Context) ([]*auth.User, error)
	UpdateUser(ctx context.Context, id int64, in auth.UpdateUserInput) (*auth.User, error)
	DeleteUser(ctx context.Context, id int64) error
	AdminProfile(ctx context.Context, id int64) (*auth.Admin, error)
	UserProfile(ctx context.Context, id int64) (*auth.User, error)
	UpdateUserProfile(ctx context.Context, id int64, username string) (*auth.User, error)
	Authenticate(ctx context.Context, bearer string) (*auth.Claims, error)
}

var _ Accounts = (*auth.Service)(nil)

// Dashboard supplies the read-only figures on a user's home screen.
type Dashboard interface {
	Stats(ctx context.Context, userID int64) (dashboard.Stats, error)
	Activity(ctx context.Context, userID int64, limit int) ([]dashboard.Activity, error)
	Insights(ctx context.Context, userID int64, limit int) ([]dashboard.Insight, error)
	Notifications(ctx context.Context, userID int64) ([]dashboard.Notification, error)
}

// Options tunes the HTTP layer.
type Options struct {
	CORSOrigins []string
	RateBurst   int
	RatePerSec  float64
	MaxBody     int64

	// TrustedProxies lists peers (addresses or CIDRs) whose X-Forwarded-For
	// is used for rate limiting. Empty means the direct peer is the client.
	TrustedProxies []string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	accounts   Accounts
	dash       Dashboard
	readyProbe readinessChecker
	version    string
	opts       Options
	limiter    *ipLimiter
}

// New builds the API and registers every route.
func New(accounts Accounts, dash Dashboard, rp readinessChecker, version string, opts Options) *API {
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = 1 << 20
	}
	a := &API{
		mux:        http.NewServeMux(),
		accounts:   accounts,
		dash:       dash,
		readyProbe: rp,
		version:    version,
		opts:       opts,
		limiter:    newIPLimiter(opts.RateBurst, opts.RatePerSec, parseProxies(opts.TrustedProxies)),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /api/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// admin
	a.mux.Handle("POST /api/admin/register", a.limited(a.handleRegister))
	a.mux.Handle("POST /api/admin/verify-security-code", a.limited(a.handleVerifySecurityCode))
	a.mux.Handle("POST /api/admin/login", a.limited(a.handleAdminLogin))
	a.mux.Handle("POST /api/admin/forgot-password", a.limited(a.handleForgotPassword))
	a.mux.Handle("POST /api/admin/reset-password", a.limited(a.handleResetPassword))
	a.mux.Handle("GET /api/admin/profile", a.adminOnly(a.handleAdminProfile))
	a.mux.Handle("GET /api/admin/users", a.adminOnly(a.handleListUsers))
	a.mux.Handle("POST /api/admin/users/invite", a.adminOnly(a.handleInviteUser))
	a.mux.Handle("PUT /api/admin/users/{id}", a.adminOnly(a.handleUpdateUser))
	a.mux.Handle("DELETE /api/admin/users/{id}", a.adminOnly(a.handleDeleteUser))

	// user
	a.mux.Handle("POST /api/user/login", a.limited(a.handleUserLogin))
	a.mux.Handle("GET /api/user/setup-account", a.limited(a.handleCheckSetupToken))
	a.mux.Handle("POST /api/user/setup-account", a.limited(a.handleSetupAccount))
	a.mux.Handle("POST /api/user/forgot-password", a.limited(a.handleForgotPassword))
	a.mux.Handle("POST /api/user/reset-password", a.limited(a.handleResetPassword))
	a.mux.Handle("GET /api/user/profile", a.userOnly(a.handleUserProfile))
	a.mux.Handle("PUT /api/user/profile", a.userOnly(a.handleUpdateUserProfile))
	a.mux.Handle("GET /api/user/stats", a.userOnly(a.handleUserStats))
	a.mux.Handle("GET /api/user/activity", a.userOnly(a.handleUserActivity))
	a.mux.Handle("GET /api/user/insights", a.userOnly(a.handleUserInsights))
	a.mux.Handle("GET /api/user/notifications", a.userOnly(a.handleUserNotifications))

	a.mux.Handle("POST /api/auth/login", a.limited(a.handleLogin))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.opts.MaxBody)
	h = CORS(h, a.opts.CORSOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) limited(h http.HandlerFunc) http.Handler {
	return a.limiter.Wrap(h)
}

func (a *API) adminOnly(h http.HandlerFunc) http.Handler {
	return a.withAuth(RequireRole(auth.RoleAdmin)(h))
}

func (a *API) userOnly(h http.HandlerFunc) http.Handler {
	return a.withAuth(RequireRole(auth.RoleUser)(h))
}

// --- ops handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.readyProbe != nil {
		if err := a.readyProbe.Check(r.Context()); err != nil {
			obs.SetReady(false)
			obs.Warn("readiness check failed", map[string]any{"error": err.Error()})
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "not_ready",
				"message": "dependency unavailable",
			})
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, msg string, extra map[string]any) {
	payload := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		payload[k] = v
	}
	payload["message"] = msg
	writeJSON(w, code, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"message": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeServiceError maps an auth error kind to a status. Dependency failures
// are logged and never echoed.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(auth.KindOf(err))
	if code == http.StatusInternalServerError {
		obs.Error("request failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeError(w, r, code, "internal error")
		return
	}
	writeError(w, r, code, auth.MessageOf(err))
}

func statusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation, auth.KindConflict, auth.KindMismatch, auth.KindExpired, auth.KindInvalidToken:
		return http.StatusBadRequest
	case auth.KindInvalidCredential:
		return http.StatusUnauthorized
	case auth.KindForbidden:
		return http.StatusForbidden
	case auth.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
