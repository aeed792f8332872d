package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/dashboard"
	"crmdesk.io/internal/mail"
)

const testSecret = "httpapi-secret-httpapi-secret-0123"

type outbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) lastTo(t *testing.T, to string) mail.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].To == to {
			return o.sent[i]
		}
	}
	t.Fatalf("no mail sent to %s", to)
	return mail.Message{}
}

var (
	codePattern     = regexp.MustCompile(`security code is: ([A-Z0-9]{6})\.`)
	tempPassPattern = regexp.MustCompile(`Temporary password: (\S+)`)
	tokenPattern    = regexp.MustCompile(`\?token=(\S+)`)
)

func extract(t *testing.T, re *regexp.Regexp, body string) string {
	t.Helper()
	m := re.FindStringSubmatch(body)
	if len(m) < 2 {
		t.Fatalf("pattern %s not found in %q", re, body)
	}
	v, err := url.QueryUnescape(m[1])
	if err != nil {
		t.Fatalf("unescape %q: %v", m[1], err)
	}
	return v
}

type apiClient struct {
	baseURL string
	client  *http.Client
	outbox  *outbox
	dash    *dashboard.MemoryStore
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	tokens, err := auth.NewTokenIssuer(testSecret, nil)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	box := &outbox{}
	svc, err := auth.NewService(auth.NewMemoryStore(), box, tokens,
		auth.WithHasher(auth.NewHasher(bcrypt.MinCost)),
		auth.WithAppURL("https://crm.example.com"),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	dash := dashboard.NewMemoryStore()
	api := New(svc, dash, ReadyProbe{}, "test", Options{RateBurst: 100, RatePerSec: 100})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		outbox:  box,
		dash:    dash,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) map[string]any {
	t.Helper()
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d (body %v)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
	if _, ok := body["message"]; !ok && resp.StatusCode >= 400 {
		t.Fatalf("error body without message: %v", body)
	}
	return body
}

func (c *apiClient) adminToken(email string) string {
	c.t.Helper()
	expectStatus(c.t, c.do(http.MethodPost, "/api/admin/register", map[string]any{
		"full_name":       "Ada Admin",
		"username":        "ada-" + email[:3],
		"email":           email,
		"password":        "adminpass1",
		"confirmPassword": "adminpass1",
	}, ""), http.StatusCreated)

	code := extract(c.t, codePattern, c.outbox.lastTo(c.t, email).Body)
	expectStatus(c.t, c.do(http.MethodPost, "/api/admin/verify-security-code", map[string]any{
		"email":        email,
		"securityCode": code,
	}, ""), http.StatusOK)

	body := expectStatus(c.t, c.do(http.MethodPost, "/api/admin/login", map[string]any{
		"email":    email,
		"password": "adminpass1",
	}, ""), http.StatusOK)
	token, _ := body["token"].(string)
	if token == "" {
		c.t.Fatalf("empty admin token: %v", body)
	}
	return token
}

func TestAPIInviteSetupLoginFlow(t *testing.T) {
	api := newTestAPI(t)
	adminToken := api.adminToken("ada@example.com")

	body := expectStatus(t, api.do(http.MethodGet, "/api/admin/profile", nil, adminToken), http.StatusOK)
	if admin := body["admin"].(map[string]any); admin["email"] != "ada@example.com" || admin["is_verified"] != true {
		t.Fatalf("unexpected admin profile: %v", body)
	}

	body = expectStatus(t, api.do(http.MethodPost, "/api/admin/users/invite", map[string]any{
		"username": "bob",
		"email":    "bob@example.com",
	}, adminToken), http.StatusCreated)
	userID := int64(body["userId"].(float64))
	if userID <= 0 {
		t.Fatalf("unexpected user id: %v", body)
	}

	invite := api.outbox.lastTo(t, "bob@example.com").Body
	temp := extract(t, tempPassPattern, invite)
	setupToken := extract(t, tokenPattern, invite)

	body = expectStatus(t, api.do(http.MethodGet, "/api/user/setup-account?token="+url.QueryEscape(setupToken), nil, ""), http.StatusOK)
	if body["email"] != "bob@example.com" {
		t.Fatalf("setup token email = %v", body["email"])
	}

	expectStatus(t, api.do(http.MethodPost, "/api/user/setup-account", map[string]any{
		"token":           setupToken,
		"tempPassword":    temp,
		"newPassword":     "bobpass123",
		"confirmPassword": "bobpass124",
	}, ""), http.StatusBadRequest)

	expectStatus(t, api.do(http.MethodPost, "/api/user/setup-account", map[string]any{
		"token":           setupToken,
		"tempPassword":    temp,
		"newPassword":     "bobpass123",
		"confirmPassword": "bobpass123",
	}, ""), http.StatusOK)

	body = expectStatus(t, api.do(http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "bob@example.com",
		"password": "bobpass123",
	}, ""), http.StatusOK)
	if body["redirect"] != "/users-dashboard" || body["role"] != "user" {
		t.Fatalf("unexpected unified login body: %v", body)
	}
	userToken := body["token"].(string)

	body = expectStatus(t, api.do(http.MethodGet, "/api/user/profile", nil, userToken), http.StatusOK)
	if user := body["user"].(map[string]any); user["status"] != "active" {
		t.Fatalf("unexpected profile: %v", body)
	}

	body = expectStatus(t, api.do(http.MethodPut, "/api/user/profile", map[string]any{"username": "bobby"}, userToken), http.StatusOK)
	if user := body["user"].(map[string]any); user["username"] != "bobby" {
		t.Fatalf("profile not updated: %v", body)
	}

	body = expectStatus(t, api.do(http.MethodGet, "/api/admin/users", nil, userToken), http.StatusForbidden)
	if body["message"] != "Admin access required" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	body = expectStatus(t, api.do(http.MethodGet, "/api/user/profile", nil, adminToken), http.StatusForbidden)
	if body["message"] != "Access denied. Not a user route." {
		t.Fatalf("unexpected message: %v", body["message"])
	}

	body = expectStatus(t, api.do(http.MethodGet, "/api/admin/users", nil, adminToken), http.StatusOK)
	if users := body["users"].([]any); len(users) != 1 {
		t.Fatalf("expected one user, got %v", users)
	}

	path := "/api/admin/users/" + jsonID(userID)
	body = expectStatus(t, api.do(http.MethodPut, path, map[string]any{
		"username": "robert",
		"email":    "robert@example.com",
		"status":   "inactive",
	}, adminToken), http.StatusOK)
	if user := body["user"].(map[string]any); user["email"] != "robert@example.com" || user["status"] != "inactive" {
		t.Fatalf("unexpected updated user: %v", body)
	}

	expectStatus(t, api.do(http.MethodPost, "/api/user/login", map[string]any{
		"email":    "robert@example.com",
		"password": "bobpass123",
	}, ""), http.StatusForbidden)

	expectStatus(t, api.do(http.MethodDelete, path, nil, adminToken), http.StatusOK)
	expectStatus(t, api.do(http.MethodDelete, path, nil, adminToken), http.StatusNotFound)
	expectStatus(t, api.do(http.MethodDelete, "/api/admin/users/abc", nil, adminToken), http.StatusBadRequest)
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestAPIAdminErrors(t *testing.T) {
	api := newTestAPI(t)
	api.adminToken("eve@example.com")

	body := expectStatus(t, api.do(http.MethodPost, "/api/admin/register", map[string]any{
		"full_name":       "Eve Again",
		"username":        "other",
		"email":           "eve@example.com",
		"password":        "adminpass1",
		"confirmPassword": "adminpass1",
	}, ""), http.StatusBadRequest)
	if body["message"] != "Email already exists" {
		t.Fatalf("unexpected message: %v", body["message"])
	}

	body = expectStatus(t, api.do(http.MethodPost, "/api/admin/login", map[string]any{
		"email":    "eve@example.com",
		"password": "wrongpass",
	}, ""), http.StatusUnauthorized)
	if body["message"] != "Invalid email or password (attempt 1 of 5)" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	if body["request_id"] == nil {
		t.Fatalf("expected request_id in error body")
	}

	expectStatus(t, api.do(http.MethodPost, "/api/admin/login", map[string]any{
		"email":    "nobody@example.com",
		"password": "whatever1",
	}, ""), http.StatusUnauthorized)

	expectStatus(t, api.do(http.MethodPost, "/api/admin/forgot-password", map[string]any{
		"email": "nobody@example.com",
	}, ""), http.StatusNotFound)

	expectStatus(t, api.do(http.MethodPost, "/api/admin/reset-password", map[string]any{
		"token":       "deadbeef",
		"newPassword": "newpass123",
	}, ""), http.StatusBadRequest)

	expectStatus(t, api.do(http.MethodGet, "/api/admin/users", nil, ""), http.StatusUnauthorized)
	expectStatus(t, api.do(http.MethodGet, "/api/admin/users", nil, "garbage"), http.StatusUnauthorized)
	expectStatus(t, api.do(http.MethodGet, "/api/user/setup-account", nil, ""), http.StatusBadRequest)
	expectStatus(t, api.do(http.MethodGet, "/api/nope", nil, ""), http.StatusNotFound)
}

func TestAPIForgotAndResetPassword(t *testing.T) {
	api := newTestAPI(t)
	api.adminToken("ann@example.com")

	expectStatus(t, api.do(http.MethodPost, "/api/admin/forgot-password", map[string]any{
		"email": "ann@example.com",
	}, ""), http.StatusOK)
	token := extract(t, tokenPattern, api.outbox.lastTo(t, "ann@example.com").Body)

	expectStatus(t, api.do(http.MethodPost, "/api/admin/reset-password", map[string]any{
		"token":       token,
		"newPassword": "brandnew99",
	}, ""), http.StatusOK)
	expectStatus(t, api.do(http.MethodPost, "/api/admin/reset-password", map[string]any{
		"token":       token,
		"newPassword": "brandnew99",
	}, ""), http.StatusBadRequest)

	body := expectStatus(t, api.do(http.MethodPost, "/api/admin/login", map[string]any{
		"email":    "ann@example.com",
		"password": "brandnew99",
	}, ""), http.StatusOK)
	if body["redirect"] != "/admin" {
		t.Fatalf("unexpected redirect: %v", body["redirect"])
	}
}

func TestAPIRejectsMalformedJSON(t *testing.T) {
	api := newTestAPI(t)
	for _, raw := range []string{"", "{", `{"email":"a@b.c","extra":1}`, `{"email":"a@b.c"} {}`} {
		req, _ := http.NewRequest(http.MethodPost, api.baseURL+"/api/admin/forgot-password", bytes.NewBufferString(raw))
		resp, err := api.client.Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		expectStatus(t, resp, http.StatusBadRequest)
	}
}

func TestAPIOpsEndpoints(t *testing.T) {
	api := newTestAPI(t)

	body := expectStatus(t, api.do(http.MethodGet, "/healthz", nil, ""), http.StatusOK)
	if body["service"] != serviceName || body["version"] != "test" {
		t.Fatalf("unexpected healthz: %v", body)
	}
	body = expectStatus(t, api.do(http.MethodGet, "/readyz", nil, ""), http.StatusOK)
	if body["status"] != "ready" {
		t.Fatalf("unexpected readyz: %v", body)
	}
	expectStatus(t, api.do(http.MethodGet, "/api/info", nil, ""), http.StatusOK)

	resp := api.do(http.MethodGet, "/metrics", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
}

func TestReadyReportsFailure(t *testing.T) {
	api := New(nil, nil, failingReadiness{}, "test", Options{})
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[auth.Kind]int{
		auth.KindValidation:        http.StatusBadRequest,
		auth.KindConflict:          http.StatusBadRequest,
		auth.KindMismatch:          http.StatusBadRequest,
		auth.KindExpired:           http.StatusBadRequest,
		auth.KindInvalidToken:      http.StatusBadRequest,
		auth.KindInvalidCredential: http.StatusUnauthorized,
		auth.KindForbidden:         http.StatusForbidden,
		auth.KindNotFound:          http.StatusNotFound,
		auth.KindDependency:        http.StatusInternalServerError,
		0:                          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusFor(kind); got != want {
			t.Fatalf("statusFor(%s) = %d, want %d", kind, got, want)
		}
	}
}
