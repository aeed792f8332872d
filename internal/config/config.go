// Package config loads service configuration from the environment. Secrets
// and endpoints have no defaults: a missing value fails startup.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

const minJWTSecret = 32

// Config holds all configuration for the CRM API.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	DatabaseDSN string
	AutoMigrate bool

	JWTSecret  string
	SessionTTL time.Duration
	ResetTTL   time.Duration
	SetupTTL   time.Duration

	BcryptCost       int
	LockoutThreshold int
	LockoutDuration  time.Duration

	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	MailFrom      string
	AppURL        string
	OperatorEmail string

	CORSOrigins    []string
	TrustedProxies []string
	RateBurst      int
	RatePerSec     float64
}

// Load reads configuration from process environment variables.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv. All problems are reported
// together.
func LoadFrom(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}
	cfg := &Config{
		HTTPAddr:    r.str("CRM_HTTP_ADDR", ":5000"),
		GRPCAddr:    r.str("CRM_GRPC_ADDR", ""),
		DatabaseDSN: r.required("CRM_PG_DSN"),
		AutoMigrate: r.boolean("CRM_AUTO_MIGRATE", true),

		JWTSecret:  r.required("CRM_JWT_SECRET"),
		SessionTTL: r.duration("CRM_SESSION_TTL", time.Hour),
		ResetTTL:   r.duration("CRM_RESET_TTL", time.Hour),
		SetupTTL:   r.duration("CRM_SETUP_TTL", 24*time.Hour),

		BcryptCost:       r.integer("CRM_BCRYPT_COST", 10),
		LockoutThreshold: r.integer("CRM_LOCKOUT_THRESHOLD", 5),
		LockoutDuration:  r.duration("CRM_LOCKOUT_DURATION", 30*time.Minute),

		SMTPHost:      r.required("CRM_SMTP_HOST"),
		SMTPPort:      r.integer("CRM_SMTP_PORT", 587),
		SMTPUsername:  r.required("CRM_SMTP_USERNAME"),
		SMTPPassword:  r.required("CRM_SMTP_PASSWORD"),
		MailFrom:      r.required("CRM_MAIL_FROM"),
		AppURL:        r.required("CRM_APP_URL"),
		OperatorEmail: r.required("CRM_OPERATOR_EMAIL"),

		CORSOrigins:    r.list("CRM_CORS_ORIGINS"),
		TrustedProxies: r.list("CRM_TRUSTED_PROXIES"),
		RateBurst:      r.integer("CRM_RATE_BURST", 10),
		RatePerSec:     r.float("CRM_RATE_PER_SEC", 5),
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < minJWTSecret {
		r.fail(fmt.Errorf("CRM_JWT_SECRET must be at least %d bytes", minJWTSecret))
	}
	if cfg.LockoutThreshold < 0 {
		r.fail(errors.New("CRM_LOCKOUT_THRESHOLD must not be negative"))
	}
	if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
		r.fail(errors.New("CRM_SMTP_PORT out of range"))
	}
	for _, p := range cfg.TrustedProxies {
		if !validProxy(p) {
			r.fail(fmt.Errorf("CRM_TRUSTED_PROXIES: invalid address or CIDR %q", p))
		}
	}
	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) fail(err error) { r.errs = append(r.errs, err) }

func (r *reader) lookup(key string) string {
	return strings.TrimSpace(r.getenv(key))
}

func (r *reader) str(key, def string) string {
	if v := r.lookup(key); v != "" {
		return v
	}
	return def
}

func (r *reader) required(key string) string {
	v := r.lookup(key)
	if v == "" {
		r.fail(fmt.Errorf("%s is required", key))
	}
	return v
}

func (r *reader) integer(key string, def int) int {
	v := r.lookup(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.lookup(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		r.fail(fmt.Errorf("%s: invalid positive number %q", key, v))
		return def
	}
	return f
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.lookup(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.lookup(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.fail(fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	v := r.lookup(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
