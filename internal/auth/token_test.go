package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerSessionRoundTrip(t *testing.T) {
	clock := newTestClock()
	issuer, err := NewTokenIssuer(testSecret, clock.Now)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	token, exp, err := issuer.IssueSession(7, "a@x.com", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if !exp.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", exp)
	}
	claims, err := issuer.ParseSession(token)
	if err != nil {
		t.Fatalf("ParseSession: %v", err)
	}
	if claims.ID != 7 || !claims.IsAdmin || claims.Email != "a@x.com" || claims.Role() != RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.RegisteredClaims.ID == "" {
		t.Fatal("expected jti to be set")
	}

	ctx := ContextWithClaims(context.Background(), claims)
	id, role, ok := AccountIDFromContext(ctx)
	if !ok || id != 7 || role != RoleAdmin {
		t.Fatalf("AccountIDFromContext = %d, %s, %v", id, role, ok)
	}
}

func TestTokenIssuerRejects(t *testing.T) {
	clock := newTestClock()
	issuer, _ := NewTokenIssuer(testSecret, clock.Now)
	other, _ := NewTokenIssuer(strings.Repeat("x", 40), clock.Now)

	session, _, _ := issuer.IssueSession(1, "a@x.com", RoleUser, time.Hour)
	setup, _, _ := issuer.IssueSetup("u@x.com", time.Hour)
	forged, _, _ := other.IssueSession(1, "a@x.com", RoleAdmin, time.Hour)

	if _, err := issuer.ParseSession(setup); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("setup token accepted as session: %v", err)
	}
	if _, err := issuer.ParseSetup(session); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("session token accepted as setup: %v", err)
	}
	if _, err := issuer.ParseSession(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token signed with another secret accepted: %v", err)
	}
	if _, err := issuer.ParseSession(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token accepted: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ID: 1, TokenType: tokenTypeSession,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: defaultIssuer, ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour))}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := issuer.ParseSession(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unsigned token accepted: %v", err)
	}

	clock.Advance(2 * time.Hour)
	if _, err := issuer.ParseSession(session); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}
}

func TestNewTokenIssuerValidatesSecret(t *testing.T) {
	if _, err := NewTokenIssuer("  ", nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewTokenIssuer("short", nil); err == nil {
		t.Fatal("expected error for short secret")
	}
	issuer, _ := NewTokenIssuer(testSecret, nil)
	if _, _, err := issuer.IssueSession(0, "", RoleUser, time.Hour); err == nil {
		t.Fatal("expected error for missing id")
	}
	if _, _, err := issuer.IssueSetup("a@x.com", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
