package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer = "crmdesk"

	tokenTypeSession = "session"
	tokenTypeSetup   = "setup"

	minSecretLength = 32
)

var errMissingSecret = errors.New("auth: token secret is not configured")

// Claims is the bearer token payload: {id, email, isAdmin}.
type Claims struct {
	ID        int64  `json:"id"`
	Email     string `json:"email,omitempty"`
	IsAdmin   bool   `json:"isAdmin"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Role returns the account variant the claims were issued for.
func (c *Claims) Role() Role {
	if c.IsAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// TokenIssuer signs and verifies HS256 tokens with an injected secret.
type TokenIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenIssuer validates the secret and returns an issuer.
func NewTokenIssuer(secret string, now func() time.Time) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: token secret must be at least %d bytes", minSecretLength)
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{secret: []byte(secret), issuer: defaultIssuer, now: now}, nil
}

// IssueSession signs a session token for an account.
func (t *TokenIssuer) IssueSession(id int64, email string, role Role, ttl time.Duration) (string, time.Time, error) {
	if id <= 0 {
		return "", time.Time{}, errors.New("account id is required")
	}
	return t.sign(Claims{
		ID:        id,
		Email:     email,
		IsAdmin:   role == RoleAdmin,
		TokenType: tokenTypeSession,
	}, fmt.Sprintf("%s:%d", role, id), ttl)
}

// IssueSetup signs the account-setup token mailed to an invited user.
func (t *TokenIssuer) IssueSetup(email string, ttl time.Duration) (string, time.Time, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", time.Time{}, errors.New("email is required")
	}
	return t.sign(Claims{Email: email, TokenType: tokenTypeSetup}, email, ttl)
}

func (t *TokenIssuer) sign(claims Claims, subject string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	now := t.now().UTC()
	exp := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseSession verifies a bearer session token.
func (t *TokenIssuer) ParseSession(token string) (*Claims, error) {
	claims, err := t.parse(token, tokenTypeSession)
	if err != nil {
		return nil, err
	}
	if claims.ID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseSetup verifies an account-setup token.
func (t *TokenIssuer) ParseSetup(token string) (*Claims, error) {
	claims, err := t.parse(token, tokenTypeSetup)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Email) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *TokenIssuer) parse(token, tokenType string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.TokenType != tokenType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
