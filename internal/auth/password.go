package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Hasher is a one-way hash for passwords, security codes and temporary passwords.
type Hasher struct {
	cost int
}

// NewHasher returns a bcrypt hasher. Costs outside bcrypt's range fall back to the default.
func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return Hasher{cost: cost}
}

// Hash hashes a plaintext secret.
func (h Hasher) Hash(secret string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret is empty")
	}
	cost := h.cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares plaintext with a stored hash.
func (h Hasher) Verify(hash, secret string) error {
	if hash == "" {
		return errors.New("hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

// Matches is Verify reduced to a boolean.
func (h Hasher) Matches(hash, secret string) bool {
	return h.Verify(hash, secret) == nil
}
