package auth

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrMalformedToken indicates the bearer value is not in <id>.<secret> form.
	ErrMalformedToken = errors.New("auth: malformed token")
	// ErrTokenRevoked indicates the token was revoked or has expired.
	ErrTokenRevoked = errors.New("auth: token revoked or expired")
)

// User represents an account that may own API tokens.
type User struct {
	ID       int64
	Email    string
	Name     string
	IsActive bool
}

// APIToken is the persisted form of an issued bearer token.
type APIToken struct {
	ID         string
	UserID     int64
	Name       string
	SecretHash string
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Usable reports whether the token may authenticate requests at now.
func (t APIToken) Usable(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return false
	}
	return true
}

// IssuedToken carries the plaintext value returned exactly once at issue time.
type IssuedToken struct {
	Token     APIToken
	Plaintext string
}

// SplitToken separates a raw bearer value into id and secret.
func SplitToken(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	id, secret, ok := strings.Cut(raw, ".")
	if !ok || id == "" || secret == "" {
		return "", "", ErrMalformedToken
	}
	return id, secret, nil
}
