package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

const secretBytes = 32

// Service wraps API token business rules.
type Service struct {
	repo Repository
	cost int
	now  func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, cost: bcrypt.DefaultCost, now: time.Now}
}

// WithCost overrides the bcrypt cost, mainly to keep tests fast.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Issue creates a token for the user. The plaintext is never stored.
func (s *Service) Issue(ctx context.Context, userID int64, name string, ttl time.Duration) (IssuedToken, error) {
	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		return IssuedToken{}, err
	}
	if !user.IsActive {
		return IssuedToken{}, shared.ErrInvalidCredentials
	}
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return IssuedToken{}, fmt.Errorf("auth: generate secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return IssuedToken{}, err
	}
	now := s.now().UTC()
	token := APIToken{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       strings.TrimSpace(name),
		SecretHash: string(hash),
		CreatedAt:  now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		token.ExpiresAt = &exp
	}
	if err := s.repo.InsertToken(ctx, token); err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: token, Plaintext: token.ID + "." + secret}, nil
}

// Authenticate resolves a raw bearer value into the acting user.
func (s *Service) Authenticate(ctx context.Context, raw string) (shared.Actor, error) {
	id, secret, err := SplitToken(raw)
	if err != nil {
		return shared.Actor{}, err
	}
	token, err := s.repo.FindToken(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Actor{}, shared.ErrInvalidCredentials
		}
		return shared.Actor{}, err
	}
	now := s.now().UTC()
	if !token.Usable(now) {
		return shared.Actor{}, ErrTokenRevoked
	}
	if err := bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)); err != nil {
		return shared.Actor{}, shared.ErrInvalidCredentials
	}
	user, err := s.repo.FindUser(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Actor{}, shared.ErrInvalidCredentials
		}
		return shared.Actor{}, err
	}
	if !user.IsActive {
		return shared.Actor{}, shared.ErrInvalidCredentials
	}
	_ = s.repo.TouchToken(ctx, token.ID, now)
	return shared.Actor{UserID: user.ID, TokenID: token.ID, Name: user.Name}, nil
}

// Revoke disables a token immediately.
func (s *Service) Revoke(ctx context.Context, id string) error {
	return s.repo.RevokeToken(ctx, strings.TrimSpace(id), s.now().UTC())
}
