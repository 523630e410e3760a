package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/hospital-costing/internal/auth"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

type memoryRepo struct {
	users   map[int64]*auth.User
	tokens  map[string]*auth.APIToken
	touched map[string]time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:   map[int64]*auth.User{7: {ID: 7, Email: "cfo@rs.test", Name: "CFO", IsActive: true}},
		tokens:  map[string]*auth.APIToken{},
		touched: map[string]time.Time{},
	}
}

func (m *memoryRepo) FindUser(_ context.Context, id int64) (*auth.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return u, nil
}

func (m *memoryRepo) InsertToken(_ context.Context, token auth.APIToken) error {
	m.tokens[token.ID] = &token
	return nil
}

func (m *memoryRepo) FindToken(_ context.Context, id string) (*auth.APIToken, error) {
	t, ok := m.tokens[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return t, nil
}

func (m *memoryRepo) TouchToken(_ context.Context, id string, at time.Time) error {
	m.touched[id] = at
	return nil
}

func (m *memoryRepo) RevokeToken(_ context.Context, id string, at time.Time) error {
	t, ok := m.tokens[id]
	if !ok || t.RevokedAt != nil {
		return shared.ErrNotFound
	}
	t.RevokedAt = &at
	return nil
}

func newService(repo *memoryRepo, now time.Time) *auth.Service {
	return auth.NewService(repo).WithCost(bcrypt.MinCost).WithNow(func() time.Time { return now })
}

func TestIssueAndAuthenticate(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	svc := newService(repo, now)

	issued, err := svc.Issue(context.Background(), 7, "batch runner", 0)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(issued.Plaintext, issued.Token.ID+"."))
	require.NotContains(t, repo.tokens[issued.Token.ID].SecretHash, strings.TrimPrefix(issued.Plaintext, issued.Token.ID+"."))

	actor, err := svc.Authenticate(context.Background(), issued.Plaintext)
	require.NoError(t, err)
	require.Equal(t, int64(7), actor.UserID)
	require.Equal(t, issued.Token.ID, actor.TokenID)
	require.Equal(t, now, repo.touched[issued.Token.ID])
}

func TestAuthenticateRejectsBadSecret(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, time.Now())
	issued, err := svc.Issue(context.Background(), 7, "ci", 0)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), issued.Token.ID+".wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "no-dot")
	require.ErrorIs(t, err, auth.ErrMalformedToken)

	_, err = svc.Authenticate(context.Background(), "unknown.secret")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateExpiredAndRevoked(t *testing.T) {
	repo := newMemoryRepo()
	issuedAt := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	issued, err := newService(repo, issuedAt).Issue(context.Background(), 7, "short", time.Hour)
	require.NoError(t, err)

	_, err = newService(repo, issuedAt.Add(2*time.Hour)).Authenticate(context.Background(), issued.Plaintext)
	require.ErrorIs(t, err, auth.ErrTokenRevoked)

	svc := newService(repo, issuedAt.Add(time.Minute))
	require.NoError(t, svc.Revoke(context.Background(), issued.Token.ID))
	_, err = svc.Authenticate(context.Background(), issued.Plaintext)
	require.ErrorIs(t, err, auth.ErrTokenRevoked)
}

func TestIssueRejectsInactiveUser(t *testing.T) {
	repo := newMemoryRepo()
	repo.users[7].IsActive = false
	_, err := newService(repo, time.Now()).Issue(context.Background(), 7, "x", 0)
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestRequireTokenMiddleware(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, time.Now())
	issued, err := svc.Issue(context.Background(), 7, "ci", 0)
	require.NoError(t, err)

	var seen shared.Actor
	handler := auth.RequireToken(svc, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Header().Get("WWW-Authenticate"), "Bearer")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Token.ID+".nope")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issued.Plaintext)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, int64(7), seen.UserID)
}
