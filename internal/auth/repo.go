package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindUser(ctx context.Context, id int64) (*User, error)
	InsertToken(ctx context.Context, token APIToken) error
	FindToken(ctx context.Context, id string) (*APIToken, error)
	TouchToken(ctx context.Context, id string, at time.Time) error
	RevokeToken(ctx context.Context, id string, at time.Time) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindUser fetches a user by id.
func (r *PGRepository) FindUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `SELECT id, email, name, is_active FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// InsertToken persists a freshly issued token.
func (r *PGRepository) InsertToken(ctx context.Context, token APIToken) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO api_tokens (id, user_id, name, secret_hash, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, token.ID, token.UserID, token.Name, token.SecretHash, token.ExpiresAt, token.CreatedAt)
	return err
}

// FindToken loads a token by id.
func (r *PGRepository) FindToken(ctx context.Context, id string) (*APIToken, error) {
	var t APIToken
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, name, secret_hash, expires_at, revoked_at, last_used_at, created_at
FROM api_tokens WHERE id=$1`, id).
		Scan(&t.ID, &t.UserID, &t.Name, &t.SecretHash, &t.ExpiresAt, &t.RevokedAt, &t.LastUsedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TouchToken records the last time the token authenticated a request.
func (r *PGRepository) TouchToken(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_tokens SET last_used_at=$2 WHERE id=$1`, id, at)
	return err
}

// RevokeToken marks a token as revoked.
func (r *PGRepository) RevokeToken(ctx context.Context, id string, at time.Time) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE api_tokens SET revoked_at=$2 WHERE id=$1 AND revoked_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// EnsureUser inserts the user when the email is new and returns its id.
func (r *PGRepository) EnsureUser(ctx context.Context, email, name string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO users (email, name, is_active, created_at)
VALUES ($1, $2, TRUE, NOW())
ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
RETURNING id`, email, name).Scan(&id)
	return id, err
}
