package shared

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// maxIdempotencyKey bounds client supplied Idempotency-Key values.
const maxIdempotencyKey = 128

var (
	// ErrIdempotencyConflict indicates the key was already used for the module.
	ErrIdempotencyConflict = errors.New("shared: idempotent request already processed")
	// ErrInvalidIdempotencyKey rejects an empty or oversized key.
	ErrInvalidIdempotencyKey = errors.New("shared: invalid idempotency key")
)

// IdempotencyStore records keys in idempotency_keys, unique per module.
type IdempotencyStore struct {
	db  Querier
	now func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(db Querier) *IdempotencyStore {
	return &IdempotencyStore{db: db, now: time.Now}
}

// CheckAndInsert claims key for module or returns ErrIdempotencyConflict.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	key, err := normalizeKey(key, module)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, s.now())
	if IsUniqueViolation(err) {
		return ErrIdempotencyConflict
	}
	return err
}

// Delete releases a key so a failed request can be retried with it.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	key, err := normalizeKey(key, module)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module)
	return err
}

// Cleanup removes keys older than the retention window and returns how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func normalizeKey(key, module string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > maxIdempotencyKey || module == "" {
		return "", ErrInvalidIdempotencyKey
	}
	return key, nil
}

// IsUniqueViolation reports whether err is a postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
