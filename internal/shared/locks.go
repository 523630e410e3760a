package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld indicates another caller owns the lock.
var ErrLeaseHeld = errors.New("lease already held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// AllocationLockKey guards allocation runs. It is shared by every period so
// overlapping periods cannot execute side by side.
const AllocationLockKey = "costing:allocation:lock"

// Releaser gives up a held lock.
type Releaser interface {
	Release(ctx context.Context) error
}

// LeaseManager hands out time bounded redis locks.
type LeaseManager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLeaseManager constructs a LeaseManager. A non-positive ttl defaults to five minutes.
func NewLeaseManager(client *redis.Client, ttl time.Duration) *LeaseManager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LeaseManager{client: client, ttl: ttl}
}

// Acquire takes the lock for key or returns ErrLeaseHeld.
func (m *LeaseManager) Acquire(ctx context.Context, key string) (Releaser, error) {
	if m == nil || m.client == nil {
		return nil, errors.New("lease manager not initialised")
	}
	token, err := newLeaseToken()
	if err != nil {
		return nil, err
	}
	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &Lease{client: m.client, key: key, token: token}, nil
}

// Lease is a held lock owned by a single token.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Release deletes the key only when it still carries this lease's token.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

func newLeaseToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
