package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

// compare-and-delete so an expired holder never frees a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var ErrInvalidLease = errors.New("invalid_lock_lease")

// Locker hands out single-holder leases backed by redis SETNX.
// A nil *Locker grants every lease, which is correct for a single instance.
type Locker struct {
	client *redis.Client
}

// NewLocker returns nil when redis is not configured.
func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// Lease is one held lock. Release is idempotent.
type Lease struct {
	client *redis.Client
	key    string
	token  string
	once   sync.Once
}

// Acquire returns (nil, nil) when another holder owns name.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if name == "" || ttl <= 0 {
		return nil, ErrInvalidLease
	}
	if l == nil {
		return &Lease{}, nil
	}

	lease := &Lease{client: l.client, key: lockKeyPrefix + name, token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return lease, nil
}

func (s *Lease) Release(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		err = releaseScript.Run(ctx, s.client, []string{s.key}, s.token).Err()
	})
	return err
}
