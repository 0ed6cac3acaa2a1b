package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by TryLock when another owner holds the key
var ErrLockHeld = errors.New("lock held by another owner")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a held distributed lock
type Lock struct {
	client *Client
	key    string
	token  string
}

// Release frees the lock if it is still owned by this holder
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client.Redis, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if n == 0 {
		l.client.log.Warn("lock expired before release", "key", l.key)
	}
	return nil
}

// TryLock makes one attempt to take key for ttl
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := c.Redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: c, key: key, token: token}, nil
}

// Lock retries TryLock every retry interval until it succeeds or ctx ends
func (c *Client) Lock(ctx context.Context, key string, ttl, retry time.Duration) (*Lock, error) {
	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		lock, err := c.TryLock(ctx, key, ttl)
		if !errors.Is(err, ErrLockHeld) {
			return lock, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Locker adapts Client to per-key mutual exclusion with fixed timings
type Locker struct {
	client *Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewLocker creates a Locker whose keys are prefixed with prefix
func NewLocker(client *Client, prefix string, ttl time.Duration) *Locker {
	return &Locker{client: client, prefix: prefix, ttl: ttl, retry: 25 * time.Millisecond}
}

// Acquire blocks until key is held and returns its release function
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Lock(ctx, l.prefix+key, l.ttl, l.retry)
	if err != nil {
		return nil, err
	}
	return func() {
		// the caller's context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil {
			l.client.log.Error("failed to release lock", "key", lock.key, "error", err)
		}
	}, nil
}
