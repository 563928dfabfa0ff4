package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the lock
var ErrNotAcquired = errors.New("lock held elsewhere")

// releaseScript deletes the key only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TickLock is a Redis lease that lets one process at a time run a sweep
type TickLock struct {
	rdb redis.UniversalClient
	key string
	ttl time.Duration
}

// NewTickLock creates a lock stored under key. ttl bounds how long a crashed
// holder can block others.
func NewTickLock(rdb redis.UniversalClient, key string, ttl time.Duration) *TickLock {
	return &TickLock{rdb: rdb, key: key, ttl: ttl}
}

// Acquire takes the lock and returns its release func
func (l *TickLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(ctx, l.rdb, []string{l.key}, token)
	}
	return release, nil
}
