package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickLock(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	a := NewTickLock(rdb, "scanner:tick", time.Minute)
	b := NewTickLock(rdb, "scanner:tick", time.Minute)

	release, err := a.Acquire(ctx)
	require.NoError(t, err)

	_, err = b.Acquire(ctx)
	assert.ErrorIs(t, err, ErrNotAcquired)

	release()

	releaseB, err := b.Acquire(ctx)
	require.NoError(t, err)

	// A stale release from the first holder must not free the second holder's lock
	release()
	assert.True(t, mr.Exists("scanner:tick"))
	releaseB()
	assert.False(t, mr.Exists("scanner:tick"))
}

func TestTickLock_Expires(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	lock := NewTickLock(rdb, "scanner:tick", time.Second)
	_, err := lock.Acquire(ctx)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = lock.Acquire(ctx)
	assert.NoError(t, err)
}
