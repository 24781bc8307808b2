package policy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRateCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	counter := NewRedisRateCounter(rdb)
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	counter.now = func() time.Time { return now }
	ctx := context.Background()

	n, err := counter.Count(ctx, ScopeUser, "alice", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 1; i <= 3; i++ {
		n, err := counter.Incr(ctx, ScopeUser, "alice", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	// Counter keys carry a TTL of twice the window.
	key := rateKey(ScopeUser, "alice", time.Hour, now)
	assert.Greater(t, mr.TTL(key), time.Hour)

	// A new window starts from zero.
	now = now.Add(time.Hour)
	n, err = counter.Count(ctx, ScopeUser, "alice", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}
