package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateScope classifies a rate counter.
type RateScope string

const (
	ScopeGlobal   RateScope = "global"
	ScopeUser     RateScope = "user"
	ScopeResource RateScope = "resource"
)

// RateCounter is a fixed-window counter store. Counts are monotonic
// within a window and reset at window boundaries.
type RateCounter interface {
	// Count returns the current count for (scope, subject) in the window
	// containing now.
	Count(ctx context.Context, scope RateScope, subject string, window time.Duration) (int, error)
	// Incr commits one occurrence and returns the new count.
	Incr(ctx context.Context, scope RateScope, subject string, window time.Duration) (int, error)
}

// rate:{scope}:{subject}:{window_start}
func rateKey(scope RateScope, subject string, window time.Duration, now time.Time) string {
	start := now.Truncate(window).Unix()
	return fmt.Sprintf("rate:%s:%s:%d", scope, subject, start)
}

// MemoryRateCounter keeps counters in process memory. Stale windows are
// purged opportunistically on access.
type MemoryRateCounter struct {
	mu     sync.Mutex
	counts map[string]int
	seen   map[string]time.Time
	now    func() time.Time
}

// NewMemoryRateCounter creates an empty counter store.
func NewMemoryRateCounter() *MemoryRateCounter {
	return &MemoryRateCounter{
		counts: make(map[string]int),
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

func (c *MemoryRateCounter) Count(_ context.Context, scope RateScope, subject string, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(window)
	return c.counts[rateKey(scope, subject, window, c.now())], nil
}

func (c *MemoryRateCounter) Incr(_ context.Context, scope RateScope, subject string, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(window)
	key := rateKey(scope, subject, window, c.now())
	c.counts[key]++
	c.seen[key] = c.now()
	return c.counts[key], nil
}

// purgeLocked drops windows older than twice the window size, mirroring
// the TTL a shared backend would apply.
func (c *MemoryRateCounter) purgeLocked(window time.Duration) {
	cutoff := c.now().Add(-2 * window)
	for key, at := range c.seen {
		if at.Before(cutoff) {
			delete(c.counts, key)
			delete(c.seen, key)
		}
	}
}

// RedisRateCounter shares fixed-window counters through Redis so limits
// hold across instances. Keys expire after twice the window.
type RedisRateCounter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisRateCounter wraps an existing client.
func NewRedisRateCounter(rdb *redis.Client) *RedisRateCounter {
	return &RedisRateCounter{rdb: rdb, now: time.Now}
}

func (c *RedisRateCounter) Count(ctx context.Context, scope RateScope, subject string, window time.Duration) (int, error) {
	n, err := c.rdb.Get(ctx, rateKey(scope, subject, window, c.now())).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate counter read: %w", err)
	}
	return n, nil
}

func (c *RedisRateCounter) Incr(ctx context.Context, scope RateScope, subject string, window time.Duration) (int, error) {
	key := rateKey(scope, subject, window, c.now())
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate counter increment: %w", err)
	}
	return int(incr.Val()), nil
}
