package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
)

func TestRedisMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	reg := New(config.RegistryConfig{HeartbeatTimeoutSeconds: 30})
	reg.SetMirror(NewRedisMirror(rdb, 30*time.Second))

	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, models.AgentRecord{
		ID:          "a1",
		Name:        "Agent One",
		Endpoint:    "http://agents.internal/a1",
		MaxCapacity: 4,
	}))

	// Mirror writes are asynchronous.
	require.Eventually(t, func() bool {
		return mr.Exists("agent:a1")
	}, 2*time.Second, 10*time.Millisecond)

	raw, err := mr.Get("agent:a1")
	require.NoError(t, err)
	var rec models.AgentRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, "Agent One", rec.Name)

	// Key TTL is three heartbeat windows.
	ttl := mr.TTL("agent:a1")
	assert.InDelta(t, (90 * time.Second).Seconds(), ttl.Seconds(), 1)

	require.NoError(t, reg.Heartbeat(ctx, "a1", 2, ""))
	require.Eventually(t, func() bool {
		raw, err := mr.Get("agent:a1")
		if err != nil {
			return false
		}
		var rec models.AgentRecord
		return json.Unmarshal([]byte(raw), &rec) == nil && rec.Load == 2
	}, 2*time.Second, 10*time.Millisecond)

	reg.Deregister(ctx, "a1")
	require.Eventually(t, func() bool {
		return !mr.Exists("agent:a1")
	}, 2*time.Second, 10*time.Millisecond)
}
