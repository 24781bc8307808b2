package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/telemetry"
)

// Mirror receives registry mutations. Mirroring is best-effort and
// observational: selection always runs against the in-process state.
type Mirror interface {
	Upsert(ctx context.Context, rec models.AgentRecord)
	Remove(ctx context.Context, id string)
}

// RedisMirror publishes agent records to agent:{id} keys so operators
// and sibling instances can inspect the fleet. Keys expire after three
// missed heartbeat windows.
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisMirror creates a mirror writing through rdb. heartbeatTimeout
// sizes the key TTL.
func NewRedisMirror(rdb *redis.Client, heartbeatTimeout time.Duration) *RedisMirror {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = time.Minute
	}
	return &RedisMirror{rdb: rdb, ttl: 3 * heartbeatTimeout}
}

func (m *RedisMirror) key(id string) string { return "agent:" + id }

// Upsert writes the record snapshot and refreshes its TTL.
func (m *RedisMirror) Upsert(ctx context.Context, rec models.AgentRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := m.rdb.Set(ctx, m.key(rec.ID), data, m.ttl).Err(); err != nil {
		telemetry.Logger(ctx).Warn("Agent mirror write failed", "agent_id", rec.ID, "error", err)
	}
}

// Remove deletes the mirrored record.
func (m *RedisMirror) Remove(ctx context.Context, id string) {
	if err := m.rdb.Del(ctx, m.key(id)).Err(); err != nil {
		telemetry.Logger(ctx).Warn("Agent mirror delete failed", "agent_id", id, "error", err)
	}
}
