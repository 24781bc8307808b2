package policy

import (
	"context"
	"sync"
	"time"
)

// AuditEntry records one policy evaluation. Entries are append-only.
type AuditEntry struct {
	TransactionID string         `json:"transaction_id"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        string         `json:"user_id,omitempty"`
	Role          string         `json:"role"`
	ResourceType  ResourceType   `json:"resource_type"`
	ResourceID    string         `json:"resource_id"`
	Operation     string         `json:"operation"`
	Allowed       bool           `json:"allowed"`
	Reason        string         `json:"reason"`
	Restrictions  map[string]any `json:"applied_restrictions,omitempty"`
	Latency       time.Duration  `json:"latency_ns"`
}

// Violation is a denied evaluation with attribution, surfaced on the
// audit endpoint alongside the raw trail.
type Violation struct {
	TransactionID string       `json:"transaction_id"`
	Timestamp     time.Time    `json:"timestamp"`
	UserID        string       `json:"user_id,omitempty"`
	Role          string       `json:"role"`
	ResourceType  ResourceType `json:"resource_type"`
	ResourceID    string       `json:"resource_id"`
	Operation     string       `json:"operation"`
	Reason        string       `json:"reason"`
}

// AuditSink receives every evaluation. Implementations must tolerate
// concurrent appends; append failures must not block evaluation.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry)
}

// AuditRing is the in-memory audit trail, bounded by a fixed capacity.
// The oldest entries are overwritten once the ring is full.
type AuditRing struct {
	mu         sync.Mutex
	entries    []AuditEntry
	violations []Violation
	next       int
	full       bool
	capacity   int
}

var _ AuditSink = (*AuditRing)(nil)

// NewAuditRing creates a ring holding up to capacity entries.
func NewAuditRing(capacity int) *AuditRing {
	if capacity <= 0 {
		capacity = 1024
	}
	return &AuditRing{
		entries:  make([]AuditEntry, capacity),
		capacity: capacity,
	}
}

func (r *AuditRing) Append(_ context.Context, entry AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = entry
	r.next++
	if r.next == r.capacity {
		r.next = 0
		r.full = true
	}

	if !entry.Allowed {
		r.violations = append(r.violations, Violation{
			TransactionID: entry.TransactionID,
			Timestamp:     entry.Timestamp,
			UserID:        entry.UserID,
			Role:          entry.Role,
			ResourceType:  entry.ResourceType,
			ResourceID:    entry.ResourceID,
			Operation:     entry.Operation,
			Reason:        entry.Reason,
		})
		if len(r.violations) > r.capacity {
			r.violations = r.violations[len(r.violations)-r.capacity:]
		}
	}
}

// Recent returns up to limit entries, newest first.
func (r *AuditRing) Recent(limit int) []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = r.capacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]AuditEntry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.next - 1 - i + r.capacity) % r.capacity
		out = append(out, r.entries[idx])
	}
	return out
}

// Violations returns up to limit violations, newest first.
func (r *AuditRing) Violations(limit int) []Violation {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.violations)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Violation, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, r.violations[n-1-i])
	}
	return out
}

// teeSink fans one entry out to several sinks.
type teeSink struct {
	sinks []AuditSink
}

// TeeSinks combines sinks into one. Nil entries are skipped.
func TeeSinks(sinks ...AuditSink) AuditSink {
	out := make([]AuditSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &teeSink{sinks: out}
}

func (t *teeSink) Append(ctx context.Context, entry AuditEntry) {
	for _, s := range t.sinks {
		s.Append(ctx, entry)
	}
}
