// Package sessions maintains ephemeral session state: metadata, the
// append-only message log, and the bounded per-session event queue that
// feeds every transport. A keyed in-memory store covers single-instance
// operation; the Redis store shares state between instances.
package sessions

import (
	"context"

	"github.com/maestro-ai/maestro/pkg/models"
)

// Store is the session backend. All methods are safe for concurrent use.
//
// Event semantics: events are delivered in enqueue order per session. The
// queue is bounded; on overflow the oldest non-terminal event is dropped
// and a backpressure event is enqueued in its place. Terminal events
// (complete, error, closed) are never dropped.
type Store interface {
	// Create allocates a fresh session in status idle.
	Create(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error)

	// Get returns a snapshot of the session. Fails with SessionNotFound if
	// absent or expired.
	Get(ctx context.Context, id string) (*models.Session, error)

	// SetStatus transitions the session status. Closed is terminal; use
	// Close for the full closing protocol.
	SetStatus(ctx context.Context, id string, status models.SessionStatus) error

	// AppendMessage appends to the message log and updates last-touched.
	// Fails with SessionClosed on a closed session.
	AppendMessage(ctx context.Context, id string, msg models.Message) error

	// EnqueueEvent pushes an event onto the session's queue, assigning its
	// cursor. The returned event carries the assigned cursor and id.
	EnqueueEvent(ctx context.Context, id string, typ models.EventType, payload map[string]any) (*models.Event, error)

	// DequeueEvents blocks until at least one event with cursor > since is
	// available, then returns all such events in order plus the new cursor.
	// Returns SessionClosed once the queue is drained past the closed
	// terminal event. Cancellation is honored via ctx.
	DequeueEvents(ctx context.Context, id string, since uint64) ([]models.Event, uint64, error)

	// Close transitions the session to closed, flushes a closed terminal
	// event, and schedules deletion. Idempotent.
	Close(ctx context.Context, id string) error

	// Stop terminates background work (expiry sweeps, subscriptions).
	Stop()
}
