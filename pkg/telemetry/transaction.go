// Package telemetry correlates every operation to a transaction id and
// provides the span/metric sink used at component boundaries.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransactionContext identifies one top-level request and all work derived
// from it. It is created at every externally-initiated operation and
// propagated on the context to every downstream call, log, and audit entry.
type TransactionContext struct {
	TransactionID string    `json:"transaction_id"`
	SessionID     string    `json:"session_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Role          string    `json:"role,omitempty"`
	StartTime     time.Time `json:"start_time"`

	// ParentID is set on nested operations (e.g. tool calls made by an
	// agent inside a larger transaction).
	ParentID string `json:"parent_id,omitempty"`
}

// NewTransaction creates a root TransactionContext for an external request.
func NewTransaction(sessionID, userID, role string) TransactionContext {
	return TransactionContext{
		TransactionID: uuid.New().String(),
		SessionID:     sessionID,
		UserID:        userID,
		Role:          role,
		StartTime:     time.Now(),
	}
}

// Child derives a nested TransactionContext that shares the transaction id
// but records the parent relationship.
func (t TransactionContext) Child() TransactionContext {
	child := t
	child.ParentID = t.TransactionID
	child.StartTime = time.Now()
	return child
}

type txnKey struct{}

// WithTransaction attaches a TransactionContext to ctx.
func WithTransaction(ctx context.Context, txn TransactionContext) context.Context {
	return context.WithValue(ctx, txnKey{}, txn)
}

// FromContext extracts the TransactionContext, or a zero value with
// ok=false when none is attached.
func FromContext(ctx context.Context) (TransactionContext, bool) {
	txn, ok := ctx.Value(txnKey{}).(TransactionContext)
	return txn, ok
}

// TransactionID returns the transaction id on ctx, or "" when absent.
// Convenience for log fields.
func TransactionID(ctx context.Context) string {
	if txn, ok := FromContext(ctx); ok {
		return txn.TransactionID
	}
	return ""
}
