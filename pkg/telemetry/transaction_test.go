package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransaction(t *testing.T) {
	txn := NewTransaction("s1", "u1", "admin")
	assert.NotEmpty(t, txn.TransactionID)
	assert.Equal(t, "s1", txn.SessionID)
	assert.Equal(t, "u1", txn.UserID)
	assert.Equal(t, "admin", txn.Role)
	assert.WithinDuration(t, time.Now(), txn.StartTime, time.Second)
	assert.Empty(t, txn.ParentID)
}

func TestChildKeepsTransactionID(t *testing.T) {
	parent := NewTransaction("s1", "u1", "admin")
	child := parent.Child()
	assert.Equal(t, parent.TransactionID, child.TransactionID)
	assert.Equal(t, parent.TransactionID, child.ParentID)
}

func TestContextRoundTrip(t *testing.T) {
	txn := NewTransaction("s1", "", "")
	ctx := WithTransaction(context.Background(), txn)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, txn.TransactionID, got.TransactionID)
	assert.Equal(t, txn.TransactionID, TransactionID(ctx))

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
	assert.Empty(t, TransactionID(context.Background()))
}

func TestNoopSink(t *testing.T) {
	sink := NewNoopSink()
	ctx, span := sink.StartSpan(context.Background(), "test")
	require.NotNil(t, ctx)
	span.SetAttr("k", "v")
	span.RecordError(nil)
	span.End()
	sink.RecordLatency(ctx, "test", time.Millisecond)
	sink.RecordCount(ctx, "test", 1)
}

func TestOtelSinkNilProvider(t *testing.T) {
	sink := NewOtelSink(nil)
	ctx := WithTransaction(context.Background(), NewTransaction("s1", "", ""))
	ctx, span := sink.StartSpan(ctx, "op")
	require.NotNil(t, ctx)
	span.SetAttr("agent_id", "a1")
	span.SetAttr("count", 3)
	span.End()
}
