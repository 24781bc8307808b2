package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind only",
			err:  New(KindSessionNotFound, "session %s not found", "s1"),
			want: "SessionNotFound: session s1 not found",
		},
		{
			name: "kind with subcode",
			err:  Denied(SubcodeRateLimited, "too many requests"),
			want: "Denied/RateLimited: too many requests",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindTimedOut, KindOf(New(KindTimedOut, "deadline")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))

	// Kind survives fmt wrapping.
	wrapped := fmt.Errorf("outer: %w", New(KindDenied, "no"))
	assert.Equal(t, KindDenied, KindOf(wrapped))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindAgentUnreachable, cause, "invoke failed")
	assert.ErrorIs(t, err, cause)
	assert.True(t, Retriable(err))
}

func TestWithTransactionDoesNotMutate(t *testing.T) {
	orig := Denied(SubcodeDefaultDeny, "denied by default")
	stamped := orig.WithTransaction("txn-1")
	require.NotSame(t, orig, stamped)
	assert.Empty(t, orig.TransactionID)
	assert.Equal(t, "txn-1", stamped.TransactionID)
	assert.Equal(t, SubcodeDefaultDeny, stamped.Subcode)
}

func TestRetriable(t *testing.T) {
	assert.True(t, Retriable(New(KindAgentUnreachable, "dial tcp refused")))
	assert.True(t, Retriable(New(KindOverloaded, "queue full")))
	assert.False(t, Retriable(Denied(SubcodeExplicitDeny, "denied")))
	assert.False(t, Retriable(New(KindInvalidRequest, "bad input")))
	assert.False(t, Retriable(New(KindTimedOut, "deadline exceeded")))
}

func TestAsError(t *testing.T) {
	require.Nil(t, AsError(nil))

	ae := AsError(errors.New("boom"))
	require.NotNil(t, ae)
	assert.Equal(t, KindInternal, ae.Kind)
	assert.Equal(t, "boom", ae.Message)

	orig := New(KindToolNotFound, "unknown tool")
	assert.Same(t, orig, AsError(orig))
}
