package models

import (
	"time"
)

// SessionStatus is the lifecycle state of a session. Closed is terminal.
type SessionStatus string

const (
	SessionStatusIdle       SessionStatus = "idle"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusClosed     SessionStatus = "closed"
)

// MessageRole identifies the author of a session message.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAgent  MessageRole = "agent"
	RoleSystem MessageRole = "system"
)

// Message is a single entry in a session's append-only message log.
// Messages are never mutated after emission.
type Message struct {
	ID        string         `json:"id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Session is the ephemeral conversational context owned by the streaming
// layer. Invariant: LastTouched >= CreatedAt.
type Session struct {
	ID          string         `json:"session_id"`
	UserID      string         `json:"user_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	LastTouched time.Time      `json:"last_touched"`
	Status      SessionStatus  `json:"status"`
	Messages    []Message      `json:"messages,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CreateSessionRequest contains fields for creating a new session.
type CreateSessionRequest struct {
	UserID   string         `json:"user_id,omitempty"`
	Metadata map[string]any `json:"initial_context,omitempty"`
}

// EventType classifies session events. The terminal set ends a response
// stream; no non-terminal event for the same request may follow one.
type EventType string

const (
	EventTypeStatus       EventType = "status"
	EventTypeMessage      EventType = "message"
	EventTypeError        EventType = "error"
	EventTypeComplete     EventType = "complete"
	EventTypeClosed       EventType = "closed"
	EventTypeBackpressure EventType = "backpressure"
)

// Terminal reports whether the event type ends a session response stream.
func (t EventType) Terminal() bool {
	return t == EventTypeComplete || t == EventTypeError || t == EventTypeClosed
}

// Event is one entry in a session's bounded event queue. Cursor is the
// position assigned at enqueue time; delivery order follows cursor order.
type Event struct {
	ID        string         `json:"event_id"`
	SessionID string         `json:"session_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Cursor    uint64         `json:"cursor"`
	Timestamp time.Time      `json:"timestamp"`
}

// Phase values used in status event payloads.
const (
	PhasePlanning      = "planning"
	PhaseDispatching   = "dispatching"
	PhaseAgentStart    = "agent_start"
	PhaseAgentComplete = "agent_complete"
	PhaseIteration     = "iteration"
	PhaseComplete      = "complete"
)
