package api

import (
	"github.com/maestro-ai/maestro/pkg/models"
)

// postMessageRequest is the body of POST /sessions/:id/messages and of
// the flat alias POST /messages, where SessionID is required. Context
// carries optional orchestration overrides.
type postMessageRequest struct {
	SessionID string                 `json:"session_id,omitempty"`
	Content   string                 `json:"content"`
	Context   *models.RequestContext `json:"context,omitempty"`
}

// registerAgentRequest is the body of POST /agents.
type registerAgentRequest struct {
	models.AgentRecord
}

// heartbeatRequest is the body of POST /agents/:id/heartbeat.
type heartbeatRequest struct {
	Load   int                `json:"current_load"`
	Status models.AgentHealth `json:"status,omitempty"`
}
