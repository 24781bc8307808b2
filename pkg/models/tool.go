package models

import (
	"encoding/json"
	"time"
)

// ToolStatus is the outcome class of a tool call.
type ToolStatus string

const (
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
	ToolTimeout ToolStatus = "timeout"
)

// ToolResult is the normalized payload returned by the tool server.
type ToolResult struct {
	Status  ToolStatus     `json:"status"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Latency time.Duration  `json:"latency_ns"`
}

// ToolDescriptor describes a registered tool for tools/list responses.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolEnvelope is the uniform request frame of the tool-server protocol.
type ToolEnvelope struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ToolCallParams are the params of a tools/call request.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	AuthToken string         `json:"auth_token"`
}

// ToolEnvelopeError is the error member of a tool-server response frame.
// Codes are the stable error kinds from pkg/apperrors.
type ToolEnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToolResponse is the uniform response frame of the tool-server protocol.
// Exactly one of Result and Error is set.
type ToolResponse struct {
	ID     string             `json:"id"`
	Result any                `json:"result,omitempty"`
	Error  *ToolEnvelopeError `json:"error,omitempty"`
}
