// Package tools exposes the authenticated tool-call surface used by
// specialized agents: a uniform envelope protocol, a policy gate, and
// schema-validated dispatch to registered adapters.
package tools

import (
	"context"
	"encoding/json"
)

// ToolAdapter implements one named tool. Adapters register at start-up
// with a static JSON schema describing their input parameters; the
// server validates arguments against it before dispatch.
type ToolAdapter interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}
