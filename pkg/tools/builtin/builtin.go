// Package builtin provides the stock tool adapters: database, document,
// and analytics tools over opaque backends. Backends are interfaces so
// real engines can replace the in-memory fakes without touching the
// adapters.
package builtin

import (
	"context"
	"encoding/json"

	"github.com/maestro-ai/maestro/pkg/tools"
)

// funcAdapter is the shared adapter shape for the stock tools.
type funcAdapter struct {
	name        string
	description string
	schema      json.RawMessage
	call        func(ctx context.Context, args map[string]any) (map[string]any, error)
}

var _ tools.ToolAdapter = (*funcAdapter)(nil)

func (a *funcAdapter) Name() string                 { return a.name }
func (a *funcAdapter) Description() string          { return a.description }
func (a *funcAdapter) InputSchema() json.RawMessage { return a.schema }
func (a *funcAdapter) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	return a.call(ctx, args)
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
