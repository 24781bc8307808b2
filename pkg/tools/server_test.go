package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/policy"
)

// echoAdapter returns its arguments; blockUntil makes it hang for
// timeout tests.
type echoAdapter struct {
	name       string
	blockUntil time.Duration
	err        error
}

func (a *echoAdapter) Name() string        { return a.name }
func (a *echoAdapter) Description() string { return "echoes its arguments" }
func (a *echoAdapter) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"limit": {"type": "integer"}
		},
		"required": ["query"],
		"additionalProperties": false
	}`)
}

func (a *echoAdapter) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	if a.blockUntil > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.blockUntil):
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return map[string]any{"echo": args["query"]}, nil
}

func permissivePolicy(t *testing.T, restrictions map[string]policy.Restrictions) *policy.Engine {
	t.Helper()
	doc := &policy.Document{
		DefaultPolicy: "deny",
		DefaultRole:   "agent",
		Roles: map[string]policy.RoleRules{
			"agent": {AllowedTools: []string{policy.Wildcard}},
		},
		Version: "test",
	}
	if restrictions != nil {
		doc.Restrictions = map[policy.ResourceType]map[string]policy.Restrictions{
			policy.ResourceTool: restrictions,
		}
	}
	engine, err := policy.NewEngine(context.Background(),
		config.PolicyConfig{Default: "deny"},
		policy.Options{Sources: []policy.Source{staticPolicy(doc)}})
	require.NoError(t, err)
	return engine
}

type staticPolicySource struct{ doc *policy.Document }

func (s staticPolicySource) Name() string                            { return "static" }
func (s staticPolicySource) Load(context.Context) (*policy.Document, error) { return s.doc, nil }

func staticPolicy(doc *policy.Document) policy.Source { return staticPolicySource{doc: doc} }

func newTestServer(t *testing.T, engine *policy.Engine, adapters ...ToolAdapter) *Server {
	t.Helper()
	srv := NewServer(config.ToolsConfig{
		MaxInFlightPerAdapter: 4,
		Tokens:                map[string]string{"token-agent": "agent"},
	}, engine, nil)
	for _, a := range adapters {
		require.NoError(t, srv.Register(a))
	}
	return srv
}

func TestServer_CallPipeline(t *testing.T) {
	srv := newTestServer(t, permissivePolicy(t, nil), &echoAdapter{name: "echo"})

	result, err := srv.Call(context.Background(), "echo", map[string]any{"query": "hi"}, "token-agent")
	require.NoError(t, err)
	assert.Equal(t, models.ToolSuccess, result.Status)
	assert.Equal(t, "hi", result.Data["echo"])
}

func TestServer_Authentication(t *testing.T) {
	srv := newTestServer(t, permissivePolicy(t, nil), &echoAdapter{name: "echo"})

	_, err := srv.Call(context.Background(), "echo", map[string]any{"query": "hi"}, "")
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))

	_, err = srv.Call(context.Background(), "echo", map[string]any{"query": "hi"}, "wrong")
	assert.Equal(t, apperrors.KindUnauthorized, apperrors.KindOf(err))
}

func TestServer_PolicyDenial(t *testing.T) {
	doc := &policy.Document{
		DefaultPolicy: "deny",
		DefaultRole:   "agent",
		Roles:         map[string]policy.RoleRules{"agent": {DeniedTools: []string{"echo"}}},
		Version:       "test",
	}
	engine, err := policy.NewEngine(context.Background(),
		config.PolicyConfig{Default: "deny"},
		policy.Options{Sources: []policy.Source{staticPolicy(doc)}})
	require.NoError(t, err)
	srv := newTestServer(t, engine, &echoAdapter{name: "echo"})

	_, err = srv.Call(context.Background(), "echo", map[string]any{"query": "hi"}, "token-agent")
	assert.Equal(t, apperrors.KindDenied, apperrors.KindOf(err))
	assert.Equal(t, apperrors.SubcodeExplicitDeny, apperrors.SubcodeOf(err))
}

func TestServer_UnknownTool(t *testing.T) {
	srv := newTestServer(t, permissivePolicy(t, nil))

	_, err := srv.Call(context.Background(), "missing", map[string]any{"query": "hi"}, "token-agent")
	assert.Equal(t, apperrors.KindToolNotFound, apperrors.KindOf(err))
}

func TestServer_SchemaValidation(t *testing.T) {
	srv := newTestServer(t, permissivePolicy(t, nil), &echoAdapter{name: "echo"})

	// Missing required argument.
	_, err := srv.Call(context.Background(), "echo", map[string]any{"limit": 5}, "token-agent")
	assert.Equal(t, apperrors.KindInvalidRequest, apperrors.KindOf(err))

	// Unknown argument.
	_, err = srv.Call(context.Background(), "echo", map[string]any{"query": "x", "bogus": 1}, "token-agent")
	assert.Equal(t, apperrors.KindInvalidRequest, apperrors.KindOf(err))

	// Wrong type.
	_, err = srv.Call(context.Background(), "echo", map[string]any{"query": 42}, "token-agent")
	assert.Equal(t, apperrors.KindInvalidRequest, apperrors.KindOf(err))
}

func TestServer_ExecutionBudget(t *testing.T) {
	engine := permissivePolicy(t, map[string]policy.Restrictions{
		"echo": {MaxExecutionTimeSeconds: 1},
	})
	srv := newTestServer(t, engine, &echoAdapter{name: "echo", blockUntil: 5 * time.Second})

	start := time.Now()
	result, err := srv.Call(context.Background(), "echo", map[string]any{"query": "hi"}, "token-agent")
	assert.Equal(t, apperrors.KindToolTimeout, apperrors.KindOf(err))
	assert.Equal(t, models.ToolTimeout, result.Status)
	assert.Less(t, time.Since(start), 3*time.Second, "budget must cancel the call")
}

func TestServer_AdapterFailure(t *testing.T) {
	srv := newTestServer(t, permissivePolicy(t, nil),
		&echoAdapter{name: "echo", err: assert.AnError})

	result, err := srv.Call(context.Background(), "echo", map[string]any{"query": "hi"}, "token-agent")
	assert.Equal(t, apperrors.KindToolFailed, apperrors.KindOf(err))
	assert.Equal(t, models.ToolError, result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestServer_List(t *testing.T) {
	srv := newTestServer(t, permissivePolicy(t, nil),
		&echoAdapter{name: "zeta"}, &echoAdapter{name: "alpha"})

	list := srv.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[1].Name)
}

func TestServer_DuplicateRegistration(t *testing.T) {
	srv := newTestServer(t, permissivePolicy(t, nil), &echoAdapter{name: "echo"})
	err := srv.Register(&echoAdapter{name: "echo"})
	require.Error(t, err)
}

func TestServer_Envelope(t *testing.T) {
	srv := newTestServer(t, permissivePolicy(t, nil), &echoAdapter{name: "echo"})
	ctx := context.Background()

	resp := srv.HandleEnvelope(ctx, models.ToolEnvelope{ID: "1", Method: MethodList})
	require.Nil(t, resp.Error)
	assert.Equal(t, "1", resp.ID)

	params, _ := json.Marshal(models.ToolCallParams{
		Name:      "echo",
		Arguments: map[string]any{"query": "hi"},
		AuthToken: "token-agent",
	})
	resp = srv.HandleEnvelope(ctx, models.ToolEnvelope{ID: "2", Method: MethodCall, Params: params})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(models.ToolResult)
	require.True(t, ok)
	assert.Equal(t, models.ToolSuccess, result.Status)

	// Errors fold into the envelope with stable codes.
	params, _ = json.Marshal(models.ToolCallParams{Name: "echo", AuthToken: "bad"})
	resp = srv.HandleEnvelope(ctx, models.ToolEnvelope{ID: "3", Method: MethodCall, Params: params})
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(apperrors.KindUnauthorized), resp.Error.Code)

	resp = srv.HandleEnvelope(ctx, models.ToolEnvelope{ID: "4", Method: "bogus"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(apperrors.KindInvalidRequest), resp.Error.Code)
}
