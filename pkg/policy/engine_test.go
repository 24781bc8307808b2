package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/telemetry"
)

// staticSource serves a fixed document.
type staticSource struct {
	doc *Document
	err error
}

func (s *staticSource) Name() string                            { return "static" }
func (s *staticSource) Load(context.Context) (*Document, error) { return s.doc, s.err }

func testDocument() *Document {
	return &Document{
		DefaultPolicy: "deny",
		DefaultRole:   "agent",
		Roles: map[string]RoleRules{
			"orchestrator": {
				AllowedAgents: []string{Wildcard},
				AllowedTools:  []string{Wildcard},
				DeniedTools:   []string{"drop_tables"},
			},
			"analyst": {
				AllowedAgents: []string{"database-agent"},
				AllowedTools:  []string{"query_database"},
			},
		},
		Restrictions: map[ResourceType]map[string]Restrictions{
			ResourceTool: {
				"query_database": {
					MaxExecutionTimeSeconds: 30,
					AllowedParameters:       []string{"query", "limit"},
					ForbiddenParameters:     []string{"raw_sql"},
				},
			},
		},
		Version: "test-v1",
	}
}

func newTestEngine(t *testing.T, doc *Document) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(),
		config.PolicyConfig{Default: "deny"},
		Options{Sources: []Source{&staticSource{doc: doc}}})
	require.NoError(t, err)
	return engine
}

func ctxWithRole(role, userID string) context.Context {
	txn := telemetry.NewTransaction("sess-1", userID, role)
	return telemetry.WithTransaction(context.Background(), txn)
}

func TestEngine_AllowDenyLookup(t *testing.T) {
	engine := newTestEngine(t, testDocument())

	tests := []struct {
		name     string
		role     string
		resource ResourceType
		id       string
		allowed  bool
		reason   string
	}{
		{"wildcard allow", "orchestrator", ResourceAgent, "any-agent", true, ReasonAllowed},
		{"deny overrides wildcard allow", "orchestrator", ResourceTool, "drop_tables", false, ReasonExplicitDeny},
		{"exact allow", "analyst", ResourceAgent, "database-agent", true, ReasonAllowed},
		{"not listed falls to default deny", "analyst", ResourceAgent, "doc-agent", false, ReasonDefaultDeny},
		{"unknown role falls to default deny", "stranger", ResourceAgent, "database-agent", false, ReasonDefaultDeny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Evaluate(ctxWithRole(tt.role, "u1"), tt.resource, tt.id, "invoke", nil)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestEngine_DefaultAllow(t *testing.T) {
	doc := testDocument()
	doc.DefaultPolicy = "allow"
	engine := newTestEngine(t, doc)

	d := engine.Evaluate(ctxWithRole("stranger", "u1"), ResourceAgent, "anything", "invoke", nil)
	assert.True(t, d.Allowed)
}

func TestEngine_MissingRoleUsesDefaultRole(t *testing.T) {
	doc := testDocument()
	doc.DefaultRole = "orchestrator"
	engine := newTestEngine(t, doc)

	// No transaction in context at all.
	d := engine.Evaluate(context.Background(), ResourceAgent, "any-agent", "invoke", nil)
	assert.True(t, d.Allowed)
	assert.Equal(t, "orchestrator", d.Role)
}

func TestEngine_ParameterValidation(t *testing.T) {
	engine := newTestEngine(t, testDocument())
	ctx := ctxWithRole("analyst", "u1")

	tests := []struct {
		name    string
		params  map[string]any
		allowed bool
	}{
		{"within whitelist", map[string]any{"query": "select 1", "limit": 10}, true},
		{"no params", nil, true},
		{"unlisted parameter", map[string]any{"query": "x", "offset": 5}, false},
		{"forbidden parameter", map[string]any{"raw_sql": "drop table x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Evaluate(ctx, ResourceTool, "query_database", "call", tt.params)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.Equal(t, ReasonParameterForbidden, d.Reason)
				err := d.Err(ResourceTool, "query_database")
				assert.Equal(t, apperrors.SubcodeParameterForbidden, apperrors.SubcodeOf(err))
			}
		})
	}
}

func TestEngine_BudgetStamping(t *testing.T) {
	engine := newTestEngine(t, testDocument())

	d := engine.Evaluate(ctxWithRole("analyst", "u1"), ResourceTool, "query_database", "call",
		map[string]any{"query": "select 1"})
	require.True(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.MaxExecutionTime())

	// No restrictions, no budget.
	d = engine.Evaluate(ctxWithRole("orchestrator", "u1"), ResourceAgent, "any-agent", "invoke", nil)
	require.True(t, d.Allowed)
	assert.Zero(t, d.MaxExecutionTime())
}

func TestEngine_ResourceRateLimit(t *testing.T) {
	doc := testDocument()
	doc.Restrictions[ResourceAgent] = map[string]Restrictions{
		"database-agent": {RateLimitPerHour: 2},
	}
	engine := newTestEngine(t, doc)

	counter := NewMemoryRateCounter()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	counter.now = func() time.Time { return now }
	engine.rates = counter

	ctx := ctxWithRole("analyst", "u1")

	// First two requests pass, the third is rate limited.
	for i := 0; i < 2; i++ {
		d := engine.Evaluate(ctx, ResourceAgent, "database-agent", "invoke", nil)
		require.True(t, d.Allowed, "request %d", i)
	}
	d := engine.Evaluate(ctx, ResourceAgent, "database-agent", "invoke", nil)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimited, d.Reason)
	assert.Equal(t, apperrors.SubcodeRateLimited, apperrors.SubcodeOf(d.Err(ResourceAgent, "database-agent")))

	// Past the window boundary the counter resets.
	now = now.Add(time.Hour + time.Minute)
	d = engine.Evaluate(ctx, ResourceAgent, "database-agent", "invoke", nil)
	assert.True(t, d.Allowed)
}

func TestEngine_PerUserRateLimit(t *testing.T) {
	doc := testDocument()
	doc.RateLimits.PerUserPerHour = 1
	engine := newTestEngine(t, doc)

	d := engine.Evaluate(ctxWithRole("orchestrator", "alice"), ResourceAgent, "a", "invoke", nil)
	require.True(t, d.Allowed)
	d = engine.Evaluate(ctxWithRole("orchestrator", "alice"), ResourceAgent, "a", "invoke", nil)
	require.False(t, d.Allowed)

	// Another user has an independent budget.
	d = engine.Evaluate(ctxWithRole("orchestrator", "bob"), ResourceAgent, "a", "invoke", nil)
	assert.True(t, d.Allowed)
}

func TestEngine_DeniedRequestsDoNotConsumeBudget(t *testing.T) {
	doc := testDocument()
	doc.Restrictions[ResourceTool]["query_database"] = Restrictions{
		ForbiddenParameters: []string{"raw_sql"},
		RateLimitPerHour:    1,
	}
	engine := newTestEngine(t, doc)
	ctx := ctxWithRole("analyst", "u1")

	// A parameter denial happens before the rate check; the counter must
	// stay untouched.
	d := engine.Evaluate(ctx, ResourceTool, "query_database", "call", map[string]any{"raw_sql": "x"})
	require.False(t, d.Allowed)

	d = engine.Evaluate(ctx, ResourceTool, "query_database", "call", nil)
	assert.True(t, d.Allowed)
}

func TestEngine_AtomicReload(t *testing.T) {
	src := &staticSource{doc: testDocument()}
	engine, err := NewEngine(context.Background(), config.PolicyConfig{Default: "deny"},
		Options{Sources: []Source{src}})
	require.NoError(t, err)
	assert.Equal(t, "test-v1", engine.Active().Version)

	// Concurrent evaluations while the document is swapped repeatedly.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := ctxWithRole("orchestrator", "u1")
			for {
				select {
				case <-stop:
					return
				default:
				}
				d := engine.Evaluate(ctx, ResourceAgent, "any-agent", "invoke", nil)
				// Both versions allow this call; a torn read would not.
				assert.True(t, d.Allowed)
			}
		}()
	}

	for i := 0; i < 50; i++ {
		next := testDocument()
		next.Version = "test-v2"
		src.doc = next
		require.NoError(t, engine.Reload(context.Background()))
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, "test-v2", engine.Active().Version)
	assert.GreaterOrEqual(t, engine.Metrics().Reloads, int64(50))
}

func TestEngine_FailedReloadKeepsActiveDocument(t *testing.T) {
	src := &staticSource{doc: testDocument()}
	engine, err := NewEngine(context.Background(), config.PolicyConfig{Default: "deny"},
		Options{Sources: []Source{src}})
	require.NoError(t, err)

	src.err = os.ErrPermission
	err = engine.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConfigError, apperrors.KindOf(err))
	assert.Equal(t, "test-v1", engine.Active().Version)
}

func TestEngine_SourcePrecedence(t *testing.T) {
	primary := &staticSource{doc: nil} // empty provider falls through
	secondary := &staticSource{doc: testDocument()}
	engine, err := NewEngine(context.Background(), config.PolicyConfig{Default: "deny"},
		Options{Sources: []Source{primary, secondary}})
	require.NoError(t, err)
	assert.Equal(t, "test-v1", engine.Active().Version)

	// With no source producing a document, defaults apply.
	engine, err = NewEngine(context.Background(), config.PolicyConfig{Default: "deny"},
		Options{Sources: []Source{&staticSource{}}})
	require.NoError(t, err)
	assert.Equal(t, "builtin", engine.Active().Version)
}

func TestEngine_AuditTrail(t *testing.T) {
	engine := newTestEngine(t, testDocument())
	ctx := ctxWithRole("analyst", "u1")

	engine.Evaluate(ctx, ResourceAgent, "database-agent", "invoke", nil)
	engine.Evaluate(ctx, ResourceAgent, "doc-agent", "invoke", nil)

	entries, violations := engine.Audit(10)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "doc-agent", entries[0].ResourceID)
	assert.False(t, entries[0].Allowed)
	assert.NotEmpty(t, entries[0].TransactionID)

	require.Len(t, violations, 1)
	assert.Equal(t, "doc-agent", violations[0].ResourceID)
	assert.Equal(t, ReasonDefaultDeny, violations[0].Reason)

	m := engine.Metrics()
	assert.Equal(t, int64(2), m.Evaluations)
	assert.Equal(t, int64(1), m.Allowed)
	assert.Equal(t, int64(1), m.Denied)
	assert.Equal(t, int64(1), m.DeniedByCause[ReasonDefaultDeny])
}

func TestAuditRing_Wraps(t *testing.T) {
	ring := NewAuditRing(3)
	for i := 0; i < 5; i++ {
		ring.Append(context.Background(), AuditEntry{Operation: string(rune('a' + i))})
	}
	entries := ring.Recent(0)
	require.Len(t, entries, 3)
	assert.Equal(t, "e", entries[0].Operation)
	assert.Equal(t, "c", entries[2].Operation)
}

func TestLoadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `
default_policy: deny
default_role: agent
version: "2026-03-01"
roles:
  orchestrator:
    allowed_agents: ["*"]
    allowed_tools: ["*"]
restrictions:
  tool:
    query_database:
      max_execution_time: 30
      allowed_parameters: [query, limit]
      rate_limit_per_hour: 100
rate_limits:
  per_user_per_hour: 500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	doc, err := LoadDocument(path, config.PolicyConfig{Default: "deny"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", doc.Version)
	assert.Equal(t, 500, doc.RateLimits.PerUserPerHour)

	r, ok := doc.RestrictionsFor(ResourceTool, "query_database")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, r.MaxExecutionTime())
	assert.Equal(t, 100, r.RateLimitPerHour)

	// Invalid default_policy is rejected.
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("default_policy: maybe\n"), 0o600))
	_, err = LoadDocument(bad, config.PolicyConfig{})
	require.Error(t, err)
}

func TestRateCounter_WindowIsolation(t *testing.T) {
	counter := NewMemoryRateCounter()
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	counter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := counter.Incr(ctx, ScopeResource, "A1", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, n, "count must be monotonic within a window")
	}

	// A different subject is independent.
	n, err := counter.Count(ctx, ScopeResource, "A2", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Crossing the window boundary resets.
	now = time.Date(2026, 3, 1, 13, 1, 0, 0, time.UTC)
	n, err = counter.Count(ctx, ScopeResource, "A1", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}
