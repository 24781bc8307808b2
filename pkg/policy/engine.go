package policy

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/telemetry"
)

// Reasons drawn by Decision.Reason. The set is closed.
const (
	ReasonAllowed            = "allowed"
	ReasonExplicitDeny       = "explicit_deny"
	ReasonDefaultDeny        = "default_deny"
	ReasonParameterForbidden = "parameter_forbidden"
	ReasonRateLimited        = "rate_limited"
)

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed bool           `json:"allowed"`
	Reason  string         `json:"reason"`
	Role    string         `json:"role"`
	Applied map[string]any `json:"applied_restrictions,omitempty"`
}

// MaxExecutionTime returns the stamped execution budget, or zero.
func (d Decision) MaxExecutionTime() time.Duration {
	v, ok := d.Applied["max_execution_time"]
	if !ok {
		return 0
	}
	secs, ok := v.(int)
	if !ok {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Err converts a denial into the matching typed error. Allowed decisions
// return nil.
func (d Decision) Err(resource ResourceType, id string) error {
	if d.Allowed {
		return nil
	}
	subcode := apperrors.SubcodeDefaultDeny
	switch d.Reason {
	case ReasonExplicitDeny:
		subcode = apperrors.SubcodeExplicitDeny
	case ReasonParameterForbidden:
		subcode = apperrors.SubcodeParameterForbidden
	case ReasonRateLimited:
		subcode = apperrors.SubcodeRateLimited
	}
	return apperrors.Denied(subcode, "%s %s denied: %s", resource, id, d.Reason)
}

// Source supplies policy documents on (re)load. Sources are consulted in
// order; the first non-nil document wins.
type Source interface {
	Load(ctx context.Context) (*Document, error)
	Name() string
}

// FileSource loads the configured policy YAML file.
type FileSource struct {
	cfg config.PolicyConfig
}

// NewFileSource creates a source over cfg.Path. With an empty path the
// source yields nothing and defaults apply.
func NewFileSource(cfg config.PolicyConfig) *FileSource {
	return &FileSource{cfg: cfg}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Load(_ context.Context) (*Document, error) {
	if s.cfg.Path == "" {
		return nil, nil
	}
	return LoadDocument(s.cfg.Path, s.cfg)
}

// Engine evaluates governance decisions against the active document.
// Reload installs a new document with a single atomic swap; in-flight
// evaluations keep the version they started with.
type Engine struct {
	active atomic.Pointer[Document]

	sources []Source
	cfg     config.PolicyConfig

	rates RateCounter
	// rateMu serializes the check-then-increment pair so a burst cannot
	// slip past a limit between the check and the commit.
	rateMu sync.Mutex

	audit   AuditSink
	ring    *AuditRing
	metrics *metrics
	sink    telemetry.Sink
	now     func() time.Time
}

// Options carry the engine's collaborators. Zero-value fields get
// in-memory defaults.
type Options struct {
	Sources   []Source
	Rates     RateCounter
	Audit     AuditSink
	Ring      *AuditRing
	Telemetry telemetry.Sink
}

// NewEngine builds the engine and performs the initial load. A failing
// initial load is fatal; later reload failures keep the active document.
func NewEngine(ctx context.Context, cfg config.PolicyConfig, opts Options) (*Engine, error) {
	e := &Engine{
		sources: opts.Sources,
		cfg:     cfg,
		rates:   opts.Rates,
		audit:   opts.Audit,
		ring:    opts.Ring,
		metrics: newMetrics(),
		sink:    opts.Telemetry,
		now:     time.Now,
	}
	if len(e.sources) == 0 {
		e.sources = []Source{NewFileSource(cfg)}
	}
	if e.rates == nil {
		e.rates = NewMemoryRateCounter()
	}
	if e.ring == nil {
		e.ring = NewAuditRing(0)
	}
	if e.audit == nil {
		e.audit = e.ring
	}
	if e.sink == nil {
		e.sink = telemetry.NewNoopSink()
	}

	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload consults the sources in order and atomically installs the first
// document produced. On source failure the previous document stays
// active and the error is returned.
func (e *Engine) Reload(ctx context.Context) error {
	var doc *Document
	for _, src := range e.sources {
		loaded, err := src.Load(ctx)
		if err != nil {
			slog.Error("Policy source failed", "source", src.Name(), "error", err)
			return apperrors.Wrap(apperrors.KindConfigError, err, "policy source %s failed", src.Name())
		}
		if loaded != nil {
			doc = loaded
			break
		}
	}
	if doc == nil {
		doc = DefaultDocument(e.cfg)
	}

	e.active.Store(doc)
	e.metrics.reload(doc.Version)
	slog.Info("Policy loaded",
		"version", doc.Version, "default", doc.DefaultPolicy, "roles", len(doc.Roles))
	return nil
}

// Active returns the current document. Callers must treat it as
// read-only.
func (e *Engine) Active() *Document {
	return e.active.Load()
}

// Metrics returns a snapshot of the compliance counters.
func (e *Engine) Metrics() ComplianceMetrics {
	return e.metrics.snapshot()
}

// Audit returns recent audit entries and violations, newest first.
func (e *Engine) Audit(limit int) ([]AuditEntry, []Violation) {
	return e.ring.Recent(limit), e.ring.Violations(limit)
}

// Evaluate runs the decision pipeline: identity, allow/deny lookup,
// parameter validation, rate check-and-increment, budget stamping. Every
// evaluation is audited.
func (e *Engine) Evaluate(ctx context.Context, resource ResourceType, id, operation string, params map[string]any) Decision {
	start := e.now()
	ctx, span := e.sink.StartSpan(ctx, "policy.evaluate")
	defer span.End()
	span.SetAttr("resource_type", string(resource))
	span.SetAttr("resource_id", id)

	doc := e.active.Load()

	role := doc.DefaultRole
	userID := ""
	if txn, ok := telemetry.FromContext(ctx); ok {
		if txn.Role != "" {
			role = txn.Role
		}
		userID = txn.UserID
	}

	decision := e.decide(ctx, doc, role, userID, resource, id, params)
	decision.Role = role

	latency := e.now().Sub(start)
	e.metrics.record(decision)
	e.audit.Append(ctx, AuditEntry{
		TransactionID: telemetry.TransactionID(ctx),
		Timestamp:     start,
		UserID:        userID,
		Role:          role,
		ResourceType:  resource,
		ResourceID:    id,
		Operation:     operation,
		Allowed:       decision.Allowed,
		Reason:        decision.Reason,
		Restrictions:  decision.Applied,
		Latency:       latency,
	})

	if !decision.Allowed {
		telemetry.Logger(ctx).Warn("Policy denied",
			"resource_type", resource, "resource_id", id,
			"operation", operation, "role", role, "reason", decision.Reason)
	}
	return decision
}

func (e *Engine) decide(ctx context.Context, doc *Document, role, userID string, resource ResourceType, id string, params map[string]any) Decision {
	rules, hasRole := doc.Roles[role]

	// Deny overrides allow.
	if hasRole && matches(rules.denied(resource), id) {
		return Decision{Reason: ReasonExplicitDeny}
	}
	allowed := hasRole && matches(rules.allowed(resource), id)
	if !allowed && doc.DefaultPolicy != "allow" {
		return Decision{Reason: ReasonDefaultDeny}
	}

	restrictions, hasRestrictions := doc.RestrictionsFor(resource, id)
	if hasRestrictions {
		if reason, ok := checkParameters(restrictions, params); !ok {
			return Decision{Reason: reason}
		}
	}

	if !e.checkRates(ctx, doc, restrictions, userID, id) {
		return Decision{Reason: ReasonRateLimited}
	}

	applied := map[string]any{}
	if hasRestrictions && restrictions.MaxExecutionTimeSeconds > 0 {
		applied["max_execution_time"] = restrictions.MaxExecutionTimeSeconds
	}
	if len(applied) == 0 {
		applied = nil
	}
	return Decision{Allowed: true, Reason: ReasonAllowed, Applied: applied}
}

func checkParameters(r Restrictions, params map[string]any) (string, bool) {
	for _, forbidden := range r.ForbiddenParameters {
		if _, ok := params[forbidden]; ok {
			return ReasonParameterForbidden, false
		}
	}
	if len(r.AllowedParameters) > 0 {
		allowed := make(map[string]struct{}, len(r.AllowedParameters))
		for _, p := range r.AllowedParameters {
			allowed[p] = struct{}{}
		}
		for key := range params {
			if _, ok := allowed[key]; !ok {
				return ReasonParameterForbidden, false
			}
		}
	}
	return "", true
}

type rateCheck struct {
	scope   RateScope
	subject string
	limit   int
}

// checkRates verifies every applicable counter is under its limit, then
// commits the increments. The pair is serialized so concurrent
// evaluations cannot overshoot a limit.
func (e *Engine) checkRates(ctx context.Context, doc *Document, r Restrictions, userID, resourceID string) bool {
	var checks []rateCheck
	if doc.RateLimits.GlobalPerHour > 0 {
		checks = append(checks, rateCheck{ScopeGlobal, "all", doc.RateLimits.GlobalPerHour})
	}
	if doc.RateLimits.PerUserPerHour > 0 && userID != "" {
		checks = append(checks, rateCheck{ScopeUser, userID, doc.RateLimits.PerUserPerHour})
	}
	if r.RateLimitPerHour > 0 {
		checks = append(checks, rateCheck{ScopeResource, resourceID, r.RateLimitPerHour})
	}
	if len(checks) == 0 {
		return true
	}

	window := doc.RateWindow()
	e.rateMu.Lock()
	defer e.rateMu.Unlock()

	for _, c := range checks {
		n, err := e.rates.Count(ctx, c.scope, c.subject, window)
		if err != nil {
			slog.Error("Rate counter read failed", "scope", c.scope, "subject", c.subject, "error", err)
			continue // fail open on counter backend errors
		}
		if n >= c.limit {
			return false
		}
	}
	for _, c := range checks {
		if _, err := e.rates.Incr(ctx, c.scope, c.subject, window); err != nil {
			slog.Error("Rate counter increment failed", "scope", c.scope, "subject", c.subject, "error", err)
		}
	}
	return true
}
