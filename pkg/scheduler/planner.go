package scheduler

import (
	"context"
	"sort"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/telemetry"
)

// LLMClient produces an execution plan from a query and the registry's
// current capability snapshot. The concrete model integration lives
// outside this module.
type LLMClient interface {
	Plan(ctx context.Context, query string, capabilities map[string][]string) (*models.Plan, error)
}

// FallbackPlanner is the deterministic planner used when no LLM client
// is configured or the client fails: a simple plan over the least-loaded
// agent with any capability.
type FallbackPlanner struct{}

func (FallbackPlanner) Plan(_ context.Context, _ string, capabilities map[string][]string) (*models.Plan, error) {
	ids := make(map[string]struct{})
	for _, agents := range capabilities {
		for _, id := range agents {
			ids[id] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return &models.Plan{Pattern: models.PatternSimple}, nil
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return &models.Plan{
		Pattern:   models.PatternSimple,
		AgentIDs:  sorted[:1],
		Reasoning: "fallback: single registered agent",
	}, nil
}

// planFromOverrides builds a plan from caller-supplied context, or nil
// when the context carries no override.
func planFromOverrides(reqCtx *models.RequestContext) (*models.Plan, error) {
	if reqCtx == nil {
		return nil, nil
	}

	agents := reqCtx.Agents
	if len(reqCtx.AgentSequence) > 0 {
		agents = reqCtx.AgentSequence
	}
	if reqCtx.OrchestrationPattern == "" && len(agents) == 0 {
		return nil, nil
	}

	pattern := models.Pattern(reqCtx.OrchestrationPattern)
	switch {
	case reqCtx.OrchestrationPattern == "":
		// Agents without a pattern: sequence implies sequential, a single
		// agent simple, several parallel.
		switch {
		case len(reqCtx.AgentSequence) > 0:
			pattern = models.PatternSequential
		case len(agents) == 1:
			pattern = models.PatternSimple
		default:
			pattern = models.PatternParallel
		}
	case !models.ValidPattern(reqCtx.OrchestrationPattern):
		return nil, apperrors.New(apperrors.KindInvalidRequest,
			"unknown orchestration pattern %q", reqCtx.OrchestrationPattern)
	}

	plan := &models.Plan{
		Pattern:        pattern,
		AgentIDs:       agents,
		Parallel:       reqCtx.ParallelConfig,
		Loop:           reqCtx.LoopConfig,
		OptionalAgents: reqCtx.OptionalAgents,
		UserOverride:   true,
		Reasoning:      "user override",
	}
	return plan, nil
}

// resolvePlan produces the final validated plan: overrides win, then the
// LLM client, then the deterministic fallback. Plans naming unknown or
// unreachable agents fall back to simple with the best single match, or
// fail with NoEligibleAgent.
func (s *Scheduler) resolvePlan(ctx context.Context, query string, reqCtx *models.RequestContext) (*models.Plan, error) {
	plan, err := planFromOverrides(reqCtx)
	if err != nil {
		return nil, err
	}

	if plan == nil {
		snapshot := s.registry.CapabilitySnapshot(ctx)
		plan, err = s.planner.Plan(ctx, query, snapshot)
		if err != nil || plan == nil {
			telemetry.Logger(ctx).Warn("Planner failed, using fallback", "error", err)
			plan, _ = FallbackPlanner{}.Plan(ctx, query, snapshot)
		}
	}

	return s.validatePlan(ctx, plan)
}

// validatePlan checks every planned agent against the registry. User
// overrides are pinned: a missing or unreachable agent fails the plan.
// Planner output degrades to simple with the best available agent.
func (s *Scheduler) validatePlan(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	if plan.Pattern == "" {
		plan.Pattern = models.PatternSimple
	}
	if plan.Pattern == models.PatternLoop && plan.Loop == nil {
		plan.Loop = &models.LoopConfig{}
	}
	if plan.Loop != nil && plan.Loop.MaxIterations <= 0 {
		plan.Loop.MaxIterations = 3
	}

	if len(plan.AgentIDs) == 0 {
		return nil, apperrors.Denied(apperrors.SubcodeNoEligibleAgent, "no agent available for this request")
	}

	var missing []string
	for _, id := range plan.AgentIDs {
		if _, err := s.registry.Pinned(ctx, id); err != nil {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return plan, nil
	}

	if plan.UserOverride {
		return nil, apperrors.Denied(apperrors.SubcodeNoEligibleAgent,
			"requested agents unavailable: %v", missing)
	}

	// Degrade a stale planner output to simple over the best live agent.
	views := s.registry.Select(ctx, nil, models.StrategyLeastLoaded)
	if len(views) == 0 {
		return nil, apperrors.Denied(apperrors.SubcodeNoEligibleAgent, "no reachable agent in the registry")
	}
	telemetry.Logger(ctx).Warn("Plan referenced unavailable agents, degrading to simple",
		"missing", missing, "selected", views[0].ID)
	return &models.Plan{
		Pattern:   models.PatternSimple,
		AgentIDs:  []string{views[0].ID},
		Reasoning: "degraded: planned agents unavailable",
	}, nil
}
