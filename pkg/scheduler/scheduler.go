// Package scheduler runs top-level requests: it plans, policy-filters,
// and executes the simple, sequential, parallel, and loop orchestration
// patterns, streaming progress into the session's event queue.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maestro-ai/maestro/pkg/agentclient"
	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/policy"
	"github.com/maestro-ai/maestro/pkg/registry"
	"github.com/maestro-ai/maestro/pkg/sessions"
	"github.com/maestro-ai/maestro/pkg/telemetry"
)

// Scheduler is the orchestration core. Process is safe for concurrent
// use; a process-wide in-flight bound makes excess requests wait in a
// bounded queue, and only queue overflow sheds load with Overloaded.
type Scheduler struct {
	store    sessions.Store
	registry *registry.Registry
	engine   *policy.Engine
	invoker  agentclient.Invoker
	planner  LLMClient

	cfg        config.SchedulerConfig
	sink       telemetry.Sink
	inflight   *semaphore.Weighted
	queueLimit int64
	queued     atomic.Int64
}

// New wires the scheduler. A nil planner installs the deterministic
// fallback.
func New(
	store sessions.Store,
	reg *registry.Registry,
	engine *policy.Engine,
	invoker agentclient.Invoker,
	planner LLMClient,
	cfg config.SchedulerConfig,
	sink telemetry.Sink,
) *Scheduler {
	if planner == nil {
		planner = FallbackPlanner{}
	}
	if sink == nil {
		sink = telemetry.NewNoopSink()
	}
	limit := cfg.ProcessMaxInFlight
	if limit <= 0 {
		limit = 256
	}
	overflow := cfg.QueueOverflow
	if overflow <= 0 {
		overflow = 1024
	}
	return &Scheduler{
		store:      store,
		registry:   reg,
		engine:     engine,
		invoker:    invoker,
		planner:    planner,
		cfg:        cfg,
		sink:       sink,
		inflight:   semaphore.NewWeighted(int64(limit)),
		queueLimit: int64(overflow),
	}
}

// QueueDepth reports how many requests are waiting for an in-flight
// slot.
func (s *Scheduler) QueueDepth() int64 {
	return s.queued.Load()
}

// Process handles one top-level request end to end. The terminal
// outcome is both returned and pushed to the session's event queue; a
// message is appended to the session log.
func (s *Scheduler) Process(ctx context.Context, sessionID, query string, reqCtx *models.RequestContext) (*models.OrchestrationResult, error) {
	if !s.inflight.TryAcquire(1) {
		if n := s.queued.Add(1); n > s.queueLimit {
			s.queued.Add(-1)
			return nil, apperrors.New(apperrors.KindOverloaded, "scheduler queue is full")
		}
		err := s.inflight.Acquire(ctx, 1)
		s.queued.Add(-1)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindTimedOut, err, "waiting for a scheduler slot")
		}
	}
	defer s.inflight.Release(1)

	ctx, span := s.sink.StartSpan(ctx, "scheduler.process")
	defer span.End()
	logger := telemetry.Logger(ctx)

	if err := s.store.SetStatus(ctx, sessionID, models.SessionStatusProcessing); err != nil {
		return nil, err
	}
	defer func() {
		// Best effort; the session may have been closed mid-request.
		_ = s.store.SetStatus(context.WithoutCancel(ctx), sessionID, models.SessionStatusIdle)
	}()

	s.emitStatus(ctx, sessionID, models.PhasePlanning, nil)
	plan, err := s.resolvePlan(ctx, query, reqCtx)
	if err != nil {
		s.emitError(ctx, sessionID, err)
		return nil, err
	}
	span.SetAttr("pattern", string(plan.Pattern))
	logger.Info("Plan resolved",
		"session_id", sessionID, "pattern", plan.Pattern,
		"agents", plan.AgentIDs, "user_override", plan.UserOverride)

	plan, budgets, err := s.filterByPolicy(ctx, plan)
	if err != nil {
		s.emitError(ctx, sessionID, err)
		return nil, err
	}

	s.emitStatus(ctx, sessionID, models.PhaseDispatching, map[string]any{
		"pattern": string(plan.Pattern),
		"agents":  plan.AgentIDs,
	})

	result := &models.OrchestrationResult{
		TransactionID: telemetry.TransactionID(ctx),
		Pattern:       plan.Pattern,
		UserOverride:  plan.UserOverride,
		AgentIDs:      plan.AgentIDs,
		Timestamp:     time.Now(),
	}

	run := runContext{sessionID: sessionID, query: query, reqCtx: reqCtx, budgets: budgets}
	if len(plan.OptionalAgents) > 0 {
		run.optional = make(map[string]bool, len(plan.OptionalAgents))
		for _, id := range plan.OptionalAgents {
			run.optional[id] = true
		}
	}
	switch plan.Pattern {
	case models.PatternSequential:
		result.Results = s.runSequential(ctx, run, plan.AgentIDs)
	case models.PatternParallel:
		result.Results = s.runParallel(ctx, run, plan)
	case models.PatternLoop:
		result.Iterations, result.Warnings = s.runLoop(ctx, run, plan)
		result.IterationsCompleted = len(result.Iterations)
		if n := len(result.Iterations); n > 0 {
			result.Results = result.Iterations[n-1].Results
		}
	default:
		result.Results = []models.AgentResult{
			s.invokeAgent(ctx, run, plan.AgentIDs[0], nil),
		}
	}

	s.finish(ctx, sessionID, query, result)
	return result, nil
}

// runContext bundles the per-request values threaded through the
// pattern executors.
type runContext struct {
	sessionID string
	query     string
	reqCtx    *models.RequestContext
	// budgets carries the policy-stamped execution budget per agent.
	budgets map[string]time.Duration
	// optional marks sequential steps whose failure does not halt the
	// sequence.
	optional map[string]bool
}

// filterByPolicy evaluates every planned agent with operation invoke
// and collects the stamped execution budgets. Sequential and loop plans
// fail on any denial; parallel plans drop the denied agents and fail
// only when none survive.
func (s *Scheduler) filterByPolicy(ctx context.Context, plan *models.Plan) (*models.Plan, map[string]time.Duration, error) {
	var survivors []string
	var firstDenial error
	budgets := make(map[string]time.Duration)
	for _, id := range plan.AgentIDs {
		decision := s.engine.Evaluate(ctx, policy.ResourceAgent, id, "invoke", nil)
		if decision.Allowed {
			survivors = append(survivors, id)
			budgets[id] = decision.MaxExecutionTime()
			continue
		}
		if plan.Pattern != models.PatternParallel {
			return nil, nil, decision.Err(policy.ResourceAgent, id)
		}
		if firstDenial == nil {
			firstDenial = decision.Err(policy.ResourceAgent, id)
		}
	}
	if len(survivors) == 0 {
		if firstDenial != nil {
			return nil, nil, firstDenial
		}
		return nil, nil, apperrors.Denied(apperrors.SubcodeDefaultDeny, "every planned agent was denied by policy")
	}
	plan.AgentIDs = survivors
	return plan, budgets, nil
}

// invokeAgent runs one agent invocation: pinned lookup, deadline from
// the policy budget, dispatch through the client, progress events.
func (s *Scheduler) invokeAgent(ctx context.Context, run runContext, agentID string, previous []models.AgentResult) models.AgentResult {
	s.emitStatus(ctx, run.sessionID, models.PhaseAgentStart, map[string]any{"agent": agentID})

	view, err := s.registry.Pinned(ctx, agentID)
	if err != nil {
		return models.AgentResult{AgentID: agentID, Result: &models.InvocationResult{
			Status:    models.InvocationFailed,
			ErrorKind: string(apperrors.KindOf(err)),
			ErrorMsg:  err.Error(),
		}}
	}

	timeout := s.cfg.DefaultTimeout()
	if run.reqCtx != nil && run.reqCtx.TimeoutSeconds > 0 {
		timeout = time.Duration(run.reqCtx.TimeoutSeconds) * time.Second
	}
	if budget := run.budgets[agentID]; budget > 0 && (timeout <= 0 || budget < timeout) {
		timeout = budget
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var params map[string]any
	if run.reqCtx != nil {
		params = run.reqCtx.Extra
	}
	invocation := s.invoker.Invoke(callCtx, *view, models.InvocationRequest{
		TransactionID:   telemetry.TransactionID(ctx),
		SessionID:       run.sessionID,
		AgentID:         agentID,
		Input:           run.query,
		Parameters:      params,
		PreviousResults: previous,
	})

	s.emitStatus(ctx, run.sessionID, models.PhaseAgentComplete, map[string]any{
		"agent":  agentID,
		"status": string(invocation.Status),
	})
	return models.AgentResult{AgentID: agentID, Result: &invocation}
}

// runSequential invokes agents in order, feeding prior outputs forward
// and halting on the first non-success. A failed step marked optional
// does not halt the sequence.
func (s *Scheduler) runSequential(ctx context.Context, run runContext, agentIDs []string) []models.AgentResult {
	results := make([]models.AgentResult, 0, len(agentIDs))
	for i, id := range agentIDs {
		ar := s.invokeAgent(ctx, run, id, results)
		results = append(results, ar)
		if ar.Result.Status != models.InvocationSuccess && !run.optional[id] {
			// Remaining steps are recorded as skipped.
			for _, rest := range agentIDs[i+1:] {
				results = append(results, models.AgentResult{
					AgentID: rest,
					Result:  &models.InvocationResult{Status: models.InvocationSkipped},
				})
			}
			break
		}
	}
	return results
}

// runParallel fans out bounded by the configured in-flight maximum,
// honoring the plan timeout as a wall-clock deadline. With fail_fast the
// first non-success cancels the peers.
func (s *Scheduler) runParallel(ctx context.Context, run runContext, plan *models.Plan) []models.AgentResult {
	fanCtx := ctx
	var cancel context.CancelFunc
	if plan.Parallel != nil && plan.Parallel.Timeout > 0 {
		fanCtx, cancel = context.WithTimeout(ctx, time.Duration(plan.Parallel.Timeout)*time.Second)
	} else {
		fanCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	failFast := plan.Parallel != nil && plan.Parallel.FailFast
	bound := s.cfg.ParallelMaxInFlight
	if bound <= 0 {
		bound = 16
	}
	sem := semaphore.NewWeighted(int64(bound))

	results := make([]models.AgentResult, len(plan.AgentIDs))
	var wg sync.WaitGroup
	for i, id := range plan.AgentIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			if err := sem.Acquire(fanCtx, 1); err != nil {
				results[i] = cancelledAgentResult(id)
				return
			}
			defer sem.Release(1)

			results[i] = s.invokeAgent(fanCtx, run, id, nil)
			if failFast && results[i].Result.Status != models.InvocationSuccess {
				cancel()
			}
		}(i, id)
	}
	wg.Wait()
	return results
}

// runLoop repeats the inner invocation set, checking the exit condition
// against each iteration's aggregated result.
func (s *Scheduler) runLoop(ctx context.Context, run runContext, plan *models.Plan) ([]models.IterationResult, []string) {
	condition, err := ParseCondition(plan.Loop.Condition)
	var warnings []string
	if err != nil {
		warnings = append(warnings, "invalid loop condition: "+err.Error())
	}

	var iterations []models.IterationResult
	for i := 1; i <= plan.Loop.MaxIterations; i++ {
		s.emitStatus(ctx, run.sessionID, models.PhaseIteration, map[string]any{"iteration": i})

		var results []models.AgentResult
		if len(plan.AgentIDs) == 1 {
			results = []models.AgentResult{s.invokeAgent(ctx, run, plan.AgentIDs[0], nil)}
		} else {
			results = s.runSequential(ctx, run, plan.AgentIDs)
		}
		iterations = append(iterations, models.IterationResult{Iteration: i, Results: results})

		if ctx.Err() != nil {
			break
		}
		if condition == nil {
			continue
		}
		met, ok := condition.Evaluate(aggregateFields(results))
		if !ok {
			warnings = append(warnings, fmt.Sprintf(
				"loop condition could not be evaluated on iteration %d, treating as not met", i))
			continue
		}
		if met {
			break
		}
	}
	return iterations, warnings
}

// finish pushes the terminal event and appends the response message.
func (s *Scheduler) finish(ctx context.Context, sessionID, query string, result *models.OrchestrationResult) {
	ctx = context.WithoutCancel(ctx)
	logger := telemetry.Logger(ctx)

	if _, err := s.store.EnqueueEvent(ctx, sessionID, models.EventTypeMessage, map[string]any{
		"message": map[string]any{
			"role":    string(models.RoleAgent),
			"content": summarize(result),
		},
	}); err != nil {
		logger.Error("Failed to enqueue response event", "session_id", sessionID, "error", err)
	}

	if _, err := s.store.EnqueueEvent(ctx, sessionID, models.EventTypeComplete, map[string]any{
		"phase":  models.PhaseComplete,
		"result": result,
	}); err != nil {
		logger.Error("Failed to enqueue terminal event", "session_id", sessionID, "error", err)
	}

	if err := s.store.AppendMessage(ctx, sessionID, models.Message{
		Role:      models.RoleAgent,
		Content:   summarize(result),
		Timestamp: time.Now(),
		Metadata:  map[string]any{"transaction_id": result.TransactionID, "query": query},
	}); err != nil {
		logger.Error("Failed to append response message", "session_id", sessionID, "error", err)
	}

	logger.Info("Request completed",
		"session_id", sessionID, "pattern", result.Pattern,
		"agents", len(result.AgentIDs), "succeeded", result.Succeeded())
}

func (s *Scheduler) emitStatus(ctx context.Context, sessionID, phase string, extra map[string]any) {
	payload := map[string]any{"phase": phase}
	for k, v := range extra {
		payload[k] = v
	}
	if _, err := s.store.EnqueueEvent(ctx, sessionID, models.EventTypeStatus, payload); err != nil {
		telemetry.Logger(ctx).Debug("Failed to enqueue status event",
			"session_id", sessionID, "phase", phase, "error", err)
	}
}

func (s *Scheduler) emitError(ctx context.Context, sessionID string, err error) {
	ctx = context.WithoutCancel(ctx)
	payload := map[string]any{
		"kind":    string(apperrors.KindOf(err)),
		"message": err.Error(),
	}
	if sub := apperrors.SubcodeOf(err); sub != "" {
		payload["subcode"] = string(sub)
	}
	if _, enqErr := s.store.EnqueueEvent(ctx, sessionID, models.EventTypeError, payload); enqErr != nil {
		telemetry.Logger(ctx).Error("Failed to enqueue error event",
			"session_id", sessionID, "error", enqErr)
	}
}

func cancelledAgentResult(id string) models.AgentResult {
	return models.AgentResult{AgentID: id, Result: &models.InvocationResult{
		Status:    models.InvocationFailed,
		Cancelled: true,
		ErrorKind: string(apperrors.KindAgentFailed),
		ErrorMsg:  "cancelled before dispatch",
	}}
}

func summarize(result *models.OrchestrationResult) string {
	if result.Succeeded() {
		return "completed " + string(result.Pattern) + " orchestration"
	}
	return "orchestration finished with failures"
}

