package models

import (
	"time"
)

// Pattern is the shape in which the scheduler invokes the selected agents.
type Pattern string

const (
	PatternSimple     Pattern = "simple"
	PatternSequential Pattern = "sequential"
	PatternParallel   Pattern = "parallel"
	PatternLoop       Pattern = "loop"
)

// ValidPattern reports whether s names a known pattern.
func ValidPattern(s string) bool {
	switch Pattern(s) {
	case PatternSimple, PatternSequential, PatternParallel, PatternLoop:
		return true
	}
	return false
}

// ParallelConfig tunes the parallel pattern.
type ParallelConfig struct {
	// Timeout is the wall-clock deadline for the whole fan-out, in seconds.
	Timeout  int  `json:"timeout,omitempty"`
	FailFast bool `json:"fail_fast,omitempty"`
}

// LoopConfig tunes the loop pattern. Condition is a closed comparator
// expression over fields of the aggregated iteration result, e.g.
// "accuracy > 0.9", or empty to run all iterations.
type LoopConfig struct {
	MaxIterations int    `json:"max_iterations,omitempty"`
	Condition     string `json:"condition,omitempty"`
}

// Plan is the scheduler's execution plan: a pattern plus the ordered agent
// id list and per-pattern configuration.
type Plan struct {
	Pattern  Pattern         `json:"pattern"`
	AgentIDs []string        `json:"agents"`
	Parallel *ParallelConfig `json:"parallel_config,omitempty"`
	Loop     *LoopConfig     `json:"loop_config,omitempty"`
	// OptionalAgents marks sequential steps whose failure does not halt
	// the rest of the sequence.
	OptionalAgents []string `json:"optional_agents,omitempty"`
	UserOverride   bool     `json:"user_override"`
	Reasoning      string   `json:"reasoning,omitempty"`
}

// RequestContext carries caller-supplied overrides and hints alongside a
// message. All fields are optional.
type RequestContext struct {
	OrchestrationPattern string          `json:"orchestration_pattern,omitempty"`
	Agents               []string        `json:"agents,omitempty"`
	AgentSequence        []string        `json:"agent_sequence,omitempty"`
	OptionalAgents       []string        `json:"optional_agents,omitempty"`
	ParallelConfig       *ParallelConfig `json:"parallel_config,omitempty"`
	LoopConfig           *LoopConfig     `json:"loop_config,omitempty"`
	TimeoutSeconds       int             `json:"timeout_seconds,omitempty"`
	Extra                map[string]any  `json:"extra,omitempty"`
}

// InvocationStatus is the outcome class of a single agent invocation.
type InvocationStatus string

const (
	InvocationSuccess  InvocationStatus = "success"
	InvocationFailed   InvocationStatus = "failed"
	InvocationTimedOut InvocationStatus = "timed_out"
	InvocationDenied   InvocationStatus = "denied"
	InvocationSkipped  InvocationStatus = "skipped"
)

// InvocationRequest is the unit of work dispatched to a specialized agent.
// Each request is owned exclusively by its issuing scheduler task for the
// duration of the call.
type InvocationRequest struct {
	TransactionID string         `json:"transaction_id"`
	SessionID     string         `json:"session_id"`
	AgentID       string         `json:"agent_id"`
	Input         string         `json:"input"`
	Parameters    map[string]any `json:"parameters,omitempty"`

	// PreviousResults carries the outputs of earlier sequential steps.
	PreviousResults []AgentResult `json:"previous_results,omitempty"`
}

// InvocationResult is the normalized outcome of one agent invocation.
type InvocationResult struct {
	Status    InvocationStatus `json:"status"`
	Payload   map[string]any   `json:"payload,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
	ErrorMsg  string           `json:"error,omitempty"`
	Latency   time.Duration    `json:"latency_ns"`
	Cancelled bool             `json:"cancelled,omitempty"`
	Attempts  int              `json:"attempts,omitempty"`
}

// AgentResult pairs an agent id with its invocation outcome. Position in a
// result list matches the plan's agent order.
type AgentResult struct {
	AgentID string            `json:"agent"`
	Result  *InvocationResult `json:"result"`
}

// IterationResult records one loop iteration's inner results.
type IterationResult struct {
	Iteration int           `json:"iteration"`
	Results   []AgentResult `json:"results"`
}

// OrchestrationResult is the terminal aggregate for one top-level request.
type OrchestrationResult struct {
	TransactionID       string            `json:"transaction_id"`
	Pattern             Pattern           `json:"pattern"`
	UserOverride        bool              `json:"user_override"`
	AgentIDs            []string          `json:"agents"`
	Results             []AgentResult     `json:"results"`
	Iterations          []IterationResult `json:"iteration_results,omitempty"`
	IterationsCompleted int               `json:"iterations_completed,omitempty"`
	Warnings            []string          `json:"warnings,omitempty"`
	Timestamp           time.Time         `json:"timestamp"`
}

// Succeeded reports whether every agent result in the aggregate succeeded.
func (r *OrchestrationResult) Succeeded() bool {
	for _, ar := range r.Results {
		if ar.Result == nil || ar.Result.Status != InvocationSuccess {
			return false
		}
	}
	return len(r.Results) > 0
}
