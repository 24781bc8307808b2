package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/policy"
	"github.com/maestro-ai/maestro/pkg/telemetry"
)

// Envelope methods understood by the server.
const (
	MethodList = "tools/list"
	MethodCall = "tools/call"
)

// registered pairs an adapter with its compiled schema and per-adapter
// throttles.
type registered struct {
	adapter ToolAdapter
	schema  *jsonschema.Schema
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// Server authenticates, policy-checks, validates, and dispatches tool
// calls. Registration happens at start-up; the adapter set is read-only
// afterwards.
type Server struct {
	mu       sync.RWMutex
	adapters map[string]*registered

	engine *policy.Engine
	cfg    config.ToolsConfig
	sink   telemetry.Sink
}

// NewServer creates an empty tool server.
func NewServer(cfg config.ToolsConfig, engine *policy.Engine, sink telemetry.Sink) *Server {
	if sink == nil {
		sink = telemetry.NewNoopSink()
	}
	return &Server{
		adapters: make(map[string]*registered),
		engine:   engine,
		cfg:      cfg,
		sink:     sink,
	}
}

// Register compiles the adapter's input schema and installs it. A name
// may only be registered once.
func (s *Server) Register(adapter ToolAdapter) error {
	name := adapter.Name()
	if name == "" {
		return fmt.Errorf("adapter has no name")
	}

	compiler := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(adapter.InputSchema()))
	if err != nil {
		return fmt.Errorf("parsing schema for tool %s: %w", name, err)
	}
	if err := compiler.AddResource(name+".json", doc); err != nil {
		return fmt.Errorf("adding schema for tool %s: %w", name, err)
	}
	schema, err := compiler.Compile(name + ".json")
	if err != nil {
		return fmt.Errorf("compiling schema for tool %s: %w", name, err)
	}

	reg := &registered{adapter: adapter, schema: schema}
	if n := s.cfg.MaxInFlightPerAdapter; n > 0 {
		reg.sem = semaphore.NewWeighted(int64(n))
	}
	if n := s.cfg.BurstPerSecond; n > 0 {
		reg.limiter = rate.NewLimiter(rate.Limit(n), n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.adapters[name]; exists {
		return fmt.Errorf("tool %s is already registered", name)
	}
	s.adapters[name] = reg
	return nil
}

// List returns descriptors for every registered tool, sorted by name.
func (s *Server) List() []models.ToolDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ToolDescriptor, 0, len(s.adapters))
	for _, reg := range s.adapters {
		out = append(out, models.ToolDescriptor{
			Name:        reg.adapter.Name(),
			Description: reg.adapter.Description(),
			InputSchema: reg.adapter.InputSchema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs the full pipeline for one tool invocation: authenticate,
// policy-check, validate arguments, dispatch under the execution budget.
// The result always carries a concrete status.
func (s *Server) Call(ctx context.Context, name string, args map[string]any, authToken string) (models.ToolResult, error) {
	start := time.Now()
	ctx, span := s.sink.StartSpan(ctx, "tool.call")
	defer span.End()
	span.SetAttr("tool", name)

	role, err := s.authenticate(authToken)
	if err != nil {
		return models.ToolResult{}, err
	}
	ctx = s.stampRole(ctx, role)

	decision := s.engine.Evaluate(ctx, policy.ResourceTool, name, "call", args)
	if err := decision.Err(policy.ResourceTool, name); err != nil {
		return models.ToolResult{}, err
	}

	s.mu.RLock()
	reg, ok := s.adapters[name]
	s.mu.RUnlock()
	if !ok {
		return models.ToolResult{}, apperrors.New(apperrors.KindToolNotFound, "tool %s is not registered", name)
	}

	if err := reg.schema.Validate(normalize(args)); err != nil {
		return models.ToolResult{}, apperrors.Wrap(apperrors.KindInvalidRequest, err,
			"arguments for tool %s do not match its schema", name)
	}

	if reg.limiter != nil && !reg.limiter.Allow() {
		return models.ToolResult{}, apperrors.New(apperrors.KindOverloaded, "tool %s is over its burst budget", name)
	}
	if reg.sem != nil {
		if err := reg.sem.Acquire(ctx, 1); err != nil {
			return models.ToolResult{}, apperrors.Wrap(apperrors.KindOverloaded, err,
				"waiting for tool %s capacity", name)
		}
		defer reg.sem.Release(1)
	}

	callCtx := ctx
	if budget := decision.MaxExecutionTime(); budget > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	logger := telemetry.Logger(ctx)
	data, callErr := reg.adapter.Call(callCtx, args)
	latency := time.Since(start)
	s.sink.RecordLatency(ctx, "tool."+name, latency)

	switch {
	case callErr == nil:
		logger.Info("Tool call completed", "tool", name, "latency", latency)
		return models.ToolResult{Status: models.ToolSuccess, Data: data, Latency: latency}, nil
	case errors.Is(callErr, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		logger.Warn("Tool call timed out", "tool", name, "latency", latency)
		return models.ToolResult{Status: models.ToolTimeout, Error: "execution budget exhausted", Latency: latency},
			apperrors.New(apperrors.KindToolTimeout, "tool %s exceeded its execution budget", name)
	default:
		logger.Error("Tool call failed", "tool", name, "error", callErr)
		span.RecordError(callErr)
		return models.ToolResult{Status: models.ToolError, Error: callErr.Error(), Latency: latency},
			apperrors.Wrap(apperrors.KindToolFailed, callErr, "tool %s failed", name)
	}
}

// HandleEnvelope serves one protocol frame. Errors are folded into the
// response envelope with stable codes.
func (s *Server) HandleEnvelope(ctx context.Context, env models.ToolEnvelope) models.ToolResponse {
	switch env.Method {
	case MethodList:
		return models.ToolResponse{ID: env.ID, Result: map[string]any{"tools": s.List()}}

	case MethodCall:
		var params models.ToolCallParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return envelopeError(env.ID, apperrors.New(apperrors.KindInvalidRequest, "malformed tools/call params"))
		}
		result, err := s.Call(ctx, params.Name, params.Arguments, params.AuthToken)
		if err != nil {
			return envelopeError(env.ID, err)
		}
		return models.ToolResponse{ID: env.ID, Result: result}

	default:
		return envelopeError(env.ID,
			apperrors.New(apperrors.KindInvalidRequest, "unknown method %q", env.Method))
	}
}

func (s *Server) authenticate(token string) (string, error) {
	if token == "" {
		return "", apperrors.New(apperrors.KindUnauthorized, "missing auth token")
	}
	role, ok := s.cfg.Tokens[token]
	if !ok {
		return "", apperrors.New(apperrors.KindUnauthorized, "unrecognized auth token")
	}
	return role, nil
}

// stampRole rebinds the transaction to the authenticated role. Nested
// tool calls become children of the caller's transaction.
func (s *Server) stampRole(ctx context.Context, role string) context.Context {
	if txn, ok := telemetry.FromContext(ctx); ok {
		child := txn.Child()
		child.Role = role
		return telemetry.WithTransaction(ctx, child)
	}
	return telemetry.WithTransaction(ctx, telemetry.NewTransaction("", "", role))
}

func envelopeError(id string, err error) models.ToolResponse {
	return models.ToolResponse{
		ID: id,
		Error: &models.ToolEnvelopeError{
			Code:    string(apperrors.KindOf(err)),
			Message: err.Error(),
		},
	}
}

// normalize converts arguments to the plain JSON value tree the schema
// validator expects (e.g. ints become float64).
func normalize(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}
