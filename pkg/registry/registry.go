// Package registry tracks live agents: registration, heartbeats, derived
// health, and capability-based selection for the scheduler.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/telemetry"
)

// Filter narrows list_all results. Zero value matches everything.
type Filter struct {
	// Capability keeps only agents declaring the named capability.
	Capability string
	// Health keeps only agents whose derived health matches.
	Health models.AgentHealth
}

// Registry is the in-memory agent registry. Health is derived at query
// time from heartbeat freshness and load; unreachable agents are never
// returned by Select.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*models.AgentRecord
	byName map[string]string // name -> id

	// round-robin cursors, keyed by the joined capability requirement set
	cursors map[string]int

	cfg    config.RegistryConfig
	mirror Mirror
	now    func() time.Time
}

// New creates an empty registry.
func New(cfg config.RegistryConfig) *Registry {
	return &Registry{
		agents:  make(map[string]*models.AgentRecord),
		byName:  make(map[string]string),
		cursors: make(map[string]int),
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetMirror installs a best-effort mutation mirror. Call before serving.
func (r *Registry) SetMirror(m Mirror) { r.mirror = m }

// Register upserts an agent by id. A name already bound to a different id
// is rejected.
func (r *Registry) Register(ctx context.Context, rec models.AgentRecord) error {
	if rec.ID == "" || rec.Name == "" {
		return apperrors.New(apperrors.KindInvalidRequest, "agent id and name are required")
	}
	if rec.Endpoint == "" {
		return apperrors.New(apperrors.KindInvalidRequest, "agent %s has no endpoint", rec.ID)
	}
	if rec.MaxCapacity <= 0 {
		rec.MaxCapacity = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if boundID, ok := r.byName[rec.Name]; ok && boundID != rec.ID {
		return apperrors.New(apperrors.KindInvalidRequest,
			"agent name %q is already bound to %s", rec.Name, boundID)
	}
	if prev, ok := r.agents[rec.ID]; ok && prev.Name != rec.Name {
		delete(r.byName, prev.Name)
	}

	if rec.LastHeartbeat.IsZero() {
		rec.LastHeartbeat = r.now()
	}
	stored := rec
	r.agents[rec.ID] = &stored
	r.byName[rec.Name] = rec.ID

	telemetry.Logger(ctx).Info("Agent registered",
		"agent_id", rec.ID, "name", rec.Name,
		"capabilities", len(rec.Capabilities), "endpoint", rec.Endpoint)
	if r.mirror != nil {
		// Async: mirror writes must not extend the lock hold.
		go r.mirror.Upsert(context.WithoutCancel(ctx), stored)
	}
	return nil
}

// Heartbeat refreshes an agent's liveness and load. status is an optional
// self-reported health hint.
func (r *Registry) Heartbeat(ctx context.Context, id string, load int, status models.AgentHealth) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[id]
	if !ok {
		return apperrors.New(apperrors.KindAgentNotFound, "agent %s is not registered", id)
	}
	rec.LastHeartbeat = r.now()
	if load >= 0 {
		rec.Load = load
	}
	rec.ReportedHealth = status
	if r.mirror != nil {
		go r.mirror.Upsert(context.WithoutCancel(ctx), *rec)
	}
	return nil
}

// Deregister removes an agent gracefully. Unknown ids are a no-op.
func (r *Registry) Deregister(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[id]
	if !ok {
		return
	}
	delete(r.byName, rec.Name)
	delete(r.agents, id)
	telemetry.Logger(ctx).Info("Agent deregistered", "agent_id", id, "name", rec.Name)
	if r.mirror != nil {
		go r.mirror.Remove(context.WithoutCancel(ctx), id)
	}
}

// Get returns one agent with derived health.
func (r *Registry) Get(_ context.Context, id string) (*models.AgentView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindAgentNotFound, "agent %s is not registered", id)
	}
	view := r.viewLocked(rec)
	return &view, nil
}

// ListAll returns a filtered snapshot sorted by id.
func (r *Registry) ListAll(_ context.Context, filter Filter) []models.AgentView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AgentView, 0, len(r.agents))
	for _, rec := range r.agents {
		if filter.Capability != "" {
			if _, ok := rec.CapabilityNames()[filter.Capability]; !ok {
				continue
			}
		}
		view := r.viewLocked(rec)
		if filter.Health != "" && view.Health != filter.Health {
			continue
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CapabilitySnapshot returns every declared capability name mapped to the
// ids of agents currently declaring it. Planners use this to ground plans
// in what is actually registered.
func (r *Registry) CapabilitySnapshot(_ context.Context) map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string][]string)
	for id, rec := range r.agents {
		for name := range rec.CapabilityNames() {
			snap[name] = append(snap[name], id)
		}
	}
	for name := range snap {
		sort.Strings(snap[name])
	}
	return snap
}

// Select returns agents covering every requirement, ranked by the given
// strategy. Unreachable agents are filtered out; healthy agents are
// preferred over degraded ones. An empty result means no eligible agent.
func (r *Registry) Select(_ context.Context, requirements []string, strategy models.SelectionStrategy) []models.AgentView {
	r.mu.Lock()
	defer r.mu.Unlock()

	var healthy, degraded []models.AgentView
	for _, rec := range r.agents {
		if !rec.Covers(requirements) {
			continue
		}
		view := r.viewLocked(rec)
		switch view.Health {
		case models.AgentHealthy:
			healthy = append(healthy, view)
		case models.AgentDegraded:
			degraded = append(degraded, view)
		}
	}

	switch strategy {
	case models.StrategyRoundRobin:
		// Round-robin skips degraded agents unless nothing healthy exists.
		pool := healthy
		if len(pool) == 0 {
			pool = degraded
		}
		if len(pool) == 0 {
			return nil
		}
		sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
		key := cursorKey(requirements)
		idx := r.cursors[key] % len(pool)
		r.cursors[key] = idx + 1
		return []models.AgentView{pool[idx]}

	default: // least-loaded
		rankLeastLoaded(healthy)
		rankLeastLoaded(degraded)
		return append(healthy, degraded...)
	}
}

// Pinned resolves a caller-supplied agent id and verifies it is still
// reachable.
func (r *Registry) Pinned(ctx context.Context, id string) (*models.AgentView, error) {
	view, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if view.Health == models.AgentUnreachable {
		return nil, apperrors.New(apperrors.KindAgentUnreachable, "agent %s missed its heartbeat", id)
	}
	return view, nil
}

// viewLocked derives health from heartbeat freshness and load. Caller
// holds r.mu (read or write).
func (r *Registry) viewLocked(rec *models.AgentRecord) models.AgentView {
	view := models.AgentView{AgentRecord: *rec}
	view.Capabilities = append([]models.Capability(nil), rec.Capabilities...)

	if r.now().Sub(rec.LastHeartbeat) > r.cfg.HeartbeatTimeout() {
		view.Health = models.AgentUnreachable
		return view
	}
	if rec.ReportedHealth == models.AgentDegraded || rec.Load >= rec.MaxCapacity {
		view.Health = models.AgentDegraded
		return view
	}
	view.Health = models.AgentHealthy
	return view
}

// rankLeastLoaded orders by load ascending, ties broken by most-recent
// heartbeat, then stable id order.
func rankLeastLoaded(views []models.AgentView) {
	sort.Slice(views, func(i, j int) bool {
		if views[i].Load != views[j].Load {
			return views[i].Load < views[j].Load
		}
		if !views[i].LastHeartbeat.Equal(views[j].LastHeartbeat) {
			return views[i].LastHeartbeat.After(views[j].LastHeartbeat)
		}
		return views[i].ID < views[j].ID
	})
}

func cursorKey(requirements []string) string {
	reqs := append([]string(nil), requirements...)
	sort.Strings(reqs)
	key := ""
	for i, req := range reqs {
		if i > 0 {
			key += ","
		}
		key += req
	}
	return key
}
