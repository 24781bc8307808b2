package models

import (
	"time"
)

// AgentHealth is the derived health of a registered agent. Health is
// computed at query time from heartbeat freshness and load, never stored.
type AgentHealth string

const (
	AgentHealthy     AgentHealth = "healthy"
	AgentDegraded    AgentHealth = "degraded"
	AgentUnreachable AgentHealth = "unreachable"
)

// Capability is a named skill declared by an agent. ComplexityScore and
// EstimatedDuration are informational only.
type Capability struct {
	Name              string  `json:"name"`
	Description       string  `json:"description,omitempty"`
	ComplexityScore   float64 `json:"complexity_score,omitempty"`
	EstimatedDuration float64 `json:"estimated_duration,omitempty"`
}

// AgentRecord is the registry's view of a live agent. Uniqueness key is ID;
// a name may not be bound to two different ids.
type AgentRecord struct {
	ID            string            `json:"agent_id"`
	Name          string            `json:"name"`
	Capabilities  []Capability      `json:"capabilities"`
	Endpoint      string            `json:"endpoint"`
	Load          int               `json:"current_load"`
	MaxCapacity   int               `json:"max_capacity"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	// Optional status hint supplied on heartbeat. Derived health wins when
	// the heartbeat is stale.
	ReportedHealth AgentHealth `json:"reported_health,omitempty"`
}

// CapabilityNames returns the agent's capability names as a set.
func (r *AgentRecord) CapabilityNames() map[string]struct{} {
	set := make(map[string]struct{}, len(r.Capabilities))
	for _, c := range r.Capabilities {
		set[c.Name] = struct{}{}
	}
	return set
}

// Covers reports whether the agent's capability set contains every
// requirement in reqs.
func (r *AgentRecord) Covers(reqs []string) bool {
	set := r.CapabilityNames()
	for _, req := range reqs {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

// SelectionStrategy picks agents among the eligible set.
type SelectionStrategy string

const (
	StrategyLeastLoaded SelectionStrategy = "least_loaded"
	StrategyRoundRobin  SelectionStrategy = "round_robin"
	StrategyPinned      SelectionStrategy = "pinned"
)

// AgentView is an AgentRecord snapshot with derived health attached,
// as returned by registry queries.
type AgentView struct {
	AgentRecord
	Health AgentHealth `json:"health"`
}
