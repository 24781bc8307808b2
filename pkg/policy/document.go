// Package policy evaluates per-invocation governance: role-based
// allow/deny, parameter whitelists, rate limits, and execution budgets.
// The active document is swapped atomically on reload.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maestro-ai/maestro/pkg/config"
)

// ResourceType names the governed resource class.
type ResourceType string

const (
	ResourceAgent ResourceType = "agent"
	ResourceTool  ResourceType = "tool"
)

// Wildcard matches every resource id in allow/deny lists.
const Wildcard = "*"

// RoleRules are one role's allow/deny lists over agent and tool ids.
// Entries may be exact ids or the wildcard.
type RoleRules struct {
	AllowedAgents []string `yaml:"allowed_agents"`
	DeniedAgents  []string `yaml:"denied_agents"`
	AllowedTools  []string `yaml:"allowed_tools"`
	DeniedTools   []string `yaml:"denied_tools"`
}

func (r RoleRules) allowed(resource ResourceType) []string {
	if resource == ResourceTool {
		return r.AllowedTools
	}
	return r.AllowedAgents
}

func (r RoleRules) denied(resource ResourceType) []string {
	if resource == ResourceTool {
		return r.DeniedTools
	}
	return r.DeniedAgents
}

// Restrictions are per-resource execution constraints. A zero value means
// the constraint is absent.
type Restrictions struct {
	MaxExecutionTimeSeconds int      `yaml:"max_execution_time"`
	AllowedParameters       []string `yaml:"allowed_parameters"`
	ForbiddenParameters     []string `yaml:"forbidden_parameters"`
	RateLimitPerHour        int      `yaml:"rate_limit_per_hour"`
}

// MaxExecutionTime returns the execution budget, or zero when absent.
func (r Restrictions) MaxExecutionTime() time.Duration {
	return time.Duration(r.MaxExecutionTimeSeconds) * time.Second
}

// GlobalLimits are document-wide rate limits applied alongside
// per-resource limits.
type GlobalLimits struct {
	GlobalPerHour  int `yaml:"global_per_hour"`
	PerUserPerHour int `yaml:"per_user_per_hour"`
}

// Document is one loaded policy version. Documents are immutable once
// published to the engine; reload installs a fresh Document.
type Document struct {
	// DefaultPolicy is "deny" or "allow", applied when no list matches.
	DefaultPolicy string `yaml:"default_policy"`
	// DefaultRole is assumed when the transaction carries no role.
	DefaultRole string `yaml:"default_role"`

	Roles map[string]RoleRules `yaml:"roles"`

	// Restrictions are keyed by resource type, then resource id. The
	// wildcard id supplies a fallback restriction set.
	Restrictions map[ResourceType]map[string]Restrictions `yaml:"restrictions"`

	RateLimits GlobalLimits `yaml:"rate_limits"`

	// RateWindowSeconds overrides the fixed rate window (default 1 hour).
	RateWindowSeconds int `yaml:"rate_window_seconds"`

	// Version is informational, surfaced in logs and metrics.
	Version string `yaml:"version"`
}

// RateWindow returns the fixed rate-counter window.
func (d *Document) RateWindow() time.Duration {
	if d.RateWindowSeconds > 0 {
		return time.Duration(d.RateWindowSeconds) * time.Second
	}
	return time.Hour
}

// RestrictionsFor returns the restriction set for one resource, falling
// back to the type's wildcard entry.
func (d *Document) RestrictionsFor(resource ResourceType, id string) (Restrictions, bool) {
	byID, ok := d.Restrictions[resource]
	if !ok {
		return Restrictions{}, false
	}
	if r, ok := byID[id]; ok {
		return r, true
	}
	if r, ok := byID[Wildcard]; ok {
		return r, true
	}
	return Restrictions{}, false
}

// DefaultDocument is the built-in policy applied when no file is
// configured: deny by default, with an orchestrator role allowed
// everything.
func DefaultDocument(cfg config.PolicyConfig) *Document {
	defaultPolicy := cfg.Default
	if defaultPolicy == "" {
		defaultPolicy = "deny"
	}
	return &Document{
		DefaultPolicy: defaultPolicy,
		DefaultRole:   "agent",
		Roles: map[string]RoleRules{
			"orchestrator": {
				AllowedAgents: []string{Wildcard},
				AllowedTools:  []string{Wildcard},
			},
		},
		Version: "builtin",
	}
}

// LoadDocument reads and validates a policy YAML file. Environment
// references in the file are expanded the same way as the main config.
func LoadDocument(path string, cfg config.PolicyConfig) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	expanded := config.ExpandEnv(data)

	doc := DefaultDocument(cfg)
	doc.Roles = nil
	if err := yaml.Unmarshal(expanded, doc); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return doc, nil
}

func (d *Document) validate() error {
	if d.DefaultPolicy != "deny" && d.DefaultPolicy != "allow" {
		return fmt.Errorf("default_policy must be deny or allow, got %q", d.DefaultPolicy)
	}
	for resource := range d.Restrictions {
		if resource != ResourceAgent && resource != ResourceTool {
			return fmt.Errorf("unknown restriction resource type %q", resource)
		}
	}
	for resource, byID := range d.Restrictions {
		for id, r := range byID {
			if r.MaxExecutionTimeSeconds < 0 || r.RateLimitPerHour < 0 {
				return fmt.Errorf("negative limit on %s %q", resource, id)
			}
		}
	}
	return nil
}

func matches(list []string, id string) bool {
	for _, entry := range list {
		if entry == Wildcard || entry == id {
			return true
		}
	}
	return false
}
