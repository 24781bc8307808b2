package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads maestro.yaml from path, expands environment variables, merges
// it over the built-in defaults, and validates the result. An empty path
// returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}

		var user Config
		if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}

		// User values override built-in defaults.
		if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging config: %w", err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	slog.Info("Configuration loaded",
		"path", path,
		"session_ttl_s", cfg.Session.TTLSeconds,
		"parallel_max_in_flight", cfg.Scheduler.ParallelMaxInFlight,
		"policy_default", cfg.Policy.Default,
		"redis", cfg.Redis.URL != "")

	return cfg, nil
}

// validate rejects configurations that cannot run.
func validate(cfg *Config) error {
	if cfg.Session.TTLSeconds <= 0 {
		return fmt.Errorf("session.ttl_seconds must be positive, got %d", cfg.Session.TTLSeconds)
	}
	if cfg.Session.EventQueueCapacity <= 0 {
		return fmt.Errorf("session.event_queue_capacity must be positive, got %d", cfg.Session.EventQueueCapacity)
	}
	if cfg.Scheduler.ParallelMaxInFlight <= 0 {
		return fmt.Errorf("scheduler.parallel_max_in_flight must be positive, got %d", cfg.Scheduler.ParallelMaxInFlight)
	}
	if cfg.Scheduler.ProcessMaxInFlight < cfg.Scheduler.ParallelMaxInFlight {
		return fmt.Errorf("scheduler.process_max_in_flight (%d) must be >= parallel_max_in_flight (%d)",
			cfg.Scheduler.ProcessMaxInFlight, cfg.Scheduler.ParallelMaxInFlight)
	}
	if cfg.AgentClient.MaxRetries < 0 {
		return fmt.Errorf("agent_client.max_retries must not be negative, got %d", cfg.AgentClient.MaxRetries)
	}
	if cfg.Registry.HeartbeatTimeoutSeconds <= 0 {
		return fmt.Errorf("registry.heartbeat_timeout_seconds must be positive, got %d", cfg.Registry.HeartbeatTimeoutSeconds)
	}
	switch cfg.Policy.Default {
	case "deny", "allow":
	default:
		return fmt.Errorf("policy.default must be \"deny\" or \"allow\", got %q", cfg.Policy.Default)
	}
	return nil
}
