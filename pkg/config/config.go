// Package config loads and validates the maestro.yaml configuration file.
// Built-in defaults are merged with the user document; environment
// variables are expanded with {{.VAR}} template syntax before parsing.
package config

import (
	"time"
)

// Config is the fully merged and validated runtime configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Session     SessionConfig     `yaml:"session"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	AgentClient AgentClientConfig `yaml:"agent_client"`
	Registry    RegistryConfig    `yaml:"registry"`
	Policy      PolicyConfig      `yaml:"policy"`
	Tools       ToolsConfig       `yaml:"tools"`
	Redis       RedisConfig       `yaml:"redis"`
	Audit       AuditConfig       `yaml:"audit"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig groups HTTP server settings.
type ServerConfig struct {
	HTTPPort         string   `yaml:"http_port"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// SessionConfig tunes the session store.
type SessionConfig struct {
	TTLSeconds           int `yaml:"ttl_seconds"`
	IdleTimeoutSeconds   int `yaml:"idle_timeout_seconds"`
	EventQueueCapacity   int `yaml:"event_queue_capacity"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	MessageLogLimit      int `yaml:"message_log_limit"`
}

// TTL returns the absolute session lifetime.
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// IdleTimeout returns the per-session idle expiry.
func (c SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// SweepInterval returns the expiry sweep cadence.
func (c SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// SchedulerConfig tunes the orchestration scheduler.
type SchedulerConfig struct {
	ParallelMaxInFlight   int `yaml:"parallel_max_in_flight"`
	ProcessMaxInFlight    int `yaml:"process_max_in_flight"`
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	QueueOverflow         int `yaml:"queue_overflow"`
}

// DefaultTimeout returns the invocation deadline applied when neither the
// policy nor the caller supplies one.
func (c SchedulerConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// AgentClientConfig tunes outbound agent invocations.
type AgentClientConfig struct {
	MaxRetries    int `yaml:"max_retries"`
	BackoffBaseMs int `yaml:"backoff_base_ms"`
	BackoffCapMs  int `yaml:"backoff_cap_ms"`
}

// BackoffBase returns the initial retry backoff.
func (c AgentClientConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// BackoffCap returns the maximum retry backoff.
func (c AgentClientConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMs) * time.Millisecond
}

// RegistryConfig tunes the agent registry.
type RegistryConfig struct {
	HeartbeatTimeoutSeconds int `yaml:"heartbeat_timeout_seconds"`
}

// HeartbeatTimeout returns the staleness threshold after which an agent is
// considered unreachable.
func (c RegistryConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

// PolicyConfig points at the governance policy document.
type PolicyConfig struct {
	// Default is the verdict applied when no rule matches: "deny" or "allow".
	Default string `yaml:"default"`
	// Path is the policy YAML file. Empty disables file loading (defaults
	// apply).
	Path string `yaml:"path"`
	// ReloadOnSignal enables SIGHUP-triggered reload.
	ReloadOnSignal *bool `yaml:"reload_on_signal"`
	// WatchFile enables fsnotify-triggered reload on file change.
	WatchFile bool `yaml:"watch_file"`
}

// ReloadOnSignalEnabled resolves the tri-state flag (default true).
func (c PolicyConfig) ReloadOnSignalEnabled() bool {
	return c.ReloadOnSignal == nil || *c.ReloadOnSignal
}

// ToolsConfig tunes the tool server.
type ToolsConfig struct {
	MaxInFlightPerAdapter int `yaml:"max_in_flight_per_adapter"`
	// BurstPerSecond smooths call bursts per adapter ahead of the policy
	// engine's fixed-window limits. Zero disables smoothing.
	BurstPerSecond int `yaml:"burst_per_second"`
	// Tokens maps bearer tokens to roles for tool-call authentication.
	// Values usually come from the environment via {{.VAR}} expansion.
	Tokens map[string]string `yaml:"tokens"`
}

// RedisConfig selects the shared key-value backend. An empty URL keeps all
// state in process memory (single-instance operation).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuditConfig selects the optional durable audit sink.
type AuditConfig struct {
	// PostgresURL enables the pgx-backed audit sink when non-empty.
	PostgresURL string `yaml:"postgres_url"`
	// MemoryLimit bounds the in-memory audit ring.
	MemoryLimit int `yaml:"memory_limit"`
}

// TelemetryConfig toggles span emission.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}
