package config

// DefaultConfig returns the built-in configuration. User documents are
// merged on top; any field left zero keeps these values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: "8080",
		},
		Session: SessionConfig{
			TTLSeconds:           3600,
			IdleTimeoutSeconds:   1800,
			EventQueueCapacity:   256,
			SweepIntervalSeconds: 60,
			MessageLogLimit:      500,
		},
		Scheduler: SchedulerConfig{
			ParallelMaxInFlight:   16,
			ProcessMaxInFlight:    256,
			DefaultTimeoutSeconds: 60,
			QueueOverflow:         1024,
		},
		AgentClient: AgentClientConfig{
			MaxRetries:    3,
			BackoffBaseMs: 250,
			BackoffCapMs:  4000,
		},
		Registry: RegistryConfig{
			HeartbeatTimeoutSeconds: 30,
		},
		Policy: PolicyConfig{
			Default: "deny",
		},
		Tools: ToolsConfig{
			MaxInFlightPerAdapter: 32,
		},
		Audit: AuditConfig{
			MemoryLimit: 10000,
		},
	}
}
