// Maestro orchestration server: hosts the session store, agent
// registry, policy engine, tool server, and the HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/maestro-ai/maestro/pkg/agentclient"
	"github.com/maestro-ai/maestro/pkg/api"
	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/policy"
	"github.com/maestro-ai/maestro/pkg/registry"
	"github.com/maestro-ai/maestro/pkg/scheduler"
	"github.com/maestro-ai/maestro/pkg/sessions"
	"github.com/maestro-ai/maestro/pkg/telemetry"
	"github.com/maestro-ai/maestro/pkg/tools"
	"github.com/maestro-ai/maestro/pkg/tools/builtin"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configPath := flag.String("config",
		getEnv("MAESTRO_CONFIG", "./deploy/maestro.yaml"),
		"Path to configuration file")
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	// Telemetry sink. The exporter, if any, is configured through the
	// global otel tracer provider.
	var sink telemetry.Sink
	if cfg.Telemetry.Enabled {
		sink = telemetry.NewOtelSink(otel.GetTracerProvider())
		slog.Info("Telemetry enabled")
	} else {
		sink = telemetry.NewNoopSink()
	}

	// Shared Redis client for the rate counter and agent mirror.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("Invalid Redis URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(redisOpts)
		defer redisClient.Close()
	}

	// Session store: Redis when configured, in-memory otherwise.
	var store sessions.Store
	if redisClient != nil {
		redisStore, err := sessions.NewRedisStore(ctx, cfg.Redis.URL, cfg.Session)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		store = redisStore
		slog.Info("Session store: redis")
	} else {
		store = sessions.NewMemoryStore(cfg.Session)
		slog.Info("Session store: memory")
	}
	defer store.Stop()

	// Policy engine with optional durable audit sink.
	opts := policy.Options{
		Telemetry: sink,
		Ring:      policy.NewAuditRing(cfg.Audit.MemoryLimit),
	}
	if cfg.Audit.PostgresURL != "" {
		pgSink, err := policy.NewPgxAuditSink(ctx, cfg.Audit.PostgresURL)
		if err != nil {
			slog.Error("Failed to initialize audit sink", "error", err)
			os.Exit(1)
		}
		defer pgSink.Close()
		opts.Audit = pgSink
		slog.Info("Audit sink: postgres")
	}
	if redisClient != nil {
		opts.Rates = policy.NewRedisRateCounter(redisClient)
		slog.Info("Rate counter: redis")
	}

	engine, err := policy.NewEngine(ctx, cfg.Policy, opts)
	if err != nil {
		slog.Error("Failed to load policy", "error", err)
		os.Exit(1)
	}
	slog.Info("Policy loaded", "version", engine.Active().Version)

	watcher := policy.NewWatcher(engine, cfg.Policy)
	if err := watcher.Start(ctx); err != nil {
		slog.Error("Failed to start policy watcher", "error", err)
		os.Exit(1)
	}
	defer watcher.Stop()

	// Registry, agent client, scheduler.
	reg := registry.New(cfg.Registry)
	if redisClient != nil {
		reg.SetMirror(registry.NewRedisMirror(redisClient, cfg.Registry.HeartbeatTimeout()))
	}
	invoker := agentclient.New(cfg.AgentClient, sink, nil)
	sched := scheduler.New(store, reg, engine, invoker, nil, cfg.Scheduler, sink)

	// Tool server with the stock adapters.
	toolSrv := tools.NewServer(cfg.Tools, engine, sink)
	for _, adapter := range builtin.AllMemoryAdapters() {
		if err := toolSrv.Register(adapter); err != nil {
			slog.Error("Failed to register tool", "tool", adapter.Name(), "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Tool server initialized", "tools", len(toolSrv.List()))

	httpServer := api.NewServer(store, reg, engine, sched, toolSrv, cfg.Server, sink)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
