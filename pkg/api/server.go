// Package api exposes the orchestration core over HTTP: session and
// agent management, synchronous and streaming responses (SSE and
// WebSocket), the tool-server envelope endpoint, and policy operations.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/policy"
	"github.com/maestro-ai/maestro/pkg/registry"
	"github.com/maestro-ai/maestro/pkg/scheduler"
	"github.com/maestro-ai/maestro/pkg/sessions"
	"github.com/maestro-ai/maestro/pkg/telemetry"
	"github.com/maestro-ai/maestro/pkg/tools"
)

// Server is the HTTP front of the orchestration core.
type Server struct {
	store     sessions.Store
	registry  *registry.Registry
	engine    *policy.Engine
	scheduler *scheduler.Scheduler
	tools     *tools.Server
	cfg       config.ServerConfig
	sink      telemetry.Sink

	httpServer *http.Server
}

// NewServer wires the HTTP server. The tool server may be nil when no
// adapters are configured; its endpoint then reports 503.
func NewServer(
	store sessions.Store,
	reg *registry.Registry,
	engine *policy.Engine,
	sched *scheduler.Scheduler,
	toolSrv *tools.Server,
	cfg config.ServerConfig,
	sink telemetry.Sink,
) *Server {
	if sink == nil {
		sink = telemetry.NewNoopSink()
	}
	return &Server{
		store:     store,
		registry:  reg,
		engine:    engine,
		scheduler: sched,
		tools:     toolSrv,
		cfg:       cfg,
		sink:      sink,
	}
}

// Handler builds the routed echo instance. Exposed for tests.
func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1", transactionMiddleware())

	v1.POST("/sessions", s.createSessionHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.DELETE("/sessions/:id", s.closeSessionHandler)
	v1.POST("/sessions/:id/messages", s.postMessageHandler)
	v1.GET("/sessions/:id/stream", s.streamHandler)
	v1.GET("/sessions/:id/ws", s.wsHandler)

	// Flat aliases carrying the session id in the body or query.
	v1.POST("/messages", s.postMessageHandler)
	v1.GET("/stream", s.streamHandler)
	v1.GET("/ws", s.wsHandler)

	v1.GET("/agents", s.listAgentsHandler)
	v1.POST("/agents", s.registerAgentHandler)
	v1.POST("/agents/:id/heartbeat", s.heartbeatHandler)
	v1.DELETE("/agents/:id", s.deregisterAgentHandler)

	v1.GET("/patterns", s.patternsHandler)
	v1.GET("/override-options", s.overrideOptionsHandler)

	v1.POST("/policy/reload", s.policyReloadHandler)
	v1.GET("/policy/metrics", s.policyMetricsHandler)
	v1.GET("/policy/audit", s.policyAuditHandler)

	v1.POST("/tools", s.toolEnvelopeHandler)

	return e
}

// Start serves HTTP on addr. Blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
