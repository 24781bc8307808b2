package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/registry"
)

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"policy_version": s.engine.Active().Version,
		"queue_depth":    s.scheduler.QueueDepth(),
	})
}

// patternsHandler handles GET /api/v1/patterns.
func (s *Server) patternsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"patterns": []models.Pattern{
			models.PatternSimple,
			models.PatternSequential,
			models.PatternParallel,
			models.PatternLoop,
		},
	})
}

// overrideOptionsHandler handles GET /api/v1/override-options: the
// agents and patterns a client may name in a request context, for
// driving override UIs.
func (s *Server) overrideOptionsHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	return c.JSON(http.StatusOK, map[string]any{
		"patterns": []models.Pattern{
			models.PatternSimple,
			models.PatternSequential,
			models.PatternParallel,
			models.PatternLoop,
		},
		"agents":       s.registry.ListAll(ctx, registry.Filter{Health: models.AgentHealthy}),
		"capabilities": s.registry.CapabilitySnapshot(ctx),
	})
}
