package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// policyReloadHandler handles POST /api/v1/policy/reload. A failed
// reload keeps the active document and reports the failure.
func (s *Server) policyReloadHandler(c *echo.Context) error {
	if err := s.engine.Reload(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "reloaded",
		"version": s.engine.Active().Version,
	})
}

// policyMetricsHandler handles GET /api/v1/policy/metrics.
func (s *Server) policyMetricsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Metrics())
}

// policyAuditHandler handles GET /api/v1/policy/audit?limit=n.
func (s *Server) policyAuditHandler(c *echo.Context) error {
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	entries, violations := s.engine.Audit(limit)
	return c.JSON(http.StatusOK, map[string]any{
		"entries":    entries,
		"violations": violations,
	})
}
