package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/registry"
)

// listAgentsHandler handles GET /api/v1/agents. Optional filters:
// ?capability=name&health=healthy|degraded|unreachable.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	filter := registry.Filter{Capability: c.QueryParam("capability")}
	if v := c.QueryParam("health"); v != "" {
		h := models.AgentHealth(v)
		switch h {
		case models.AgentHealthy, models.AgentDegraded, models.AgentUnreachable:
			filter.Health = h
		default:
			return writeError(c, apperrors.New(apperrors.KindInvalidRequest, "invalid health filter %q", v))
		}
	}

	views := s.registry.ListAll(c.Request().Context(), filter)
	return c.JSON(http.StatusOK, map[string]any{"agents": views})
}

// registerAgentHandler handles POST /api/v1/agents. Registration is an
// upsert keyed by agent id.
func (s *Server) registerAgentHandler(c *echo.Context) error {
	var req registerAgentRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperrors.New(apperrors.KindInvalidRequest, "invalid request body"))
	}

	if err := s.registry.Register(c.Request().Context(), req.AgentRecord); err != nil {
		return writeError(c, err)
	}

	view, err := s.registry.Get(c.Request().Context(), req.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, view)
}

// heartbeatHandler handles POST /api/v1/agents/:id/heartbeat.
func (s *Server) heartbeatHandler(c *echo.Context) error {
	var req heartbeatRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperrors.New(apperrors.KindInvalidRequest, "invalid request body"))
	}

	if err := s.registry.Heartbeat(c.Request().Context(), c.Param("id"), req.Load, req.Status); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// deregisterAgentHandler handles DELETE /api/v1/agents/:id. Removing an
// unknown agent is a no-op.
func (s *Server) deregisterAgentHandler(c *echo.Context) error {
	s.registry.Deregister(c.Request().Context(), c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}
