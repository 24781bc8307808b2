package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/models"
)

// toolEnvelopeHandler handles POST /api/v1/tools, the tool-server
// envelope protocol. Protocol-level failures are folded into the
// response frame; the HTTP status is 200 whenever a frame could be
// produced.
func (s *Server) toolEnvelopeHandler(c *echo.Context) error {
	if s.tools == nil {
		return writeError(c, apperrors.New(apperrors.KindInternal, "tool server not configured"))
	}

	var env models.ToolEnvelope
	if err := c.Bind(&env); err != nil {
		return writeError(c, apperrors.New(apperrors.KindInvalidRequest, "invalid envelope"))
	}

	resp := s.tools.HandleEnvelope(c.Request().Context(), env)
	return c.JSON(http.StatusOK, resp)
}
