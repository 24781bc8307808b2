package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/telemetry"
)

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req models.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperrors.New(apperrors.KindInvalidRequest, "invalid request body"))
	}
	if req.UserID == "" {
		req.UserID = c.Request().Header.Get(headerUserID)
	}

	sess, err := s.store.Create(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sess, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// closeSessionHandler handles DELETE /api/v1/sessions/:id.
func (s *Server) closeSessionHandler(c *echo.Context) error {
	if err := s.store.Close(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// postMessageHandler handles POST /api/v1/sessions/:id/messages and the
// flat alias POST /api/v1/messages (session_id in the body). This is
// the synchronous path: the user message is appended to the session
// log, orchestration runs to completion, and the terminal result is
// the response body. Streaming consumers observe the same run through
// the session's event queue.
func (s *Server) postMessageHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperrors.New(apperrors.KindInvalidRequest, "invalid request body"))
	}
	if sessionID == "" {
		sessionID = req.SessionID
	}
	if sessionID == "" {
		return writeError(c, apperrors.New(apperrors.KindInvalidRequest, "session_id is required"))
	}
	if req.Content == "" {
		return writeError(c, apperrors.New(apperrors.KindInvalidRequest, "content is required"))
	}

	ctx := c.Request().Context()
	err := s.store.AppendMessage(ctx, sessionID, models.Message{
		Role:      models.RoleUser,
		Content:   req.Content,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"transaction_id": telemetry.TransactionID(ctx),
		},
	})
	if err != nil {
		return writeError(c, err)
	}

	result, err := s.scheduler.Process(ctx, sessionID, req.Content, req.Context)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
