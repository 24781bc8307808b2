package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/telemetry"
)

// streamHandler handles GET /api/v1/sessions/:id/stream and its flat
// alias GET /api/v1/stream?session_id= as Server-Sent Events. The
// cursor query parameter (or Last-Event-ID header) resumes delivery
// after a reconnect; events before the cursor are never replayed. The
// stream ends after the first terminal event.
func (s *Server) streamHandler(c *echo.Context) error {
	sessionID := sessionIDParam(c)
	ctx := c.Request().Context()
	logger := telemetry.Logger(ctx)

	cursor, err := parseCursor(c)
	if err != nil {
		return writeError(c, err)
	}

	// Validate the session before committing to the SSE content type.
	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return writeError(c, err)
	}

	resp := c.Response()
	h := resp.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(resp)
	_ = rc.Flush()

	for {
		events, next, err := s.store.DequeueEvents(ctx, sessionID, cursor)
		if err != nil {
			// Client gone, session closed, or session expired: the SSE
			// body is already committed, so just end the stream.
			logger.Debug("SSE stream ended",
				"session_id", sessionID, "cursor", cursor, "reason", err)
			return nil
		}
		cursor = next

		terminal := false
		for _, ev := range events {
			data, merr := json.Marshal(ev)
			if merr != nil {
				continue
			}
			fmt.Fprintf(resp, "id: %d\nevent: %s\ndata: %s\n\n", ev.Cursor, ev.Type, data)
			if ev.Type.Terminal() {
				terminal = true
			}
		}
		if err := rc.Flush(); err != nil {
			return nil
		}
		if terminal {
			return nil
		}
	}
}

func parseCursor(c *echo.Context) (uint64, error) {
	raw := c.QueryParam("cursor")
	if raw == "" {
		raw = c.Request().Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperrors.New(apperrors.KindInvalidRequest, "invalid cursor %q", raw)
	}
	return cursor, nil
}
