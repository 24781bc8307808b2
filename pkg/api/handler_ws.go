package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/telemetry"
)

// wsWriteTimeout bounds each WebSocket send so one stalled client
// cannot wedge the event pump.
const wsWriteTimeout = 10 * time.Second

// clientFrame is a message from the WebSocket client.
type clientFrame struct {
	Type    string                 `json:"type"`
	Content string                 `json:"content,omitempty"`
	Context *models.RequestContext `json:"context,omitempty"`
}

// serverFrame is a message to the WebSocket client.
type serverFrame struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	Status    string           `json:"status,omitempty"`
	Event     *models.Event    `json:"event,omitempty"`
	Messages  []models.Message `json:"messages,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// wsHandler handles GET /api/v1/sessions/:id/ws and its flat alias
// GET /api/v1/ws?session_id=. The connection mirrors the session's
// event queue and accepts message/ping/get_history/close frames. The
// connection survives individual responses; it ends when the session
// closes or the client disconnects.
func (s *Server) wsHandler(c *echo.Context) error {
	sessionID := sessionIDParam(c)
	ctx := c.Request().Context()
	logger := telemetry.Logger(ctx)

	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return writeError(c, err)
	}

	opts := &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedWSOrigins}
	if len(s.cfg.AllowedWSOrigins) == 0 {
		// No allowlist configured: same-origin only (the zero value).
		opts = nil
	}
	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.sendFrame(ctx, conn, serverFrame{Type: "connected", SessionID: sessionID})

	// Event pump: mirror the session queue onto the socket until the
	// session closes or the connection drops.
	go func() {
		defer cancel()
		var cursor uint64
		for {
			events, next, err := s.store.DequeueEvents(ctx, sessionID, cursor)
			if err != nil {
				return
			}
			cursor = next
			for i := range events {
				ev := events[i]
				// The frame type is the event's own type, so status and
				// message events arrive as status and message frames.
				if !s.sendFrame(ctx, conn, serverFrame{Type: string(ev.Type), SessionID: sessionID, Event: &ev}) {
					return
				}
				if ev.Type == models.EventTypeClosed {
					return
				}
			}
		}
	}()

	// Read loop. Owns the connection lifecycle.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logger.Debug("WebSocket closed", "session_id", sessionID, "error", err)
			return nil
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendFrame(ctx, conn, serverFrame{Type: "error", Message: "invalid frame"})
			continue
		}

		switch frame.Type {
		case "ping":
			s.sendFrame(ctx, conn, serverFrame{Type: "pong"})

		case "get_history":
			sess, err := s.store.Get(ctx, sessionID)
			if err != nil {
				s.sendFrame(ctx, conn, serverFrame{Type: "error", Message: err.Error()})
				continue
			}
			s.sendFrame(ctx, conn, serverFrame{Type: "history", SessionID: sessionID, Messages: sess.Messages})

		case "message":
			if frame.Content == "" {
				s.sendFrame(ctx, conn, serverFrame{Type: "error", Message: "content is required"})
				continue
			}
			s.sendFrame(ctx, conn, serverFrame{Type: "status", Status: "thinking"})
			s.handleWSMessage(ctx, sessionID, frame)

		case "close":
			s.sendFrame(ctx, conn, serverFrame{Type: "closing", SessionID: sessionID, Message: "closing connection"})
			_ = s.store.Close(ctx, sessionID)
			return nil

		default:
			s.sendFrame(ctx, conn, serverFrame{Type: "error", Message: "unknown frame type"})
		}
	}
}

// handleWSMessage appends the user message and starts orchestration in
// the background; progress and the terminal result reach the client
// through the event pump.
func (s *Server) handleWSMessage(ctx context.Context, sessionID string, frame clientFrame) {
	logger := telemetry.Logger(ctx)

	err := s.store.AppendMessage(ctx, sessionID, models.Message{
		Role:      models.RoleUser,
		Content:   frame.Content,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"transaction_id": telemetry.TransactionID(ctx),
		},
	})
	if err != nil {
		logger.Warn("Failed to append WebSocket message",
			"session_id", sessionID, "error", err)
		return
	}

	// The run outlives this frame; it is cancelled only by connection
	// loss. Errors surface as error events on the session queue.
	go func() {
		if _, err := s.scheduler.Process(ctx, sessionID, frame.Content, frame.Context); err != nil {
			logger.Warn("Orchestration failed",
				"session_id", sessionID, "error", err)
		}
	}()
}

// sendFrame writes one frame with a bounded deadline. Returns false
// when the connection is gone.
func (s *Server) sendFrame(ctx context.Context, conn *websocket.Conn, frame serverFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data) == nil
}
