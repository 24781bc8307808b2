// Package agentclient invokes specialized agents over HTTP with
// deadlines, bounded retries, and exponential backoff.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/telemetry"
)

// Request metadata headers carried on every outbound invocation.
const (
	HeaderTransactionID = "X-Transaction-Id"
	HeaderSessionID     = "X-Session-Id"
)

// Invoker is the outbound agent contract consumed by the scheduler.
type Invoker interface {
	Invoke(ctx context.Context, agent models.AgentView, req models.InvocationRequest) models.InvocationResult
}

// Client is the HTTP A2A client. Transient failures (network errors,
// 5xx, 429) are retried with exponential backoff and full jitter;
// everything else returns immediately.
type Client struct {
	httpClient *http.Client
	cfg        config.AgentClientConfig
	sink       telemetry.Sink
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ Invoker = (*Client)(nil)

// New creates a client. A nil httpClient falls back to a default with
// sane connection reuse.
func New(cfg config.AgentClientConfig, sink telemetry.Sink, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if sink == nil {
		sink = telemetry.NewNoopSink()
	}
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		sink:       sink,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// agentResponse is the wire shape returned by specialized agents.
type agentResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Invoke calls the agent's endpoint, honoring the context deadline.
// The returned result always has a concrete status; errors are folded
// into it rather than returned separately.
func (c *Client) Invoke(ctx context.Context, agent models.AgentView, req models.InvocationRequest) models.InvocationResult {
	start := time.Now()
	ctx, span := c.sink.StartSpan(ctx, "agent.invoke")
	defer span.End()
	span.SetAttr("agent_id", agent.ID)

	body, err := json.Marshal(req)
	if err != nil {
		return failed(start, 0, apperrors.Wrap(apperrors.KindInternal, err, "marshaling invocation"))
	}

	logger := telemetry.Logger(ctx)
	maxAttempts := c.cfg.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt - 1)
			logger.Info("Retrying agent invocation",
				"agent_id", agent.ID, "attempt", attempt+1, "backoff", backoff)
			if err := c.sleep(ctx, backoff); err != nil {
				return cancelledResult(ctx, start, attempt, err)
			}
		}

		result, retriable, err := c.attempt(ctx, agent, body)
		if err == nil {
			result.Latency = time.Since(start)
			result.Attempts = attempt + 1
			return result
		}
		if ctx.Err() != nil {
			return cancelledResult(ctx, start, attempt+1, err)
		}
		lastErr = err
		if !retriable {
			break
		}
		span.RecordError(err)
	}

	logger.Error("Agent invocation failed",
		"agent_id", agent.ID, "attempts", maxAttempts, "error", lastErr)
	return failed(start, maxAttempts, lastErr)
}

// attempt performs one HTTP round trip. The boolean reports whether the
// failure is transient.
func (c *Client) attempt(ctx context.Context, agent models.AgentView, body []byte) (models.InvocationResult, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.Endpoint, bytes.NewReader(body))
	if err != nil {
		return models.InvocationResult{}, false, apperrors.Wrap(apperrors.KindInternal, err, "building request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if txn, ok := telemetry.FromContext(ctx); ok {
		httpReq.Header.Set(HeaderTransactionID, txn.TransactionID)
		httpReq.Header.Set(HeaderSessionID, txn.SessionID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return models.InvocationResult{}, true,
			apperrors.Wrap(apperrors.KindAgentUnreachable, err, "agent %s unreachable", agent.ID)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return models.InvocationResult{}, true,
			apperrors.Wrap(apperrors.KindAgentUnreachable, err, "reading agent %s response", agent.ID)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return models.InvocationResult{}, true,
			apperrors.New(apperrors.KindAgentUnreachable, "agent %s returned %d", agent.ID, resp.StatusCode)
	case resp.StatusCode >= 400:
		return models.InvocationResult{}, false,
			apperrors.New(apperrors.KindAgentFailed, "agent %s rejected the request: %d", agent.ID, resp.StatusCode)
	}

	var parsed agentResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return models.InvocationResult{}, false,
			apperrors.Wrap(apperrors.KindAgentFailed, err, "agent %s returned malformed payload", agent.ID)
	}
	if parsed.Status != "" && parsed.Status != "success" && parsed.Status != "ok" {
		errMsg := parsed.Error
		if errMsg == "" {
			errMsg = fmt.Sprintf("agent reported status %q", parsed.Status)
		}
		return models.InvocationResult{
			Status:   models.InvocationFailed,
			Payload:  parsed.Data,
			ErrorMsg: errMsg,
		}, false, nil
	}

	return models.InvocationResult{
		Status:  models.InvocationSuccess,
		Payload: parsed.Data,
	}, false, nil
}

// backoff computes base * 2^attempt capped, with full jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.cfg.BackoffBase()
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	ceiling := c.cfg.BackoffCap()
	if ceiling <= 0 {
		ceiling = 4 * time.Second
	}

	d := base << attempt
	if d > ceiling || d <= 0 {
		d = ceiling
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

func failed(start time.Time, attempts int, err error) models.InvocationResult {
	kind := apperrors.KindOf(err)
	status := models.InvocationFailed
	if kind == apperrors.KindTimedOut {
		status = models.InvocationTimedOut
	}
	return models.InvocationResult{
		Status:    status,
		ErrorKind: string(kind),
		ErrorMsg:  errMessage(err),
		Latency:   time.Since(start),
		Attempts:  attempts,
	}
}

// cancelledResult distinguishes deadline exhaustion from cooperative
// cancellation.
func cancelledResult(ctx context.Context, start time.Time, attempts int, err error) models.InvocationResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.InvocationResult{
			Status:    models.InvocationTimedOut,
			ErrorKind: string(apperrors.KindTimedOut),
			ErrorMsg:  "deadline exhausted",
			Latency:   time.Since(start),
			Attempts:  attempts,
		}
	}
	return models.InvocationResult{
		Status:    models.InvocationFailed,
		ErrorKind: string(apperrors.KindAgentFailed),
		ErrorMsg:  errMessage(err),
		Latency:   time.Since(start),
		Cancelled: true,
		Attempts:  attempts,
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
