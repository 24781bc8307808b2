package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maestro-ai/maestro/pkg/apperrors"
	"github.com/maestro-ai/maestro/pkg/telemetry"
)

// errorEnvelope is the uniform error body. Internal details never leak;
// the transaction id lets operators correlate with logs.
type errorEnvelope struct {
	Kind          string `json:"kind"`
	Subcode       string `json:"subcode,omitempty"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func httpStatusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindSessionNotFound, apperrors.KindToolNotFound, apperrors.KindAgentNotFound:
		return http.StatusNotFound
	case apperrors.KindSessionClosed, apperrors.KindSessionExpired:
		return http.StatusGone
	case apperrors.KindInvalidRequest, apperrors.KindConfigError:
		return http.StatusBadRequest
	case apperrors.KindUnauthorized:
		return http.StatusUnauthorized
	case apperrors.KindDenied:
		return http.StatusForbidden
	case apperrors.KindOverloaded:
		return http.StatusTooManyRequests
	case apperrors.KindTimedOut, apperrors.KindToolTimeout:
		return http.StatusGatewayTimeout
	case apperrors.KindAgentUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a service error to the structured envelope. Unknown
// errors are logged and reported as Internal with a generic message.
func writeError(c *echo.Context, err error) error {
	ae := apperrors.AsError(err)
	if ae.TransactionID == "" {
		ae = ae.WithTransaction(telemetry.TransactionID(c.Request().Context()))
	}

	status := httpStatusFor(ae.Kind)
	if ae.Kind == apperrors.KindInternal {
		slog.Error("Unexpected API error", "error", err, "transaction_id", ae.TransactionID)
		return c.JSON(status, errorEnvelope{
			Kind:          string(apperrors.KindInternal),
			Message:       "internal server error",
			TransactionID: ae.TransactionID,
		})
	}

	return c.JSON(status, errorEnvelope{
		Kind:          string(ae.Kind),
		Subcode:       string(ae.Subcode),
		Message:       ae.Message,
		TransactionID: ae.TransactionID,
	})
}
