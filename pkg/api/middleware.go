package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/maestro-ai/maestro/pkg/telemetry"
)

const (
	headerUserID = "X-User-Id"
	headerRole   = "X-Role"
)

// sessionIDParam resolves the session id from the path, falling back to
// the session_id query parameter on the flat alias routes.
func sessionIDParam(c *echo.Context) string {
	if id := c.Param("id"); id != "" {
		return id
	}
	return c.QueryParam("session_id")
}

// transactionMiddleware opens a transaction context for every request.
// The caller's identity comes from trusted gateway headers; absent
// headers leave the fields empty and the policy engine applies its
// default role.
func transactionMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			req := c.Request()
			txn := telemetry.NewTransaction(
				sessionIDParam(c),
				req.Header.Get(headerUserID),
				req.Header.Get(headerRole),
			)
			ctx := telemetry.WithTransaction(req.Context(), txn)
			c.SetRequest(req.WithContext(ctx))

			c.Response().Header().Set("X-Transaction-Id", txn.TransactionID)
			return next(c)
		}
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}
