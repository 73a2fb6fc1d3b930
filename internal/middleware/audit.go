package middleware

import (
	"time"

	"fixit/internal/common"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// RequestMeta copies the client address, user agent and request id onto the
// request context so audit rows written deeper down can carry them.
func RequestMeta() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := common.WithRequestMeta(req.Context(), common.RequestMeta{
				IPAddress:     c.RealIP(),
				UserAgent:     req.UserAgent(),
				CorrelationID: CorrelationID(c),
			})
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// CorrelationID is the id set by echo's RequestID middleware.
func CorrelationID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return c.Request().Header.Get(echo.HeaderXRequestID)
}

// AccessLog writes one structured line per request. path is the route
// template, so public-link tokens never reach the log.
func AccessLog(logger *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := logrus.Fields{
				"status":     status,
				"method":     c.Request().Method,
				"path":       c.Path(),
				"latency_ms": time.Since(start).Milliseconds(),
				"request_id": CorrelationID(c),
				"ip":         c.RealIP(),
			}
			if actor, aerr := ActorFrom(c); aerr == nil {
				fields["user_id"] = actor.ID
			}
			entry := logger.WithFields(fields)
			switch {
			case status >= 500:
				entry.Error("request failed")
			case status >= 400:
				entry.Warn("request rejected")
			default:
				entry.Info("request handled")
			}
			return nil
		}
	}
}
