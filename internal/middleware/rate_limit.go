package middleware

import (
	"net/http"
	"strconv"
	"time"

	"fixit/internal/caching"
	"fixit/internal/common"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// RateLimit caps requests per client IP and scope over a fixed window. Cache
// failures let the request through.
func RateLimit(cache caching.CacheService, scope string, limit int, window time.Duration, logger *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limit <= 0 {
				return next(c)
			}
			key := scope + ":" + c.RealIP()
			limited, err := cache.IsRateLimited(c.Request().Context(), key, limit, window)
			if err != nil {
				logger.WithError(err).WithField("scope", scope).Warn("rate limit check failed")
				return next(c)
			}
			if limited {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				return c.JSON(http.StatusTooManyRequests, common.ErrorResponse{
					Success:       false,
					Status:        http.StatusTooManyRequests,
					Message:       "too many requests, please try again later",
					CorrelationID: CorrelationID(c),
				})
			}
			return next(c)
		}
	}
}
