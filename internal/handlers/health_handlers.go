package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"fixit/internal/caching"
	"fixit/internal/repositories"

	"github.com/labstack/echo/v4"
)

// HealthHandlers handles liveness and readiness probes
type HealthHandlers struct {
	store   repositories.Store
	cache   caching.CacheService
	version string
	started time.Time
}

func NewHealthHandlers(store repositories.Store, cache caching.CacheService, version string) *HealthHandlers {
	return &HealthHandlers{store: store, cache: cache, version: version, started: time.Now()}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Services   map[string]string `json:"services,omitempty"`
	Uptime     string            `json:"uptime"`
	Version    string            `json:"version"`
	Goroutines int               `json:"goroutines"`
}

// HealthCheck is the liveness probe
// @Summary Liveness
// @Tags health
// @Produce json
// @Success 200 {object} HealthStatus
// @Router /health [get]
func (h *HealthHandlers) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, h.status("healthy", nil))
}

// ReadinessCheck pings the database and the cache
// @Summary Readiness
// @Tags health
// @Produce json
// @Success 200 {object} HealthStatus
// @Failure 503 {object} HealthStatus
// @Router /health/ready [get]
func (h *HealthHandlers) ReadinessCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	services := map[string]string{"database": "healthy", "cache": "healthy"}
	ready := true
	if err := h.store.Ping(ctx); err != nil {
		services["database"] = "unhealthy"
		ready = false
	}
	if err := h.cache.Ping(ctx); err != nil {
		services["cache"] = "unhealthy"
		ready = false
	}
	if !ready {
		return c.JSON(http.StatusServiceUnavailable, h.status("not_ready", services))
	}
	return c.JSON(http.StatusOK, h.status("ready", services))
}

func (h *HealthHandlers) status(state string, services map[string]string) *HealthStatus {
	return &HealthStatus{
		Status:     state,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Services:   services,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Version:    h.version,
		Goroutines: runtime.NumGoroutine(),
	}
}
