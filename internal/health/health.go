// Package health serves liveness/readiness endpoints for the
// facilitator service.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/x402proto/facilitator/internal/cache"
)

// Status is the outcome of a single health check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check is one component's health result.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the JSON body returned by /health and /ready.
type Response struct {
	Status  Status  `json:"status"`
	Checks  []Check `json:"checks,omitempty"`
	Version string  `json:"version,omitempty"`
}

// Checker runs the facilitator's readiness checks.
type Checker struct {
	redis   *cache.Client
	version string
}

// NewChecker builds a Checker. redis may be nil if the deployment runs
// without Redis (rate limiting degraded, not disabled from readiness).
func NewChecker(redis *cache.Client, version string) *Checker {
	return &Checker{redis: redis, version: version}
}

// HealthHandler serves the liveness endpoint: always healthy once the
// process is up and routing requests.
func (h *Checker) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, Response{Status: StatusHealthy, Version: h.version})
	}
}

// ReadyHandler serves the readiness endpoint: fans out every dependency
// check concurrently and reports the worst status observed.
func (h *Checker) ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		checks := h.runChecks(ctx)
		overall := h.calculateOverallStatus(checks)

		status := http.StatusOK
		if overall == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, Response{Status: overall, Checks: checks, Version: h.version})
	}
}

// runChecks runs all health checks concurrently and collects their
// results over a buffered channel closed once every check returns.
func (h *Checker) runChecks(ctx context.Context) []Check {
	var wg sync.WaitGroup
	checksChan := make(chan Check, 10)

	wg.Add(1)
	go func() {
		defer wg.Done()
		checksChan <- h.checkRedis(ctx)
	}()

	go func() {
		wg.Wait()
		close(checksChan)
	}()

	var checks []Check
	for check := range checksChan {
		checks = append(checks, check)
	}
	return checks
}

func (h *Checker) checkRedis(ctx context.Context) Check {
	check := Check{Name: "redis"}

	if h.redis == nil {
		// Redis is optional: rate limiting degrades to fail-open rather
		// than the whole service being unready.
		check.Status = StatusDegraded
		check.Message = "redis client not configured"
		return check
	}

	if err := h.redis.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
		return check
	}

	check.Status = StatusHealthy
	return check
}

func (h *Checker) calculateOverallStatus(checks []Check) Status {
	hasUnhealthy := false
	hasDegraded := false

	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
