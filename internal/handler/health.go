package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/trailquest/checkin-service/internal/client"
)

var startTime = time.Now()

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

type CheckResult struct {
	Status        HealthStatus `json:"status"`
	Error         string       `json:"error,omitempty"`
	Latency       string       `json:"latency,omitempty"`
	Breaker       string       `json:"circuit_breaker,omitempty"`
	CommandErrors uint64       `json:"command_errors,omitempty"`
}

type HealthResponse struct {
	Status      HealthStatus           `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Environment string                 `json:"environment"`
	Uptime      string                 `json:"uptime"`
	Checks      map[string]CheckResult `json:"checks"`
}

// HealthHandler reports liveness plus postgres and redis reachability.
// Redis is a degraded dependency: validation still works without the
// cache and the distributed rate limiter fails open.
type HealthHandler struct {
	env   string
	db    *sql.DB
	redis *client.RedisClient
}

func NewHealthHandler(env string, db *sql.DB, redis *client.RedisClient) *HealthHandler {
	return &HealthHandler{env: env, db: db, redis: redis}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]CheckResult{
		"postgres": h.checkPostgres(ctx),
		"redis":    h.checkRedis(ctx),
	}

	status := HealthStatusHealthy
	if checks["redis"].Status != HealthStatusHealthy {
		status = HealthStatusDegraded
	}
	if checks["postgres"].Status != HealthStatusHealthy {
		status = HealthStatusUnhealthy
	}

	code := http.StatusOK
	if status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Environment: h.env,
		Uptime:      time.Since(startTime).Round(time.Second).String(),
		Checks:      checks,
	})
}

func (h *HealthHandler) checkPostgres(ctx context.Context) CheckResult {
	if h.db == nil {
		return CheckResult{Status: HealthStatusUnhealthy, Error: "not configured"}
	}
	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		return CheckResult{Status: HealthStatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: HealthStatusHealthy, Latency: time.Since(start).String()}
}

func (h *HealthHandler) checkRedis(ctx context.Context) CheckResult {
	if h.redis == nil {
		return CheckResult{Status: HealthStatusDegraded, Error: "not configured"}
	}
	start := time.Now()
	stats := h.redis.Stats()
	if err := h.redis.HealthCheck(ctx); err != nil {
		return CheckResult{
			Status:        HealthStatusDegraded,
			Error:         err.Error(),
			Breaker:       h.redis.CircuitBreakerState(),
			CommandErrors: stats.Errors,
		}
	}
	return CheckResult{
		Status:        HealthStatusHealthy,
		Latency:       time.Since(start).String(),
		Breaker:       h.redis.CircuitBreakerState(),
		CommandErrors: stats.Errors,
	}
}
