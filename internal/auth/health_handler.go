// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"context"
	"net/http"
)

// HealthChecker is satisfied by *store.RedisStore and *store.PostgresStore.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckHealth handles GET /health -- pings Redis and, when configured, Postgres.
// Returns 200 if every configured dependency is healthy, 503 otherwise.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	redisStatus := "ok"
	postgresStatus := "disabled"

	if err := h.Redis.CheckHealth(r.Context()); err != nil {
		logError(r, "redis health check failed", "error", err)
		redisStatus = "error"
	}
	if h.Postgres != nil {
		postgresStatus = "ok"
		if err := h.Postgres.CheckHealth(r.Context()); err != nil {
			logError(r, "postgres health check failed", "error", err)
			postgresStatus = "error"
		}
	}

	code, overall := http.StatusOK, "ok"
	if redisStatus == "error" || postgresStatus == "error" {
		code, overall = http.StatusServiceUnavailable, "degraded"
	}
	WriteJSON(w, code, struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		Redis    string `json:"redis"`
	}{overall, postgresStatus, redisStatus})
}
