package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"pharma-chain.backend/pkg/logger"
)

const (
	ServiceName    = "pharma-chain-backend"
	ServiceVersion = "0.1.0"

	healthCheckTimeout = 2 * time.Second
)

// ListenerStatus reports whether the ledger listener is active
type ListenerStatus interface {
	Running() bool
}

// HealthHandler reports the state of the store, the cache and the listener
type HealthHandler struct {
	pingDB    func(ctx context.Context) error
	pingRedis func(ctx context.Context) error
	listener  ListenerStatus
}

func NewHealthHandler(pingDB, pingRedis func(ctx context.Context) error, listener ListenerStatus) *HealthHandler {
	return &HealthHandler{pingDB: pingDB, pingRedis: pingRedis, listener: listener}
}

// Health returns 503 only when the database is unreachable. Redis and the
// listener are reported but do not fail the check.
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	body := gin.H{
		"status":   "ok",
		"service":  ServiceName,
		"version":  ServiceVersion,
		"database": checkDependency(ctx, "database", h.pingDB),
		"redis":    checkDependency(ctx, "redis", h.pingRedis),
		"listener": "stopped",
	}
	if body["database"] == "down" {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	if h.listener != nil && h.listener.Running() {
		body["listener"] = "running"
	}

	c.JSON(status, body)
}

func checkDependency(ctx context.Context, name string, ping func(ctx context.Context) error) string {
	if ping == nil {
		return "unconfigured"
	}
	if err := ping(ctx); err != nil {
		logger.Warn(ctx, "Health check failed", zap.String("dependency", name), zap.Error(err))
		return "down"
	}
	return "up"
}
