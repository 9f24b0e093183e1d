// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stockscan/internal/infrastructure/cache"
	"stockscan/internal/infrastructure/storage/postgres"
)

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	pool  *postgres.Pool
	cache *cache.RecordCache
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(pool *postgres.Pool, recordCache *cache.RecordCache) *HealthHandler {
	return &HealthHandler{pool: pool, cache: recordCache}
}

// Live handles liveness probe.
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles readiness probe.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.pool.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "error",
			"checks": map[string]string{
				"database": "unhealthy: " + err.Error(),
			},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"checks": map[string]string{"database": "healthy"},
	})
}

// Info returns application and cache statistics.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	stat := h.pool.Stat()
	c.JSON(http.StatusOK, gin.H{
		"app": "stockscan",
		"db": gin.H{
			"total_conns": stat.TotalConns(),
			"idle_conns":  stat.IdleConns(),
		},
		"record_cache": h.cache.GetStats(),
	})
}
