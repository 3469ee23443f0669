package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/listingcore/core/internal/orchestrator"
)

// HealthHandler exposes the orchestrator's health view (queue
// connectivity plus running counters) for operational monitoring.
type HealthHandler struct {
	orch *orchestrator.Orchestrator
}

// NewHealthHandler wires a HealthHandler to orch.
func NewHealthHandler(orch *orchestrator.Orchestrator) *HealthHandler {
	return &HealthHandler{orch: orch}
}

// RegisterRoutes mounts /health.
func (h *HealthHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
}

// Health reports queue connectivity and processing counters.
//
// Endpoint: GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	hs, stats, err := h.orch.Health(c.Request.Context())
	status := http.StatusOK
	if err != nil || !hs.Connected {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"queue": gin.H{
			"connected":  hs.Connected,
			"latency_ms": hs.Latency.Milliseconds(),
			"detail":     hs.Detail,
		},
		"stats": gin.H{
			"events_processed":  stats.EventsProcessed,
			"events_failed":     stats.EventsFailed,
			"plugin_executions": stats.PluginExecutions,
		},
	})
}
