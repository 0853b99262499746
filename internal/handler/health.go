package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/relay"
	"github.com/gin-gonic/gin"
)

// StatsProvider reports relay counters.
type StatsProvider interface {
	Stats() relay.Stats
}

// Pinger checks a dependency for readiness (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler handles health and ready checks.
type HealthHandler struct {
	stats StatsProvider
	db    Pinger
}

// NewHealthHandler creates a health handler. db may be nil.
func NewHealthHandler(stats StatsProvider, db Pinger) *HealthHandler {
	return &HealthHandler{stats: stats, db: db}
}

// Health responds to GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	st := h.stats.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     "relay-service",
		"time":        time.Now().Unix(),
		"connections": st.Connections,
		"sessions":    st.Sessions,
	})
}

// Ready responds to GET /ready (for k8s readiness).
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "database unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
