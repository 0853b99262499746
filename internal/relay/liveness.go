package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"go.uber.org/zap"
)

// LivenessMonitor emits heartbeats and terminates connections that stopped
// answering them.
type LivenessMonitor struct {
	registry *Registry
	interval time.Duration
	onStale  func(*Conn)
	log      *zap.Logger
}

// NewLivenessMonitor creates a monitor ticking every interval. onStale is
// called for each conn found stale.
func NewLivenessMonitor(registry *Registry, interval time.Duration, onStale func(*Conn), log *zap.Logger) *LivenessMonitor {
	return &LivenessMonitor{registry: registry, interval: interval, onStale: onStale, log: log}
}

// Run ticks until ctx is cancelled.
func (m *LivenessMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Tick(now)
		}
	}
}

// Tick sends a heartbeat to every open conn, then terminates stale ones.
// It returns the conns that were terminated.
func (m *LivenessMonitor) Tick(now time.Time) []*Conn {
	data, _ := json.Marshal(model.Message{
		Type:    model.TypeHeartbeat,
		Payload: model.HeartbeatEvent{Timestamp: now.UnixMilli()},
	})
	conns := m.registry.Snapshot()
	for _, c := range conns {
		c.enqueue(data)
	}
	return m.sweep(conns, now)
}

// Sweep terminates stale conns without emitting heartbeats.
func (m *LivenessMonitor) Sweep(now time.Time) []*Conn {
	return m.sweep(m.registry.Snapshot(), now)
}

func (m *LivenessMonitor) sweep(conns []*Conn, now time.Time) []*Conn {
	var stale []*Conn
	for _, c := range conns {
		if !m.IsStale(c, now) {
			continue
		}
		m.log.Info("terminating stale connection",
			zap.String("conn_id", c.ID),
			zap.String("user_id", c.UserID().String()),
			zap.Time("last_heartbeat", c.LastHeartbeat()))
		stale = append(stale, c)
		if m.onStale != nil {
			m.onStale(c)
		}
	}
	return stale
}

// IsStale reports whether c missed heartbeats for more than two intervals.
// A conn that never sent one is measured from its connect time, so a fresh
// conn gets a full grace period.
func (m *LivenessMonitor) IsStale(c *Conn, now time.Time) bool {
	ref := c.LastHeartbeat()
	if ref.IsZero() {
		ref = c.ConnectedAt
	}
	return now.Sub(ref) > 2*m.interval
}
