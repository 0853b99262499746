package relay

import (
	"context"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
)

func (h *Hub) runMetrics(ctx context.Context) {
	ticker := time.NewTicker(h.opts.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, s := range h.Snapshot(now) {
				h.recorder.RecordSnapshot(s)
			}
		}
	}
}

// Snapshot measures every active session. Bandwidth is the traffic of the
// session's members since the previous snapshot.
func (h *Hub) Snapshot(now time.Time) []model.Snapshot {
	cpu, mem := h.sampler.sample()
	ids := h.router.Sessions()
	out := make([]model.Snapshot, 0, len(ids))

	h.bwMu.Lock()
	defer h.bwMu.Unlock()
	for _, id := range ids {
		viewers := 0
		var total int64
		for _, c := range h.router.Members(id) {
			if !c.IsHost() {
				viewers++
			}
			total += c.BytesTransferred()
		}
		delta := total - h.lastBytes[id]
		if delta < 0 {
			delta = 0
		}
		h.lastBytes[id] = total

		health := 100
		if h.transcoder != nil && h.Streaming(id) {
			health = h.transcoder.Health(id)
		}
		out = append(out, model.Snapshot{
			SessionID:   id,
			Viewers:     viewers,
			Bandwidth:   delta,
			CPUPercent:  cpu,
			MemoryBytes: mem,
			HealthScore: health,
			Timestamp:   now,
		})
	}
	return out
}

// processSampler derives process cpu usage from runtime/metrics deltas.
type processSampler struct {
	mu        sync.Mutex
	lastUsed  float64
	lastTotal float64
}

var sampleNames = []string{
	"/cpu/classes/total:cpu-seconds",
	"/cpu/classes/idle:cpu-seconds",
	"/memory/classes/total:bytes",
}

func (p *processSampler) sample() (cpuPercent float64, memBytes uint64) {
	samples := make([]metrics.Sample, len(sampleNames))
	for i, name := range sampleNames {
		samples[i].Name = name
	}
	metrics.Read(samples)

	var total, idle float64
	if samples[0].Value.Kind() == metrics.KindFloat64 {
		total = samples[0].Value.Float64()
	}
	if samples[1].Value.Kind() == metrics.KindFloat64 {
		idle = samples[1].Value.Float64()
	}
	if samples[2].Value.Kind() == metrics.KindUint64 {
		memBytes = samples[2].Value.Uint64()
	}

	used := total - idle
	p.mu.Lock()
	dUsed, dTotal := used-p.lastUsed, total-p.lastTotal
	p.lastUsed, p.lastTotal = used, total
	p.mu.Unlock()
	if dTotal > 0 && dUsed >= 0 {
		cpuPercent = dUsed / dTotal * 100
	}
	return cpuPercent, memBytes
}
