package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"go.uber.org/zap"
)

const (
	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

type job struct {
	name string
	run  func(ctx context.Context) error
}

// Recorder queues analytics writes for a single background worker so the
// relay never waits on the database. Writes that do not fit in the queue
// are dropped.
type Recorder struct {
	sink  Sink
	log   *zap.Logger
	now   func() time.Time
	queue chan job
	done  chan struct{}

	mu     sync.Mutex
	closed bool

	peakMu sync.Mutex
	peaks  map[model.ID]int
}

// NewRecorder creates a recorder with room for queueSize pending writes.
func NewRecorder(sink Sink, queueSize int, log *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Recorder{
		sink:  sink,
		log:   log,
		now:   time.Now,
		queue: make(chan job, queueSize),
		done:  make(chan struct{}),
		peaks: make(map[model.ID]int),
	}
}

// Run writes queued records until Close is called and the queue is empty.
func (r *Recorder) Run() {
	defer close(r.done)
	for j := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := j.run(ctx); err != nil {
			r.log.Error("analytics write failed", zap.String("record", j.name), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting records and waits for the worker to drain the queue.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) enqueue(name string, run func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- job{name: name, run: run}:
	default:
		r.log.Warn("analytics queue full, record dropped", zap.String("record", name))
	}
}

func (r *Recorder) RecordJoin(sessionID, userID model.ID) {
	v := &model.ViewerAnalytics{
		SessionID: sessionID.String(),
		UserID:    userID.String(),
		JoinedAt:  r.now(),
	}
	r.enqueue("viewer_join", func(ctx context.Context) error {
		return r.sink.SaveViewerJoin(ctx, v)
	})
}

func (r *Recorder) RecordLeave(sessionID, userID model.ID, watch time.Duration) {
	leftAt := r.now()
	seconds := int(watch / time.Second)
	r.enqueue("viewer_leave", func(ctx context.Context) error {
		return r.sink.SaveViewerLeave(ctx, sessionID.String(), userID.String(), leftAt, seconds)
	})
}

// RecordSnapshot stores one measurement, carrying the session's peak
// viewer count.
func (r *Recorder) RecordSnapshot(s model.Snapshot) {
	r.peakMu.Lock()
	peak := r.peaks[s.SessionID]
	if s.Viewers > peak {
		peak = s.Viewers
		r.peaks[s.SessionID] = peak
	}
	r.peakMu.Unlock()

	stats := &model.StreamStats{
		SessionID:      s.SessionID.String(),
		Timestamp:      s.Timestamp,
		CurrentViewers: s.Viewers,
		PeakViewers:    peak,
		BandwidthBytes: s.Bandwidth,
		CPUPercent:     s.CPUPercent,
		MemoryBytes:    int64(s.MemoryBytes),
		HealthScore:    s.HealthScore,
	}
	r.enqueue("stream_stats", func(ctx context.Context) error {
		return r.sink.SaveStreamStats(ctx, stats)
	})
}

// RecordStreamConfigs stores the encoder tiers a session was started with.
func (r *Recorder) RecordStreamConfigs(configs []model.StreamConfig) {
	r.enqueue("stream_configs", func(ctx context.Context) error {
		return r.sink.SaveStreamConfigs(ctx, configs)
	})
}

// ForgetSession resets the peak of a session that emptied.
func (r *Recorder) ForgetSession(sessionID model.ID) {
	r.peakMu.Lock()
	delete(r.peaks, sessionID)
	r.peakMu.Unlock()
}

// Peak returns the highest viewer count seen for the session.
func (r *Recorder) Peak(sessionID model.ID) int {
	r.peakMu.Lock()
	defer r.peakMu.Unlock()
	return r.peaks[sessionID]
}
