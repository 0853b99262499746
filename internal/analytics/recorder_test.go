package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"go.uber.org/zap/zaptest"
)

type fakeSink struct {
	mu      sync.Mutex
	configs []model.StreamConfig
	stats   []model.StreamStats
	joins   []model.ViewerAnalytics
	leaves  []int
	err     error
}

func (f *fakeSink) SaveStreamConfigs(_ context.Context, c []model.StreamConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, c...)
	return f.err
}

func (f *fakeSink) SaveStreamStats(_ context.Context, s *model.StreamStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, *s)
	return f.err
}

func (f *fakeSink) SaveViewerJoin(_ context.Context, v *model.ViewerAnalytics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, *v)
	return f.err
}

func (f *fakeSink) SaveViewerLeave(_ context.Context, _, _ string, _ time.Time, watchSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, watchSeconds)
	return f.err
}

func closeRecorder(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRecorderWritesInOrder(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, 16, zaptest.NewLogger(t))
	go r.Run()

	r.RecordJoin("42", "2")
	r.RecordLeave("42", "2", 90*time.Second+400*time.Millisecond)
	r.RecordStreamConfigs([]model.StreamConfig{{SessionID: "42", QualityTier: "720p"}})
	closeRecorder(t, r)

	if len(sink.joins) != 1 || sink.joins[0].SessionID != "42" || sink.joins[0].UserID != "2" {
		t.Errorf("Unexpected joins %+v", sink.joins)
	}
	if len(sink.leaves) != 1 || sink.leaves[0] != 90 {
		t.Errorf("Expected watch time 90s, got %v", sink.leaves)
	}
	if len(sink.configs) != 1 {
		t.Errorf("Expected 1 stream config, got %d", len(sink.configs))
	}
}

func TestRecorderTracksPeakViewers(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, 16, zaptest.NewLogger(t))
	go r.Run()

	for _, n := range []int{3, 5, 2} {
		r.RecordSnapshot(model.Snapshot{SessionID: "42", Viewers: n, HealthScore: 100})
	}
	r.ForgetSession("42")
	r.RecordSnapshot(model.Snapshot{SessionID: "42", Viewers: 1})
	closeRecorder(t, r)

	want := []int{3, 5, 5, 1}
	if len(sink.stats) != len(want) {
		t.Fatalf("Expected %d stats rows, got %d", len(want), len(sink.stats))
	}
	for i, s := range sink.stats {
		if s.PeakViewers != want[i] {
			t.Errorf("row %d: Expected peak %d, got %d", i, want[i], s.PeakViewers)
		}
	}
}

func TestRecorderDropsWhenQueueFull(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, 1, zaptest.NewLogger(t))

	r.RecordJoin("42", "1")
	r.RecordJoin("42", "2")
	r.RecordJoin("42", "3")

	go r.Run()
	closeRecorder(t, r)
	if len(sink.joins) != 1 || sink.joins[0].UserID != "1" {
		t.Errorf("Expected only the first join kept, got %+v", sink.joins)
	}
}

func TestRecorderSurvivesSinkErrors(t *testing.T) {
	sink := &fakeSink{err: errors.New("db down")}
	r := NewRecorder(sink, 16, zaptest.NewLogger(t))
	go r.Run()

	r.RecordJoin("42", "1")
	r.RecordJoin("42", "2")
	closeRecorder(t, r)
	if len(sink.joins) != 2 {
		t.Errorf("Expected both writes attempted, got %d", len(sink.joins))
	}
}

func TestRecorderIgnoresRecordsAfterClose(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, 16, zaptest.NewLogger(t))
	go r.Run()
	closeRecorder(t, r)
	closeRecorder(t, r)

	r.RecordJoin("42", "1")
	if len(sink.joins) != 0 {
		t.Errorf("Expected no writes after close, got %d", len(sink.joins))
	}
}
