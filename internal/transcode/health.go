package transcode

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Run watches segment output and polls health every HealthInterval until
// ctx is cancelled, then stops all sessions.
func (c *Controller) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.log.Warn("segment watcher unavailable, polling only", zap.Error(err))
	} else {
		c.mu.Lock()
		c.watcher = watcher
		for dir := range c.dirs {
			c.watchLocked(dir)
		}
		c.mu.Unlock()
		go c.watch(ctx, watcher)
	}

	ticker := time.NewTicker(c.opts.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.StopAll()
			if watcher != nil {
				c.mu.Lock()
				c.watcher = nil
				c.mu.Unlock()
				_ = watcher.Close()
			}
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

func (c *Controller) watch(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && isSegment(event.Name) {
				c.observe(filepath.Dir(event.Name), c.now())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			c.log.Warn("segment watcher", zap.Error(err))
		}
	}
}

func isSegment(name string) bool {
	return strings.HasSuffix(name, ".ts") || strings.HasSuffix(name, ".m3u8")
}

// observe stamps a segment write in dir.
func (c *Controller) observe(dir string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.dirs[dir]; ok && at.After(j.lastSegment) {
		j.lastSegment = at
	}
}

// scan stats every tier directory for its newest segment. It catches
// writes the watcher missed.
func (c *Controller) scan() {
	c.mu.Lock()
	dirs := make([]string, 0, len(c.dirs))
	for dir := range c.dirs {
		dirs = append(dirs, dir)
	}
	c.mu.Unlock()

	for _, dir := range dirs {
		if newest, ok := newestSegment(dir); ok {
			c.observe(dir, newest)
		}
	}
}

func newestSegment(dir string) (time.Time, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, false
	}
	var newest time.Time
	for _, e := range entries {
		if e.IsDir() || !isSegment(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, !newest.IsZero()
}

// poll refreshes segment times, then logs stale tiers and publishes scores.
func (c *Controller) poll() {
	c.scan()
	now := c.now()

	type result struct {
		id    model.ID
		score int
		stale []string
	}
	c.mu.Lock()
	results := make([]result, 0, len(c.sessions))
	for id, s := range c.sessions {
		if len(s.jobs) == 0 {
			continue
		}
		r := result{id: id, score: c.scoreLocked(s, now)}
		for _, j := range s.jobs {
			if !c.freshLocked(j, now) {
				r.stale = append(r.stale, j.tier.Name)
			}
		}
		results = append(results, r)
	}
	health := c.health
	c.mu.Unlock()

	for _, r := range results {
		if len(r.stale) > 0 {
			c.log.Warn("stale transcode tiers",
				zap.String("session_id", r.id.String()),
				zap.Strings("tiers", r.stale),
				zap.Int("health", r.score))
		}
		if health != nil {
			health.SetTranscodeHealth(r.id, r.score)
		}
	}
}

func (c *Controller) watchLocked(dir string) {
	if c.watcher == nil {
		return
	}
	if err := c.watcher.Add(dir); err != nil {
		c.log.Warn("watch segment dir", zap.String("dir", dir), zap.Error(err))
	}
}

func (c *Controller) unwatchLocked(dir string) {
	if c.watcher == nil {
		return
	}
	_ = c.watcher.Remove(dir)
}

// streamConfigs describes the ladder for the analytics store.
func streamConfigs(sessionID model.ID) []model.StreamConfig {
	out := make([]model.StreamConfig, 0, len(Tiers))
	for _, t := range Tiers {
		out = append(out, model.StreamConfig{
			SessionID:        sessionID.String(),
			QualityTier:      t.Name,
			Resolution:       t.Resolution(),
			Bitrate:          t.VideoKbps,
			Framerate:        Framerate,
			KeyframeInterval: KeyframeInterval,
			AudioBitrate:     t.AudioKbps,
			Enabled:          true,
		})
	}
	return out
}
