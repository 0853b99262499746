package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning       = errors.New("transcode already running for session")
	ErrStoppedWhileStarting = errors.New("transcode stopped while starting")
	ErrInvalidSessionID     = errors.New("session id is not usable as a directory name")
)

const killWait = 5 * time.Second

// ConfigRecorder stores the tier settings a session was started with.
type ConfigRecorder interface {
	RecordStreamConfigs(configs []model.StreamConfig)
}

// HealthReporter publishes per-session transcode health.
type HealthReporter interface {
	SetTranscodeHealth(sessionID model.ID, score int)
	ClearTranscode(sessionID model.ID)
}

// Options configure the controller.
type Options struct {
	OutputDir      string
	HealthInterval time.Duration
	// A tier is stale when its newest segment is older than StaleSegment.
	// Freshly started tiers get the same period to produce one.
	StaleSegment time.Duration
}

type tierJob struct {
	tier      Tier
	dir       string
	proc      Process
	startedAt time.Time
	exited    chan struct{}

	// guarded by Controller.mu
	lastSegment time.Time
	stopping    bool
	dead        bool
}

type session struct {
	id   model.ID
	dir  string
	jobs []*tierJob
}

// Controller runs the per-session encode jobs.
type Controller struct {
	opts     Options
	launcher Launcher
	configs  ConfigRecorder
	log      *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	sessions  map[model.ID]*session
	dirs      map[string]*tierJob
	watcher   *fsnotify.Watcher
	onFailure func(sessionID model.ID, tier string, err error)
	health    HealthReporter
	waits     sync.WaitGroup
}

// NewController creates a controller. configs may be nil.
func NewController(opts Options, launcher Launcher, configs ConfigRecorder, log *zap.Logger) *Controller {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 5 * time.Second
	}
	if opts.StaleSegment <= 0 {
		opts.StaleSegment = 10 * time.Second
	}
	return &Controller{
		opts:     opts,
		launcher: launcher,
		configs:  configs,
		log:      log,
		now:      time.Now,
		sessions: make(map[model.ID]*session),
		dirs:     make(map[string]*tierJob),
	}
}

// OnFailure sets the callback for jobs that exit with an error while not
// being stopped.
func (c *Controller) OnFailure(fn func(sessionID model.ID, tier string, err error)) {
	c.mu.Lock()
	c.onFailure = fn
	c.mu.Unlock()
}

func (c *Controller) SetHealthReporter(r HealthReporter) {
	c.mu.Lock()
	c.health = r
	c.mu.Unlock()
}

// Start launches one job per tier. If any launch fails, the jobs already
// launched are killed and the session's output is removed.
func (c *Controller) Start(ctx context.Context, sessionID model.ID, input string) error {
	name := sessionID.String()
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return ErrInvalidSessionID
	}
	s := &session{id: sessionID, dir: filepath.Join(c.opts.OutputDir, name)}

	c.mu.Lock()
	if _, ok := c.sessions[sessionID]; ok {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.sessions[sessionID] = s
	c.mu.Unlock()

	jobs, err := c.launchAll(ctx, s, input)
	if err != nil {
		c.mu.Lock()
		if c.sessions[sessionID] == s {
			delete(c.sessions, sessionID)
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.sessions[sessionID] != s {
		c.mu.Unlock()
		c.abort(s.dir, jobs)
		return ErrStoppedWhileStarting
	}
	s.jobs = jobs
	for _, j := range jobs {
		c.dirs[j.dir] = j
		c.watchLocked(j.dir)
	}
	c.mu.Unlock()

	for _, j := range jobs {
		c.waits.Add(1)
		go c.wait(sessionID, j)
	}

	if c.configs != nil {
		c.configs.RecordStreamConfigs(streamConfigs(sessionID))
	}
	c.log.Info("transcode started",
		zap.String("session_id", name),
		zap.Int("tiers", len(jobs)),
		zap.String("output", s.dir))
	return nil
}

func (c *Controller) launchAll(ctx context.Context, s *session, input string) ([]*tierJob, error) {
	jobs := make([]*tierJob, 0, len(Tiers))
	for _, t := range Tiers {
		if err := ctx.Err(); err != nil {
			c.abort(s.dir, jobs)
			return nil, err
		}
		dir := filepath.Join(s.dir, t.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.abort(s.dir, jobs)
			return nil, fmt.Errorf("create %s output: %w", t.Name, err)
		}
		proc, err := c.launcher.Launch(Job{SessionID: s.id, Tier: t, Input: input, OutputDir: dir})
		if err != nil {
			c.abort(s.dir, jobs)
			return nil, fmt.Errorf("launch %s: %w", t.Name, err)
		}
		jobs = append(jobs, &tierJob{
			tier:      t,
			dir:       dir,
			proc:      proc,
			startedAt: c.now(),
			exited:    make(chan struct{}),
		})
	}
	return jobs, nil
}

// abort kills jobs that were never registered and removes their output.
func (c *Controller) abort(dir string, jobs []*tierJob) {
	for _, j := range jobs {
		if err := j.proc.Kill(); err != nil {
			c.log.Warn("kill transcode job", zap.String("tier", j.tier.Name), zap.Error(err))
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		c.log.Warn("remove transcode output", zap.String("dir", dir), zap.Error(err))
	}
}

func (c *Controller) wait(sessionID model.ID, j *tierJob) {
	defer c.waits.Done()
	err := j.proc.Wait()

	c.mu.Lock()
	j.dead = true
	stopping := j.stopping
	onFailure := c.onFailure
	c.mu.Unlock()
	close(j.exited)

	switch {
	case stopping:
	case err != nil:
		c.log.Error("transcode job exited",
			zap.String("session_id", sessionID.String()),
			zap.String("tier", j.tier.Name),
			zap.Error(err))
		// Tear the whole ladder down so a later Start can run.
		stopped, stopErr := c.stop(sessionID, j)
		if stopErr != nil {
			c.log.Warn("stop failed transcode", zap.String("session_id", sessionID.String()), zap.Error(stopErr))
		}
		if stopped && onFailure != nil {
			onFailure(sessionID, j.tier.Name, err)
		}
	default:
		c.log.Info("transcode job finished",
			zap.String("session_id", sessionID.String()),
			zap.String("tier", j.tier.Name))
	}
}

// Stop kills the session's jobs and removes its output. Stopping a session
// that is not running is a no-op. A job that exits with an error while not
// being stopped triggers the same teardown before OnFailure is called.
func (c *Controller) Stop(sessionID model.ID) error {
	_, err := c.stop(sessionID, nil)
	return err
}

// stop tears the session down. With owner set, it only does so while owner
// still belongs to the running session, and reports whether it did.
func (c *Controller) stop(sessionID model.ID, owner *tierJob) (bool, error) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok || (owner != nil && !slices.Contains(s.jobs, owner)) {
		c.mu.Unlock()
		return false, nil
	}
	delete(c.sessions, sessionID)
	for _, j := range s.jobs {
		j.stopping = true
		delete(c.dirs, j.dir)
		c.unwatchLocked(j.dir)
	}
	health := c.health
	c.mu.Unlock()

	var errList []error
	for _, j := range s.jobs {
		if err := j.proc.Kill(); err != nil {
			errList = append(errList, fmt.Errorf("kill %s: %w", j.tier.Name, err))
		}
	}
	timeout := time.After(killWait)
	for _, j := range s.jobs {
		select {
		case <-j.exited:
		case <-timeout:
			errList = append(errList, fmt.Errorf("%s did not exit", j.tier.Name))
		}
	}
	if err := os.RemoveAll(s.dir); err != nil {
		errList = append(errList, fmt.Errorf("remove output: %w", err))
	}
	if health != nil {
		health.ClearTranscode(sessionID)
	}
	c.log.Info("transcode stopped", zap.String("session_id", sessionID.String()))
	return true, errors.Join(errList...)
}

// StopAll stops every session.
func (c *Controller) StopAll() {
	c.mu.Lock()
	ids := make([]model.ID, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		if err := c.Stop(id); err != nil {
			c.log.Warn("stop transcode", zap.String("session_id", id.String()), zap.Error(err))
		}
	}
}

// Running reports whether the session has jobs.
func (c *Controller) Running(sessionID model.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	return ok && len(s.jobs) > 0
}

// Health is the share of the session's tiers that are producing segments,
// 0 to 100. A session that is not running scores 0.
func (c *Controller) Health(sessionID model.ID) int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok || len(s.jobs) == 0 {
		return 0
	}
	return c.scoreLocked(s, now)
}

func (c *Controller) scoreLocked(s *session, now time.Time) int {
	fresh := 0
	for _, j := range s.jobs {
		if c.freshLocked(j, now) {
			fresh++
		}
	}
	return fresh * 100 / len(s.jobs)
}

func (c *Controller) freshLocked(j *tierJob, now time.Time) bool {
	if j.dead {
		return false
	}
	ref := j.startedAt
	if j.lastSegment.After(ref) {
		ref = j.lastSegment
	}
	return now.Sub(ref) <= c.opts.StaleSegment
}

// Wait blocks until every job goroutine has returned.
func (c *Controller) Wait() {
	c.waits.Wait()
}
