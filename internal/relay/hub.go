package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/errs"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Protocol error texts sent to the originating connection.
const (
	ErrTextRateLimited        = "Rate limit exceeded"
	ErrTextInvalidMessage     = "Invalid message format"
	ErrTextUnknownType        = "Unknown message type"
	ErrTextAlreadyJoined      = "Already joined a session"
	ErrTextNotJoined          = "Not in a session"
	ErrTextSessionUnavailable = "Session not found or not live"
	ErrTextSessionFull        = "Session is at capacity"
	ErrTextNotHost            = "Only the host can perform this action"
	ErrTextStreamRunning      = "Stream already started"
	ErrTextStreamFailed       = "Failed to start stream"
)

const validateTimeout = 5 * time.Second

// SessionValidator resolves a session that is currently live.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID model.ID) (*model.Session, error)
}

// Transcoder controls the per-session encode pipeline.
type Transcoder interface {
	Start(ctx context.Context, sessionID model.ID, input string) error
	Stop(sessionID model.ID) error
	Health(sessionID model.ID) int
}

// Recorder receives analytics. Implementations must not block.
type Recorder interface {
	RecordJoin(sessionID, userID model.ID)
	RecordLeave(sessionID, userID model.ID, watch time.Duration)
	RecordSnapshot(s model.Snapshot)
	ForgetSession(sessionID model.ID)
}

// Options tune the hub; zero values fall back to the defaults.
type Options struct {
	RateLimitWindow   time.Duration
	RateLimitMax      int
	HeartbeatInterval time.Duration
	MetricsInterval   time.Duration
	SessionCapacity   int
	SendBuffer        int
}

func (o *Options) setDefaults() {
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = time.Second
	}
	if o.RateLimitMax <= 0 {
		o.RateLimitMax = 100
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = 60 * time.Second
	}
	if o.SessionCapacity <= 0 {
		o.SessionCapacity = 100000
	}
}

// stream is a start-stream in progress or running. Entries are compared by
// pointer so a start that completes after an end-stream can detect it.
type stream struct {
	live bool
}

// Hub is the signaling dispatcher: it owns the registry, router, rate
// limiter and liveness monitor and interprets every inbound message.
type Hub struct {
	opts       Options
	log        *zap.Logger
	registry   *Registry
	limiter    *RateLimiter
	router     *SessionRouter
	liveness   *LivenessMonitor
	sessions   SessionValidator
	transcoder Transcoder // nil when transcoding is disabled
	recorder   Recorder
	now        func() time.Time

	ctxMu sync.RWMutex
	ctx   context.Context
	tasks sync.WaitGroup

	streamMu sync.Mutex
	streams  map[model.ID]*stream

	sampler   processSampler
	bwMu      sync.Mutex
	lastBytes map[model.ID]int64
}

// NewHub creates a hub. transcoder may be nil.
func NewHub(opts Options, sessions SessionValidator, transcoder Transcoder, recorder Recorder, log *zap.Logger) *Hub {
	opts.setDefaults()
	h := &Hub{
		opts:       opts,
		log:        log,
		registry:   NewRegistry(opts.SendBuffer),
		limiter:    NewRateLimiter(opts.RateLimitWindow, opts.RateLimitMax),
		router:     NewSessionRouter(opts.SessionCapacity, log),
		sessions:   sessions,
		transcoder: transcoder,
		recorder:   recorder,
		now:        time.Now,
		ctx:        context.Background(),
		streams:    make(map[model.ID]*stream),
		lastBytes:  make(map[model.ID]int64),
	}
	h.liveness = NewLivenessMonitor(h.registry, opts.HeartbeatInterval, h.terminate, log)
	return h
}

// SetContext sets the app context used by background stream tasks.
func (h *Hub) SetContext(ctx context.Context) {
	h.ctxMu.Lock()
	h.ctx = ctx
	h.ctxMu.Unlock()
}

func (h *Hub) context() context.Context {
	h.ctxMu.RLock()
	defer h.ctxMu.RUnlock()
	return h.ctx
}

// Run drives the heartbeat and metrics timers until ctx is cancelled, then
// closes every connection and waits for in-flight stream tasks.
func (h *Hub) Run(ctx context.Context) {
	h.SetContext(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.liveness.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		h.runMetrics(ctx)
	}()
	wg.Wait()
	for _, c := range h.registry.Snapshot() {
		h.terminate(c)
	}
	h.tasks.Wait()
}

// Connect registers a newly accepted transport.
func (h *Hub) Connect(transport io.Closer) *Conn {
	c := h.registry.Register(transport, h.now())
	h.log.Debug("connection registered", zap.String("conn_id", c.ID))
	return c
}

// Disconnect runs the close path: implicit leave, then removal. Safe to call
// more than once.
func (h *Hub) Disconnect(c *Conn) {
	if !h.registry.Remove(c) {
		return
	}
	h.limiter.Forget(c.ID)
	h.leave(c, h.now())
	h.log.Debug("connection removed",
		zap.String("conn_id", c.ID),
		zap.Int64("bytes", c.BytesTransferred()))
}

// terminate force-closes a stale conn and cleans it up.
func (h *Hub) terminate(c *Conn) {
	if err := c.terminate(); err != nil {
		h.log.Debug("close transport", zap.String("conn_id", c.ID), zap.Error(err))
	}
	h.Disconnect(c)
}

// HandleMessage processes one inbound message from c to completion.
func (h *Hub) HandleMessage(c *Conn, data []byte) {
	now := h.now()
	h.registry.RecordBytes(c, len(data))
	if !h.limiter.Allow(c.ID, now) {
		h.sendError(c, ErrTextRateLimited)
		return
	}
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		h.sendError(c, ErrTextInvalidMessage)
		return
	}

	switch env.Type {
	case model.TypeHeartbeat:
		c.touch(now)
	case model.TypeJoinSession:
		h.join(c, env.Payload, now)
	case model.TypeLeaveSession:
		if c.State() != StateJoined {
			h.sendError(c, ErrTextNotJoined)
			return
		}
		h.leave(c, now)
	case model.TypeOffer, model.TypeAnswer, model.TypeICECandidate:
		h.relaySignal(c, data)
	case model.TypeChat:
		h.chat(c, env.Payload, now)
	case model.TypeStartStream:
		h.startStream(c, env.Payload)
	case model.TypeEndStream:
		h.endStream(c)
	default:
		h.sendError(c, ErrTextUnknownType)
	}
}

func (h *Hub) join(c *Conn, payload json.RawMessage, now time.Time) {
	if c.State() != StateUnjoined {
		h.sendError(c, ErrTextAlreadyJoined)
		return
	}
	var p model.JoinSessionPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID.Empty() || p.SessionID.Empty() {
		h.sendError(c, ErrTextInvalidMessage)
		return
	}

	ctx, cancel := context.WithTimeout(h.context(), validateTimeout)
	sess, err := h.sessions.ValidateSession(ctx, p.SessionID)
	cancel()
	if err != nil {
		if !errors.Is(err, errs.ErrSessionNotFound) && !errors.Is(err, errs.ErrSessionNotLive) {
			h.log.Warn("validate session failed", zap.String("session_id", p.SessionID.String()), zap.Error(err))
		}
		h.sendError(c, ErrTextSessionUnavailable)
		return
	}
	isHost := p.UserID == sess.HostID

	count, err := h.router.Join(p.SessionID, c)
	if err != nil {
		if errors.Is(err, errs.ErrSessionFull) {
			h.sendError(c, ErrTextSessionFull)
		} else {
			h.sendError(c, ErrTextAlreadyJoined)
		}
		return
	}
	if !h.registry.UpdateOnJoin(c, p.UserID, p.SessionID, isHost, now) {
		h.router.Leave(p.SessionID, c)
		return
	}
	h.recorder.RecordJoin(p.SessionID, p.UserID)
	h.log.Info("user joined",
		zap.String("session_id", p.SessionID.String()),
		zap.String("user_id", p.UserID.String()),
		zap.Bool("host", isHost),
		zap.Int("members", count))

	h.broadcast(p.SessionID, model.Message{Type: model.TypeUserJoined, Payload: model.UserEvent{UserID: p.UserID}}, c)

	if !isHost {
		if host := h.router.FindHost(p.SessionID); host != nil {
			h.send(host, model.Message{Type: model.TypeRequestOffer, Payload: model.UserEvent{UserID: p.UserID}})
		}
		return
	}
	// A host arriving late offers to everyone already watching.
	for _, m := range h.router.Members(p.SessionID) {
		if m == c || m.IsHost() {
			continue
		}
		h.send(c, model.Message{Type: model.TypeRequestOffer, Payload: model.UserEvent{UserID: m.UserID()}})
	}
}

// leave is the shared path of leave-session and transport close.
func (h *Hub) leave(c *Conn, now time.Time) {
	m, ok := c.clearJoin()
	if !ok {
		return
	}
	h.router.Leave(m.sessionID, c)
	h.broadcast(m.sessionID, model.Message{Type: model.TypeUserLeft, Payload: model.UserEvent{UserID: m.userID}}, c)
	h.recorder.RecordLeave(m.sessionID, m.userID, now.Sub(c.ConnectedAt))
	h.log.Info("user left",
		zap.String("session_id", m.sessionID.String()),
		zap.String("user_id", m.userID.String()),
		zap.Bool("host", m.host))

	if m.host && h.router.FindHost(m.sessionID) == nil {
		h.stopStream(m.sessionID)
	}
	if h.router.Count(m.sessionID) == 0 {
		h.forgetSession(m.sessionID)
	}
}

func (h *Hub) relaySignal(c *Conn, data []byte) {
	if c.State() != StateJoined {
		h.sendError(c, ErrTextNotJoined)
		return
	}
	h.router.BroadcastRaw(c.SessionID(), data, c)
}

func (h *Hub) chat(c *Conn, payload json.RawMessage, now time.Time) {
	if c.State() != StateJoined {
		h.sendError(c, ErrTextNotJoined)
		return
	}
	var p model.ChatPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Message == "" {
		h.sendError(c, ErrTextInvalidMessage)
		return
	}
	h.broadcast(c.SessionID(), model.Message{
		Type: model.TypeChat,
		Payload: model.ChatEvent{
			ID:        ulid.Make().String(),
			UserID:    c.UserID(),
			Message:   p.Message,
			Timestamp: now.UnixMilli(),
		},
	}, c)
}

// hostOnly reports whether c may run a host action, sending the error if not.
func (h *Hub) hostOnly(c *Conn) bool {
	if c.State() != StateJoined {
		h.sendError(c, ErrTextNotJoined)
		return false
	}
	if !c.IsHost() {
		h.sendError(c, ErrTextNotHost)
		return false
	}
	return true
}

func (h *Hub) startStream(c *Conn, payload json.RawMessage) {
	if !h.hostOnly(c) {
		return
	}
	var p model.StartStreamPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.StreamURL == "" {
		h.sendError(c, ErrTextInvalidMessage)
		return
	}
	sessionID := c.SessionID()

	h.streamMu.Lock()
	if _, ok := h.streams[sessionID]; ok {
		h.streamMu.Unlock()
		h.sendError(c, ErrTextStreamRunning)
		return
	}
	st := &stream{}
	h.streams[sessionID] = st
	h.streamMu.Unlock()

	h.tasks.Add(1)
	go func() {
		defer h.tasks.Done()
		var err error
		if h.transcoder != nil {
			err = h.transcoder.Start(h.context(), sessionID, p.StreamURL)
		}

		h.streamMu.Lock()
		superseded := h.streams[sessionID] != st
		switch {
		case superseded:
		case err != nil:
			delete(h.streams, sessionID)
		default:
			st.live = true
		}
		h.streamMu.Unlock()

		if superseded {
			// end-stream arrived while starting
			if err == nil && h.transcoder != nil {
				if err := h.transcoder.Stop(sessionID); err != nil {
					h.log.Warn("stop transcoder", zap.String("session_id", sessionID.String()), zap.Error(err))
				}
			}
			return
		}
		if err != nil {
			h.log.Error("start stream failed", zap.String("session_id", sessionID.String()), zap.Error(err))
			h.send(c, model.ErrorMessage(ErrTextStreamFailed))
			h.broadcast(sessionID, model.Message{
				Type: model.TypeStreamError,
				Payload: model.StreamErrorEvent{
					SessionID: sessionID,
					Timestamp: h.now().UnixMilli(),
					Message:   ErrTextStreamFailed,
				},
			}, c)
			return
		}
		h.log.Info("stream started", zap.String("session_id", sessionID.String()))
		h.broadcast(sessionID, model.Message{
			Type:    model.TypeStreamStarted,
			Payload: model.StreamEvent{SessionID: sessionID, Timestamp: h.now().UnixMilli()},
		}, nil)
	}()
}

func (h *Hub) endStream(c *Conn) {
	if !h.hostOnly(c) {
		return
	}
	if !h.stopStream(c.SessionID()) {
		h.log.Debug("end-stream without a stream", zap.String("session_id", c.SessionID().String()))
	}
}

// stopStream ends a pending or running stream. It reports false when the
// session had none.
func (h *Hub) stopStream(sessionID model.ID) bool {
	h.streamMu.Lock()
	_, ok := h.streams[sessionID]
	delete(h.streams, sessionID)
	h.streamMu.Unlock()
	if ok {
		h.finishStream(sessionID)
	}
	return ok
}

// finishStream stops the transcoder in the background and announces the end.
func (h *Hub) finishStream(sessionID model.ID) {
	h.tasks.Add(1)
	go func() {
		defer h.tasks.Done()
		if h.transcoder != nil {
			if err := h.transcoder.Stop(sessionID); err != nil {
				h.log.Warn("stop transcoder", zap.String("session_id", sessionID.String()), zap.Error(err))
			}
		}
		h.log.Info("stream ended", zap.String("session_id", sessionID.String()))
		h.broadcast(sessionID, model.Message{
			Type:    model.TypeStreamEnded,
			Payload: model.StreamEvent{SessionID: sessionID, Timestamp: h.now().UnixMilli()},
		}, nil)
	}()
}

// CloseSession ends the stream of a session that was ended out of band.
func (h *Hub) CloseSession(sessionID model.ID) {
	h.stopStream(sessionID)
}

// TranscodeFailed tells the session that a transcode job died. The
// transcoder has already torn the session's jobs down, so the stream is
// forgotten and the host may start it again.
func (h *Hub) TranscodeFailed(sessionID model.ID, tier string, err error) {
	h.log.Error("transcode job failed",
		zap.String("session_id", sessionID.String()),
		zap.String("tier", tier),
		zap.Error(err))
	h.streamMu.Lock()
	delete(h.streams, sessionID)
	h.streamMu.Unlock()
	h.broadcast(sessionID, model.Message{
		Type: model.TypeStreamError,
		Payload: model.StreamErrorEvent{
			SessionID: sessionID,
			Timestamp: h.now().UnixMilli(),
			Tier:      tier,
			Message:   "Transcoding stopped unexpectedly",
		},
	}, nil)
}

// Streaming reports whether the session has a running stream.
func (h *Hub) Streaming(sessionID model.ID) bool {
	h.streamMu.Lock()
	defer h.streamMu.Unlock()
	st, ok := h.streams[sessionID]
	return ok && st.live
}

// Members returns the number of connections joined to the session.
func (h *Hub) Members(sessionID model.ID) int {
	return h.router.Count(sessionID)
}

// Stats is a point-in-time view for health endpoints.
type Stats struct {
	Connections int `json:"connections"`
	Sessions    int `json:"sessions"`
}

func (h *Hub) Stats() Stats {
	return Stats{Connections: h.registry.Len(), Sessions: len(h.router.Sessions())}
}

func (h *Hub) forgetSession(sessionID model.ID) {
	h.bwMu.Lock()
	delete(h.lastBytes, sessionID)
	h.bwMu.Unlock()
	h.recorder.ForgetSession(sessionID)
}

func (h *Hub) broadcast(sessionID model.ID, msg model.Message, exclude *Conn) {
	if _, err := h.router.Broadcast(sessionID, msg, exclude); err != nil {
		h.log.Error("broadcast", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

func (h *Hub) send(c *Conn, msg model.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal message", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}
	if !c.enqueue(data) && c.Open() {
		h.log.Warn("send buffer full, message dropped", zap.String("conn_id", c.ID))
	}
}

func (h *Hub) sendError(c *Conn, text string) {
	h.send(c, model.ErrorMessage(text))
}
