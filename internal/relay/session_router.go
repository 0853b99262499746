package relay

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/errs"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"go.uber.org/zap"
)

// SessionRouter maps session ids to the conns joined to them.
type SessionRouter struct {
	mu       sync.RWMutex
	sessions map[model.ID]map[*Conn]struct{}
	memberOf map[*Conn]model.ID
	capacity int
	log      *zap.Logger
}

// NewSessionRouter creates a router that admits at most capacity members
// per session.
func NewSessionRouter(capacity int, log *zap.Logger) *SessionRouter {
	return &SessionRouter{
		sessions: make(map[model.ID]map[*Conn]struct{}),
		memberOf: make(map[*Conn]model.ID),
		capacity: capacity,
		log:      log,
	}
}

// Join adds c to the session and returns the member count. Joining the same
// session twice is a no-op; a conn already in another session is refused.
func (r *SessionRouter) Join(sessionID model.ID, c *Conn) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.memberOf[c]; ok {
		if cur == sessionID {
			return len(r.sessions[sessionID]), nil
		}
		return 0, errs.ErrAlreadyJoined
	}
	m := r.sessions[sessionID]
	if len(m) >= r.capacity {
		return len(m), errs.ErrSessionFull
	}
	if m == nil {
		m = make(map[*Conn]struct{})
		r.sessions[sessionID] = m
	}
	m[c] = struct{}{}
	r.memberOf[c] = sessionID
	return len(m), nil
}

// Leave removes c from the session and reports whether it was a member.
// The session entry is deleted with its last member.
func (r *SessionRouter) Leave(sessionID model.ID, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if _, ok := m[c]; !ok {
		return false
	}
	delete(m, c)
	delete(r.memberOf, c)
	if len(m) == 0 {
		delete(r.sessions, sessionID)
	}
	return true
}

// Broadcast marshals msg once and queues it to every open member except
// exclude. It returns the number of members the message was queued to.
func (r *SessionRouter) Broadcast(sessionID model.ID, msg any, exclude *Conn) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal broadcast: %w", err)
	}
	return r.BroadcastRaw(sessionID, data, exclude), nil
}

// BroadcastRaw queues already encoded data, see Broadcast.
func (r *SessionRouter) BroadcastRaw(sessionID model.ID, data []byte, exclude *Conn) int {
	sent := 0
	for _, c := range r.Members(sessionID) {
		if c == exclude || !c.Open() {
			continue
		}
		if c.enqueue(data) {
			sent++
		} else if c.Open() {
			r.log.Warn("send buffer full, message dropped",
				zap.String("conn_id", c.ID),
				zap.String("session_id", sessionID.String()))
		}
	}
	return sent
}

// FindHost returns the member flagged as host, or nil.
func (r *SessionRouter) FindHost(sessionID model.ID) *Conn {
	for _, c := range r.Members(sessionID) {
		if c.IsHost() {
			return c
		}
	}
	return nil
}

// Members returns a snapshot of the session's members.
func (r *SessionRouter) Members(sessionID model.ID) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.sessions[sessionID]
	out := make([]*Conn, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}

func (r *SessionRouter) Count(sessionID model.ID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// Sessions returns the ids of all sessions with at least one member.
func (r *SessionRouter) Sessions() []model.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ID, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}
