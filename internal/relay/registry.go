package relay

import (
	"io"
	"sync"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
)

// Registry tracks every live connection.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Conn
	sendBuffer int
}

// NewRegistry creates a registry whose conns buffer up to sendBuffer
// outbound messages.
func NewRegistry(sendBuffer int) *Registry {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Registry{
		conns:      make(map[string]*Conn),
		sendBuffer: sendBuffer,
	}
}

// Register creates the conn for a newly accepted transport.
func (r *Registry) Register(transport io.Closer, now time.Time) *Conn {
	c := newConn(transport, r.sendBuffer, now)
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
	return c
}

// UpdateOnJoin records identity, session membership and role. Join counts
// as a sign of life for the liveness monitor. It reports false when the conn
// was removed concurrently (terminated while its join was in flight).
func (r *Registry) UpdateOnJoin(c *Conn, userID, sessionID model.ID, isHost bool, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.conns[c.ID]; !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.sessionID = sessionID
	c.role = RoleParticipant
	if isHost {
		c.role = RoleHost
	}
	c.state = StateJoined
	c.lastHeartbeat = now
	return true
}

// RecordBytes adds n to the conn's traffic counter.
func (r *Registry) RecordBytes(c *Conn, n int) {
	if n > 0 {
		c.bytes.Add(int64(n))
	}
}

// Remove drops the conn and closes its outbound queue. It reports false if
// the conn was already removed.
func (r *Registry) Remove(c *Conn) bool {
	r.mu.Lock()
	_, ok := r.conns[c.ID]
	delete(r.conns, c.ID)
	r.mu.Unlock()
	if ok {
		c.closeSend()
	}
	return ok
}

func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the current conns; callers iterate it without the lock.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
