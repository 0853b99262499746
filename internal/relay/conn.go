package relay

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"github.com/google/uuid"
)

// Role of a joined connection within its session.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleHost        Role = "host"
)

// State of a connection in the signaling protocol.
type State int

const (
	StateUnjoined State = iota
	StateJoined
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	}
	return "unjoined"
}

// Conn is one accepted transport connection. The transport's writer drains
// Send(); closing the transport ends the reader, which disconnects the conn.
type Conn struct {
	ID          string
	ConnectedAt time.Time

	transport io.Closer
	send      chan []byte
	bytes     atomic.Int64

	mu            sync.Mutex
	userID        model.ID
	sessionID     model.ID
	role          Role
	state         State
	lastHeartbeat time.Time
	closed        bool
}

func newConn(transport io.Closer, sendBuffer int, now time.Time) *Conn {
	return &Conn{
		ID:          uuid.NewString(),
		ConnectedAt: now,
		transport:   transport,
		send:        make(chan []byte, sendBuffer),
		role:        RoleParticipant,
	}
}

// Send is the outbound queue. It is closed when the conn is removed.
func (c *Conn) Send() <-chan []byte { return c.send }

// enqueue queues data without blocking. It reports false when the conn is
// closed or its buffer is full.
func (c *Conn) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		c.bytes.Add(int64(len(data)))
		return true
	default:
		return false
	}
}

func (c *Conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// terminate closes the underlying transport.
func (c *Conn) terminate() error {
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

// Open reports whether the conn still accepts outbound messages.
func (c *Conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Conn) UserID() model.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) SessionID() model.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conn) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Conn) IsHost() bool { return c.Role() == RoleHost }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastHeartbeat is zero until the first heartbeat or join.
func (c *Conn) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// BytesTransferred counts inbound and outbound message bytes.
func (c *Conn) BytesTransferred() int64 { return c.bytes.Load() }

func (c *Conn) touch(now time.Time) {
	c.mu.Lock()
	c.lastHeartbeat = now
	c.mu.Unlock()
}

// membership is what a conn was joined to before it left.
type membership struct {
	sessionID model.ID
	userID    model.ID
	host      bool
}

// clearJoin moves a joined conn to left and returns its former membership.
func (c *Conn) clearJoin() (membership, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateJoined {
		return membership{}, false
	}
	m := membership{sessionID: c.sessionID, userID: c.userID, host: c.role == RoleHost}
	c.state = StateLeft
	c.sessionID = ""
	c.role = RoleParticipant
	return m, true
}
