package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/errs"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"go.uber.org/zap/zaptest"
)

type fakeSessions struct {
	sessions map[model.ID]*model.Session
}

func (f *fakeSessions) ValidateSession(_ context.Context, id model.ID) (*model.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, errs.ErrSessionNotFound
	}
	if s.Status != model.SessionStatusLive {
		return nil, errs.ErrSessionNotLive
	}
	return s, nil
}

type fakeTranscoder struct {
	mu       sync.Mutex
	started  map[model.ID]string
	stopped  []model.ID
	startErr error
	health   int
	gate     chan struct{} // Start blocks until closed when set
}

func (f *fakeTranscoder) Start(_ context.Context, id model.ID, input string) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started[id] = input
	return nil
}

func (f *fakeTranscoder) Stop(id model.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	delete(f.started, id)
	return nil
}

func (f *fakeTranscoder) Health(model.ID) int { return f.health }

func (f *fakeTranscoder) input(id model.ID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.started[id]
	return in, ok
}

func (f *fakeTranscoder) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stopped)
}

type leaveRecord struct {
	sessionID, userID model.ID
	watch             time.Duration
}

type fakeRecorder struct {
	mu        sync.Mutex
	joins     []model.ID
	leaves    []leaveRecord
	snapshots []model.Snapshot
	forgotten []model.ID
}

func (f *fakeRecorder) RecordJoin(_, userID model.ID) {
	f.mu.Lock()
	f.joins = append(f.joins, userID)
	f.mu.Unlock()
}

func (f *fakeRecorder) RecordLeave(sessionID, userID model.ID, watch time.Duration) {
	f.mu.Lock()
	f.leaves = append(f.leaves, leaveRecord{sessionID, userID, watch})
	f.mu.Unlock()
}

func (f *fakeRecorder) RecordSnapshot(s model.Snapshot) {
	f.mu.Lock()
	f.snapshots = append(f.snapshots, s)
	f.mu.Unlock()
}

func (f *fakeRecorder) ForgetSession(id model.ID) {
	f.mu.Lock()
	f.forgotten = append(f.forgotten, id)
	f.mu.Unlock()
}

func (f *fakeRecorder) leaveRecords() []leaveRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]leaveRecord(nil), f.leaves...)
}

type fakeTransport struct {
	closed atomic.Int32
}

func (f *fakeTransport) Close() error {
	f.closed.Add(1)
	return nil
}

// testClock is a settable clock for the hub.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type hubFixture struct {
	hub        *Hub
	transcoder *fakeTranscoder
	recorder   *fakeRecorder
	clock      *testClock
}

func newHubFixture(t *testing.T, opts Options) *hubFixture {
	t.Helper()
	if opts.SendBuffer == 0 {
		opts.SendBuffer = 512
	}
	sessions := &fakeSessions{sessions: map[model.ID]*model.Session{
		"42": {ID: "42", HostID: "1", Status: model.SessionStatusLive},
		"43": {ID: "43", HostID: "1", Status: model.SessionStatusScheduled},
		"44": {ID: "44", HostID: "9", Status: model.SessionStatusLive},
	}}
	f := &hubFixture{
		transcoder: &fakeTranscoder{started: make(map[model.ID]string), health: 100},
		recorder:   &fakeRecorder{},
		clock:      &testClock{now: time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)},
	}
	f.hub = NewHub(opts, sessions, f.transcoder, f.recorder, zaptest.NewLogger(t))
	f.hub.now = f.clock.Now
	t.Cleanup(f.hub.tasks.Wait)
	return f
}

func encode(t *testing.T, typ model.MessageType, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(model.Message{Type: typ, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// join connects a new conn and joins it, discarding what it received.
func (f *hubFixture) join(t *testing.T, userID, sessionID model.ID) *Conn {
	t.Helper()
	c := f.hub.Connect(&fakeTransport{})
	f.hub.HandleMessage(c, encode(t, model.TypeJoinSession, model.JoinSessionPayload{UserID: userID, SessionID: sessionID}))
	if c.State() != StateJoined {
		t.Fatalf("join %s/%s failed: %v", userID, sessionID, drain(c))
	}
	drain(c)
	return c
}

type received struct {
	Type    model.MessageType
	Payload json.RawMessage
	Raw     []byte
}

// drain returns everything currently queued on c.
func drain(c *Conn) []received {
	var out []received
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, decode(data))
		default:
			return out
		}
	}
}

// next waits for the next message on c.
func next(t *testing.T, c *Conn) received {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("send queue closed")
		}
		return decode(data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return received{}
}

func decode(data []byte) received {
	var env model.Envelope
	_ = json.Unmarshal(data, &env)
	return received{Type: env.Type, Payload: env.Payload, Raw: data}
}

func errorText(t *testing.T, r received) string {
	t.Helper()
	if r.Type != model.TypeError {
		t.Fatalf("Expected error message, got %s", r.Type)
	}
	var s string
	if err := json.Unmarshal(r.Payload, &s); err != nil {
		t.Fatalf("error payload is not a string: %s", r.Payload)
	}
	return s
}

func userOf(t *testing.T, r received) model.ID {
	t.Helper()
	var ev model.UserEvent
	if err := json.Unmarshal(r.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	return ev.UserID
}
