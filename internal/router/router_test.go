package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/analytics"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/database"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/handler"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/relay"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	url string
	hub *relay.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	rec := analytics.NewRecorder(analytics.NewGormSink(db), 64, log)
	go rec.Run()

	sessions := service.NewSessionService(db, nil)
	hub := relay.NewHub(relay.Options{}, sessions, nil, rec, log)
	sessions.SetCloser(hub)

	h := New(
		handler.NewSessionHandler(sessions, hub, ""),
		handler.NewRelayWSHandler(hub, handler.WSOptions{MaxMessageSize: 65536}, log),
		handler.NewHealthHandler(hub, nil),
	)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rec.Close(ctx)
	})
	return &testServer{url: srv.URL, hub: hub}
}

func (s *testServer) request(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.url+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, raw string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, ws *websocket.Conn) model.Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRelayEndToEnd(t *testing.T) {
	s := newTestServer(t)

	if resp := s.request(t, http.MethodPost, "/sessions", `{"id":42,"host_id":1,"title":"Cask strength"}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}

	host := s.dial(t)
	send(t, host, `{"type":"join-session","payload":{"userId":1,"sessionId":42}}`)
	if env := read(t, host); env.Type != model.TypeError || string(env.Payload) != `"Session not found or not live"` {
		t.Fatalf("Expected join of scheduled session rejected, got %s %s", env.Type, env.Payload)
	}

	if resp := s.request(t, http.MethodPatch, "/sessions/42/status", `{"status":"live"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	send(t, host, `{"type":"join-session","payload":{"userId":1,"sessionId":42}}`)
	waitFor(t, func() bool { return s.hub.Members("42") == 1 })

	viewer := s.dial(t)
	send(t, viewer, `{"type":"join-session","payload":{"userId":"2","sessionId":"42"}}`)

	if env := read(t, host); env.Type != model.TypeUserJoined || string(env.Payload) != `{"userId":2}` {
		t.Errorf("Expected user-joined{2}, got %s %s", env.Type, env.Payload)
	}
	if env := read(t, host); env.Type != model.TypeRequestOffer || string(env.Payload) != `{"userId":2}` {
		t.Errorf("Expected request-offer{2}, got %s %s", env.Type, env.Payload)
	}

	resp := s.request(t, http.MethodGet, "/sessions/42", "")
	var got model.SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Members != 2 || got.Status != model.SessionStatusLive || got.WSURL != "/ws" {
		t.Errorf("Unexpected session response %+v", got)
	}

	offer := `{"type":"offer","payload":{"userId":2,"sdp":"v=0"}}`
	send(t, host, offer)
	_ = viewer.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := viewer.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != offer {
		t.Errorf("Expected offer relayed verbatim, got %s", data)
	}

	send(t, host, `{"type":"start-stream","payload":{"streamUrl":"rtmp://ingest/live/42"}}`)
	for _, ws := range []*websocket.Conn{host, viewer} {
		if env := read(t, ws); env.Type != model.TypeStreamStarted {
			t.Errorf("Expected stream-started, got %s", env.Type)
		}
	}

	if resp := s.request(t, http.MethodPatch, "/sessions/42/status", `{"status":"ended"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	for _, ws := range []*websocket.Conn{host, viewer} {
		if env := read(t, ws); env.Type != model.TypeStreamEnded {
			t.Errorf("Expected stream-ended, got %s", env.Type)
		}
	}

	viewer.Close()
	if env := read(t, host); env.Type != model.TypeUserLeft || string(env.Payload) != `{"userId":2}` {
		t.Errorf("Expected user-left{2}, got %s %s", env.Type, env.Payload)
	}
	waitFor(t, func() bool { return s.hub.Stats().Connections == 1 })
}

func TestHealthRoute(t *testing.T) {
	s := newTestServer(t)
	s.dial(t)
	waitFor(t, func() bool { return s.hub.Stats().Connections == 1 })

	resp := s.request(t, http.MethodGet, "/health", "")
	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Connections != 1 {
		t.Errorf("Unexpected health %+v", body)
	}
	if resp := s.request(t, http.MethodGet, "/ready", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected ready, got %d", resp.StatusCode)
	}
}
