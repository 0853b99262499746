package handler

import (
	"net/http"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSOptions tune the relay WebSocket endpoint.
type WSOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteTimeout    time.Duration
}

// RelayWSHandler serves the signaling WebSocket at /ws.
type RelayWSHandler struct {
	hub      *relay.Hub
	upgrader websocket.Upgrader
	opts     WSOptions
	logger   *zap.Logger
}

// NewRelayWSHandler creates the WebSocket relay handler.
func NewRelayWSHandler(hub *relay.Hub, opts WSOptions, logger *zap.Logger) *RelayWSHandler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &RelayWSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			// Identity is the opaque user id sent in join-session; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		opts:   opts,
		logger: logger,
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *RelayWSHandler) ServeWS(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if h.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(h.opts.MaxMessageSize)
	}

	conn := h.hub.Connect(ws)
	go h.writePump(ws, conn)
	h.readPump(ws, conn)
}

func (h *RelayWSHandler) readPump(ws *websocket.Conn, conn *relay.Conn) {
	defer func() {
		h.hub.Disconnect(conn)
		_ = ws.Close()
	}()
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read error", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		h.hub.HandleMessage(conn, data)
	}
}

func (h *RelayWSHandler) writePump(ws *websocket.Conn, conn *relay.Conn) {
	defer func() {
		_ = ws.Close()
	}()
	for data := range conn.Send() {
		_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("write error", zap.String("conn_id", conn.ID), zap.Error(err))
			return
		}
	}
	_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
