package handler

import (
	"errors"
	"net/http"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/errs"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/service"
	"github.com/gin-gonic/gin"
)

// MemberCounter reports how many connections are joined to a session.
type MemberCounter interface {
	Members(sessionID model.ID) int
}

// SessionHandler handles REST API for sessions.
type SessionHandler struct {
	svc     service.SessionServicer
	members MemberCounter
	cfg     *service.WSConfig
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(svc service.SessionServicer, members MemberCounter, wsBaseURL string) *SessionHandler {
	return &SessionHandler{
		svc:     svc,
		members: members,
		cfg:     &service.WSConfig{BaseURL: wsBaseURL},
	}
}

// CreateSession godoc
// POST /sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	sess, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, errs.ErrSessionExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "session already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusCreated, h.response(sess))
}

// GetSession godoc
// GET /sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, err := h.svc.Get(c.Request.Context(), model.ID(c.Param("id")))
	if err != nil {
		h.writeError(c, err, "failed to get session")
		return
	}
	c.JSON(http.StatusOK, h.response(sess))
}

// UpdateStatus godoc
// PATCH /sessions/:id/status
func (h *SessionHandler) UpdateStatus(c *gin.Context) {
	var req model.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	sess, err := h.svc.UpdateStatus(c.Request.Context(), model.ID(c.Param("id")), req.Status)
	if err != nil {
		h.writeError(c, err, "failed to update session")
		return
	}
	c.JSON(http.StatusOK, h.response(sess))
}

func (h *SessionHandler) response(sess *model.Session) model.SessionResponse {
	return model.SessionResponse{
		Session: *sess,
		Members: h.members.Members(sess.ID),
		WSURL:   h.cfg.WSURL(),
	}
}

func (h *SessionHandler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, errs.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, errs.ErrInvalidStatus):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
