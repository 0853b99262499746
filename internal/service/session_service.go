package service

import (
	"context"
	"errors"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/errs"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionServicer is the session API used by handlers.
type SessionServicer interface {
	Create(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error)
	Get(ctx context.Context, sessionID model.ID) (*model.Session, error)
	UpdateStatus(ctx context.Context, sessionID model.ID, status model.SessionStatus) (*model.Session, error)
}

// SessionCloser is notified when a session ends so live members stop
// streaming.
type SessionCloser interface {
	CloseSession(sessionID model.ID)
}

// SessionService manages live session records.
type SessionService struct {
	db     *gorm.DB
	closer SessionCloser
	now    func() time.Time
}

// NewSessionService creates a session service. closer may be nil.
func NewSessionService(db *gorm.DB, closer SessionCloser) *SessionService {
	return &SessionService{db: db, closer: closer, now: time.Now}
}

// SetCloser sets the session closer after construction.
func (s *SessionService) SetCloser(closer SessionCloser) {
	s.closer = closer
}

// Create schedules a new session. An id is generated when none is given.
func (s *SessionService) Create(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error) {
	id := req.ID.String()
	if id == "" {
		id = uuid.New().String()
	} else {
		var n int64
		if err := s.db.WithContext(ctx).Model(&model.LiveSession{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, errs.ErrSessionExists
		}
	}
	ent := &model.LiveSession{
		ID:          id,
		HostID:      req.HostID.String(),
		Title:       req.Title,
		Status:      string(model.SessionStatusScheduled),
		ScheduledAt: req.ScheduledAt,
	}
	if err := s.db.WithContext(ctx).Create(ent).Error; err != nil {
		return nil, err
	}
	return entityToSession(ent), nil
}

// Get returns a session by ID.
func (s *SessionService) Get(ctx context.Context, sessionID model.ID) (*model.Session, error) {
	ent, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return entityToSession(ent), nil
}

// ValidateSession returns the session if it exists and is live.
func (s *SessionService) ValidateSession(ctx context.Context, sessionID model.ID) (*model.Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusLive {
		return nil, errs.ErrSessionNotLive
	}
	return sess, nil
}

// UpdateStatus moves a session to status. Ended is final; ending a session
// stops its stream.
func (s *SessionService) UpdateStatus(ctx context.Context, sessionID model.ID, status model.SessionStatus) (*model.Session, error) {
	if !status.Valid() {
		return nil, errs.ErrInvalidStatus
	}
	ent, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	current := model.SessionStatus(ent.Status)
	if current == status {
		return entityToSession(ent), nil
	}
	if current == model.SessionStatusEnded {
		return nil, errs.ErrInvalidStatus
	}

	now := s.now()
	updates := map[string]interface{}{"status": string(status)}
	switch status {
	case model.SessionStatusLive:
		if ent.StartedAt == nil {
			updates["started_at"] = now
		}
	case model.SessionStatusEnded:
		updates["ended_at"] = now
	}
	if err := s.db.WithContext(ctx).Model(ent).Updates(updates).Error; err != nil {
		return nil, err
	}
	if status == model.SessionStatusEnded && s.closer != nil {
		s.closer.CloseSession(sessionID)
	}
	return s.Get(ctx, sessionID)
}

func (s *SessionService) find(ctx context.Context, sessionID model.ID) (*model.LiveSession, error) {
	var ent model.LiveSession
	if err := s.db.WithContext(ctx).Where("id = ?", sessionID.String()).First(&ent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrSessionNotFound
		}
		return nil, err
	}
	return &ent, nil
}

func entityToSession(ent *model.LiveSession) *model.Session {
	return &model.Session{
		ID:          model.ID(ent.ID),
		HostID:      model.ID(ent.HostID),
		Title:       ent.Title,
		Status:      model.SessionStatus(ent.Status),
		ScheduledAt: ent.ScheduledAt,
		StartedAt:   ent.StartedAt,
		EndedAt:     ent.EndedAt,
		CreatedAt:   ent.CreatedAt,
	}
}
