package model

import "time"

// SessionStatus represents live session state.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusLive      SessionStatus = "live"
	SessionStatusEnded     SessionStatus = "ended"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusScheduled, SessionStatusLive, SessionStatusEnded:
		return true
	}
	return false
}

// Session is the API view of a live session (not GORM entity).
type Session struct {
	ID          ID            `json:"id"`
	HostID      ID            `json:"host_id"`
	Title       string        `json:"title"`
	Status      SessionStatus `json:"status"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// CreateSessionRequest is the request body for POST /sessions.
type CreateSessionRequest struct {
	ID          ID         `json:"id"`
	HostID      ID         `json:"host_id" binding:"required"`
	Title       string     `json:"title"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// UpdateStatusRequest is the request body for PATCH /sessions/:id/status.
type UpdateStatusRequest struct {
	Status SessionStatus `json:"status" binding:"required"`
}

// SessionResponse is the response for session endpoints.
type SessionResponse struct {
	Session
	Members int    `json:"members"`
	WSURL   string `json:"ws_url"`
}

// Snapshot is one periodic measurement of an active session.
type Snapshot struct {
	SessionID   ID
	Viewers     int
	Bandwidth   int64
	CPUPercent  float64
	MemoryBytes uint64
	HealthScore int
	Timestamp   time.Time
}
