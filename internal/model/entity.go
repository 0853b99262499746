package model

import "time"

// LiveSession is the persisted session record (GORM).
type LiveSession struct {
	ID          string     `gorm:"size:64;primaryKey"`
	HostID      string     `gorm:"size:64;not null;index"`
	Title       string     `gorm:"size:255"`
	Status      string     `gorm:"size:20;not null;default:scheduled"` // scheduled, live, ended
	ScheduledAt *time.Time `gorm:"column:scheduled_at"`
	StartedAt   *time.Time `gorm:"column:started_at"`
	EndedAt     *time.Time `gorm:"column:ended_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime"`
}

func (LiveSession) TableName() string { return "live_sessions" }

// StreamConfig is the per-tier encoder configuration of a session (GORM).
type StreamConfig struct {
	ID               string    `gorm:"size:36;primaryKey"`
	SessionID        string    `gorm:"size:64;not null;index"`
	QualityTier      string    `gorm:"size:16;not null"`
	Resolution       string    `gorm:"size:16;not null"`
	Bitrate          int       `gorm:"not null"` // kbps
	Framerate        int       `gorm:"not null"`
	KeyframeInterval int       `gorm:"not null"`
	AudioBitrate     int       `gorm:"not null"` // kbps
	Enabled          bool      `gorm:"not null;default:true"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

func (StreamConfig) TableName() string { return "stream_configs" }

// StreamStats is one periodic snapshot of a session (GORM).
type StreamStats struct {
	ID             string    `gorm:"size:36;primaryKey"`
	SessionID      string    `gorm:"size:64;not null;index"`
	Timestamp      time.Time `gorm:"not null;index"`
	CurrentViewers int       `gorm:"not null"`
	PeakViewers    int       `gorm:"not null"`
	BandwidthBytes int64     `gorm:"not null"`
	CPUPercent     float64   `gorm:"column:cpu_percent;not null"`
	MemoryBytes    int64     `gorm:"not null"`
	HealthScore    int       `gorm:"not null"` // 0-100
}

func (StreamStats) TableName() string { return "stream_stats" }

// ViewerAnalytics is one viewing of a session by a user (GORM).
// LeftAt is nil while the viewer is still watching.
type ViewerAnalytics struct {
	ID                   string     `gorm:"size:36;primaryKey"`
	SessionID            string     `gorm:"size:64;not null;index"`
	UserID               string     `gorm:"size:64;not null;index"`
	WatchDurationSeconds int        `gorm:"not null;default:0"`
	QualityTier          string     `gorm:"size:16;not null;default:auto"`
	BufferingEvents      int        `gorm:"not null;default:0"`
	JoinedAt             time.Time  `gorm:"not null"`
	LeftAt               *time.Time `gorm:"column:left_at"`
}

func (ViewerAnalytics) TableName() string { return "viewer_analytics" }
