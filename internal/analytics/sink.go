package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sink persists analytics records.
type Sink interface {
	SaveStreamConfigs(ctx context.Context, configs []model.StreamConfig) error
	SaveStreamStats(ctx context.Context, stats *model.StreamStats) error
	SaveViewerJoin(ctx context.Context, v *model.ViewerAnalytics) error
	// SaveViewerLeave closes the viewer's open row, or inserts a closed one
	// if the join was never stored.
	SaveViewerLeave(ctx context.Context, sessionID, userID string, leftAt time.Time, watchSeconds int) error
}

// GormSink is the database-backed Sink.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

func (s *GormSink) SaveStreamConfigs(ctx context.Context, configs []model.StreamConfig) error {
	if len(configs) == 0 {
		return nil
	}
	for i := range configs {
		if configs[i].ID == "" {
			configs[i].ID = uuid.NewString()
		}
	}
	return s.db.WithContext(ctx).Create(&configs).Error
}

func (s *GormSink) SaveStreamStats(ctx context.Context, stats *model.StreamStats) error {
	if stats.ID == "" {
		stats.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(stats).Error
}

func (s *GormSink) SaveViewerJoin(ctx context.Context, v *model.ViewerAnalytics) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.QualityTier == "" {
		v.QualityTier = "auto"
	}
	return s.db.WithContext(ctx).Create(v).Error
}

func (s *GormSink) SaveViewerLeave(ctx context.Context, sessionID, userID string, leftAt time.Time, watchSeconds int) error {
	db := s.db.WithContext(ctx)
	var row model.ViewerAnalytics
	err := db.Where("session_id = ? AND user_id = ? AND left_at IS NULL", sessionID, userID).
		Order("joined_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(&model.ViewerAnalytics{
			ID:                   uuid.NewString(),
			SessionID:            sessionID,
			UserID:               userID,
			WatchDurationSeconds: watchSeconds,
			QualityTier:          "auto",
			JoinedAt:             leftAt.Add(-time.Duration(watchSeconds) * time.Second),
			LeftAt:               &leftAt,
		}).Error
	}
	if err != nil {
		return err
	}
	return db.Model(&row).Updates(map[string]interface{}{
		"left_at":                leftAt,
		"watch_duration_seconds": watchSeconds,
	}).Error
}
