package service

import (
	"context"

	"gorm.io/gorm"

	"dashlink/internal/model"
)

// StreamService keeps the dashcam_streams bookkeeping rows in step with
// stream status announcements from the ingest node. Off the hot path.
type StreamService struct {
	db *gorm.DB
}

// NewStreamService creates a stream service.
func NewStreamService(db *gorm.DB) *StreamService {
	return &StreamService{db: db}
}

// Apply records a stream state change for a device channel.
func (s *StreamService) Apply(ctx context.Context, identifier string, channel int, streaming bool, codec string, width, height, fps int) error {
	now := model.Now()

	var row model.DashcamStream
	err := s.db.WithContext(ctx).
		Where("identifier = ? AND channel = ?", identifier, channel).
		First(&row).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return err
		}
		row = model.DashcamStream{Identifier: identifier, Channel: channel}
	}

	row.IsStreaming = streaming
	if streaming {
		row.StartedAt = &now
		row.EndedAt = nil
		if codec != "" {
			row.Codec = codec
			row.Width = width
			row.Height = height
			row.FPS = fps
		}
	} else {
		row.EndedAt = &now
	}

	return s.db.WithContext(ctx).Save(&row).Error
}

// Streaming returns the live stream rows for a device.
func (s *StreamService) Streaming(ctx context.Context, identifier string) ([]model.DashcamStream, error) {
	var rows []model.DashcamStream
	err := s.db.WithContext(ctx).
		Where("identifier = ? AND is_streaming = ?", identifier, true).
		Find(&rows).Error
	return rows, err
}
