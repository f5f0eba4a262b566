package service

import (
	"context"
	"errors"
	"log"
	"math"

	"gorm.io/gorm"

	"dashlink/internal/jt808"
	"dashlink/internal/model"
)

// LocationService persists GPS fixes with deduplication. Devices report at
// a fixed cadence even when parked; storing the tenth identical row per
// minute wastes space, but the freshness of the last report still matters
// for stale-device detection, so identical fixes bump updated_at instead.
type LocationService struct {
	db *gorm.DB
}

// NewLocationService creates a location service.
func NewLocationService(db *gorm.DB) *LocationService {
	return &LocationService{db: db}
}

// Save writes a fix for the device: INSERT when it differs from the latest
// persisted row in any of lat/lon/speed/heading/altitude, otherwise an
// UPDATE of updated_at on that row.
func (s *LocationService) Save(ctx context.Context, identifier string, loc *jt808.Location) error {
	var latest model.DashcamLocation
	err := s.db.WithContext(ctx).
		Where("identifier = ?", identifier).
		Order("created_at DESC").
		First(&latest).Error

	if err == nil && locationsEqual(&latest, loc) {
		return s.db.WithContext(ctx).Model(&model.DashcamLocation{}).
			Where("id = ?", latest.ID).
			Update("updated_at", model.Now()).Error
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	row := model.DashcamLocation{
		Identifier:  identifier,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		Altitude:    loc.Altitude,
		Speed:       loc.Speed,
		Direction:   int(loc.Direction),
		AlarmFlags:  int64(loc.AlarmFlags),
		StatusFlags: int64(loc.StatusFlags),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// Latest returns the newest fix for a device.
func (s *LocationService) Latest(ctx context.Context, identifier string) (*model.DashcamLocation, error) {
	var row model.DashcamLocation
	if err := s.db.WithContext(ctx).
		Where("identifier = ?", identifier).
		Order("created_at DESC").
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// History returns up to limit fixes for a device, newest first.
func (s *LocationService) History(ctx context.Context, identifier string, limit int) ([]model.DashcamLocation, error) {
	var rows []model.DashcamLocation
	q := s.db.WithContext(ctx).
		Where("identifier = ?", identifier).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// locationsEqual is the dedup comparison: coordinates within one
// micro-degree, speed within 0.1 km/h, heading and altitude as integers.
func locationsEqual(latest *model.DashcamLocation, loc *jt808.Location) bool {
	return math.Abs(latest.Latitude-loc.Latitude) < 1e-6 &&
		math.Abs(latest.Longitude-loc.Longitude) < 1e-6 &&
		math.Abs(latest.Speed-loc.Speed) < 0.1 &&
		latest.Direction == int(loc.Direction) &&
		latest.Altitude == loc.Altitude
}

// LogSaveError is the drop policy for the hot path: a database failure is
// logged and the fix discarded, never letting the socket reader block.
func LogSaveError(identifier string, err error) {
	if err != nil {
		log.Printf("[Location] Failed to save fix for %s: %v", identifier, err)
	}
}
