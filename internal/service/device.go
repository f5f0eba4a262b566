package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"dashlink/internal/model"
)

// DeviceCatalog answers questions against the external table of authorized
// terminals. Devices absent from the catalog never appear in the system:
// registration and auth fail, heartbeats and fixes are dropped.
type DeviceCatalog struct {
	db *gorm.DB
}

// NewDeviceCatalog creates a device catalog.
func NewDeviceCatalog(db *gorm.DB) *DeviceCatalog {
	return &DeviceCatalog{db: db}
}

// Exists reports whether key matches a catalogued device by IMEI, serial
// number or phone.
func (c *DeviceCatalog) Exists(ctx context.Context, key string) bool {
	var count int64
	err := c.db.WithContext(ctx).Model(&model.Device{}).
		Where("imei = ? OR serial_number = ? OR phone = ?", key, key, key).
		Count(&count).Error
	return err == nil && count > 0
}

// Resolve translates the identifier a browser client uses (an IMEI) into
// the identifier devices register with. Unknown keys pass through
// unchanged.
func (c *DeviceCatalog) Resolve(ctx context.Context, key string) string {
	var dev model.Device
	err := c.db.WithContext(ctx).Where("imei = ?", key).First(&dev).Error
	if err != nil {
		return key
	}
	if dev.SerialNumber != "" {
		return dev.SerialNumber
	}
	return key
}

// GetByIMEI fetches one catalog row.
func (c *DeviceCatalog) GetByIMEI(ctx context.Context, imei string) (*model.Device, error) {
	var dev model.Device
	if err := c.db.WithContext(ctx).Where("imei = ?", imei).First(&dev).Error; err != nil {
		return nil, err
	}
	return &dev, nil
}

// ListDashcams returns every catalogued dashcam device.
func (c *DeviceCatalog) ListDashcams(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	if err := c.db.WithContext(ctx).Where("type = ?", "dashcam").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// ErrDeviceNotFound is returned by callers that need a typed miss.
var ErrDeviceNotFound = errors.New("service: device not found")
