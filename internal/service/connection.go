package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"dashlink/internal/model"
)

// presenceTTL bounds how long a Redis presence key outlives its last
// heartbeat. Devices heartbeat every 30-60 s.
const presenceTTL = 300 * time.Second

func presenceKey(identifier string) string {
	return "dashcam:sess:" + identifier
}

// ConnectionService maintains the persisted connection rows and the Redis
// presence keys that mirror ingest-node sessions for other processes. The
// in-memory registry stays authoritative; these are replicas.
type ConnectionService struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewConnectionService creates a connection service.
func NewConnectionService(db *gorm.DB, redisClient *redis.Client) *ConnectionService {
	return &ConnectionService{db: db, redis: redisClient}
}

// MarkRegistered upserts the connection row at login and plants the
// presence key.
func (s *ConnectionService) MarkRegistered(ctx context.Context, identifier, phone, authCode, peerIP string, peerPort int) error {
	now := model.Now()
	updates := map[string]interface{}{
		"phone":          phone,
		"auth_code":      authCode,
		"is_connected":   true,
		"connected_at":   now,
		"last_heartbeat": now,
		"peer_ip":        peerIP,
		"peer_port":      peerPort,
	}

	res := s.db.WithContext(ctx).Model(&model.DashcamConnection{}).
		Where("identifier = ?", identifier).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		conn := model.DashcamConnection{
			Identifier:    identifier,
			Phone:         phone,
			AuthCode:      authCode,
			IsConnected:   true,
			ConnectedAt:   &now,
			LastHeartbeat: &now,
			PeerIP:        peerIP,
			PeerPort:      peerPort,
		}
		if err := s.db.WithContext(ctx).Create(&conn).Error; err != nil {
			return err
		}
	}

	s.setPresence(ctx, identifier, fmt.Sprintf("%s:%d", peerIP, peerPort))
	return nil
}

// MarkAuthenticated flips the row connected after a successful 0x0102.
func (s *ConnectionService) MarkAuthenticated(ctx context.Context, identifier string) error {
	now := model.Now()
	return s.db.WithContext(ctx).Model(&model.DashcamConnection{}).
		Where("identifier = ?", identifier).
		Updates(map[string]interface{}{
			"is_connected":   true,
			"last_heartbeat": now,
		}).Error
}

// TouchHeartbeat advances last_heartbeat and refreshes the presence TTL.
func (s *ConnectionService) TouchHeartbeat(ctx context.Context, identifier string) error {
	err := s.db.WithContext(ctx).Model(&model.DashcamConnection{}).
		Where("identifier = ?", identifier).
		Updates(map[string]interface{}{
			"is_connected":   true,
			"last_heartbeat": model.Now(),
		}).Error

	if s.redis != nil {
		if e := s.redis.Expire(ctx, presenceKey(identifier), presenceTTL).Err(); e != nil {
			log.Printf("[Connection] Presence refresh failed for %s: %v", identifier, e)
		}
	}
	return err
}

// MarkDisconnected flips the row on teardown and clears the presence key.
func (s *ConnectionService) MarkDisconnected(ctx context.Context, identifier string) error {
	now := model.Now()
	err := s.db.WithContext(ctx).Model(&model.DashcamConnection{}).
		Where("identifier = ?", identifier).
		Updates(map[string]interface{}{
			"is_connected":    false,
			"disconnected_at": now,
		}).Error

	if s.redis != nil {
		if e := s.redis.Del(ctx, presenceKey(identifier)).Err(); e != nil {
			log.Printf("[Connection] Presence delete failed for %s: %v", identifier, e)
		}
	}
	return err
}

// Get fetches one connection row.
func (s *ConnectionService) Get(ctx context.Context, identifier string) (*model.DashcamConnection, error) {
	var conn model.DashcamConnection
	if err := s.db.WithContext(ctx).Where("identifier = ?", identifier).First(&conn).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

// ListConnected returns every row currently flagged connected.
func (s *ConnectionService) ListConnected(ctx context.Context) ([]model.DashcamConnection, error) {
	var conns []model.DashcamConnection
	err := s.db.WithContext(ctx).Where("is_connected = ?", true).Find(&conns).Error
	return conns, err
}

// IsPresent checks the Redis presence key; a live key means the ingest node
// refreshed it within the TTL even if the DB row lags.
func (s *ConnectionService) IsPresent(ctx context.Context, identifier string) bool {
	if s.redis == nil {
		return false
	}
	n, err := s.redis.Exists(ctx, presenceKey(identifier)).Result()
	return err == nil && n > 0
}

func (s *ConnectionService) setPresence(ctx context.Context, identifier, value string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, presenceKey(identifier), value, presenceTTL).Err(); err != nil {
		log.Printf("[Connection] Presence set failed for %s: %v", identifier, err)
	}
}
