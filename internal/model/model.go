// Package model holds the GORM models shared by the ingest node and the
// API gateway, plus the fixed project timezone every persisted timestamp
// uses.
package model

import "time"

// ProjectZone is the fixed display/persistence offset for the fleet
// (UTC+05:45). Timestamps are written and surfaced in this zone so the
// database, the API and the admin screens all agree.
var ProjectZone = time.FixedZone("NPT", 5*3600+45*60)

// Now returns the current time in the project zone.
func Now() time.Time {
	return time.Now().In(ProjectZone)
}

// Device is the external catalog of authorized terminals. Only devices
// present here may register; everything else is rejected or ignored.
type Device struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	IMEI         string    `json:"imei" gorm:"uniqueIndex;size:15"`
	SerialNumber string    `json:"serial_number" gorm:"index;size:32"`
	Phone        string    `json:"phone" gorm:"size:20"`
	SIM          string    `json:"sim" gorm:"size:20"`
	Protocol     string    `json:"protocol" gorm:"size:20"` // JT808
	Model        string    `json:"model" gorm:"size:50"`
	Type         string    `json:"type" gorm:"size:20"` // dashcam
	ICCID        string    `json:"iccid" gorm:"size:32"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DashcamConnection mirrors an ingest-node session for cross-process
// visibility. The in-memory registry on the ingest node is authoritative;
// this row is its eventually-consistent replica.
type DashcamConnection struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	Identifier     string     `json:"identifier" gorm:"uniqueIndex;size:32"`
	Phone          string     `json:"phone" gorm:"size:20"`
	AuthCode       string     `json:"auth_code" gorm:"size:32"`
	IsConnected    bool       `json:"is_connected" gorm:"index"`
	LastHeartbeat  *time.Time `json:"last_heartbeat"`
	ConnectedAt    *time.Time `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at"`
	PeerIP         string     `json:"peer_ip" gorm:"size:45"`
	PeerPort       int        `json:"peer_port"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DashcamLocation is one deduplicated GPS fix. Successive rows for a device
// differ in at least one of lat/lon/speed/heading/altitude; an identical
// report only bumps UpdatedAt on the newest row.
type DashcamLocation struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Identifier  string    `json:"identifier" gorm:"index:idx_loc_ident_created,priority:1;size:32"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Altitude    int16     `json:"altitude"`
	Speed       float64   `json:"speed"`
	Direction   int       `json:"direction"`
	AlarmFlags  int64     `json:"alarm_flags"`
	StatusFlags int64     `json:"status_flags"`
	CreatedAt   time.Time `json:"created_at" gorm:"index:idx_loc_ident_created,priority:2,sort:desc"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DashcamStatus keeps device health off the hot path: battery, signal,
// recording and camera state.
type DashcamStatus struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Identifier  string    `json:"identifier" gorm:"index;size:32"`
	Battery     int       `json:"battery"`
	Signal      int       `json:"signal"`
	Recording   bool      `json:"recording"`
	SDStatus    string    `json:"sd_status" gorm:"size:20;default:unknown"`
	FrontCamera bool      `json:"front_camera" gorm:"default:true"`
	RearCamera  bool      `json:"rear_camera" gorm:"default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DashcamStream is bookkeeping for live streaming sessions: which channel
// is up, what the transmuxer negotiated, when it started and stopped.
type DashcamStream struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Identifier  string     `json:"identifier" gorm:"index:idx_stream_ident_ch,priority:1;size:32"`
	Channel     int        `json:"channel" gorm:"index:idx_stream_ident_ch,priority:2;default:1"`
	IsStreaming bool       `json:"is_streaming"`
	Codec       string     `json:"codec" gorm:"size:20;default:avc1.640028"`
	Width       int        `json:"width" gorm:"default:1280"`
	Height      int        `json:"height" gorm:"default:720"`
	FPS         int        `json:"fps" gorm:"default:25"`
	StartedAt   *time.Time `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Device{},
		&DashcamConnection{},
		&DashcamLocation{},
		&DashcamStatus{},
		&DashcamStream{},
	}
}
