package jt808

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

var (
	ErrBodyTooShort = errors.New("jt808: message body too short")
)

// Registration is the decoded body of a terminal registration (0x0100).
type Registration struct {
	ProvinceID   uint16
	CityID       uint16
	Manufacturer string
	Model        string
	TerminalID   string
	PlateColor   byte
	Plate        string
}

// ParseRegistration decodes a 0x0100 body: province(2) + city(2) +
// manufacturer(5) + model(20) + terminal id(7) + plate color(1) + plate(var).
func ParseRegistration(body []byte) (*Registration, error) {
	if len(body) < 37 {
		return nil, ErrBodyTooShort
	}
	reg := &Registration{
		ProvinceID:   binary.BigEndian.Uint16(body[0:2]),
		CityID:       binary.BigEndian.Uint16(body[2:4]),
		Manufacturer: trimPadding(body[4:9]),
		Model:        trimPadding(body[9:29]),
		TerminalID:   trimPadding(body[29:36]),
		PlateColor:   body[36],
	}
	if len(body) > 37 {
		reg.Plate = trimPadding(body[37:])
	}
	return reg, nil
}

// ParseAuthCode decodes a 0x0102 body, which is the ASCII auth code the
// device was issued at registration.
func ParseAuthCode(body []byte) string {
	return trimPadding(body)
}

// Location is the decoded body of a location report (0x0200).
type Location struct {
	AlarmFlags  uint32
	StatusFlags uint32
	Latitude    float64
	Longitude   float64
	Altitude    int16
	Speed       float64
	Direction   uint16
	Time        time.Time

	// TLV extras appended after the fixed 28 bytes.
	Mileage        float64 // km
	Fuel           float64 // L
	SensorSpeed    float64 // km/h
	SignalStrength uint8
	HasMileage     bool
	HasFuel        bool
	HasSensorSpeed bool
	HasSignal      bool
}

// ACC reports status bit 0 (ignition).
func (l *Location) ACC() bool { return l.StatusFlags&0x01 != 0 }

// Positioned reports status bit 1 (fix valid).
func (l *Location) Positioned() bool { return l.StatusFlags&0x02 != 0 }

// ParseLocation decodes a 0x0200 body. Latitude and longitude arrive as
// unsigned 10^-6 degree integers; the sign lives in status bits 2 (south)
// and 3 (west). The BCD timestamp is interpreted in loc; an unparseable
// timestamp falls back to wall-clock time rather than dropping the fix.
func ParseLocation(body []byte, loc *time.Location) (*Location, error) {
	if len(body) < 28 {
		return nil, ErrBodyTooShort
	}

	l := &Location{
		AlarmFlags:  binary.BigEndian.Uint32(body[0:4]),
		StatusFlags: binary.BigEndian.Uint32(body[4:8]),
		Latitude:    float64(binary.BigEndian.Uint32(body[8:12])) / 1e6,
		Longitude:   float64(binary.BigEndian.Uint32(body[12:16])) / 1e6,
		Altitude:    int16(binary.BigEndian.Uint16(body[16:18])),
		Speed:       float64(binary.BigEndian.Uint16(body[18:20])) / 10.0,
		Direction:   binary.BigEndian.Uint16(body[20:22]),
		Time:        ParseTimeBCD(body[22:28], loc),
	}

	// Status bit 2: south latitude. Bit 3: west longitude.
	if l.StatusFlags&0x04 != 0 {
		l.Latitude = -l.Latitude
	}
	if l.StatusFlags&0x08 != 0 {
		l.Longitude = -l.Longitude
	}

	if len(body) > 28 {
		l.parseExtras(body[28:])
	}
	return l, nil
}

func (l *Location) parseExtras(data []byte) {
	for len(data) >= 2 {
		id := data[0]
		length := int(data[1])
		if len(data) < 2+length {
			return
		}
		value := data[2 : 2+length]

		switch id {
		case 0x01: // mileage, 0.1 km
			if length >= 4 {
				l.Mileage = float64(binary.BigEndian.Uint32(value[0:4])) / 10.0
				l.HasMileage = true
			}
		case 0x02: // fuel, 0.1 L
			if length >= 2 {
				l.Fuel = float64(binary.BigEndian.Uint16(value[0:2])) / 10.0
				l.HasFuel = true
			}
		case 0x03: // speed from sensor, 0.1 km/h
			if length >= 2 {
				l.SensorSpeed = float64(binary.BigEndian.Uint16(value[0:2])) / 10.0
				l.HasSensorSpeed = true
			}
		case 0x25: // signal strength
			if length >= 1 {
				l.SignalStrength = value[0]
				l.HasSignal = true
			}
		}

		data = data[2+length:]
	}
}

func trimPadding(b []byte) string {
	b = bytes.TrimRight(b, "\x00")
	b = bytes.TrimLeft(b, "\x00")
	return string(bytes.TrimSpace(b))
}
