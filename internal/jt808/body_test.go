package jt808

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func locationBody(alarm, status uint32, lat, lon uint32, alt uint16, speed, dir uint16, ts []byte) []byte {
	body := make([]byte, 0, 28)
	body = binary.BigEndian.AppendUint32(body, alarm)
	body = binary.BigEndian.AppendUint32(body, status)
	body = binary.BigEndian.AppendUint32(body, lat)
	body = binary.BigEndian.AppendUint32(body, lon)
	body = binary.BigEndian.AppendUint16(body, alt)
	body = binary.BigEndian.AppendUint16(body, speed)
	body = binary.BigEndian.AppendUint16(body, dir)
	body = append(body, ts...)
	return body
}

func TestParseLocation(t *testing.T) {
	ts := EncodeBCD("250314092653", 6)
	body := locationBody(0, 0x03, 27717500, 85324000, 1320, 0, 90, ts)

	loc, err := ParseLocation(body, time.UTC)
	if err != nil {
		t.Fatalf("ParseLocation: %v", err)
	}
	if math.Abs(loc.Latitude-27.7175) > 1e-9 {
		t.Errorf("lat = %v", loc.Latitude)
	}
	if math.Abs(loc.Longitude-85.324) > 1e-9 {
		t.Errorf("lon = %v", loc.Longitude)
	}
	if loc.Altitude != 1320 {
		t.Errorf("alt = %d", loc.Altitude)
	}
	if loc.Speed != 0 {
		t.Errorf("speed = %v", loc.Speed)
	}
	if loc.Direction != 90 {
		t.Errorf("dir = %d", loc.Direction)
	}
	if !loc.ACC() || !loc.Positioned() {
		t.Errorf("status bits: acc=%v positioned=%v", loc.ACC(), loc.Positioned())
	}
	want := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	if !loc.Time.Equal(want) {
		t.Errorf("time = %v, want %v", loc.Time, want)
	}
}

func TestParseLocationSigns(t *testing.T) {
	ts := EncodeBCD("250101000000", 6)
	// Bit 2 set (south), bit 3 clear (east): negative latitude, positive
	// longitude with magnitudes equal to the raw field over 10^6.
	body := locationBody(0, 0x04, 27717500, 85324000, 0, 0, 0, ts)
	loc, err := ParseLocation(body, time.UTC)
	if err != nil {
		t.Fatalf("ParseLocation: %v", err)
	}
	if math.Abs(loc.Latitude+27.7175) > 1e-9 {
		t.Errorf("lat = %v, want -27.7175", loc.Latitude)
	}
	if math.Abs(loc.Longitude-85.324) > 1e-9 {
		t.Errorf("lon = %v, want 85.324", loc.Longitude)
	}

	// Bit 3 set (west).
	body = locationBody(0, 0x08, 27717500, 85324000, 0, 0, 0, ts)
	loc, err = ParseLocation(body, time.UTC)
	if err != nil {
		t.Fatalf("ParseLocation: %v", err)
	}
	if loc.Latitude < 0 || loc.Longitude > 0 {
		t.Errorf("lat = %v lon = %v", loc.Latitude, loc.Longitude)
	}
}

func TestParseLocationSpeedScaling(t *testing.T) {
	ts := EncodeBCD("250101000000", 6)
	body := locationBody(0, 0, 0, 0, 0, 728, 0, ts) // 72.8 km/h
	loc, err := ParseLocation(body, time.UTC)
	if err != nil {
		t.Fatalf("ParseLocation: %v", err)
	}
	if math.Abs(loc.Speed-72.8) > 1e-9 {
		t.Errorf("speed = %v, want 72.8", loc.Speed)
	}
}

func TestParseLocationExtras(t *testing.T) {
	ts := EncodeBCD("250101000000", 6)
	body := locationBody(0, 0, 1000000, 2000000, 0, 0, 0, ts)
	// Mileage 1234.5 km, fuel 43.2 L, signal 27.
	body = append(body, 0x01, 4, 0x00, 0x00, 0x30, 0x39) // 12345
	body = append(body, 0x02, 2, 0x01, 0xB0)             // 432
	body = append(body, 0x25, 1, 27)

	loc, err := ParseLocation(body, time.UTC)
	if err != nil {
		t.Fatalf("ParseLocation: %v", err)
	}
	if !loc.HasMileage || math.Abs(loc.Mileage-1234.5) > 1e-9 {
		t.Errorf("mileage = %v has=%v", loc.Mileage, loc.HasMileage)
	}
	if !loc.HasFuel || math.Abs(loc.Fuel-43.2) > 1e-9 {
		t.Errorf("fuel = %v has=%v", loc.Fuel, loc.HasFuel)
	}
	if !loc.HasSignal || loc.SignalStrength != 27 {
		t.Errorf("signal = %d has=%v", loc.SignalStrength, loc.HasSignal)
	}
}

func TestParseLocationTooShort(t *testing.T) {
	if _, err := ParseLocation(make([]byte, 27), time.UTC); err == nil {
		t.Error("expected error for short body")
	}
}

func TestParseRegistration(t *testing.T) {
	body := make([]byte, 0, 44)
	body = binary.BigEndian.AppendUint16(body, 11)
	body = binary.BigEndian.AppendUint16(body, 44)
	body = append(body, []byte("BSJGP")...)
	model := make([]byte, 20)
	copy(model, "Dashcam Model V1")
	body = append(body, model...)
	terminal := make([]byte, 7)
	copy(terminal, "JT808ID")
	body = append(body, terminal...)
	body = append(body, 1)
	body = append(body, []byte("BA12PA3456")...)

	reg, err := ParseRegistration(body)
	if err != nil {
		t.Fatalf("ParseRegistration: %v", err)
	}
	if reg.ProvinceID != 11 || reg.CityID != 44 {
		t.Errorf("province=%d city=%d", reg.ProvinceID, reg.CityID)
	}
	if reg.Manufacturer != "BSJGP" {
		t.Errorf("manufacturer = %q", reg.Manufacturer)
	}
	if reg.Model != "Dashcam Model V1" {
		t.Errorf("model = %q", reg.Model)
	}
	if reg.TerminalID != "JT808ID" {
		t.Errorf("terminal id = %q", reg.TerminalID)
	}
	if reg.PlateColor != 1 {
		t.Errorf("plate color = %d", reg.PlateColor)
	}
	if reg.Plate != "BA12PA3456" {
		t.Errorf("plate = %q", reg.Plate)
	}
}

func TestParseRegistrationTooShort(t *testing.T) {
	if _, err := ParseRegistration(make([]byte, 36)); err == nil {
		t.Error("expected error for short body")
	}
}
