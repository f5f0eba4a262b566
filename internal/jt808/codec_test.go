package jt808

import (
	"bytes"
	"testing"
	"time"
)

func TestEscapeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01, 0x02, 0x03},
		{0x7E},
		{0x7D},
		{0x7E, 0x7D, 0x7E, 0x7D},
		{0x00, 0x7D, 0x01, 0x7D, 0x02, 0x7E, 0xFF},
		bytes.Repeat([]byte{0x7E, 0x7D, 0x55}, 100),
	}
	for _, in := range cases {
		got := Unescape(Escape(in))
		if !bytes.Equal(got, in) {
			t.Errorf("Unescape(Escape(%x)) = %x", in, got)
		}
	}
}

func TestEscapeEncoding(t *testing.T) {
	got := Escape([]byte{0x30, 0x7E, 0x08, 0x7D, 0x55})
	want := []byte{0x30, 0x7D, 0x02, 0x08, 0x7D, 0x01, 0x55}
	if !bytes.Equal(got, want) {
		t.Errorf("Escape = %x, want %x", got, want)
	}
}

func TestUnescapeLoneEscapeByte(t *testing.T) {
	// 0x7D followed by an unexpected byte passes through unchanged.
	got := Unescape([]byte{0x7D, 0x55, 0x7D})
	want := []byte{0x7D, 0x55, 0x7D}
	if !bytes.Equal(got, want) {
		t.Errorf("Unescape = %x, want %x", got, want)
	}
}

func TestChecksum(t *testing.T) {
	if got := Checksum([]byte{}); got != 0 {
		t.Errorf("Checksum(empty) = %d, want 0", got)
	}
	if got := Checksum([]byte{0xA5}); got != 0xA5 {
		t.Errorf("Checksum = %02X, want A5", got)
	}
	if got := Checksum([]byte{0x01, 0x02, 0x04}); got != 0x07 {
		t.Errorf("Checksum = %02X, want 07", got)
	}
	if got := Checksum([]byte{0xFF, 0xFF}); got != 0 {
		t.Errorf("Checksum = %02X, want 0", got)
	}
}

func TestBCDRoundTrip(t *testing.T) {
	cases := []struct {
		number string
		length int
		want   string
	}{
		{"13912345678", 6, "13912345678"},
		{"0", 6, "0"},
		{"123456789012", 6, "123456789012"},
		{"42", 3, "42"},
		{"007", 2, "7"}, // leading zeros normalize away
	}
	for _, tc := range cases {
		enc := EncodeBCD(tc.number, tc.length)
		if len(enc) != tc.length {
			t.Errorf("EncodeBCD(%q, %d) length = %d", tc.number, tc.length, len(enc))
		}
		if got := ParseBCD(enc); got != tc.want {
			t.Errorf("ParseBCD(EncodeBCD(%q)) = %q, want %q", tc.number, got, tc.want)
		}
	}
}

func TestParseBCDSkipsPadding(t *testing.T) {
	// 0xF nibbles are filler.
	if got := ParseBCD([]byte{0xF1, 0x23}); got != "123" {
		t.Errorf("ParseBCD = %q, want 123", got)
	}
}

func TestTimeBCDRoundTrip(t *testing.T) {
	loc := time.FixedZone("NPT", 5*3600+45*60)
	want := time.Date(2025, time.March, 14, 9, 26, 53, 0, loc)
	got := ParseTimeBCD(EncodeTimeBCD(want), loc)
	if !got.Equal(want) {
		t.Errorf("ParseTimeBCD(EncodeTimeBCD(%v)) = %v", want, got)
	}
}

func TestParseTimeBCDFallback(t *testing.T) {
	loc := time.UTC
	before := time.Now().In(loc)
	got := ParseTimeBCD([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, loc)
	after := time.Now().In(loc)
	if got.Before(before.Add(-time.Second)) || got.After(after.Add(time.Second)) {
		t.Errorf("fallback time %v outside [%v, %v]", got, before, after)
	}
}
