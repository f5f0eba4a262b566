package jt808

import (
	"fmt"
	"time"
)

// Flag delimits JT808 frames on the wire.
const Flag byte = 0x7E

// Escape replaces 0x7E with 0x7D 0x02 and 0x7D with 0x7D 0x01 in the
// payload before it is wrapped in flag bytes.
func Escape(data []byte) []byte {
	result := make([]byte, 0, len(data))
	for _, b := range data {
		switch b {
		case 0x7E:
			result = append(result, 0x7D, 0x02)
		case 0x7D:
			result = append(result, 0x7D, 0x01)
		default:
			result = append(result, b)
		}
	}
	return result
}

// Unescape reverses Escape. A trailing lone 0x7D or an 0x7D followed by an
// unexpected byte is passed through unchanged; devices in the wild produce
// both.
func Unescape(data []byte) []byte {
	result := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == 0x7D && i+1 < len(data) {
			switch data[i+1] {
			case 0x02:
				result = append(result, 0x7E)
				i++
				continue
			case 0x01:
				result = append(result, 0x7D)
				i++
				continue
			}
		}
		result = append(result, data[i])
	}
	return result
}

// Checksum is the XOR of every payload byte between the flag bytes.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// ParseBCD decodes packed BCD, two decimal digits per byte, high nibble
// first. Nibbles >= 0x0A are padding and skipped. Leading zeros are
// stripped; an all-zero field decodes as "0".
func ParseBCD(data []byte) string {
	buf := make([]byte, 0, len(data)*2)
	for _, b := range data {
		high := (b >> 4) & 0x0F
		low := b & 0x0F
		if high < 10 {
			buf = append(buf, '0'+high)
		}
		if low < 10 {
			buf = append(buf, '0'+low)
		}
	}
	i := 0
	for i < len(buf)-1 && buf[i] == '0' {
		i++
	}
	if len(buf) == 0 {
		return "0"
	}
	return string(buf[i:])
}

// EncodeBCD packs a decimal string into length bytes of BCD, zero-padded on
// the left. Digits beyond the field width are dropped from the front.
func EncodeBCD(number string, length int) []byte {
	digits := make([]byte, 0, len(number))
	for _, c := range number {
		if c >= '0' && c <= '9' {
			digits = append(digits, byte(c))
		}
	}
	width := length * 2
	if len(digits) > width {
		digits = digits[len(digits)-width:]
	}
	for len(digits) < width {
		digits = append([]byte{'0'}, digits...)
	}
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		result[i] = (digits[i*2]-'0')<<4 | (digits[i*2+1] - '0')
	}
	return result
}

// ParseTimeBCD decodes a 6-byte BCD timestamp (YYMMDDhhmmss, year 2000+YY)
// in the given location. Unparseable timestamps fall back to the current
// wall clock; a fix is never dropped for a bad clock.
func ParseTimeBCD(data []byte, loc *time.Location) time.Time {
	if len(data) >= 6 {
		var d [6]int
		ok := true
		for i := 0; i < 6; i++ {
			high := int(data[i]>>4) & 0x0F
			low := int(data[i]) & 0x0F
			if high > 9 || low > 9 {
				ok = false
				break
			}
			d[i] = high*10 + low
		}
		if ok && d[1] >= 1 && d[1] <= 12 && d[2] >= 1 && d[2] <= 31 &&
			d[3] <= 23 && d[4] <= 59 && d[5] <= 59 {
			return time.Date(2000+d[0], time.Month(d[1]), d[2], d[3], d[4], d[5], 0, loc)
		}
	}
	return time.Now().In(loc)
}

// EncodeTimeBCD encodes a timestamp as 6 bytes of BCD (YYMMDDhhmmss).
func EncodeTimeBCD(t time.Time) []byte {
	s := fmt.Sprintf("%02d%02d%02d%02d%02d%02d",
		t.Year()%100, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	return EncodeBCD(s, 6)
}
