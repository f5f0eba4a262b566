// Package jt1078 parses the JT/T 1078 real-time audio/video transport
// framing used by vehicle terminals: RTP-style packets carried over TCP,
// identified by the 4-byte magic "01cd".
package jt1078

import (
	"bytes"
	"encoding/binary"
	"errors"

	"dashlink/internal/jt808"
)

// Magic opens every JT1078 packet ("01cd" in ASCII).
var Magic = []byte{0x30, 0x31, 0x63, 0x64}

// Frame payload kinds, high nibble of the data-type byte.
const (
	DataTypeIFrame      byte = 0
	DataTypePFrame      byte = 1
	DataTypeBFrame      byte = 2
	DataTypeAudio       byte = 3
	DataTypeTransparent byte = 4
)

// Subpackage roles, low nibble of the data-type byte.
const (
	SubpackageAtomic byte = 0
	SubpackageFirst  byte = 1
	SubpackageLast   byte = 2
	SubpackageMiddle byte = 3
)

// Header sizes by payload kind, including the 2-byte body length field.
const (
	videoHeaderSize       = 30
	audioHeaderSize       = 26
	transparentHeaderSize = 18
)

var (
	ErrBadMagic    = errors.New("jt1078: bad packet magic")
	ErrShortPacket = errors.New("jt1078: packet too short")
)

// Packet is one parsed JT1078 packet.
type Packet struct {
	SeqNum         uint16
	SIM            string
	Channel        byte
	DataType       byte
	Subpackage     byte
	PayloadType    byte
	Marker         bool
	Timestamp      uint64
	IFrameInterval uint16
	FrameInterval  uint16
	Body           []byte
}

// IsVideo reports whether the packet carries a video frame (I, P or B).
func (p *Packet) IsVideo() bool { return p.DataType <= DataTypeBFrame }

// IsAudio reports whether the packet carries audio.
func (p *Packet) IsAudio() bool { return p.DataType == DataTypeAudio }

// IsKeyframe reports whether the packet carries (part of) an I-frame.
func (p *Packet) IsKeyframe() bool { return p.DataType == DataTypeIFrame }

// FindMagic returns the offset of the next packet magic in data, or -1.
func FindMagic(data []byte) int {
	return bytes.Index(data, Magic)
}

// PacketSize computes the total on-wire size of the packet starting at
// data[0] from its header alone: 30 header bytes for video, 26 for audio,
// 18 for transparent data, plus the body length. It returns 0 when the
// buffer does not yet hold enough header bytes to decide.
func PacketSize(data []byte) int {
	if len(data) < transparentHeaderSize {
		return 0
	}
	if !bytes.HasPrefix(data, Magic) {
		return 0
	}

	dataType := data[15] >> 4 & 0x0F
	var headerSize int
	switch {
	case dataType <= DataTypeBFrame:
		headerSize = videoHeaderSize
	case dataType == DataTypeAudio:
		headerSize = audioHeaderSize
	default:
		headerSize = transparentHeaderSize
	}
	if len(data) < headerSize {
		return 0
	}

	bodyLength := int(binary.BigEndian.Uint16(data[headerSize-2 : headerSize]))
	return headerSize + bodyLength
}

// ParsePacket decodes one complete packet. The caller is expected to have
// sized the buffer with PacketSize first.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < transparentHeaderSize {
		return nil, ErrShortPacket
	}
	if !bytes.HasPrefix(data, Magic) {
		return nil, ErrBadMagic
	}

	p := &Packet{
		PayloadType: data[5] & 0x7F,
		Marker:      data[5]>>7&0x01 == 1,
		SeqNum:      binary.BigEndian.Uint16(data[6:8]),
		SIM:         jt808.ParseBCD(data[8:14]),
		Channel:     data[14],
		DataType:    data[15] >> 4 & 0x0F,
		Subpackage:  data[15] & 0x0F,
	}

	var headerSize int
	switch {
	case p.DataType <= DataTypeBFrame:
		headerSize = videoHeaderSize
		if len(data) < headerSize {
			return nil, ErrShortPacket
		}
		p.Timestamp = binary.BigEndian.Uint64(data[16:24])
		p.IFrameInterval = binary.BigEndian.Uint16(data[24:26])
		p.FrameInterval = binary.BigEndian.Uint16(data[26:28])
	case p.DataType == DataTypeAudio:
		headerSize = audioHeaderSize
		if len(data) < headerSize {
			return nil, ErrShortPacket
		}
		p.Timestamp = binary.BigEndian.Uint64(data[16:24])
	default:
		headerSize = transparentHeaderSize
	}

	bodyLength := int(binary.BigEndian.Uint16(data[headerSize-2 : headerSize]))
	if len(data) < headerSize+bodyLength {
		return nil, ErrShortPacket
	}
	p.Body = data[headerSize : headerSize+bodyLength]
	return p, nil
}

// ExtractPacket scans buf for the next complete packet. It returns the
// packet bytes and the remaining buffer. A nil packet with a shortened rest
// means more data is needed; garbage before the magic is discarded.
func ExtractPacket(buf []byte) (packet []byte, rest []byte) {
	start := FindMagic(buf)
	if start < 0 {
		// Keep the last few bytes in case the magic straddles two reads.
		if len(buf) > len(Magic)-1 {
			return nil, buf[len(buf)-(len(Magic)-1):]
		}
		return nil, buf
	}
	buf = buf[start:]

	size := PacketSize(buf)
	if size == 0 {
		if len(buf) < videoHeaderSize {
			return nil, buf
		}
		// Header present but unusable; skip the magic and rescan.
		return nil, buf[len(Magic):]
	}
	if len(buf) < size {
		return nil, buf
	}
	return buf[:size], buf[size:]
}
