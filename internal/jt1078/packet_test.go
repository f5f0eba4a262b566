package jt1078

import (
	"bytes"
	"encoding/binary"
	"testing"

	"dashlink/internal/jt808"
)

func videoPacket(sim string, channel, dataType, subpackage byte, seq uint16, body []byte) []byte {
	p := make([]byte, 0, 30+len(body))
	p = append(p, Magic...)
	p = append(p, 0x80)             // V=2
	p = append(p, 0x62)             // PT=98 (H.264)
	p = binary.BigEndian.AppendUint16(p, seq)
	p = append(p, jt808.EncodeBCD(sim, 6)...)
	p = append(p, channel)
	p = append(p, dataType<<4|subpackage)
	p = binary.BigEndian.AppendUint64(p, 1000) // timestamp
	p = binary.BigEndian.AppendUint16(p, 250)  // I-frame interval
	p = binary.BigEndian.AppendUint16(p, 40)   // frame interval
	p = binary.BigEndian.AppendUint16(p, uint16(len(body)))
	p = append(p, body...)
	return p
}

func audioPacket(sim string, channel byte, body []byte) []byte {
	p := make([]byte, 0, 26+len(body))
	p = append(p, Magic...)
	p = append(p, 0x80, 0x06)
	p = binary.BigEndian.AppendUint16(p, 1)
	p = append(p, jt808.EncodeBCD(sim, 6)...)
	p = append(p, channel)
	p = append(p, DataTypeAudio<<4|SubpackageAtomic)
	p = binary.BigEndian.AppendUint64(p, 1000)
	p = binary.BigEndian.AppendUint16(p, uint16(len(body)))
	p = append(p, body...)
	return p
}

func TestPacketSize(t *testing.T) {
	video := videoPacket("13912345678", 1, DataTypeIFrame, SubpackageAtomic, 1, []byte{1, 2, 3})
	if got := PacketSize(video); got != 33 {
		t.Errorf("video PacketSize = %d, want 33", got)
	}

	audio := audioPacket("13912345678", 1, []byte{1, 2, 3, 4})
	if got := PacketSize(audio); got != 30 {
		t.Errorf("audio PacketSize = %d, want 30", got)
	}

	// Too few bytes to know.
	if got := PacketSize(video[:10]); got != 0 {
		t.Errorf("short PacketSize = %d, want 0", got)
	}
	// Wrong magic.
	bad := append([]byte{0xDE, 0xAD, 0xBE, 0xEF}, video[4:]...)
	if got := PacketSize(bad); got != 0 {
		t.Errorf("bad magic PacketSize = %d, want 0", got)
	}
}

func TestParsePacket(t *testing.T) {
	body := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xAA}
	raw := videoPacket("13912345678", 2, DataTypePFrame, SubpackageFirst, 77, body)

	p, err := ParsePacket(raw)
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if p.SIM != "13912345678" {
		t.Errorf("SIM = %q", p.SIM)
	}
	if p.Channel != 2 {
		t.Errorf("Channel = %d", p.Channel)
	}
	if p.DataType != DataTypePFrame || p.Subpackage != SubpackageFirst {
		t.Errorf("type=%d sub=%d", p.DataType, p.Subpackage)
	}
	if p.SeqNum != 77 {
		t.Errorf("SeqNum = %d", p.SeqNum)
	}
	if p.PayloadType != 98 {
		t.Errorf("PayloadType = %d", p.PayloadType)
	}
	if p.Timestamp != 1000 || p.IFrameInterval != 250 || p.FrameInterval != 40 {
		t.Errorf("timing fields: %d %d %d", p.Timestamp, p.IFrameInterval, p.FrameInterval)
	}
	if !bytes.Equal(p.Body, body) {
		t.Errorf("Body = %x", p.Body)
	}
	if !p.IsVideo() || p.IsAudio() || p.IsKeyframe() {
		t.Errorf("kind flags wrong")
	}
}

// Feeding a stream that concatenates K valid packets with garbage before
// and after yields exactly K parsed packets.
func TestExtractPacketStream(t *testing.T) {
	const k = 5
	var stream []byte
	stream = append(stream, 0xDE, 0xAD, 0x7E, 0x00) // garbage prefix
	for i := 0; i < k; i++ {
		stream = append(stream, videoPacket("13912345678", 1, DataTypeIFrame, SubpackageAtomic, uint16(i), []byte{byte(i), 0x42})...)
	}
	stream = append(stream, 0x30, 0x31) // garbage suffix (partial magic)

	var got int
	pending := stream
	for {
		raw, rest := ExtractPacket(pending)
		pending = rest
		if raw == nil {
			break
		}
		p, err := ParsePacket(raw)
		if err != nil {
			t.Fatalf("ParsePacket: %v", err)
		}
		if p.SeqNum != uint16(got) {
			t.Errorf("packet %d has seq %d", got, p.SeqNum)
		}
		got++
	}
	if got != k {
		t.Errorf("parsed %d packets, want %d", got, k)
	}
}

// Packets arriving split across arbitrary read boundaries still parse.
func TestExtractPacketPartialReads(t *testing.T) {
	full := videoPacket("13912345678", 1, DataTypeIFrame, SubpackageAtomic, 9, []byte{1, 2, 3, 4, 5})

	for split := 1; split < len(full); split++ {
		var pending []byte
		var packets int

		feed := func(chunk []byte) {
			pending = append(pending, chunk...)
			for {
				raw, rest := ExtractPacket(pending)
				pending = rest
				if raw == nil {
					return
				}
				packets++
			}
		}
		feed(full[:split])
		feed(full[split:])

		if packets != 1 {
			t.Fatalf("split at %d: parsed %d packets", split, packets)
		}
	}
}
