package fmp4

import (
	"bytes"
	"log"
)

// Default stream parameters until the SPS says otherwise.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
	DefaultFPS    = 25
)

// H.264 NAL unit types the transmuxer cares about.
const (
	NALNonIDR byte = 1
	NALIDR    byte = 5
	NALSPS    byte = 7
	NALPPS    byte = 8
)

// Segment is one emitted fMP4 piece.
type Segment struct {
	Init     bool
	Data     []byte
	Codec    string // set on init segments
	Keyframe bool
	SeqNum   uint32
}

// Transmuxer turns complete H.264 Annex-B buffers into fMP4 segments for
// one (device, channel) stream. It caches SPS/PPS, emits exactly one init
// segment once both are known and the first IDR arrives, and then one media
// segment per coded frame. Not safe for concurrent use; each stream is
// owned by its video-server connection task.
type Transmuxer struct {
	sps         []byte
	pps         []byte
	spsInfo     *SPSInfo
	width       int
	height      int
	fps         int
	frameCount  uint32
	initialized bool
}

// NewTransmuxer creates a transmuxer with default dimensions and frame rate.
func NewTransmuxer() *Transmuxer {
	return &Transmuxer{
		width:  DefaultWidth,
		height: DefaultHeight,
		fps:    DefaultFPS,
	}
}

// Initialized reports whether the init segment has been emitted.
func (t *Transmuxer) Initialized() bool { return t.initialized }

// Dimensions returns the current picture size.
func (t *Transmuxer) Dimensions() (int, int) { return t.width, t.height }

// FPS returns the assumed frame rate.
func (t *Transmuxer) FPS() int { return t.fps }

// CodecString returns the MSE codec parameter, or the High 4.0 default
// before any SPS has been seen.
func (t *Transmuxer) CodecString() string {
	if t.spsInfo != nil {
		return t.spsInfo.CodecString()
	}
	return "avc1.640028"
}

// Reset clears all cached state for a new streaming session.
func (t *Transmuxer) Reset() {
	*t = *NewTransmuxer()
}

// Write feeds one complete frame buffer (possibly holding several Annex-B
// NAL units) through the transmuxer and returns the segments it produced,
// in emit order. The init segment, when produced, always precedes the media
// segment for the triggering IDR. Non-IDR frames seen before initialization
// are dropped; they cannot be decoded without SPS/PPS.
func (t *Transmuxer) Write(frame []byte) []Segment {
	if len(frame) < 4 {
		return nil
	}

	var segments []Segment
	for _, nal := range SplitNALUnits(frame) {
		if len(nal) == 0 {
			continue
		}
		switch nal[0] & 0x1F {
		case NALSPS:
			t.sps = append([]byte(nil), nal...)
			if info, err := ParseSPS(nal); err == nil {
				t.spsInfo = info
				t.width, t.height = info.Width, info.Height
			}

		case NALPPS:
			t.pps = append([]byte(nil), nal...)

		case NALIDR:
			if !t.initialized && t.sps != nil && t.pps != nil {
				t.initialized = true
				segments = append(segments, Segment{
					Init:  true,
					Data:  BuildInitSegment(t.width, t.height, t.sps, t.pps),
					Codec: t.CodecString(),
				})
				log.Printf("[fMP4] Stream initialized: %dx%d codec=%s", t.width, t.height, t.CodecString())
			}
			if t.initialized {
				segments = append(segments, t.mediaSegment(nal, true))
			}

		case NALNonIDR:
			if t.initialized {
				segments = append(segments, t.mediaSegment(nal, false))
			}
		}
	}
	return segments
}

func (t *Transmuxer) mediaSegment(nal []byte, keyframe bool) Segment {
	sampleDuration := uint32(Timescale / t.fps)
	decodeTime := t.frameCount * sampleDuration
	t.frameCount++
	return Segment{
		Data:     BuildMediaSegment(nal, t.frameCount, decodeTime, sampleDuration, keyframe, t.sps, t.pps),
		Keyframe: keyframe,
		SeqNum:   t.frameCount,
	}
}

var (
	startCode3 = []byte{0x00, 0x00, 0x01}
	startCode4 = []byte{0x00, 0x00, 0x00, 0x01}
)

// SplitNALUnits splits an Annex-B buffer into bare NAL units. Data with no
// start code at all is treated as a single NAL unit.
func SplitNALUnits(data []byte) [][]byte {
	var units [][]byte
	i := 0
	for i < len(data)-2 {
		var skip int
		if bytes.HasPrefix(data[i:], startCode4) {
			skip = 4
		} else if bytes.HasPrefix(data[i:], startCode3) {
			skip = 3
		}
		if skip == 0 {
			i++
			continue
		}
		start := i + skip
		end := nextStartCode(data, start)
		if end > start {
			units = append(units, data[start:end])
		}
		i = end
	}
	if len(units) == 0 && len(data) > 0 {
		units = append(units, data)
	}
	return units
}

func nextStartCode(data []byte, from int) int {
	for i := from; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if i > from && data[i-1] == 0 {
				return i - 1
			}
			return i
		}
	}
	return len(data)
}
