// Package fmp4 synthesizes fragmented MP4 (ISO-BMFF) segments from H.264
// access units for browser playback through Media Source Extensions: one
// ftyp+moov init segment per stream, then a moof+mdat pair per frame.
package fmp4

import (
	"bytes"
	"encoding/binary"
)

// Timescale is the track timescale in Hz, the MPEG-standard 90 kHz clock.
const Timescale = 90000

// TrackID of the single video track.
const TrackID = 1

func box(boxType string, parts ...[]byte) []byte {
	size := 8
	for _, p := range parts {
		size += len(p)
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	binary.Write(buf, binary.BigEndian, uint32(size))
	buf.WriteString(boxType)
	for _, p := range parts {
		buf.Write(p)
	}
	return buf.Bytes()
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// fullBox header: version byte + 24-bit flags.
func verFlags(version byte, flags uint32) []byte {
	return []byte{version, byte(flags >> 16), byte(flags >> 8), byte(flags)}
}

// identity transformation matrix used by mvhd and tkhd.
func matrix() []byte {
	var b []byte
	for _, v := range []uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000} {
		b = append(b, u32(v)...)
	}
	return b
}

// BuildFtyp builds the file type box: major brand isom, minor 512,
// compatible brands isom iso2 avc1 mp41.
func BuildFtyp() []byte {
	return box("ftyp", []byte("isom"), u32(512), []byte("isomiso2avc1mp41"))
}

// BuildMoov builds the movie box of the init segment: movie header, one
// video track, and the mvex/trex marking the track as fragmented.
func BuildMoov(width, height int, sps, pps []byte) []byte {
	return box("moov", buildMvhd(), buildTrak(width, height, sps, pps), buildMvex())
}

func buildMvhd() []byte {
	return box("mvhd",
		verFlags(0, 0),
		u32(0),         // creation_time
		u32(0),         // modification_time
		u32(Timescale), // timescale
		u32(0),         // duration
		u32(0x00010000), // rate 1.0
		u16(0x0100),    // volume 1.0
		make([]byte, 10),
		matrix(),
		make([]byte, 24), // pre_defined
		u32(TrackID+1),   // next_track_id
	)
}

func buildTrak(width, height int, sps, pps []byte) []byte {
	return box("trak", buildTkhd(width, height), buildMdia(width, height, sps, pps))
}

func buildTkhd(width, height int) []byte {
	return box("tkhd",
		verFlags(0, 0x000003), // track enabled, in movie
		u32(0),                // creation_time
		u32(0),                // modification_time
		u32(TrackID),
		u32(0), // reserved
		u32(0), // duration
		make([]byte, 8),
		u16(0), // layer
		u16(0), // alternate_group
		u16(0), // volume
		u16(0), // reserved
		matrix(),
		u32(uint32(width)<<16),  // 16.16 fixed point
		u32(uint32(height)<<16),
	)
}

func buildMdia(width, height int, sps, pps []byte) []byte {
	return box("mdia", buildMdhd(), buildHdlr(), buildMinf(width, height, sps, pps))
}

func buildMdhd() []byte {
	return box("mdhd",
		verFlags(0, 0),
		u32(0),
		u32(0),
		u32(Timescale),
		u32(0),
		u16(0x55C4), // language und
		u16(0),
	)
}

func buildHdlr() []byte {
	return box("hdlr",
		verFlags(0, 0),
		u32(0),
		[]byte("vide"),
		make([]byte, 12),
		[]byte("VideoHandler\x00"),
	)
}

func buildMinf(width, height int, sps, pps []byte) []byte {
	return box("minf", buildVmhd(), buildDinf(), buildStbl(width, height, sps, pps))
}

func buildVmhd() []byte {
	return box("vmhd", verFlags(0, 1), u16(0), u16(0), u16(0), u16(0))
}

func buildDinf() []byte {
	url := box("url ", verFlags(0, 1)) // self-contained
	dref := box("dref", verFlags(0, 0), u32(1), url)
	return box("dinf", dref)
}

func buildStbl(width, height int, sps, pps []byte) []byte {
	empty := func(t string) []byte { return box(t, verFlags(0, 0), u32(0)) }
	stsz := box("stsz", verFlags(0, 0), u32(0), u32(0))
	return box("stbl",
		buildStsd(width, height, sps, pps),
		empty("stts"),
		empty("stsc"),
		stsz,
		empty("stco"),
	)
}

func buildStsd(width, height int, sps, pps []byte) []byte {
	return box("stsd", verFlags(0, 0), u32(1), buildAvc1(width, height, sps, pps))
}

func buildAvc1(width, height int, sps, pps []byte) []byte {
	return box("avc1",
		make([]byte, 6), // reserved
		u16(1),          // data_reference_index
		make([]byte, 16),
		u16(uint16(width)),
		u16(uint16(height)),
		u32(0x00480000), // horizresolution 72 dpi
		u32(0x00480000), // vertresolution 72 dpi
		u32(0),
		u16(1),           // frame_count
		make([]byte, 32), // compressorname
		u16(0x0018),      // depth
		u16(0xFFFF),      // pre_defined -1
		BuildAvcC(sps, pps),
	)
}

// BuildAvcC builds the AVC decoder configuration record from the cached
// SPS and PPS: version 1, profile/compat/level lifted from SPS bytes 1..3,
// 4-byte NAL length prefixes, one SPS and one PPS.
func BuildAvcC(sps, pps []byte) []byte {
	profile, compat, level := byte(0x64), byte(0x00), byte(0x28) // High 4.0 default
	if len(sps) >= 4 {
		profile, compat, level = sps[1], sps[2], sps[3]
	}
	return box("avcC",
		[]byte{
			0x01, // configurationVersion
			profile,
			compat,
			level,
			0xFF, // lengthSizeMinusOne = 3
			0xE1, // numOfSequenceParameterSets = 1
		},
		u16(uint16(len(sps))), sps,
		[]byte{0x01}, // numOfPictureParameterSets
		u16(uint16(len(pps))), pps,
	)
}

func buildMvex() []byte {
	trex := box("trex",
		verFlags(0, 0),
		u32(TrackID),
		u32(1), // default_sample_description_index
		u32(0),
		u32(0),
		u32(0),
	)
	return box("mvex", trex)
}

// BuildInitSegment builds the complete init segment (ftyp + moov).
func BuildInitSegment(width, height int, sps, pps []byte) []byte {
	return append(BuildFtyp(), BuildMoov(width, height, sps, pps)...)
}

// Sample flag words for trun entries.
const (
	sampleFlagsSync      = 0x02000000 // is_sync, independent
	sampleFlagsDependent = 0x01010000 // depends on a keyframe, not sync
)

// BuildMediaSegment builds a moof+mdat pair for one access unit. The mdat
// carries length-prefixed NAL units; keyframes are made self-decodable by
// prepending the SPS and PPS. The trun data offset points at the first mdat
// payload byte relative to the start of the moof.
func BuildMediaSegment(nal []byte, seqNum uint32, decodeTime, duration uint32, keyframe bool, sps, pps []byte) []byte {
	var payload []byte
	if keyframe && len(sps) > 0 && len(pps) > 0 {
		payload = append(payload, u32(uint32(len(sps)))...)
		payload = append(payload, sps...)
		payload = append(payload, u32(uint32(len(pps)))...)
		payload = append(payload, pps...)
	}
	payload = append(payload, u32(uint32(len(nal)))...)
	payload = append(payload, nal...)

	// The data offset depends on the moof size, which does not depend on
	// the offset value. Build once to measure, then rebuild with the real
	// offset.
	moof := buildMoof(seqNum, decodeTime, duration, uint32(len(payload)), keyframe, 0)
	offset := uint32(len(moof) + 8) // + mdat header
	moof = buildMoof(seqNum, decodeTime, duration, uint32(len(payload)), keyframe, offset)

	return append(moof, box("mdat", payload)...)
}

func buildMoof(seqNum, decodeTime, duration, sampleSize uint32, keyframe bool, dataOffset uint32) []byte {
	mfhd := box("mfhd", verFlags(0, 0), u32(seqNum))
	return box("moof", mfhd, buildTraf(decodeTime, duration, sampleSize, keyframe, dataOffset))
}

func buildTraf(decodeTime, duration, sampleSize uint32, keyframe bool, dataOffset uint32) []byte {
	tfhd := box("tfhd", verFlags(0, 0x020000), u32(TrackID)) // default-base-is-moof
	tfdt := box("tfdt", verFlags(0, 0), u32(decodeTime))
	return box("traf", tfhd, tfdt, buildTrun(duration, sampleSize, keyframe, dataOffset))
}

func buildTrun(duration, sampleSize uint32, keyframe bool, dataOffset uint32) []byte {
	// data-offset + sample-duration + sample-size + sample-flags +
	// sample-composition-time-offset, one sample per fragment.
	const trunFlags = 0x000F01

	sampleFlags := uint32(sampleFlagsDependent)
	if keyframe {
		sampleFlags = sampleFlagsSync
	}

	return box("trun",
		verFlags(0, trunFlags),
		u32(1), // sample_count
		u32(dataOffset),
		u32(duration),
		u32(sampleSize),
		u32(sampleFlags),
		u32(0), // composition_time_offset
	)
}
