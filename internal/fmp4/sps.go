package fmp4

import (
	"errors"
	"fmt"
)

// SPSInfo is what the transmuxer needs from a sequence parameter set.
type SPSInfo struct {
	ProfileIDC byte
	Constraint byte
	LevelIDC   byte
	Width      int
	Height     int
}

// CodecString renders the RFC 6381 codec parameter for MSE:
// avc1.PPCCLL from SPS bytes 1..3.
func (s *SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.Constraint, s.LevelIDC)
}

// levelDimensions approximates the coded picture size from level_idc, used
// when the exp-Golomb decode of the SPS fails.
var levelDimensions = map[byte][2]int{
	30: {1280, 720},
	31: {1280, 720},
	32: {1920, 1080},
	40: {1920, 1080},
	41: {1920, 1080},
	42: {2048, 1080},
	50: {2560, 1920},
	51: {4096, 2160},
}

var errSPSTooShort = errors.New("fmp4: sps too short")

// ParseSPS extracts profile, level and picture dimensions from an SPS NAL
// unit (including its header byte). Dimensions come from a full exp-Golomb
// decode of the parameter set; if that fails, the level_idc table supplies
// an approximation, defaulting to 1280x720.
func ParseSPS(nal []byte) (*SPSInfo, error) {
	if len(nal) < 4 {
		return nil, errSPSTooShort
	}
	info := &SPSInfo{
		ProfileIDC: nal[1],
		Constraint: nal[2],
		LevelIDC:   nal[3],
		Width:      1280,
		Height:     720,
	}
	if dim, ok := levelDimensions[info.LevelIDC]; ok {
		info.Width, info.Height = dim[0], dim[1]
	}

	if w, h, err := decodeSPSDimensions(nal); err == nil {
		info.Width, info.Height = w, h
	}
	return info, nil
}

// decodeSPSDimensions walks the SPS bitstream far enough to recover
// pic_width_in_mbs / pic_height_in_map_units and the frame cropping.
func decodeSPSDimensions(nal []byte) (int, int, error) {
	r := newBitReader(stripEmulationPrevention(nal[1:]))

	profileIDC, err := r.bits(8)
	if err != nil {
		return 0, 0, err
	}
	if _, err := r.bits(8); err != nil { // constraint flags + reserved
		return 0, 0, err
	}
	if _, err := r.bits(8); err != nil { // level_idc
		return 0, 0, err
	}
	if _, err := r.ue(); err != nil { // seq_parameter_set_id
		return 0, 0, err
	}

	chromaFormatIDC := uint(1)
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		chromaFormatIDC, err = r.ue()
		if err != nil {
			return 0, 0, err
		}
		if chromaFormatIDC == 3 {
			if _, err := r.bits(1); err != nil { // separate_colour_plane_flag
				return 0, 0, err
			}
		}
		if _, err := r.ue(); err != nil { // bit_depth_luma_minus8
			return 0, 0, err
		}
		if _, err := r.ue(); err != nil { // bit_depth_chroma_minus8
			return 0, 0, err
		}
		if _, err := r.bits(1); err != nil { // qpprime_y_zero_transform_bypass_flag
			return 0, 0, err
		}
		scalingMatrix, err := r.bits(1)
		if err != nil {
			return 0, 0, err
		}
		if scalingMatrix == 1 {
			count := 8
			if chromaFormatIDC == 3 {
				count = 12
			}
			for i := 0; i < count; i++ {
				present, err := r.bits(1)
				if err != nil {
					return 0, 0, err
				}
				if present == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := r.skipScalingList(size); err != nil {
						return 0, 0, err
					}
				}
			}
		}
	}

	if _, err := r.ue(); err != nil { // log2_max_frame_num_minus4
		return 0, 0, err
	}
	picOrderCntType, err := r.ue()
	if err != nil {
		return 0, 0, err
	}
	switch picOrderCntType {
	case 0:
		if _, err := r.ue(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return 0, 0, err
		}
	case 1:
		if _, err := r.bits(1); err != nil { // delta_pic_order_always_zero_flag
			return 0, 0, err
		}
		if _, err := r.se(); err != nil { // offset_for_non_ref_pic
			return 0, 0, err
		}
		if _, err := r.se(); err != nil { // offset_for_top_to_bottom_field
			return 0, 0, err
		}
		n, err := r.ue()
		if err != nil {
			return 0, 0, err
		}
		for i := uint(0); i < n; i++ {
			if _, err := r.se(); err != nil {
				return 0, 0, err
			}
		}
	}

	if _, err := r.ue(); err != nil { // max_num_ref_frames
		return 0, 0, err
	}
	if _, err := r.bits(1); err != nil { // gaps_in_frame_num_value_allowed_flag
		return 0, 0, err
	}

	picWidthInMbs, err := r.ue()
	if err != nil {
		return 0, 0, err
	}
	picHeightInMapUnits, err := r.ue()
	if err != nil {
		return 0, 0, err
	}
	frameMbsOnly, err := r.bits(1)
	if err != nil {
		return 0, 0, err
	}
	if frameMbsOnly == 0 {
		if _, err := r.bits(1); err != nil { // mb_adaptive_frame_field_flag
			return 0, 0, err
		}
	}
	if _, err := r.bits(1); err != nil { // direct_8x8_inference_flag
		return 0, 0, err
	}

	var cropLeft, cropRight, cropTop, cropBottom uint
	cropping, err := r.bits(1)
	if err != nil {
		return 0, 0, err
	}
	if cropping == 1 {
		if cropLeft, err = r.ue(); err != nil {
			return 0, 0, err
		}
		if cropRight, err = r.ue(); err != nil {
			return 0, 0, err
		}
		if cropTop, err = r.ue(); err != nil {
			return 0, 0, err
		}
		if cropBottom, err = r.ue(); err != nil {
			return 0, 0, err
		}
	}

	frameHeightFactor := uint(2 - frameMbsOnly)
	width := (picWidthInMbs + 1) * 16
	height := (picHeightInMapUnits + 1) * 16 * frameHeightFactor

	// Crop units for 4:2:0 are 2 pixels horizontally and vertically.
	cropUnitX, cropUnitY := uint(1), frameHeightFactor
	if chromaFormatIDC == 1 {
		cropUnitX, cropUnitY = 2, 2*frameHeightFactor
	} else if chromaFormatIDC == 2 {
		cropUnitX, cropUnitY = 2, frameHeightFactor
	}
	width -= (cropLeft + cropRight) * cropUnitX
	height -= (cropTop + cropBottom) * cropUnitY

	if width == 0 || height == 0 || width > 8192 || height > 8192 {
		return 0, 0, errors.New("fmp4: implausible sps dimensions")
	}
	return int(width), int(height), nil
}

// stripEmulationPrevention removes 0x03 from 00 00 03 sequences so the bit
// reader sees the raw RBSP.
func stripEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros == 2 && b == 0x03 {
			zeros = 0
			continue
		}
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

var errBitstream = errors.New("fmp4: bitstream exhausted")

type bitReader struct {
	data []byte
	pos  int // bit position
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) bits(n int) (uint, error) {
	var v uint
	for i := 0; i < n; i++ {
		if r.pos >= len(r.data)*8 {
			return 0, errBitstream
		}
		byteIdx := r.pos / 8
		bitIdx := 7 - r.pos%8
		v = v<<1 | uint(r.data[byteIdx]>>bitIdx&0x01)
		r.pos++
	}
	return v, nil
}

// ue reads an unsigned exp-Golomb code.
func (r *bitReader) ue() (uint, error) {
	zeros := 0
	for {
		b, err := r.bits(1)
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errBitstream
		}
	}
	suffix, err := r.bits(zeros)
	if err != nil {
		return 0, err
	}
	return 1<<zeros - 1 + suffix, nil
}

// se reads a signed exp-Golomb code.
func (r *bitReader) se() (int, error) {
	v, err := r.ue()
	if err != nil {
		return 0, err
	}
	if v%2 == 0 {
		return -int(v / 2), nil
	}
	return int(v+1) / 2, nil
}

func (r *bitReader) skipScalingList(size int) error {
	lastScale, nextScale := 8, 8
	for i := 0; i < size; i++ {
		if nextScale != 0 {
			delta, err := r.se()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}
