package hevc

import (
	"errors"
	"fmt"
)

// ErrTruncated 参数集数据不完整
var ErrTruncated = errors.New("hevc: truncated bitstream")

// SPS 序列参数集中与画面几何相关的字段
type SPS struct {
	ID              uint32
	ChromaFormatIDC uint32
	CodedWidth      int // pic_width_in_luma_samples
	CodedHeight     int // pic_height_in_luma_samples
	Width           int // 裁剪后的显示宽度
	Height          int // 裁剪后的显示高度
}

// bitReader 按位读取 RBSP
type bitReader struct {
	data []byte
	pos  int // 位偏移
}

func (r *bitReader) bit() (uint32, error) {
	if r.pos >= len(r.data)*8 {
		return 0, ErrTruncated
	}
	b := r.data[r.pos/8] >> (7 - uint(r.pos%8)) & 1
	r.pos++
	return uint32(b), nil
}

func (r *bitReader) bits(n int) (uint32, error) {
	var v uint32
	for i := 0; i < n; i++ {
		b, err := r.bit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | b
	}
	return v, nil
}

func (r *bitReader) skip(n int) error {
	if r.pos+n > len(r.data)*8 {
		return ErrTruncated
	}
	r.pos += n
	return nil
}

// ue 无符号 Exp-Golomb
func (r *bitReader) ue() (uint32, error) {
	zeros := 0
	for {
		b, err := r.bit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, fmt.Errorf("hevc: exp-golomb code too long")
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	rest, err := r.bits(zeros)
	if err != nil {
		return 0, err
	}
	return (1<<uint(zeros) - 1) + rest, nil
}

// ParseSPS 解析 SPS NAL (不含起始码，含 2 字节 NAL 头)
func ParseSPS(nal []byte) (*SPS, error) {
	if len(nal) < 3 {
		return nil, ErrTruncated
	}
	if t := NalType(nal); t != NalSPS {
		return nil, fmt.Errorf("hevc: nal type %d is not an SPS", t)
	}

	r := &bitReader{data: RemoveEmulationPrevention(nal[2:])}

	// sps_video_parameter_set_id
	if err := r.skip(4); err != nil {
		return nil, err
	}
	maxSubLayersMinus1, err := r.bits(3)
	if err != nil {
		return nil, err
	}
	// sps_temporal_id_nesting_flag
	if err := r.skip(1); err != nil {
		return nil, err
	}
	if err := skipProfileTierLevel(r, int(maxSubLayersMinus1)); err != nil {
		return nil, err
	}

	sps := &SPS{}
	if sps.ID, err = r.ue(); err != nil {
		return nil, err
	}
	if sps.ChromaFormatIDC, err = r.ue(); err != nil {
		return nil, err
	}
	separateColourPlane := uint32(0)
	if sps.ChromaFormatIDC == 3 {
		if separateColourPlane, err = r.bit(); err != nil {
			return nil, err
		}
	}

	w, err := r.ue()
	if err != nil {
		return nil, err
	}
	h, err := r.ue()
	if err != nil {
		return nil, err
	}
	sps.CodedWidth, sps.CodedHeight = int(w), int(h)
	sps.Width, sps.Height = sps.CodedWidth, sps.CodedHeight

	window, err := r.bit()
	if err != nil {
		return nil, err
	}
	if window == 1 {
		var off [4]uint32 // left, right, top, bottom
		for i := range off {
			if off[i], err = r.ue(); err != nil {
				return nil, err
			}
		}
		subW, subH := 1, 1
		if separateColourPlane == 0 {
			switch sps.ChromaFormatIDC {
			case 1:
				subW, subH = 2, 2
			case 2:
				subW = 2
			}
		}
		sps.Width -= subW * int(off[0]+off[1])
		sps.Height -= subH * int(off[2]+off[3])
	}

	if sps.Width <= 0 || sps.Height <= 0 {
		return nil, fmt.Errorf("hevc: invalid picture size %dx%d", sps.Width, sps.Height)
	}
	return sps, nil
}

// skipProfileTierLevel 跳过 profile_tier_level(1, maxSubLayersMinus1)
func skipProfileTierLevel(r *bitReader, maxSubLayersMinus1 int) error {
	// general profile (88 bit) + general_level_idc (8 bit)
	if err := r.skip(96); err != nil {
		return err
	}

	profilePresent := make([]bool, maxSubLayersMinus1)
	levelPresent := make([]bool, maxSubLayersMinus1)
	for i := 0; i < maxSubLayersMinus1; i++ {
		p, err := r.bit()
		if err != nil {
			return err
		}
		l, err := r.bit()
		if err != nil {
			return err
		}
		profilePresent[i], levelPresent[i] = p == 1, l == 1
	}
	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			if err := r.skip(2); err != nil {
				return err
			}
		}
	}
	for i := 0; i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			if err := r.skip(88); err != nil {
				return err
			}
		}
		if levelPresent[i] {
			if err := r.skip(8); err != nil {
				return err
			}
		}
	}
	return nil
}
