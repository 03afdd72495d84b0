package hevc

import (
	"fmt"
	"math/bits"
)

// bitWriter 按位写 RBSP
type bitWriter struct {
	buf []byte
	n   int
}

func (w *bitWriter) put(v uint32, count int) {
	for i := count - 1; i >= 0; i-- {
		if w.n%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if (v>>uint(i))&1 == 1 {
			w.buf[len(w.buf)-1] |= 0x80 >> uint(w.n%8)
		}
		w.n++
	}
}

// ue 无符号 Exp-Golomb
func (w *bitWriter) ue(v uint32) {
	x := v + 1
	n := bits.Len32(x)
	w.put(0, n-1)
	w.put(x, n)
}

// trailing rbsp_trailing_bits
func (w *bitWriter) trailing() {
	w.put(1, 1)
	for w.n%8 != 0 {
		w.put(0, 1)
	}
}

// AddEmulationPrevention 在 0x0000 后的 0x00-0x03 前插入防竞争字节
func AddEmulationPrevention(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/64)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// BuildSPS 生成 Main profile、4:2:0 的最小 SPS NAL (不含起始码)
// 编码尺寸按 8 对齐，多出的部分写入裁剪窗口
func BuildSPS(width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("hevc: unsupported picture size %dx%d", width, height)
	}
	codedW := (width + 7) &^ 7
	codedH := (height + 7) &^ 7

	w := &bitWriter{}
	w.put(0, 4) // sps_video_parameter_set_id
	w.put(0, 3) // sps_max_sub_layers_minus1
	w.put(1, 1) // sps_temporal_id_nesting_flag

	// profile_tier_level: Main, level 4.1
	w.put(0x01, 8)
	w.put(0x60000000, 32)
	w.put(0x9000, 16)
	w.put(0, 32)
	w.put(123, 8)

	w.ue(0) // sps_seq_parameter_set_id
	w.ue(1) // chroma_format_idc 4:2:0
	w.ue(uint32(codedW))
	w.ue(uint32(codedH))
	if codedW != width || codedH != height {
		w.put(1, 1)
		w.ue(0)
		w.ue(uint32(codedW-width) / 2)
		w.ue(0)
		w.ue(uint32(codedH-height) / 2)
	} else {
		w.put(0, 1)
	}
	w.trailing()

	return append([]byte{NalSPS << 1, 0x01}, AddEmulationPrevention(w.buf)...), nil
}

// BuildSlice 生成一个 slice NAL (不含起始码)，first 为 first_slice_segment_in_pic_flag
func BuildSlice(nalType int, first bool, body []byte) []byte {
	w := &bitWriter{}
	if first {
		w.put(1, 1)
	} else {
		w.put(0, 1)
	}
	for _, b := range body {
		w.put(uint32(b), 8)
	}
	w.trailing()
	return append([]byte{byte(nalType << 1), 0x01}, AddEmulationPrevention(w.buf)...)
}
