// Package hevc HEVC Annex-B 码流工具与解码器接口
//
// 统一管理 NAL 单元切分、参数集识别和 SPS 几何信息解析。
// 像素重建由实现 Decoder 接口的外部解码器完成。
package hevc

import (
	"bytes"
)

// NAL 类型
const (
	NalTrailN    = 0  // 非参考帧
	NalTrailR    = 1  // 参考帧
	NalBLAWLP    = 16 // IRAP 起始
	NalIDRWRadl  = 19 // IDR 帧
	NalIDRNLP    = 20 // IDR 帧
	NalCRA       = 21 // CRA 帧
	NalVPS       = 32 // 视频参数集
	NalSPS       = 33 // 序列参数集
	NalPPS       = 34 // 图像参数集
	NalAUD       = 35 // 访问单元分隔符
	NalPrefixSEI = 39
	NalSuffixSEI = 40
)

// NAL 起始码
var (
	NalStartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
	NalStartCode3 = []byte{0x00, 0x00, 0x01}
)

// NalUnit NAL 单元信息
type NalUnit struct {
	Offset  int // 含起始码的偏移
	Size    int // 含起始码的长度
	NalType int
}

// Payload 返回去掉起始码的 NAL 数据
func (n NalUnit) Payload(data []byte) []byte {
	return StripStartCode(data[n.Offset : n.Offset+n.Size])
}

// IsVCL 判断是否为图像数据 NAL (0-31)
func IsVCL(nalType int) bool {
	return nalType >= 0 && nalType < NalVPS
}

// IsKeyframe 判断是否为关键帧
func IsKeyframe(nalType int) bool {
	return nalType >= NalBLAWLP && nalType <= NalCRA
}

// IsHeader 判断是否为头部 NAL
func IsHeader(nalType int) bool {
	return nalType == NalVPS || nalType == NalSPS || nalType == NalPPS
}

// NalType 从 NAL 头 (不含起始码) 取类型
func NalType(payload []byte) int {
	if len(payload) == 0 {
		return -1
	}
	return (int(payload[0]) >> 1) & 0x3F
}

// ParseNalUnits 解析数据中的所有 NAL 单元
// 最后一个单元延伸到数据末尾
func ParseNalUnits(data []byte) []NalUnit {
	var results []NalUnit
	pos := 0

	for pos+3 <= len(data) {
		var startLen int
		if pos+4 <= len(data) && bytes.Equal(data[pos:pos+4], NalStartCode4) {
			startLen = 4
		} else if bytes.Equal(data[pos:pos+3], NalStartCode3) {
			startLen = 3
		} else {
			pos++
			continue
		}

		start := pos
		nalBytePos := start + startLen
		if nalBytePos >= len(data) {
			break
		}
		nalType := (int(data[nalBytePos]) >> 1) & 0x3F

		// 查找下一个起始码
		nextPos := nextStartCode(data, nalBytePos)

		results = append(results, NalUnit{
			Offset:  start,
			Size:    nextPos - start,
			NalType: nalType,
		})
		pos = nextPos
	}

	return results
}

// nextStartCode 返回 from 之后第一个起始码的位置，没有则返回 len(data)
// 4 字节起始码的前导 0 归入下一个单元
func nextStartCode(data []byte, from int) int {
	idx := bytes.Index(data[from:], NalStartCode3)
	if idx < 0 {
		return len(data)
	}
	pos := from + idx
	if pos > from && data[pos-1] == 0x00 {
		pos--
	}
	return pos
}

// StripStartCode 去掉 NAL 起始码
func StripStartCode(data []byte) []byte {
	if len(data) >= 4 && bytes.Equal(data[:4], NalStartCode4) {
		return data[4:]
	}
	if len(data) >= 3 && bytes.Equal(data[:3], NalStartCode3) {
		return data[3:]
	}
	return data
}

// AppendNal 以 4 字节起始码追加一个 NAL
func AppendNal(dst []byte, payload []byte) []byte {
	dst = append(dst, NalStartCode4...)
	return append(dst, payload...)
}

// RemoveEmulationPrevention 去掉 0x000003 中的防竞争字节
func RemoveEmulationPrevention(payload []byte) []byte {
	out := make([]byte, 0, len(payload))
	zeros := 0
	for _, b := range payload {
		if zeros >= 2 && b == 0x03 {
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

// FirstSliceInPicture 判断 VCL NAL 是否为一帧的第一个 slice
// NAL 头 2 字节之后第一位为 first_slice_segment_in_pic_flag
func FirstSliceInPicture(payload []byte) bool {
	if len(payload) < 3 {
		return false
	}
	return payload[2]&0x80 != 0
}
