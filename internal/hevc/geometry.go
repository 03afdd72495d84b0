package hevc

import (
	"bytes"
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
)

// GeometryDecoder 只还原画面几何的解码器
//
// 按 Annex-B 增量切分 NAL，从 SPS 取得宽高，每遇到
// first_slice_segment_in_pic_flag=1 的 slice 开始新的一帧，
// 输出按帧序号着色的纯色 RGBA 图像。像素重建交给实现同一接口的真实解码器。
type GeometryDecoder struct {
	buffer  []byte
	flushed bool

	sps       *SPS
	inPicture bool
	picWidth  int
	picHeight int

	ready   []Picture
	emitted int
}

// NewGeometryDecoder 创建解码器
func NewGeometryDecoder() *GeometryDecoder {
	return &GeometryDecoder{}
}

var _ Decoder = (*GeometryDecoder)(nil)

// Push 追加编码数据，处理其中已完整的 NAL
func (d *GeometryDecoder) Push(data []byte) error {
	if d.flushed {
		return fmt.Errorf("hevc: push after flush")
	}
	prev := len(d.buffer)
	d.buffer = append(d.buffer, data...)

	// 新数据中没有起始码时，不会产生新的完整 NAL
	from := prev - 3
	if from < 0 {
		from = 0
	}
	if !bytes.Contains(d.buffer[from:], NalStartCode3) {
		return nil
	}
	return d.process()
}

// Flush 码流结束，剩余数据全部视为完整 NAL
func (d *GeometryDecoder) Flush() error {
	if d.flushed {
		return nil
	}
	d.flushed = true
	if err := d.process(); err != nil {
		return err
	}
	d.finishPicture()
	return nil
}

// Decode 输出已完成的帧
func (d *GeometryDecoder) Decode(onPicture func(Picture)) error {
	if len(d.ready) == 0 {
		if d.flushed {
			return nil
		}
		return ErrWaitingForInput
	}
	pics := d.ready
	d.ready = nil
	for _, p := range pics {
		onPicture(p)
	}
	return nil
}

// HasMore 是否还有待输出的帧
func (d *GeometryDecoder) HasMore() bool {
	return len(d.ready) > 0
}

// Reset 清空全部状态
func (d *GeometryDecoder) Reset() {
	*d = GeometryDecoder{}
}

// process 处理缓冲区中的完整 NAL；未 Flush 时最后一个 NAL 可能不完整，保留
func (d *GeometryDecoder) process() error {
	units := ParseNalUnits(d.buffer)
	if len(units) == 0 {
		if d.flushed {
			d.buffer = nil
		}
		return nil
	}

	complete := units
	if !d.flushed {
		complete = units[:len(units)-1]
	}

	for _, nal := range complete {
		if err := d.handleNal(nal.Payload(d.buffer)); err != nil {
			return err
		}
	}

	if d.flushed {
		d.buffer = nil
	} else {
		// 移除已处理的数据
		last := units[len(units)-1]
		d.buffer = append(d.buffer[:0], d.buffer[last.Offset:]...)
	}
	return nil
}

func (d *GeometryDecoder) handleNal(payload []byte) error {
	nalType := NalType(payload)
	switch {
	case nalType == NalSPS:
		d.finishPicture()
		sps, err := ParseSPS(payload)
		if err != nil {
			return fmt.Errorf("parse sps: %w", err)
		}
		d.sps = sps
	case IsVCL(nalType):
		if d.sps == nil {
			return ErrMissingParameterSets
		}
		if FirstSliceInPicture(payload) {
			d.finishPicture()
			d.inPicture = true
			d.picWidth, d.picHeight = d.sps.Width, d.sps.Height
		}
	case IsHeader(nalType), nalType == NalAUD, nalType == NalPrefixSEI:
		// 新访问单元开始
		d.finishPicture()
	}
	return nil
}

// finishPicture 结束当前帧并放入输出队列
func (d *GeometryDecoder) finishPicture() {
	if !d.inPicture {
		return
	}
	d.inPicture = false
	d.ready = append(d.ready, fillPicture(d.picWidth, d.picHeight, d.emitted))
	d.emitted++
}

// fillPicture 按帧序号生成纯色图像
func fillPicture(width, height, seq int) Picture {
	c := colorful.Hsv(float64((seq*47)%360), 0.45, 0.85)
	r, g, b := c.RGB255()

	pixels := make([]byte, width*height*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i] = r
		pixels[i+1] = g
		pixels[i+2] = b
		pixels[i+3] = 0xFF
	}
	return Picture{Width: width, Height: height, Pixels: pixels}
}
