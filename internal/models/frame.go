package models

import "fmt"

// ItemID 容器内编码图像单元的标识 (在同一 context 内唯一)
type ItemID uint32

// ContextID 逻辑轨道/图像集合的标识 (master 序列、thumbnail 序列等)
type ContextID uint32

// Frame 解码后的一帧 RGBA 图像
// Pixels 长度固定为 Width*Height*4，产出后不再修改
type Frame struct {
	ItemID ItemID
	Width  int
	Height int
	Pixels []byte
}

// NewFrame 创建指定尺寸的空白帧
func NewFrame(id ItemID, width, height int) *Frame {
	return &Frame{
		ItemID: id,
		Width:  width,
		Height: height,
		Pixels: make([]byte, width*height*4),
	}
}

// Validate 检查像素缓冲长度与尺寸一致
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if len(f.Pixels) != f.Width*f.Height*4 {
		return fmt.Errorf("pixel buffer length %d, want %d", len(f.Pixels), f.Width*f.Height*4)
	}
	return nil
}

// Timestamp 时间轴条目: 一个可显示帧及其呈现时间 (毫秒)
type Timestamp struct {
	ID ItemID `json:"id" yaml:"id"`
	T  int64  `json:"t" yaml:"t"`
}

// Payload 解码请求的结果
type Payload struct {
	Success       bool
	Frames        []*Frame
	DisplayWidth  int
	DisplayHeight int
	Err           error
}

// FailedPayload 构造失败结果
func FailedPayload(err error) Payload {
	return Payload{Success: false, Err: err}
}

// Frame 按 item id 查找结果中的帧
func (p Payload) Frame(id ItemID) (*Frame, bool) {
	for _, f := range p.Frames {
		if f.ItemID == id {
			return f, true
		}
	}
	return nil, false
}

// ItemIDs 返回结果中所有帧的 item id (按输出顺序)
func (p Payload) ItemIDs() []ItemID {
	ids := make([]ItemID, 0, len(p.Frames))
	for _, f := range p.Frames {
		ids = append(ids, f.ItemID)
	}
	return ids
}
