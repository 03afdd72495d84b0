package hevc

import "errors"

var (
	// ErrWaitingForInput 当前数据不足以输出下一帧，需要继续 Push 或 Flush
	ErrWaitingForInput = errors.New("hevc: waiting for input")
	// ErrMissingParameterSets 收到图像数据时尚未收到 SPS
	ErrMissingParameterSets = errors.New("hevc: slice data before parameter sets")
)

// Picture 解码输出的一帧 RGBA 图像
type Picture struct {
	Width  int
	Height int
	Pixels []byte // len = Width*Height*4
}

// Decoder 增量式码流解码器
//
// 同一实例在多个请求间复用，调用方保证同一时刻只有一个请求在使用。
type Decoder interface {
	// Push 追加编码数据
	Push(data []byte) error
	// Flush 标记码流结束，最后一帧变为可输出
	Flush() error
	// Decode 输出所有已完成的帧；没有可输出的帧且需要更多数据时返回 ErrWaitingForInput
	Decode(onPicture func(Picture)) error
	// HasMore 是否还有待输出的帧
	HasMore() bool
	// Reset 清空内部状态，准备下一个码流
	Reset()
}
