package config

import "time"

const (
	// 播放常量
	DefaultFrameRate    = 24                                     // 未指定帧率时使用
	PreferredBufferSize = DefaultFrameRate * 5                   // 约 5 秒的帧
	FrameRequestSize    = 64                                     // 每轮预取请求的最大帧数
	MaximumCacheSize    = PreferredBufferSize + FrameRequestSize // 缓存硬上限

	// 解码常量
	DecodeChunkSize = 4096 // 每次推送给解码器的字节数

	// 最小定时间隔 (0 间隔的重试不空转)
	MinTickDelay = 4 * time.Millisecond

	// 队列顺序
	QueueLIFO = "lifo"
	QueueFIFO = "fifo"

	// 帧传输压缩
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

var (
	// 默认配置
	Host             = "0.0.0.0"
	Port             = 8000
	DefaultMQTTTopic = "heif/player"
)

// ValidQueueOrders 返回支持的队列顺序
func ValidQueueOrders() []string {
	return []string{QueueLIFO, QueueFIFO}
}

// IsValidQueueOrder 检查队列顺序是否有效
func IsValidQueueOrder(order string) bool {
	return order == QueueLIFO || order == QueueFIFO
}
