// Package logging 播放器的结构化日志
//
// 解码管线、动画定时器和播放会话共用一个 slog 文本处理器；
// -debug 打开后可以看到每次解码请求与缓存淘汰。
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	logger    *slog.Logger
	loggerMu  sync.RWMutex
	debugMode bool
	output    io.Writer = os.Stdout
)

func init() {
	logger = newLogger(slog.LevelInfo)
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: level,
	}))
}

// SetDebugMode 打开后输出解码请求、预取和淘汰等 Debug 日志
func SetDebugMode(enabled bool) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	debugMode = enabled

	level := slog.LevelInfo
	if enabled {
		level = slog.LevelDebug
	}
	logger = newLogger(level)
}

// SetOutput 重定向日志输出
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	output = w

	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}
	logger = newLogger(level)
}

// IsDebugMode 是否调试模式
func IsDebugMode() bool {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return debugMode
}

// Logger 当前 logger
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Component 带 comp 属性的 logger，如 mqtt、stream
func Component(name string) *slog.Logger {
	return Logger().With("comp", name)
}

// LogDebug 调试日志
func LogDebug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// LogInfo 信息日志
func LogInfo(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// LogWarn 警告日志
func LogWarn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// LogError 错误日志
func LogError(msg string, args ...any) {
	Logger().Error(msg, args...)
}
