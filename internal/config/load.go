package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config 播放器配置 (YAML 文件 + 命令行覆盖)
type Config struct {
	Server ServerConfig `yaml:"server"`
	Player PlayerConfig `yaml:"player"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Debug  bool         `yaml:"debug"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Compression string `yaml:"compression"`
}

// PlayerConfig 解码与播放配置
type PlayerConfig struct {
	FrameRate           float64 `yaml:"frameRate"`
	PreferredBufferSize int     `yaml:"preferredBufferSize"`
	FrameRequestSize    int     `yaml:"frameRequestSize"`
	MaximumCacheSize    int     `yaml:"maximumCacheSize"`
	QueueOrder          string  `yaml:"queueOrder"`
	Loop                bool    `yaml:"loop"`
	Preload             bool    `yaml:"preload"`
}

// MQTTConfig 播放状态发布配置，URL 为空时不启用
type MQTTConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"clientId"`
	Topic    string `yaml:"topic"`
}

// Enabled 是否配置了 MQTT broker
func (m MQTTConfig) Enabled() bool {
	return m.URL != ""
}

// Default 返回默认配置
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:        Host,
			Port:        Port,
			Compression: CompressionNone,
		},
		Player: PlayerConfig{
			PreferredBufferSize: PreferredBufferSize,
			FrameRequestSize:    FrameRequestSize,
			MaximumCacheSize:    MaximumCacheSize,
			QueueOrder:          QueueLIFO,
			Loop:                true,
		},
		MQTT: MQTTConfig{
			ClientID: "heif-player",
			Topic:    DefaultMQTTTopic,
		},
	}
}

// Load 读取 YAML 配置文件，未出现的字段保留默认值
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.SetStrict(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var (
	ErrInvalidPort        = errors.New("config: invalid port")
	ErrInvalidBufferSizes = errors.New("config: invalid buffer sizes")
	ErrInvalidQueueOrder  = errors.New("config: invalid queue order")
	ErrInvalidCompression = errors.New("config: invalid compression")
	ErrInvalidFrameRate   = errors.New("config: invalid frame rate")
)

// Validate 检查配置取值
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
	}
	if c.Server.Compression != CompressionNone && c.Server.Compression != CompressionZstd {
		return fmt.Errorf("%w: %q", ErrInvalidCompression, c.Server.Compression)
	}

	p := c.Player
	if p.FrameRate < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFrameRate, p.FrameRate)
	}
	if p.PreferredBufferSize <= 0 || p.FrameRequestSize <= 0 || p.MaximumCacheSize < p.PreferredBufferSize {
		return fmt.Errorf("%w: preferred=%d request=%d maximum=%d",
			ErrInvalidBufferSizes, p.PreferredBufferSize, p.FrameRequestSize, p.MaximumCacheSize)
	}
	if !IsValidQueueOrder(p.QueueOrder) {
		return fmt.Errorf("%w: %q (want one of %v)", ErrInvalidQueueOrder, p.QueueOrder, ValidQueueOrders())
	}
	return nil
}
