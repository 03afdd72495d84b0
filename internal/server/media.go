package server

import (
	"fmt"
	"io"
	"sync"
	"time"

	"heif-player/internal/heif"
	"heif-player/internal/hevc"
	"heif-player/internal/logging"
	"heif-player/internal/models"
	"heif-player/internal/player"
	"heif-player/internal/provider"
)

// Media 当前打开的文件
// 读取器在所有会话间共享，每个会话使用自己的解码器
type Media struct {
	name       string
	reader     heif.Reader
	closer     io.Closer
	newDecoder func() hevc.Decoder
	loadedAt   time.Time

	mu     sync.Mutex
	closed bool
}

// OpenMedia 打开 YAML 清单描述的文件
func OpenMedia(path string) (*Media, error) {
	m, err := heif.OpenManifest(path)
	if err != nil {
		return nil, err
	}
	media := NewMedia(path, m)
	media.closer = m
	return media, nil
}

// NewDemoMedia 合成演示序列
func NewDemoMedia(opts heif.SyntheticOptions) (*Media, error) {
	c, err := heif.NewSyntheticSequence(opts)
	if err != nil {
		return nil, err
	}
	return NewMedia(fmt.Sprintf("demo:%dx%d@%d", opts.Width, opts.Height, opts.Frames), c), nil
}

// NewMedia 包装任意读取器，解码器默认为 hevc.GeometryDecoder
func NewMedia(name string, reader heif.Reader) *Media {
	return &Media{
		name:       name,
		reader:     reader,
		newDecoder: func() hevc.Decoder { return hevc.NewGeometryDecoder() },
		loadedAt:   time.Now(),
	}
}

// WithDecoder 替换解码器工厂
func (m *Media) WithDecoder(factory func() hevc.Decoder) *Media {
	m.newDecoder = factory
	return m
}

// Name 文件名
func (m *Media) Name() string {
	return m.name
}

// Reader 容器读取器
func (m *Media) Reader() heif.Reader {
	return m.reader
}

// NewProvider 创建一条独立的解码管线
func (m *Media) NewProvider(opts provider.Options) *provider.Provider {
	return provider.New(m.reader, m.newDecoder(), opts)
}

// MediaInfo 文件概况
type MediaInfo struct {
	Name             string            `json:"name"`
	Mode             string            `json:"mode"`
	Features         heif.FileFeatures `json:"features"`
	MasterContext    models.ContextID  `json:"masterContext"`
	ThumbnailContext *models.ContextID `json:"thumbnailContext,omitempty"`
	Width            int               `json:"width"`
	Height           int               `json:"height"`
	Frames           int               `json:"frames"`
	DurationMs       int64             `json:"durationMs"`
	Tracks           []heif.TrackInfo  `json:"tracks"`
	LoadedAt         time.Time         `json:"loadedAt"`
}

// Info 汇总文件信息；frameRate 与播放器一致，用于判断集合是否按动画播放
func (m *Media) Info(p *provider.Provider, frameRate int) MediaInfo {
	info := p.FileInfo()
	out := MediaInfo{
		Name:     m.name,
		Mode:     player.DetectMode(info.Features, frameRate).String(),
		Features: info.Features,
		Tracks:   info.Tracks,
		LoadedAt: m.loadedAt,
	}
	if out.Tracks == nil {
		out.Tracks = []heif.TrackInfo{}
	}
	master, ok := p.MasterContextID()
	if !ok {
		return out
	}
	out.MasterContext = master
	if thumb, ok := p.ThumbnailContextID(); ok {
		out.ThumbnailContext = &thumb
	}
	out.Width, out.Height = p.DisplaySize(master)
	if ts, err := p.ItemTimestamps(master); err == nil && len(ts) > 0 {
		out.Frames = len(ts)
		out.DurationMs = ts[len(ts)-1].T - ts[0].T
	} else {
		out.Frames = len(p.MasterIDs())
	}
	return out
}

// Close 关闭读取器
func (m *Media) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	logging.LogInfo("关闭文件", "name", m.name)
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}
