package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 解码管线与播放的 Prometheus 指标
// nil *Metrics 可以直接使用，不记录任何数据
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	DecodeRequests  prometheus.Counter
	DecodedPictures prometheus.Counter
	DecodeFailures  *prometheus.CounterVec
	DecodeQueue     prometheus.Gauge
	DecodeDuration  prometheus.Histogram

	FramesDrawn    prometheus.Counter
	PlaybackStalls prometheus.Counter
	Sessions       prometheus.Gauge
}

// New 创建全部指标并注册到 reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heif_frame_cache_hits_total",
			Help: "Frame cache lookups that found a decoded frame",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heif_frame_cache_misses_total",
			Help: "Frame cache lookups that found nothing",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heif_frame_cache_evictions_total",
			Help: "Frames evicted from frame caches",
		}),
		DecodeRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heif_decode_requests_total",
			Help: "Decode request contexts submitted to the scheduler",
		}),
		DecodedPictures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heif_decoded_pictures_total",
			Help: "Pictures produced by the decoder, dependencies included",
		}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heif_decode_failures_total",
			Help: "Decode request contexts completed without success",
		}, []string{"reason"}),
		DecodeQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heif_decode_queue_depth",
			Help: "Request contexts waiting for the decoder",
		}),
		DecodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "heif_decode_duration_seconds",
			Help:    "Time spent decoding one request context",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		FramesDrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heif_frames_drawn_total",
			Help: "Frames handed to renderers",
		}),
		PlaybackStalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heif_playback_stalls_total",
			Help: "Animation ticks whose next frame was not decoded yet",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heif_stream_sessions",
			Help: "Open playback stream sessions",
		}),
	}

	reg.MustRegister(
		m.CacheHits, m.CacheMisses, m.CacheEvictions,
		m.DecodeRequests, m.DecodedPictures, m.DecodeFailures, m.DecodeQueue, m.DecodeDuration,
		m.FramesDrawn, m.PlaybackStalls, m.Sessions,
	)
	return m
}

// CacheLookup 记录缓存命中/未命中
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// Evicted 记录淘汰条目数
func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictions.Add(float64(n))
}

// RequestQueued 记录入队的请求及当前队列深度
func (m *Metrics) RequestQueued(depth int) {
	if m == nil {
		return
	}
	m.DecodeRequests.Inc()
	m.DecodeQueue.Set(float64(depth))
}

// QueueDepth 记录队列深度
func (m *Metrics) QueueDepth(depth int) {
	if m == nil {
		return
	}
	m.DecodeQueue.Set(float64(depth))
}

// PictureDecoded 记录一次解码输出
func (m *Metrics) PictureDecoded() {
	if m == nil {
		return
	}
	m.DecodedPictures.Inc()
}

// DecodeFinished 记录单个请求的解码耗时
func (m *Metrics) DecodeFinished(seconds float64) {
	if m == nil {
		return
	}
	m.DecodeDuration.Observe(seconds)
}

// DecodeFailed 按原因记录失败的请求
func (m *Metrics) DecodeFailed(reason string) {
	if m == nil {
		return
	}
	m.DecodeFailures.WithLabelValues(reason).Inc()
}

// FrameDrawn 记录交给渲染器的帧
func (m *Metrics) FrameDrawn() {
	if m == nil {
		return
	}
	m.FramesDrawn.Inc()
}

// Stalled 记录下一帧尚未解码的 tick
func (m *Metrics) Stalled() {
	if m == nil {
		return
	}
	m.PlaybackStalls.Inc()
}

// SessionOpened 会话打开
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.Sessions.Inc()
}

// SessionClosed 会话关闭
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.Sessions.Dec()
}
