package server

import (
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/websocket"
	"github.com/kataras/neffos"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"heif-player/internal/animation"
	"heif-player/internal/config"
	"heif-player/internal/heif"
	"heif-player/internal/logging"
	"heif-player/internal/metrics"
	"heif-player/internal/models"
	"heif-player/internal/notify"
	"heif-player/internal/player"
	"heif-player/internal/provider"
	"heif-player/internal/render"
)

// Options 服务参数
type Options struct {
	Player      config.PlayerConfig
	Compression string
	Metrics     *metrics.Metrics
	Broker      *notify.Broker // nil 时不发布 MQTT
}

// Handlers API 处理器
type Handlers struct {
	media  *Media
	opts   Options
	frames *provider.Provider // /frames 使用的共享管线
	events *Events
	ws     *neffos.Server

	mu        sync.RWMutex
	sessions  map[string]*StreamSession // 会话 id -> 会话
	closeOnce sync.Once
}

// NewHandlers 创建处理器
func NewHandlers(media *Media, opts Options) (*Handlers, error) {
	if opts.Compression == "" {
		opts.Compression = config.CompressionNone
	}
	codec, err := render.NewCodec(opts.Compression)
	if err != nil {
		return nil, err
	}
	codec.Close()
	h := &Handlers{
		media:    media,
		opts:     opts,
		frames:   media.NewProvider(provider.Options{QueueOrder: config.QueueFIFO, Metrics: opts.Metrics}),
		sessions: make(map[string]*StreamSession),
	}
	h.events = newEvents(h)
	h.ws = websocket.New(websocket.DefaultGorillaUpgrader, h.events.Namespaces())
	return h, nil
}

// frameRate 配置的帧率，图像集合按该帧率播放
func (h *Handlers) frameRate() int {
	return int(math.Round(h.opts.Player.FrameRate))
}

// playerOptions 会话播放参数
func (h *Handlers) playerOptions() player.Options {
	pc := h.opts.Player
	anim := animation.DefaultOptions()
	if pc.PreferredBufferSize > 0 {
		anim.PreferredBufferSize = pc.PreferredBufferSize
	}
	if pc.FrameRequestSize > 0 {
		anim.FrameRequestSize = pc.FrameRequestSize
	}
	if pc.MaximumCacheSize > 0 {
		anim.MaximumCacheSize = pc.MaximumCacheSize
	}
	anim.Loop = pc.Loop
	anim.Metrics = h.opts.Metrics
	return player.Options{
		FrameRate: h.frameRate(),
		Preload:   pc.Preload,
		Animation: anim,
	}
}

// GetInfo 文件信息
// GET /api/v1/info
func (h *Handlers) GetInfo(ctx iris.Context) {
	info := h.media.Info(h.frames, h.frameRate())

	h.mu.RLock()
	sessions := len(h.sessions)
	h.mu.RUnlock()

	ctx.JSON(iris.Map{
		"file":        info,
		"sessions":    sessions,
		"compression": h.opts.Compression,
		"queueOrder":  h.opts.Player.QueueOrder,
	})
}

// GetFrame 解码单帧并返回 PNG
// GET /api/v1/frames/{context}/{item}?width=&height=
func (h *Handlers) GetFrame(ctx iris.Context) {
	contextID := models.ContextID(ctx.Params().GetUint32Default("context", 0))
	itemID := models.ItemID(ctx.Params().GetUint32Default("item", 0))
	width := ctx.URLParamIntDefault("width", 0)
	height := ctx.URLParamIntDefault("height", 0)
	if width < 0 || height < 0 {
		ctx.StatusCode(iris.StatusBadRequest)
		ctx.JSON(iris.Map{"error": "无效的尺寸"})
		return
	}

	task, err := h.frames.Request(ctx.Request().Context(), contextID, []models.ItemID{itemID})
	if err != nil {
		status := iris.StatusInternalServerError
		if errors.Is(err, heif.ErrUnknownContext) || errors.Is(err, heif.ErrUnknownItem) {
			status = iris.StatusNotFound
		}
		ctx.StatusCode(status)
		ctx.JSON(iris.Map{"error": err.Error()})
		return
	}

	payload, err := task.Wait(ctx.Request().Context())
	if err != nil {
		ctx.StatusCode(iris.StatusServiceUnavailable)
		ctx.JSON(iris.Map{"error": err.Error()})
		return
	}
	frame, ok := payload.Frame(itemID)
	if !payload.Success || !ok {
		logging.LogWarn("帧解码失败", "context", contextID, "item", itemID, "error", payload.Err)
		ctx.StatusCode(iris.StatusInternalServerError)
		ctx.JSON(iris.Map{"error": "解码失败"})
		return
	}

	ctx.Header("Content-Type", "image/png")
	if err := render.WritePNG(ctx.ResponseWriter(), frame, width, height); err != nil {
		logging.LogError("PNG 编码失败", "item", itemID, "error", err)
	}
}

// SessionInfo 会话概况
type SessionInfo struct {
	ID     string `json:"id"`
	Mode   string `json:"mode"`
	State  string `json:"state"`
	Index  int    `json:"index"`
	Frames int    `json:"frames"`
}

// GetSessions 播放会话列表
// GET /api/v1/sessions
func (h *Handlers) GetSessions(ctx iris.Context) {
	h.mu.RLock()
	list := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s.Info())
	}
	h.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	ctx.JSON(iris.Map{"sessions": list})
}

func (h *Handlers) addSession(s *StreamSession) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	h.opts.Metrics.SessionOpened()
}

func (h *Handlers) removeSession(id string) {
	h.mu.Lock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		h.opts.Metrics.SessionClosed()
	}
}

// session 按 id 查找会话
func (h *Handlers) session(id string) *StreamSession {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

// Close 关闭所有会话和共享管线，可重复调用
func (h *Handlers) Close() {
	h.closeOnce.Do(h.close)
}

func (h *Handlers) close() {
	h.mu.Lock()
	sessions := make([]*StreamSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	h.ws.Close()
	h.frames.Close()
}

// ==================== 路由注册 ====================

// RegisterRoutes 注册路由
func RegisterRoutes(app *iris.Application, h *Handlers, gatherer prometheus.Gatherer) {
	v1 := app.Party("/api/v1")
	{
		v1.Get("/info", h.GetInfo)
		v1.Get("/frames/{context:uint32}/{item:uint32}", h.GetFrame)
		v1.Get("/sessions", h.GetSessions)
		v1.Get("/stream", h.HandleWebSocket)       // 播放流 (gorilla)
		v1.Get("/events", websocket.Handler(h.ws)) // 事件通知 (neffos)
	}

	if gatherer != nil {
		app.Get("/metrics", iris.FromStd(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}
