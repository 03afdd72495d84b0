package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"

	"heif-player/internal/animation"
	"heif-player/internal/logging"
	"heif-player/internal/models"
	"heif-player/internal/notify"
	"heif-player/internal/player"
	"heif-player/internal/provider"
	"heif-player/internal/render"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errNotAnimation = errors.New("session is not an animation")

// WSMessage WebSocket 控制消息
type WSMessage struct {
	Action  string `json:"action"` // play / pause / seek / direction / loop / preload
	Index   int    `json:"index"`
	Forward *bool  `json:"forward,omitempty"`
	Loop    *bool  `json:"loop,omitempty"`
}

// StreamSession 一个播放连接
// 每个会话有独立的解码管线，帧以二进制消息推送 (见 render.Codec)
type StreamSession struct {
	id       string
	ws       *websocket.Conn
	h        *Handlers
	provider *provider.Provider
	player   *player.Player
	codec    *render.Codec
	mqtt     *notify.Observer // 未配置 MQTT 时为 nil

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

// HandleWebSocket 播放流
// GET /api/v1/stream
func (h *Handlers) HandleWebSocket(ctx iris.Context) {
	ws, err := upgrader.Upgrade(ctx.ResponseWriter(), ctx.Request(), nil)
	if err != nil {
		logging.LogWarn("WebSocket 升级失败", "error", err)
		return
	}

	s, err := h.newSession(ws)
	if err != nil {
		ws.WriteJSON(iris.Map{"type": "error", "error": err.Error()})
		ws.Close()
		return
	}
	h.addSession(s)
	logging.LogInfo("新播放会话", "session", s.id, "mode", s.player.Mode())
	defer func() {
		h.removeSession(s.id)
		s.close()
		logging.LogInfo("播放会话结束", "session", s.id)
	}()

	w, hgt := s.provider.DisplaySize(s.player.MasterContextID())
	s.sendJSON(iris.Map{
		"type":        "session",
		"id":          s.id,
		"mode":        s.player.Mode().String(),
		"frames":      s.frames(),
		"width":       w,
		"height":      hgt,
		"compression": s.codec.Compression(),
	})

	loadCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.load(loadCtx)

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.LogWarn("WebSocket 读取失败", "session", s.id, "error", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendJSON(iris.Map{"type": "error", "error": "无效的 JSON"})
			continue
		}
		if err := s.control(msg); err != nil {
			s.sendJSON(iris.Map{"type": "error", "action": msg.Action, "error": err.Error()})
			continue
		}
		s.sendState(msg.Action)
	}
}

// newSession 创建会话及其解码管线
func (h *Handlers) newSession(ws *websocket.Conn) (*StreamSession, error) {
	codec, err := render.NewCodec(h.opts.Compression)
	if err != nil {
		return nil, err
	}
	s := &StreamSession{
		id:    uuid.NewString(),
		ws:    ws,
		h:     h,
		codec: codec,
		provider: h.media.NewProvider(provider.Options{
			QueueOrder: h.opts.Player.QueueOrder,
			Metrics:    h.opts.Metrics,
		}),
	}
	if h.opts.Broker != nil {
		s.mqtt = h.opts.Broker.Observer(s.id)
	}

	opts := h.playerOptions()
	opts.Autoplay = true
	opts.OnLoad = s.ready
	pl, err := player.New(s.provider, s, opts)
	if err != nil {
		s.provider.Close()
		codec.Close()
		return nil, err
	}
	s.player = pl
	if anim := pl.Animation(); anim != nil {
		// 时间轴在发送 session 消息之前建立，帧数才准确
		if err := anim.Init(); err != nil {
			pl.Close()
			s.provider.Close()
			codec.Close()
			return nil, err
		}
		anim.SetObserver(s)
	}
	return s, nil
}

// load 按播放方式开始加载
func (s *StreamSession) load(ctx context.Context) {
	if s.player.Mode() != player.ModeCollection {
		if err := s.player.Load(ctx); err != nil {
			logging.LogWarn("加载失败", "session", s.id, "error", err)
			s.sendJSON(iris.Map{"type": "error", "error": err.Error()})
		}
		return
	}

	payload, err := s.player.Collection(ctx)
	if err != nil {
		logging.LogWarn("集合解码失败", "session", s.id, "error", err)
		return
	}
	w, h := s.provider.DisplaySize(s.player.MasterContextID())
	for i, id := range payload.ItemIDs() {
		if f, ok := payload.Frame(id); ok {
			s.DrawFrame(i, f, w, h)
		} else {
			s.DrawPlaceholder(i, w, h)
		}
	}
}

// control 执行控制消息
func (s *StreamSession) control(msg WSMessage) error {
	anim := s.player.Animation()
	if anim == nil {
		return errNotAnimation
	}
	switch msg.Action {
	case "play":
		return anim.Start()
	case "pause":
		anim.Stop()
	case "seek":
		return anim.SetFrameOrderIndex(msg.Index)
	case "direction":
		if msg.Forward == nil {
			return errors.New("forward required")
		}
		anim.SetDirection(*msg.Forward)
	case "loop":
		if msg.Loop == nil {
			return errors.New("loop required")
		}
		anim.SetLoop(*msg.Loop)
	case "preload":
		return anim.Preload()
	default:
		return errors.New("unknown action")
	}
	return nil
}

func (s *StreamSession) sendState(action string) {
	info := s.Info()
	s.sendJSON(iris.Map{
		"type":   "state",
		"action": action,
		"state":  info.State,
		"index":  info.Index,
	})
}

// frames 帧数
func (s *StreamSession) frames() int {
	if anim := s.player.Animation(); anim != nil {
		return anim.Len()
	}
	if s.player.Mode() == player.ModeCollection {
		return len(s.provider.MetaBoxMasterIDs())
	}
	return 1
}

// Info 会话概况
func (s *StreamSession) Info() SessionInfo {
	info := SessionInfo{
		ID:     s.id,
		Mode:   s.player.Mode().String(),
		State:  animation.StateStopped.String(),
		Frames: s.frames(),
	}
	if anim := s.player.Animation(); anim != nil {
		info.State = anim.State().String()
		info.Index = anim.CurrentIndex()
	}
	return info
}

// ==================== animation.Renderer ====================

// DrawFrame 缩放到显示尺寸后推送
func (s *StreamSession) DrawFrame(index int, f *models.Frame, displayWidth, displayHeight int) {
	if displayWidth > 0 && displayHeight > 0 {
		scaled, err := render.ScaleFrame(f, displayWidth, displayHeight)
		if err != nil {
			logging.LogWarn("帧缩放失败", "session", s.id, "item", f.ItemID, "error", err)
			return
		}
		f = scaled
	}
	msg, err := s.codec.Encode(index, f)
	if err != nil {
		if !errors.Is(err, render.ErrCodecClosed) {
			logging.LogWarn("帧编码失败", "session", s.id, "item", f.ItemID, "error", err)
		}
		return
	}
	if err := s.sendBytes(msg); err != nil {
		logging.LogDebug("帧发送失败", "session", s.id, "index", index, "error", err)
	}
}

// DrawPlaceholder 推送灰色占位帧 (ItemID 为 0)
func (s *StreamSession) DrawPlaceholder(index int, displayWidth, displayHeight int) {
	f, err := render.PlaceholderFrame(0, displayWidth, displayHeight)
	if err != nil {
		logging.LogWarn("占位帧生成失败", "session", s.id, "error", err)
		return
	}
	s.DrawFrame(index, f, 0, 0)
}

// ==================== animation.Observer ====================

// SetCurrentFrame 当前帧变化
func (s *StreamSession) SetCurrentFrame(index, total int) {
	s.h.events.Publish(s.id, "frame", iris.Map{"index": index, "total": total})
	if s.mqtt != nil {
		s.mqtt.SetCurrentFrame(index, total)
	}
}

// Pause 非循环播放到达末尾
func (s *StreamSession) Pause() {
	s.sendJSON(iris.Map{"type": "paused"})
	s.h.events.Publish(s.id, "paused", nil)
	if s.mqtt != nil {
		s.mqtt.Pause()
	}
}

// ready 首批帧就绪
func (s *StreamSession) ready() {
	s.sendJSON(iris.Map{"type": "ready"})
	s.h.events.Publish(s.id, "ready", nil)
	if s.mqtt != nil {
		s.mqtt.Ready()
	}
}

func (s *StreamSession) sendJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *StreamSession) sendBytes(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteMessage(websocket.BinaryMessage, data)
}

// close 停止播放并释放解码管线
func (s *StreamSession) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.player.Close()
	s.provider.Close()
	s.codec.Close()
	if s.mqtt != nil {
		s.mqtt.Closed()
	}
	s.h.events.Publish(s.id, "closed", nil)
	s.ws.Close()
}
