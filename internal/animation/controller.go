package animation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"heif-player/internal/config"
	"heif-player/internal/framecache"
	"heif-player/internal/logging"
	"heif-player/internal/metrics"
	"heif-player/internal/models"
	"heif-player/internal/provider"
)

var (
	ErrEmptyTimeline   = errors.New("timeline has no frames")
	ErrIndexOutOfRange = errors.New("frame index out of range")
	ErrClosed          = errors.New("animation closed")
)

// Source 帧数据来源，*provider.Provider 实现该接口
type Source interface {
	RequestImageData(ctx context.Context, contextID models.ContextID, itemIDs []models.ItemID, callback func(models.Payload)) error
	ItemTimestamps(contextID models.ContextID) ([]models.Timestamp, error)
	DisplaySize(contextID models.ContextID) (int, int)
}

// Renderer 绘制目标
// 回调在 Controller 锁外执行，可以安全地调用 Controller 的方法
type Renderer interface {
	DrawFrame(index int, frame *models.Frame, displayWidth, displayHeight int)
	DrawPlaceholder(index int, displayWidth, displayHeight int)
}

// Observer 外部播放控件
type Observer interface {
	SetCurrentFrame(index, total int)
	Pause()
}

// Timer 可停止的定时器 (*time.Timer 满足)
type Timer interface {
	Stop() bool
}

// State 控制器状态
type State int

const (
	StateUninitialized State = iota
	StateStopped
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	default:
		return "uninitialized"
	}
}

// Options 控制器参数
type Options struct {
	PreferredBufferSize int
	FrameRequestSize    int
	MaximumCacheSize    int
	Loop                bool
	MinTickDelay        time.Duration // 0 表示不设下限

	AfterFunc func(d time.Duration, f func()) Timer // nil 时使用 time.AfterFunc
	OnReady   func()                                // 第一次成功解码后调用一次
	Metrics   *metrics.Metrics
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		PreferredBufferSize: config.PreferredBufferSize,
		FrameRequestSize:    config.FrameRequestSize,
		MaximumCacheSize:    config.MaximumCacheSize,
		Loop:                true,
		MinTickDelay:        config.MinTickDelay,
	}
}

// Controller 一个上下文的动画播放控制器
type Controller struct {
	source    Source
	contextID models.ContextID
	renderer  Renderer
	opts      Options

	mu        sync.Mutex
	observer  Observer
	state     State
	timeline  *Timeline
	cache     *framecache.Cache
	width     int
	height    int
	forward   bool
	loop      bool
	lastDrawn int

	sent         map[models.ItemID]bool // 已发出、尚未返回的请求
	failed       map[models.ItemID]bool // 解码失败的帧
	drawPending  models.ItemID
	pendingIndex int
	hasPending   bool

	timer        Timer
	generation   uint64 // 每次启停递增，旧定时器据此失效
	preloading   bool
	delayedStart bool
	closed       bool

	ctx        context.Context
	cancel     context.CancelFunc
	seekCancel context.CancelFunc
	seekID     models.ItemID // seekCancel 对应的帧

	readyOnce sync.Once
}

// 锁内决定、锁外执行的绘制动作
type drawAction struct {
	index       int
	frame       *models.Frame // nil 时绘制占位
	placeholder bool
}

// New 创建控制器，Init 之前不请求任何数据
func New(source Source, contextID models.ContextID, renderer Renderer, opts Options) *Controller {
	if opts.PreferredBufferSize <= 0 {
		opts.PreferredBufferSize = config.PreferredBufferSize
	}
	if opts.FrameRequestSize <= 0 {
		opts.FrameRequestSize = config.FrameRequestSize
	}
	if opts.MaximumCacheSize < opts.PreferredBufferSize {
		opts.MaximumCacheSize = opts.PreferredBufferSize + opts.FrameRequestSize
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		source:    source,
		contextID: contextID,
		renderer:  renderer,
		opts:      opts,
		forward:   true,
		loop:      opts.Loop,
		lastDrawn: -1,
		sent:      make(map[models.ItemID]bool),
		failed:    make(map[models.ItemID]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetObserver 设置外部播放控件
func (c *Controller) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Init 加载时间轴并分配缓存；重复调用无副作用
func (c *Controller) Init() error {
	c.mu.Lock()
	err := c.initLocked()
	total := 0
	if c.timeline != nil {
		total = c.timeline.Len()
	}
	obs := c.observer
	c.mu.Unlock()

	if err == nil && obs != nil {
		obs.SetCurrentFrame(0, total)
	}
	return err
}

func (c *Controller) initLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.state != StateUninitialized {
		return nil
	}
	ts, err := c.source.ItemTimestamps(c.contextID)
	if err != nil {
		return fmt.Errorf("load timestamps for context %d: %w", c.contextID, err)
	}
	if len(ts) == 0 {
		return ErrEmptyTimeline
	}
	c.timeline = NewTimeline(ts)
	c.cache = framecache.New(c.opts.PreferredBufferSize, c.opts.MaximumCacheSize).WithMetrics(c.opts.Metrics)
	c.width, c.height = c.source.DisplaySize(c.contextID)
	c.state = StateStopped
	logging.LogDebug("动画初始化", "context", c.contextID, "frames", len(ts), "width", c.width, "height", c.height)
	return nil
}

// Start 开始播放；预加载期间推迟到预加载完成
func (c *Controller) Start() error {
	c.mu.Lock()
	if err := c.initLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state == StatePlaying {
		c.mu.Unlock()
		return nil
	}
	if c.preloading {
		c.delayedStart = true
		c.mu.Unlock()
		return nil
	}
	c.state = StatePlaying
	c.hasPending = false
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.tick(gen)
	return nil
}

// Stop 停止播放，已缓存的帧保留
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.state == StatePlaying {
		c.state = StateStopped
	}
	c.delayedStart = false
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// SetDirection 设置播放方向
func (c *Controller) SetDirection(forward bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forward = forward
}

// SetLoop 设置是否循环
func (c *Controller) SetLoop(loop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loop = loop
}

// State 当前状态
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Playing 是否正在播放
func (c *Controller) Playing() bool {
	return c.State() == StatePlaying
}

// CurrentIndex 最后绘制 (或跳转) 的位置，尚未绘制时为 -1
func (c *Controller) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDrawn
}

// Len 帧数，未初始化时为 0
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeline == nil {
		return 0
	}
	return c.timeline.Len()
}

// Timeline 已加载的时间轴
func (c *Controller) Timeline() *Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeline
}

// DisplaySize 显示尺寸
func (c *Controller) DisplaySize() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// CachedFrame 查询缓存中的帧
func (c *Controller) CachedFrame(id models.ItemID) (*models.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(id)
}

// SetFrameOrderIndex 跳转到指定位置
// 已缓存时同步绘制；否则单独请求该帧，完成后仅当它仍是待绘制帧时才绘制
func (c *Controller) SetFrameOrderIndex(index int) error {
	c.mu.Lock()
	if err := c.initLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if index < 0 || index >= c.timeline.Len() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, c.timeline.Len())
	}

	c.lastDrawn = index
	id := c.timeline.ID(index)
	var draw *drawAction
	var req []models.ItemID
	var reqCtx context.Context

	if frame, ok := c.cache.Get(id); ok {
		c.clearPendingLocked()
		draw = &drawAction{index: index, frame: frame}
	} else if c.failed[id] {
		c.clearPendingLocked()
		draw = &drawAction{index: index, placeholder: true}
	} else {
		inFlight := c.sent[id]
		if !inFlight || c.seekID != id {
			c.clearPendingLocked()
		}
		c.drawPending = id
		c.pendingIndex = index
		c.hasPending = true
		// 已在途的帧 (预取或同一帧的上一次跳转) 不重复请求，结果返回时绘制
		if !inFlight {
			reqCtx, c.seekCancel = context.WithCancel(c.ctx)
			c.seekID = id
			c.sent[id] = true
			req = []models.ItemID{id}
		}
	}
	out := c.outputsLocked()
	c.mu.Unlock()

	if draw != nil {
		c.apply(out, *draw)
	}
	if req != nil {
		c.send(reqCtx, req, false)
	}
	return nil
}

// Preload 把缓存扩到全部帧并一次性请求所有帧
func (c *Controller) Preload() error {
	c.mu.Lock()
	if err := c.initLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	n := c.timeline.Len()
	c.cache = framecache.New(n, n).WithMetrics(c.opts.Metrics)
	ids := make([]models.ItemID, 0, n)
	seen := make(map[models.ItemID]bool, n)
	for i := 0; i < n; i++ {
		id := c.timeline.ID(i)
		if seen[id] || c.failed[id] {
			continue
		}
		seen[id] = true
		c.sent[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.preloading = true
	ctx := c.ctx
	c.mu.Unlock()

	logging.LogDebug("预加载全部帧", "context", c.contextID, "frames", len(ids))
	c.send(ctx, ids, true)
	return nil
}

// Close 停止播放并取消未完成的请求
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	c.closed = true
	c.hasPending = false
	if c.cache != nil {
		c.cache.Clear()
	}
	c.mu.Unlock()

	c.cancel()
}

// tick 一次定时回调
func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != StatePlaying || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	req := c.prefetchLocked()
	ctx := c.ctx

	var draw *drawAction
	stopped := false
	if !c.loop && c.lastDrawn >= 0 && c.timeline.IsLast(c.lastDrawn, c.forward) {
		c.stopLocked()
		stopped = true
	} else {
		next := c.timeline.NextIndex(c.lastDrawn, c.forward)
		id := c.timeline.ID(next)
		delay := time.Duration(0)
		if frame, ok := c.cache.Get(id); ok {
			draw = &drawAction{index: next, frame: frame}
		} else if c.failed[id] {
			draw = &drawAction{index: next, placeholder: true}
		} else {
			c.opts.Metrics.Stalled()
		}
		if draw != nil {
			c.lastDrawn = next
			c.clearPendingLocked()
			delay = c.timeline.Interval(next, c.forward)
		}
		if delay < c.opts.MinTickDelay {
			delay = c.opts.MinTickDelay
		}
		c.timer = c.opts.AfterFunc(delay, func() { c.tick(gen) })
	}
	out := c.outputsLocked()
	c.mu.Unlock()

	if draw != nil {
		c.apply(out, *draw)
	}
	if len(req) > 0 {
		c.send(ctx, req, false)
	}
	if stopped && out.observer != nil {
		out.observer.Pause()
	}
}

// clearPendingLocked 放弃待绘制的跳转帧并取消其请求
func (c *Controller) clearPendingLocked() {
	c.hasPending = false
	if c.seekCancel != nil {
		c.seekCancel()
		c.seekCancel = nil
	}
}

// prefetchLocked 在当前方向的窗口内挑出未缓存且未请求的帧，每轮最多 FrameRequestSize 个
func (c *Controller) prefetchLocked() []models.ItemID {
	window := c.timeline.Window(c.lastDrawn, c.forward, c.opts.PreferredBufferSize, c.loop)
	var ids []models.ItemID
	for _, i := range window {
		if len(ids) >= c.opts.FrameRequestSize {
			break
		}
		id := c.timeline.ID(i)
		if c.sent[id] || c.failed[id] {
			continue
		}
		if c.cache.Contains(id) {
			// 即将播放的帧刷新为最近使用
			c.cache.Get(id)
			continue
		}
		c.sent[id] = true
		ids = append(ids, id)
	}
	return ids
}

type outputs struct {
	renderer Renderer
	observer Observer
	total    int
	width    int
	height   int
}

func (c *Controller) outputsLocked() outputs {
	o := outputs{renderer: c.renderer, observer: c.observer, width: c.width, height: c.height}
	if c.timeline != nil {
		o.total = c.timeline.Len()
	}
	return o
}

func (c *Controller) apply(out outputs, d drawAction) {
	if out.renderer != nil {
		if d.placeholder || d.frame == nil {
			out.renderer.DrawPlaceholder(d.index, out.width, out.height)
		} else {
			out.renderer.DrawFrame(d.index, d.frame, out.width, out.height)
		}
	}
	c.opts.Metrics.FrameDrawn()
	if out.observer != nil {
		out.observer.SetCurrentFrame(d.index, out.total)
	}
}

// send 在锁外发出请求；同步错误按失败结果处理
func (c *Controller) send(ctx context.Context, ids []models.ItemID, preload bool) {
	cb := func(p models.Payload) { c.onPayload(ids, p, preload) }
	if err := c.source.RequestImageData(ctx, c.contextID, ids, cb); err != nil {
		cb(models.FailedPayload(err))
	}
}

// onPayload 处理解码结果
func (c *Controller) onPayload(ids []models.ItemID, p models.Payload, preload bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	for _, id := range ids {
		delete(c.sent, id)
	}

	var draw *drawAction
	ready := false
	if p.Success {
		for _, f := range p.Frames {
			c.cache.Put(f.ItemID, f)
			delete(c.failed, f.ItemID)
		}
		if c.hasPending {
			if frame, ok := c.cache.Get(c.drawPending); ok {
				c.hasPending = false
				draw = &drawAction{index: c.pendingIndex, frame: frame}
			}
		}
		ready = true
	} else if errors.Is(p.Err, provider.ErrCanceled) || errors.Is(p.Err, context.Canceled) {
		logging.LogDebug("请求已取消", "context", c.contextID, "items", len(ids))
	} else {
		logging.LogWarn("帧解码失败", "context", c.contextID, "items", ids, "error", p.Err)
		for _, id := range ids {
			c.failed[id] = true
		}
		if c.hasPending && c.failed[c.drawPending] {
			c.hasPending = false
			draw = &drawAction{index: c.pendingIndex, placeholder: true}
		}
	}

	start := false
	if preload {
		c.preloading = false
		if c.delayedStart {
			c.delayedStart = false
			start = true
		}
	}
	out := c.outputsLocked()
	c.mu.Unlock()

	if draw != nil {
		c.apply(out, *draw)
	}
	if ready && c.opts.OnReady != nil {
		c.readyOnce.Do(c.opts.OnReady)
	}
	if start {
		if err := c.Start(); err != nil {
			logging.LogWarn("延迟启动失败", "context", c.contextID, "error", err)
		}
	}
}
