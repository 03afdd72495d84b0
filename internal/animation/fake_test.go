package animation

import (
	"context"
	"errors"
	"sync"
	"time"

	"heif-player/internal/models"
)

var errFakeSource = errors.New("fake source failure")

type sourceRequest struct {
	ctx context.Context
	ids []models.ItemID
	cb  func(models.Payload)
}

// fakeSource 记录请求；auto 为 true 时同步返回结果
type fakeSource struct {
	mu       sync.Mutex
	ts       []models.Timestamp
	width    int
	height   int
	auto     bool
	fail     map[models.ItemID]bool
	requests []sourceRequest
}

func newFakeSource(auto bool, ts ...models.Timestamp) *fakeSource {
	return &fakeSource{ts: ts, width: 4, height: 2, auto: auto, fail: make(map[models.ItemID]bool)}
}

func (s *fakeSource) RequestImageData(ctx context.Context, _ models.ContextID, ids []models.ItemID, cb func(models.Payload)) error {
	s.mu.Lock()
	s.requests = append(s.requests, sourceRequest{ctx: ctx, ids: append([]models.ItemID(nil), ids...), cb: cb})
	n := len(s.requests) - 1
	auto := s.auto
	s.mu.Unlock()
	if auto {
		s.respond(n)
	}
	return nil
}

func (s *fakeSource) ItemTimestamps(models.ContextID) ([]models.Timestamp, error) {
	return s.ts, nil
}

func (s *fakeSource) DisplaySize(models.ContextID) (int, int) {
	return s.width, s.height
}

func (s *fakeSource) respond(i int) {
	s.mu.Lock()
	r := s.requests[i]
	failed := false
	for _, id := range r.ids {
		failed = failed || s.fail[id]
	}
	s.mu.Unlock()

	if failed {
		r.cb(models.FailedPayload(errFakeSource))
		return
	}
	p := models.Payload{Success: true, DisplayWidth: s.width, DisplayHeight: s.height}
	for _, id := range r.ids {
		p.Frames = append(p.Frames, models.NewFrame(id, s.width, s.height))
	}
	r.cb(p)
}

func (s *fakeSource) request(i int) sourceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// fakeRenderer 记录绘制；占位帧记为 0
type fakeRenderer struct {
	mu      sync.Mutex
	drawn   []models.ItemID
	indices []int
}

func (r *fakeRenderer) DrawFrame(index int, f *models.Frame, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drawn = append(r.drawn, f.ItemID)
	r.indices = append(r.indices, index)
}

func (r *fakeRenderer) DrawPlaceholder(index int, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drawn = append(r.drawn, 0)
	r.indices = append(r.indices, index)
}

func (r *fakeRenderer) frames() []models.ItemID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ItemID(nil), r.drawn...)
}

type fakeObserver struct {
	mu      sync.Mutex
	current []int
	pauses  int
}

func (o *fakeObserver) SetCurrentFrame(index, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = append(o.current, index)
}

func (o *fakeObserver) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pauses++
}

func (o *fakeObserver) pauseCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pauses
}

// fakeClock 手动触发的定时器
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// fire 触发最近一个仍有效的定时器
func (c *fakeClock) fire() bool {
	c.mu.Lock()
	var t *fakeTimer
	for i := len(c.timers) - 1; i >= 0; i-- {
		if !c.timers[i].stopped && !c.timers[i].fired {
			t = c.timers[i]
			break
		}
	}
	if t != nil {
		t.fired = true
	}
	c.mu.Unlock()
	if t == nil {
		return false
	}
	t.f()
	return true
}

func (c *fakeClock) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			return true
		}
	}
	return false
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.timers))
	for i, t := range c.timers {
		out[i] = t.d
	}
	return out
}

func testOptions(clock *fakeClock) Options {
	return Options{
		PreferredBufferSize: 120,
		FrameRequestSize:    64,
		MaximumCacheSize:    184,
		Loop:                true,
		AfterFunc:           clock.AfterFunc,
	}
}

func threeFrames() []models.Timestamp {
	return []models.Timestamp{{ID: 1, T: 0}, {ID: 2, T: 40}, {ID: 3, T: 100}}
}

// evenFrames n 帧，id 从 1 开始，间隔 step 毫秒
func evenFrames(n int, step int64) []models.Timestamp {
	ts := make([]models.Timestamp, n)
	for i := range ts {
		ts[i] = models.Timestamp{ID: models.ItemID(i + 1), T: int64(i) * step}
	}
	return ts
}
