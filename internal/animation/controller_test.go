package animation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heif-player/internal/models"
)

func TestController_LoopWrapsToFirstFrame(t *testing.T) {
	clock := &fakeClock{}
	src := newFakeSource(true, threeFrames()...)
	r := &fakeRenderer{}
	c := New(src, 1, r, testOptions(clock))

	require.NoError(t, c.Start())
	for i := 0; i < 4; i++ {
		require.True(t, clock.fire())
	}

	assert.Equal(t, []models.ItemID{1, 2, 3, 1}, r.frames())
	// 首次 tick 帧未就绪为 0，3 -> 1 回绕也为 0
	assert.Equal(t, []time.Duration{0, 40 * time.Millisecond, 60 * time.Millisecond, 0, 40 * time.Millisecond}, clock.delays())
	assert.Equal(t, StatePlaying, c.State())
	assert.Equal(t, 0, c.CurrentIndex())
}

func TestController_ReverseRequestsPreviousFrames(t *testing.T) {
	clock := &fakeClock{}
	src := newFakeSource(false, evenFrames(5, 40)...)
	r := &fakeRenderer{}
	opts := testOptions(clock)
	opts.FrameRequestSize = 1
	c := New(src, 1, r, opts)

	require.NoError(t, c.Start())
	src.respond(0)
	require.True(t, clock.fire())
	src.respond(1)
	require.True(t, clock.fire())
	assert.Equal(t, []models.ItemID{1, 2}, r.frames())

	src.respond(2)
	c.SetDirection(false)
	require.True(t, clock.fire())
	assert.Equal(t, []models.ItemID{1, 2, 1}, r.frames())
	assert.Equal(t, []models.ItemID{5}, src.request(3).ids, "prefetch follows the reversed direction")

	src.respond(3)
	require.True(t, clock.fire())
	assert.Equal(t, []models.ItemID{1, 2, 1, 5}, r.frames())
	assert.Equal(t, 4, c.CurrentIndex())
}

func TestController_NoDuplicateInFlightRequests(t *testing.T) {
	clock := &fakeClock{}
	src := newFakeSource(false, threeFrames()...)
	c := New(src, 1, &fakeRenderer{}, testOptions(clock))

	require.NoError(t, c.Start())
	require.Equal(t, 1, src.count())
	assert.Equal(t, []models.ItemID{1, 2, 3}, src.request(0).ids)

	for i := 0; i < 3; i++ {
		require.True(t, clock.fire())
	}
	assert.Equal(t, 1, src.count())
}

func TestController_CachedSeekDrawsSynchronously(t *testing.T) {
	clock := &fakeClock{}
	src := newFakeSource(true, threeFrames()...)
	r := &fakeRenderer{}
	obs := &fakeObserver{}
	c := New(src, 1, r, testOptions(clock))
	c.SetObserver(obs)

	require.NoError(t, c.Start())
	require.True(t, clock.fire())
	c.Stop()
	assert.False(t, clock.active())

	requests := src.count()
	require.NoError(t, c.SetFrameOrderIndex(2))
	assert.Equal(t, []models.ItemID{1, 3}, r.frames())
	assert.Equal(t, requests, src.count())
	assert.Equal(t, 2, c.CurrentIndex())
	assert.Equal(t, 2, obs.current[len(obs.current)-1])
}

func TestController_StaleSeekIsNotDrawn(t *testing.T) {
	src := newFakeSource(false, evenFrames(5, 40)...)
	r := &fakeRenderer{}
	c := New(src, 1, r, testOptions(&fakeClock{}))

	require.NoError(t, c.SetFrameOrderIndex(3))
	require.NoError(t, c.SetFrameOrderIndex(1))
	require.Equal(t, 2, src.count())
	assert.Equal(t, []models.ItemID{4}, src.request(0).ids)
	assert.Error(t, src.request(0).ctx.Err(), "superseded seek is canceled")
	assert.NoError(t, src.request(1).ctx.Err())

	src.respond(0)
	assert.Empty(t, r.frames())

	src.respond(1)
	assert.Equal(t, []models.ItemID{2}, r.frames())
	assert.Equal(t, []int{1}, r.indices)

	// 过期结果仍进入缓存
	require.NoError(t, c.SetFrameOrderIndex(3))
	assert.Equal(t, []models.ItemID{2, 4}, r.frames())
	assert.Equal(t, 2, src.count())
}

func TestController_SeekOutOfRange(t *testing.T) {
	c := New(newFakeSource(true, threeFrames()...), 1, &fakeRenderer{}, testOptions(&fakeClock{}))
	require.ErrorIs(t, c.SetFrameOrderIndex(3), ErrIndexOutOfRange)
	require.ErrorIs(t, c.SetFrameOrderIndex(-1), ErrIndexOutOfRange)
}

func TestController_EmptyTimeline(t *testing.T) {
	c := New(newFakeSource(true), 1, &fakeRenderer{}, testOptions(&fakeClock{}))
	require.ErrorIs(t, c.Init(), ErrEmptyTimeline)
	assert.Equal(t, StateUninitialized, c.State())
}

func TestController_StopsAtEndWithoutLoop(t *testing.T) {
	clock := &fakeClock{}
	src := newFakeSource(true, threeFrames()...)
	r := &fakeRenderer{}
	obs := &fakeObserver{}
	opts := testOptions(clock)
	opts.Loop = false
	c := New(src, 1, r, opts)
	c.SetObserver(obs)

	require.NoError(t, c.Start())
	for clock.fire() {
	}

	assert.Equal(t, []models.ItemID{1, 2, 3}, r.frames())
	assert.Equal(t, 1, obs.pauseCount())
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 1, src.count())
}

func TestController_FailedFrameDrawnAsPlaceholder(t *testing.T) {
	clock := &fakeClock{}
	src := newFakeSource(true, threeFrames()...)
	src.fail[2] = true
	r := &fakeRenderer{}
	opts := testOptions(clock)
	opts.FrameRequestSize = 1
	c := New(src, 1, r, opts)

	require.NoError(t, c.Start())
	for i := 0; i < 4; i++ {
		require.True(t, clock.fire())
	}

	assert.Equal(t, []models.ItemID{1, 0, 3, 1}, r.frames())
	assert.Equal(t, 3, src.count(), "failed frame is not requested again")
}

func TestController_PreloadDefersStart(t *testing.T) {
	clock := &fakeClock{}
	src := newFakeSource(false, threeFrames()...)
	r := &fakeRenderer{}
	ready := 0
	opts := testOptions(clock)
	opts.OnReady = func() { ready++ }
	c := New(src, 1, r, opts)

	require.NoError(t, c.Preload())
	require.NoError(t, c.Start())
	assert.Equal(t, StateStopped, c.State())
	assert.False(t, clock.active())
	require.Equal(t, 1, src.count())
	assert.Equal(t, []models.ItemID{1, 2, 3}, src.request(0).ids)

	src.respond(0)
	assert.Equal(t, StatePlaying, c.State())
	assert.Equal(t, []models.ItemID{1}, r.frames())

	require.True(t, clock.fire())
	require.True(t, clock.fire())
	assert.Equal(t, []models.ItemID{1, 2, 3}, r.frames())
	assert.Equal(t, 1, src.count())
	assert.Equal(t, 1, ready)
}

func TestController_Close(t *testing.T) {
	clock := &fakeClock{}
	src := newFakeSource(false, evenFrames(4, 40)...)
	r := &fakeRenderer{}
	c := New(src, 1, r, testOptions(clock))

	require.NoError(t, c.Start())
	require.NoError(t, c.SetFrameOrderIndex(2))
	c.Close()
	c.Close()

	for i := 0; i < src.count(); i++ {
		assert.Error(t, src.request(i).ctx.Err())
	}
	src.respond(1)
	assert.Empty(t, r.frames())
	assert.False(t, clock.active())
	require.ErrorIs(t, c.Start(), ErrClosed)
}

func TestController_InitNotifiesObserver(t *testing.T) {
	obs := &fakeObserver{}
	c := New(newFakeSource(true, threeFrames()...), 1, &fakeRenderer{}, testOptions(&fakeClock{}))
	c.SetObserver(obs)
	require.NoError(t, c.Init())
	require.NoError(t, c.Init())

	assert.Equal(t, 3, c.Len())
	w, h := c.DisplaySize()
	assert.Equal(t, 4, w)
	assert.Equal(t, 2, h)
	assert.Equal(t, []int{0, 0}, obs.current)
}

func TestController_PlaybackSupersedesPendingSeek(t *testing.T) {
	clock := &fakeClock{}
	src := newFakeSource(false, evenFrames(5, 40)...)
	r := &fakeRenderer{}
	obs := &fakeObserver{}
	opts := testOptions(clock)
	opts.FrameRequestSize = 1
	c := New(src, 1, r, opts)
	c.SetObserver(obs)

	require.NoError(t, c.Start())
	require.NoError(t, c.SetFrameOrderIndex(3))
	require.Equal(t, 2, src.count())
	assert.Equal(t, []models.ItemID{1}, src.request(0).ids)
	assert.Equal(t, []models.ItemID{4}, src.request(1).ids)

	src.respond(0)
	require.True(t, clock.fire()) // 预取 5，帧未就绪
	require.Equal(t, 3, src.count())
	src.respond(2)
	require.True(t, clock.fire()) // 绘制索引 4
	require.True(t, clock.fire()) // 回绕绘制索引 0
	assert.Error(t, src.request(1).ctx.Err(), "playback cancels the pending seek")

	src.respond(1)
	assert.Equal(t, []models.ItemID{5, 1}, r.frames())
	assert.Equal(t, []int{4, 0}, r.indices)
	assert.Equal(t, []int{4, 0}, obs.current)
	assert.Equal(t, 0, c.CurrentIndex())
}

func TestController_SeekReusesInFlightRequest(t *testing.T) {
	clock := &fakeClock{}
	src := newFakeSource(false, threeFrames()...)
	r := &fakeRenderer{}
	c := New(src, 1, r, testOptions(clock))

	require.NoError(t, c.Start())
	require.Equal(t, 1, src.count())

	require.NoError(t, c.SetFrameOrderIndex(2))
	require.NoError(t, c.SetFrameOrderIndex(2))
	assert.Equal(t, 1, src.count(), "frame already requested by prefetch")

	src.respond(0)
	assert.Equal(t, []models.ItemID{3}, r.frames())
	assert.Equal(t, []int{2}, r.indices)
}

func TestController_RepeatedSeekKeepsOwnRequest(t *testing.T) {
	src := newFakeSource(false, evenFrames(5, 40)...)
	r := &fakeRenderer{}
	c := New(src, 1, r, testOptions(&fakeClock{}))

	require.NoError(t, c.SetFrameOrderIndex(3))
	require.NoError(t, c.SetFrameOrderIndex(3))
	require.Equal(t, 1, src.count())
	assert.NoError(t, src.request(0).ctx.Err())

	src.respond(0)
	assert.Equal(t, []models.ItemID{4}, r.frames())
}
