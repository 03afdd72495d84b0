package animation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeline_NextIndex(t *testing.T) {
	tl := NewTimeline(threeFrames())

	assert.Equal(t, 0, tl.NextIndex(-1, true))
	assert.Equal(t, 0, tl.NextIndex(-1, false))
	assert.Equal(t, 1, tl.NextIndex(0, true))
	assert.Equal(t, 0, tl.NextIndex(2, true))
	assert.Equal(t, 2, tl.NextIndex(0, false))
	assert.Equal(t, 1, tl.NextIndex(2, false))
}

func TestTimeline_Interval(t *testing.T) {
	tl := NewTimeline(threeFrames())

	assert.Equal(t, 40*time.Millisecond, tl.Interval(0, true))
	assert.Equal(t, 60*time.Millisecond, tl.Interval(1, true))
	assert.Equal(t, time.Duration(0), tl.Interval(2, true), "wraparound has no interval")

	assert.Equal(t, 60*time.Millisecond, tl.Interval(2, false))
	assert.Equal(t, time.Duration(0), tl.Interval(0, false))
	assert.Equal(t, time.Duration(0), tl.Interval(-1, true))
}

func TestTimeline_IsLast(t *testing.T) {
	tl := NewTimeline(threeFrames())
	assert.True(t, tl.IsLast(2, true))
	assert.False(t, tl.IsLast(0, true))
	assert.True(t, tl.IsLast(0, false))
}

func TestTimeline_Window(t *testing.T) {
	tl := NewTimeline(evenFrames(5, 40))

	assert.Equal(t, []int{0, 1, 2}, tl.Window(-1, true, 3, true))
	assert.Equal(t, []int{4, 0, 1}, tl.Window(3, true, 3, true))
	assert.Equal(t, []int{1, 0, 4}, tl.Window(2, false, 3, true))
	assert.Equal(t, []int{3, 4, 0, 1, 2}, tl.Window(2, true, 120, true), "window capped at timeline length")

	assert.Equal(t, []int{4}, tl.Window(3, true, 3, false), "no prefetch past the end")
	assert.Empty(t, tl.Window(4, true, 3, false))
	assert.Equal(t, []int{1, 0}, tl.Window(2, false, 3, false))
	assert.Empty(t, tl.Window(0, true, 0, true))
}

func TestTimeline_IndexOf(t *testing.T) {
	tl := NewTimeline(threeFrames())
	i, ok := tl.IndexOf(3)
	assert.True(t, ok)
	assert.Equal(t, 2, i)
	_, ok = tl.IndexOf(9)
	assert.False(t, ok)
}
