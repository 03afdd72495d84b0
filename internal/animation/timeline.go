// Package animation 动画播放调度
//
// Timeline 保存按显示时间排序的帧，Controller 在其上维护预取窗口、
// 播放方向、循环和按帧间隔变化的定时器。
package animation

import (
	"time"

	"heif-player/internal/models"
)

// Timeline 有序的 (item id, 显示时间) 序列，加载后不再改变
type Timeline struct {
	entries []models.Timestamp
}

// NewTimeline 复制时间戳序列
func NewTimeline(ts []models.Timestamp) *Timeline {
	entries := make([]models.Timestamp, len(ts))
	copy(entries, ts)
	return &Timeline{entries: entries}
}

// Len 帧数
func (t *Timeline) Len() int {
	return len(t.entries)
}

// ID 第 i 帧的 item id
func (t *Timeline) ID(i int) models.ItemID {
	return t.entries[i].ID
}

// Entries 返回时间戳副本
func (t *Timeline) Entries() []models.Timestamp {
	out := make([]models.Timestamp, len(t.entries))
	copy(out, t.entries)
	return out
}

// IndexOf 返回 item id 所在的第一个位置
func (t *Timeline) IndexOf(id models.ItemID) (int, bool) {
	for i, e := range t.entries {
		if e.ID == id {
			return i, true
		}
	}
	return -1, false
}

// NextIndex 上一次绘制 last 之后的下一帧；尚未绘制时为 0
func (t *Timeline) NextIndex(last int, forward bool) int {
	n := len(t.entries)
	if last < 0 || n == 0 {
		return 0
	}
	if forward {
		return (last + 1) % n
	}
	if last > 0 {
		return last - 1
	}
	return n - 1
}

// Interval 绘制 last 之后到下一帧的等待时间
// 取两个相邻时间戳之差；到达序列端点 (回绕) 时为 0
func (t *Timeline) Interval(last int, forward bool) time.Duration {
	if last < 0 || last >= len(t.entries) {
		return 0
	}
	var ms int64
	if forward {
		if last+1 < len(t.entries) {
			ms = t.entries[last+1].T - t.entries[last].T
		}
	} else if last > 0 {
		ms = t.entries[last].T - t.entries[last-1].T
	}
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// IsLast 是否为当前方向上的最后一帧
func (t *Timeline) IsLast(index int, forward bool) bool {
	if forward {
		return index == len(t.entries)-1
	}
	return index == 0
}

// Window 从 last 之后开始按方向取 size 个位置
// 不循环时在序列端点截止
func (t *Timeline) Window(last int, forward bool, size int, loop bool) []int {
	n := len(t.entries)
	if size > n {
		size = n
	}
	if size <= 0 {
		return nil
	}
	if !loop && last >= 0 && t.IsLast(last, forward) {
		return nil
	}

	window := make([]int, 0, size)
	i := t.NextIndex(last, forward)
	for len(window) < size {
		window = append(window, i)
		if !loop && t.IsLast(i, forward) {
			break
		}
		i = t.NextIndex(i, forward)
	}
	return window
}
