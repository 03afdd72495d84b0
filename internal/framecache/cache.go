// Package framecache 解码帧缓存
//
// 软/硬容量 + 按最近访问批量淘汰：条目数超过 maximum 时，
// 一次性淘汰最久未访问的 (count - preferred) 个条目。
package framecache

import (
	"sort"
	"sync"

	"heif-player/internal/metrics"
	"heif-player/internal/models"
)

// Cache 有界的 item id -> 帧 缓存
type Cache struct {
	preferred int
	maximum   int

	mu      sync.Mutex
	entries map[models.ItemID]*entry
	clock   uint64 // 逻辑时钟，每次 put/get 命中递增
	seq     uint64 // 插入序号，时钟相同时按插入顺序
	metrics *metrics.Metrics
}

type entry struct {
	key        models.ItemID
	value      *models.Frame
	lastAccess uint64
	inserted   uint64
}

// New 创建缓存，preferred 为淘汰后的目标数量，maximum 为硬上限
func New(preferred, maximum int) *Cache {
	if preferred < 0 {
		preferred = 0
	}
	if maximum < preferred {
		maximum = preferred
	}
	return &Cache{
		preferred: preferred,
		maximum:   maximum,
		entries:   make(map[models.ItemID]*entry),
	}
}

// WithMetrics 绑定指标 (可为 nil)
func (c *Cache) WithMetrics(m *metrics.Metrics) *Cache {
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
	return c
}

// Put 存入或覆盖条目并刷新访问时间，超出硬上限时批量淘汰
func (c *Cache) Put(key models.ItemID, value *models.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock++
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.lastAccess = c.clock
		return
	}

	c.seq++
	c.entries[key] = &entry{
		key:        key,
		value:      value,
		lastAccess: c.clock,
		inserted:   c.seq,
	}

	if len(c.entries) > c.maximum {
		c.evict(len(c.entries) - c.preferred)
	}
}

// Get 返回缓存的帧；命中时刷新访问时间，未命中不影响其它条目
func (c *Cache) Get(key models.ItemID) (*models.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	c.metrics.CacheLookup(ok)
	if !ok {
		return nil, false
	}
	c.clock++
	e.lastAccess = c.clock
	return e.value, true
}

// Contains 检查是否存在，不刷新访问时间
func (c *Cache) Contains(key models.ItemID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Clear 清空缓存
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[models.ItemID]*entry)
}

// Len 当前条目数
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity 返回 (preferred, maximum)
func (c *Cache) Capacity() (int, int) {
	return c.preferred, c.maximum
}

// Keys 按最近访问从新到旧返回所有 key
func (c *Cache) Keys() []models.ItemID {
	c.mu.Lock()
	defer c.mu.Unlock()

	sorted := c.byRecency()
	keys := make([]models.ItemID, len(sorted))
	for i, e := range sorted {
		keys[i] = e.key
	}
	return keys
}

// byRecency 从新到旧排序，调用方持有锁
func (c *Cache) byRecency() []*entry {
	all := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].lastAccess != all[j].lastAccess {
			return all[i].lastAccess > all[j].lastAccess
		}
		return all[i].inserted > all[j].inserted
	})
	return all
}

// evict 淘汰最久未访问的 count 个条目，调用方持有锁
func (c *Cache) evict(count int) {
	if count <= 0 {
		return
	}
	sorted := c.byRecency()
	removed := 0
	for i := len(sorted) - 1; i >= 0 && removed < count; i-- {
		delete(c.entries, sorted[i].key)
		removed++
	}
	c.metrics.Evicted(removed)
}
