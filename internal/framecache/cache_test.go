package framecache

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heif-player/internal/metrics"
	"heif-player/internal/models"
)

func frame(id models.ItemID) *models.Frame {
	return models.NewFrame(id, 1, 1)
}

func TestPutGet(t *testing.T) {
	c := New(2, 4)

	_, ok := c.Get(1)
	require.False(t, ok)

	f := frame(1)
	c.Put(1, f)
	got, ok := c.Get(1)
	require.True(t, ok)
	require.Same(t, f, got)

	f2 := frame(1)
	c.Put(1, f2)
	got, _ = c.Get(1)
	require.Same(t, f2, got)
	require.Equal(t, 1, c.Len())
}

func TestBulkEvictionToPreferredSize(t *testing.T) {
	c := New(2, 4)
	for id := models.ItemID(1); id <= 4; id++ {
		c.Put(id, frame(id))
	}
	require.Equal(t, 4, c.Len())

	// 第 5 个条目超过上限，批量淘汰到 2 个
	c.Put(5, frame(5))
	require.Equal(t, 2, c.Len())
	require.ElementsMatch(t, []models.ItemID{4, 5}, c.Keys())
}

func TestEvictionHonoursGetRecency(t *testing.T) {
	c := New(2, 3)
	c.Put(1, frame(1))
	c.Put(2, frame(2))
	c.Put(3, frame(3))

	_, ok := c.Get(1)
	require.True(t, ok)

	c.Put(4, frame(4))
	require.ElementsMatch(t, []models.ItemID{1, 4}, c.Keys())

	_, ok = c.Get(2)
	require.False(t, ok)
	_, ok = c.Get(3)
	require.False(t, ok)
}

func TestMissDoesNotChangeRecency(t *testing.T) {
	c := New(1, 2)
	c.Put(1, frame(1))
	c.Put(2, frame(2))

	_, ok := c.Get(99)
	require.False(t, ok)
	require.Equal(t, []models.ItemID{2, 1}, c.Keys())

	c.Put(3, frame(3))
	require.Equal(t, []models.ItemID{3}, c.Keys())
}

func TestContainsDoesNotRefresh(t *testing.T) {
	c := New(1, 2)
	c.Put(1, frame(1))
	c.Put(2, frame(2))
	require.True(t, c.Contains(1))

	c.Put(3, frame(3))
	require.False(t, c.Contains(1))
	require.False(t, c.Contains(2))
}

func TestClear(t *testing.T) {
	c := New(2, 4)
	c.Put(1, frame(1))
	c.Put(2, frame(2))
	c.Clear()
	require.Equal(t, 0, c.Len())
	_, ok := c.Get(1)
	require.False(t, ok)
}

func TestCapacityClamp(t *testing.T) {
	c := New(10, 3)
	p, m := c.Capacity()
	assert.Equal(t, 10, p)
	assert.Equal(t, 10, m)
}

// 随机操作序列: 每次 put 之后条目数不超过上限；
// 淘汰发生后存活的正是最近访问的 preferred 个 key
func TestRandomSequencesKeepInvariants(t *testing.T) {
	const preferred, maximum = 5, 8
	rng := rand.New(rand.NewSource(7))
	c := New(preferred, maximum)

	var clock int
	lastUse := make(map[models.ItemID]int)

	for i := 0; i < 2000; i++ {
		id := models.ItemID(rng.Intn(20))
		if rng.Intn(3) == 0 {
			if _, ok := c.Get(id); ok {
				clock++
				lastUse[id] = clock
			}
			continue
		}

		before := c.Len()
		_, existed := lastUse[id]
		clock++
		lastUse[id] = clock
		c.Put(id, frame(id))

		require.LessOrEqual(t, c.Len(), maximum)

		if !existed && before == maximum {
			require.Equal(t, preferred, c.Len())
			want := mostRecent(lastUse, preferred)
			require.ElementsMatch(t, want, c.Keys())
		}

		for _, k := range keysOf(lastUse) {
			if !c.Contains(k) {
				delete(lastUse, k)
			}
		}
	}
}

func mostRecent(use map[models.ItemID]int, n int) []models.ItemID {
	keys := keysOf(use)
	sort.Slice(keys, func(i, j int) bool { return use[keys[i]] > use[keys[j]] })
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func keysOf(m map[models.ItemID]int) []models.ItemID {
	keys := make([]models.ItemID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func TestMetricsRecorded(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := New(1, 2).WithMetrics(m)

	c.Put(1, frame(1))
	c.Put(2, frame(2))
	c.Put(3, frame(3))
	c.Get(3)
	c.Get(1)

	require.Equal(t, float64(2), testutil.ToFloat64(m.CacheEvictions))
	require.Equal(t, float64(1), testutil.ToFloat64(m.CacheHits))
	require.Equal(t, float64(1), testutil.ToFloat64(m.CacheMisses))
}
