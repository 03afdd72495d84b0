package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CacheLookup(t *testing.T) {
	m := New(prometheus.NewRegistry())
	require.NotNil(t, m)

	m.CacheLookup(true)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.Evicted(3)
	m.Evicted(0)

	require.Equal(t, float64(2), testutil.ToFloat64(m.CacheHits))
	require.Equal(t, float64(1), testutil.ToFloat64(m.CacheMisses))
	require.Equal(t, float64(3), testutil.ToFloat64(m.CacheEvictions))
}

func TestMetrics_Decode(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RequestQueued(2)
	m.RequestQueued(3)
	m.QueueDepth(1)
	m.PictureDecoded()
	m.DecodeFailed("decoder")
	m.DecodeFailed("decoder")
	m.DecodeFailed("canceled")

	require.Equal(t, float64(2), testutil.ToFloat64(m.DecodeRequests))
	require.Equal(t, float64(1), testutil.ToFloat64(m.DecodeQueue))
	require.Equal(t, float64(1), testutil.ToFloat64(m.DecodedPictures))
	require.Equal(t, float64(2), testutil.ToFloat64(m.DecodeFailures.WithLabelValues("decoder")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.DecodeFailures.WithLabelValues("canceled")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.CacheLookup(true)
		m.Evicted(1)
		m.RequestQueued(1)
		m.QueueDepth(0)
		m.PictureDecoded()
		m.DecodeFinished(0.1)
		m.DecodeFailed("x")
		m.FrameDrawn()
		m.Stalled()
		m.SessionOpened()
		m.SessionClosed()
	})
}

func TestMetrics_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.DecodeFailures.WithLabelValues("test").Add(0)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["heif_frame_cache_hits_total"])
	require.True(t, names["heif_decode_queue_depth"])
	require.True(t, names["heif_decode_failures_total"])

	require.Panics(t, func() { New(reg) })
}
