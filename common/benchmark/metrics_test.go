package benchmark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLatencyHistogramEmptyStats(t *testing.T) {
	h := NewLatencyHistogram()
	stats := h.Stats()
	require.Equal(t, LatencyStats{}, stats)
}

func TestLatencyHistogramComputesPercentiles(t *testing.T) {
	h := NewLatencyHistogram()
	for i := 1; i <= 100; i++ {
		h.Record(time.Duration(i) * time.Millisecond)
	}

	stats := h.Stats()
	require.Equal(t, 1*time.Millisecond, stats.Min)
	require.Equal(t, 100*time.Millisecond, stats.Max)
	require.Equal(t, 51*time.Millisecond, stats.P50)
}
