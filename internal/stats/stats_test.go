package stats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apdcam10g/daqcore/internal/ring"
)

func TestReportRecommendsLargerBufferAboveHighWaterMark(t *testing.T) {
	r, err := ring.New[int](8, 0)
	require.NoError(t, err)

	// Keep the buffer running well over half full: fill it to 6 of 8
	// slots, then pop one and push one repeatedly so it stays there. Each
	// push samples the fill just before it, so the samples settle at 5/8.
	for i := 0; i < 6; i++ {
		require.NotNil(t, r.Push(i))
	}
	for i := 0; i < 100; i++ {
		_, ok := r.Pop()
		require.True(t, ok)
		require.NotNil(t, r.Push(i))
	}

	report := Report("channel-0", r)
	require.Equal(t, uint64(8), report.Capacity)
	require.Greater(t, report.MeanFillRatio, 0.5)
	require.NotEmpty(t, report.Recommendation)
	require.Contains(t, report.String(), "consider doubling")
}

func TestReportOmitsRecommendationBelowHighWaterMark(t *testing.T) {
	r, err := ring.New[int](8, 0)
	require.NoError(t, err)
	require.NotNil(t, r.Push(1))

	report := Report("channel-1", r)
	require.Empty(t, report.Recommendation)
	require.NotContains(t, report.String(), "consider doubling")
}
