package benchmark

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serving-probe/internal/types"
)

func oneToN(n int) []float64 {
	xs := make([]float64, n)
	for i := range n {
		xs[i] = float64(i + 1)
	}
	return xs
}

func TestPercentileNearestRank(t *testing.T) {
	xs := oneToN(20)
	rand.Shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })

	// k = RoundToEven(p/100 * 19)
	assert.Equal(t, 11.0, Percentile(50, xs)) // 9.5 rounds to 10
	assert.Equal(t, 19.0, Percentile(95, xs)) // 18.05 rounds to 18
	assert.Equal(t, 20.0, Percentile(99, xs)) // 18.81 rounds to 19
}

func TestPercentileRoundsHalfToEven(t *testing.T) {
	// n=6: p50 -> 2.5 -> 2; n=4: p50 -> 1.5 -> 2
	assert.Equal(t, 3.0, Percentile(50, oneToN(6)))
	assert.Equal(t, 3.0, Percentile(50, oneToN(4)))
	// n=2: p50 -> 0.5 -> 0
	assert.Equal(t, 1.0, Percentile(50, oneToN(2)))
}

func TestPercentileBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for range 200 {
		n := 1 + rng.IntN(50)
		xs := make([]float64, n)
		for i := range xs {
			xs[i] = rng.Float64() * 1000
		}

		assert.Equal(t, slices.Max(xs), Percentile(100, xs))
		assert.Equal(t, slices.Min(xs), Percentile(0, xs))
	}
}

func TestPercentileClampsRank(t *testing.T) {
	xs := []float64{5, 1, 3}
	assert.Equal(t, 5.0, Percentile(250, xs))
	assert.Equal(t, 1.0, Percentile(-10, xs))
}

func TestPercentileDoesNotReorderInput(t *testing.T) {
	xs := []float64{3, 1, 2}
	Percentile(50, xs)
	assert.Equal(t, []float64{3, 1, 2}, xs)
}

func TestEmptyInputYieldsNaN(t *testing.T) {
	assert.True(t, math.IsNaN(Percentile(50, nil)))
	assert.True(t, math.IsNaN(Mean(nil)))
}

func TestMean(t *testing.T) {
	assert.Equal(t, 10.5, Mean(oneToN(20)))
}

func TestErrorRate(t *testing.T) {
	assert.Equal(t, 100.0, ErrorRate(0, 0, DefaultEmptyErrorRate))
	assert.Equal(t, 0.0, ErrorRate(0, 10, DefaultEmptyErrorRate))
	assert.Equal(t, 25.0, ErrorRate(1, 4, DefaultEmptyErrorRate))
	assert.Equal(t, 100.0, ErrorRate(7, 7, DefaultEmptyErrorRate))

	for total := 1; total < 50; total++ {
		for failed := 0; failed <= total; failed++ {
			r := ErrorRate(failed, total, DefaultEmptyErrorRate)
			assert.GreaterOrEqual(t, r, 0.0)
			assert.LessOrEqual(t, r, 100.0)
		}
	}
}

func TestSummarize(t *testing.T) {
	start := time.Now()
	var outcomes []types.RequestOutcome
	for i, l := range oneToN(20) {
		o := types.RequestOutcome{Timestamp: start.Add(time.Duration(i) * time.Second), LatencyMs: l, Success: true, StatusCode: 200}
		if i == 3 || i == 7 {
			o.Success = false
			o.StatusCode = 500
			o.ErrorDetail = "status 500"
			if i == 7 {
				o.ErrorDetail = "second failure"
			}
		}
		outcomes = append(outcomes, o)
	}

	s := Summarize(outcomes)
	assert.Equal(t, 20, s.Total)
	assert.Equal(t, 18, s.OK)
	assert.Equal(t, 2, s.Errors)
	assert.Equal(t, s.Total, s.OK+s.Errors)
	assert.Equal(t, 10.0, s.ErrorRatePct)
	assert.Equal(t, 11.0, s.Percentile(types.P50))
	assert.Equal(t, 19.0, s.Percentile(types.P95))
	assert.Equal(t, 10.5, s.MeanMs)
	assert.Equal(t, 1.0, s.MinMs)
	assert.Equal(t, 20.0, s.MaxMs)
	assert.Equal(t, "status 500", s.FirstError)
	assert.Equal(t, start, s.StartedAt)
}

func TestSummarizeIncludesFailedLatencies(t *testing.T) {
	outcomes := []types.RequestOutcome{
		{LatencyMs: 10, Success: true},
		{LatencyMs: 5000, Success: false},
	}

	s := Summarize(outcomes)
	assert.Equal(t, 5000.0, s.MaxMs)
	assert.Equal(t, 2505.0, s.MeanMs)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Total)
	assert.Equal(t, 100.0, s.ErrorRatePct)
	assert.True(t, math.IsNaN(s.Percentile(types.P95)))
	assert.False(t, s.HasLatency())
}

func TestMetricsIncremental(t *testing.T) {
	m := NewMetrics("run-1")
	m.Add(types.RequestOutcome{LatencyMs: 4, Success: true})
	m.Add(types.RequestOutcome{LatencyMs: 8, Success: false, ErrorDetail: "first"})
	m.Add(types.RequestOutcome{LatencyMs: 6, Success: false, ErrorDetail: "later"})
	m.Finalize()

	s := m.Summary()
	require.NotNil(t, s)
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, 3, s.Total)
	assert.InDelta(t, 66.666, s.ErrorRatePct, 0.01)
	assert.Equal(t, 6.0, s.Percentile(types.P50))
	assert.Equal(t, "first", s.FirstError)
	assert.GreaterOrEqual(t, s.Duration, time.Duration(0))
}

func TestMetricsEmptyErrorRateIsConfigurable(t *testing.T) {
	m := NewMetrics("run-2")
	m.EmptyErrorRate = 0
	assert.Equal(t, 0.0, m.Summary().ErrorRatePct)
}
