package benchmark

import (
	"math"
	"sort"
	"sync"
	"time"

	"serving-probe/internal/types"
)

// DefaultEmptyErrorRate is reported when no request completed
const DefaultEmptyErrorRate = 100.0

// Metrics collects outcomes and computes session statistics
type Metrics struct {
	mu sync.Mutex

	runID     string
	startTime time.Time
	endTime   time.Time

	// Counters
	totalRequests int
	successCount  int
	failureCount  int

	// Latency data (in milliseconds), failed requests included
	latencies []float64

	firstError string

	// EmptyErrorRate is the error rate reported for a session without traffic
	EmptyErrorRate float64
}

// NewMetrics creates a new Metrics collector
func NewMetrics(runID string) *Metrics {
	return &Metrics{
		runID:          runID,
		latencies:      make([]float64, 0),
		startTime:      time.Now(),
		EmptyErrorRate: DefaultEmptyErrorRate,
	}
}

// Add records one outcome
func (m *Metrics) Add(o types.RequestOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	if o.Success {
		m.successCount++
	} else {
		m.failureCount++
		if m.firstError == "" && o.ErrorDetail != "" {
			m.firstError = o.ErrorDetail
		}
	}

	m.latencies = append(m.latencies, o.LatencyMs)
}

// Finalize marks the end of metric collection
func (m *Metrics) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endTime = time.Now()
}

// Summary computes statistics from collected outcomes
func (m *Metrics) Summary() *types.SessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.endTime
	if end.IsZero() {
		end = time.Now()
	}

	s := summarize(m.latencies, m.totalRequests, m.failureCount, m.EmptyErrorRate)
	s.RunID = m.runID
	s.StartedAt = m.startTime
	s.Duration = end.Sub(m.startTime)
	s.FirstError = m.firstError

	if secs := s.Duration.Seconds(); secs > 0 {
		s.AchievedRPS = float64(s.Total) / secs
	}

	return s
}

// Summarize computes a summary over a complete set of outcomes
func Summarize(outcomes []types.RequestOutcome) *types.SessionSummary {
	latencies := make([]float64, 0, len(outcomes))
	failures := 0
	firstError := ""

	for _, o := range outcomes {
		latencies = append(latencies, o.LatencyMs)
		if !o.Success {
			failures++
			if firstError == "" {
				firstError = o.ErrorDetail
			}
		}
	}

	s := summarize(latencies, len(outcomes), failures, DefaultEmptyErrorRate)
	s.FirstError = firstError
	if len(outcomes) > 0 {
		s.StartedAt = outcomes[0].Timestamp
	}
	return s
}

func summarize(latencies []float64, total, failures int, emptyErrorRate float64) *types.SessionSummary {
	s := &types.SessionSummary{
		Total:        total,
		OK:           total - failures,
		Errors:       failures,
		ErrorRatePct: ErrorRate(failures, total, emptyErrorRate),
		Percentiles:  make(map[int]float64, 3),
	}

	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)

	for _, p := range []int{types.P50, types.P95, types.P99} {
		s.Percentiles[p] = percentile(sorted, float64(p))
	}

	s.MeanMs = Mean(sorted)
	s.MinMs = percentile(sorted, 0)
	s.MaxMs = percentile(sorted, 100)

	return s
}

// ErrorRate returns failures/total as a percentage, or empty when total is zero
func ErrorRate(failures, total int, empty float64) float64 {
	if total <= 0 {
		return empty
	}
	return float64(failures) / float64(total) * 100.0
}

// Mean returns the arithmetic mean, NaN for no values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Percentile returns the nearest-rank percentile p (0..100) of values, NaN for no values
func Percentile(p float64, values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentile(sorted, p)
}

// percentile picks the sample at round-half-to-even(p/100*(n-1)) of a sorted slice
func percentile(sortedValues []float64, p float64) float64 {
	n := len(sortedValues)
	if n == 0 {
		return math.NaN()
	}

	k := int(math.RoundToEven(p / 100.0 * float64(n-1)))
	k = max(0, min(k, n-1))

	return sortedValues[k]
}
