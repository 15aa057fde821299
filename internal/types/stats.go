package types

import (
	"math"
	"time"
)

// Tracked percentile ranks
const (
	P50 = 50
	P95 = 95
	P99 = 99
)

// RequestOutcome is the result of one attempted request
type RequestOutcome struct {
	Timestamp  time.Time
	LatencyMs  float64
	Success    bool
	StatusCode int // 0 when no response was received
	Timeout    bool

	// ErrorDetail is only set on the first failure of a session
	ErrorDetail string
}

// SessionSummary contains computed statistics for one session
type SessionSummary struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	// Counters
	Total  int
	OK     int
	Errors int

	// ErrorRatePct is 100 when no request completed
	ErrorRatePct float64

	// Latency stats (in milliseconds); NaN means no data
	Percentiles map[int]float64
	MeanMs      float64
	MinMs       float64
	MaxMs       float64

	// Throughput
	AchievedRPS float64

	// Diagnostics
	FirstError string
}

// Percentile returns the value for rank p, NaN when it was not computed
func (s *SessionSummary) Percentile(p int) float64 {
	v, ok := s.Percentiles[p]
	if !ok {
		return math.NaN()
	}
	return v
}

// HasLatency reports whether any latency was recorded
func (s *SessionSummary) HasLatency() bool {
	return !math.IsNaN(s.MeanMs)
}
