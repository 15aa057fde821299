package report

import (
	"io"
	"math"

	jsoniter "github.com/json-iterator/go"

	"serving-probe/internal/slo"
	"serving-probe/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Summary is the machine readable session result. Latency fields are null
// when no latency was recorded.
type Summary struct {
	RunID       string   `json:"run_id"`
	Total       int      `json:"total"`
	OK          int      `json:"ok"`
	Err         int      `json:"err"`
	ErrRatePct  float64  `json:"err_rate_pct"`
	AvgMs       *float64 `json:"avg_ms"`
	P50Ms       *float64 `json:"p50_ms"`
	P95Ms       *float64 `json:"p95_ms"`
	P99Ms       *float64 `json:"p99_ms"`
	MinMs       *float64 `json:"min_ms"`
	MaxMs       *float64 `json:"max_ms"`
	AchievedRPS float64  `json:"achieved_rps"`
	FirstError  string   `json:"first_error,omitempty"`
	Passed      bool     `json:"passed"`
	Violations  []string `json:"violations"`
}

// NewSummary builds the JSON view of a session
func NewSummary(s *types.SessionSummary, v slo.Verdict) Summary {
	violations := v.Violations
	if violations == nil {
		violations = []string{}
	}

	return Summary{
		RunID:       s.RunID,
		Total:       s.Total,
		OK:          s.OK,
		Err:         s.Errors,
		ErrRatePct:  s.ErrorRatePct,
		AvgMs:       nullable(s.MeanMs),
		P50Ms:       nullable(s.Percentile(types.P50)),
		P95Ms:       nullable(s.Percentile(types.P95)),
		P99Ms:       nullable(s.Percentile(types.P99)),
		MinMs:       nullable(s.MinMs),
		MaxMs:       nullable(s.MaxMs),
		AchievedRPS: s.AchievedRPS,
		FirstError:  s.FirstError,
		Passed:      v.Passed,
		Violations:  violations,
	}
}

// WriteJSON writes the indented summary to w
func WriteJSON(w io.Writer, s *types.SessionSummary, v slo.Verdict) error {
	data, err := json.MarshalIndent(NewSummary(s, v), "", "  ")
	if err != nil {
		return err
	}

	data = append(data, '\n')
	_, err = w.Write(data)

	return err
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
