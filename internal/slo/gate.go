package slo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"serving-probe/internal/types"
)

// Field names a summary value a threshold can be checked against
type Field string

const (
	FieldErrorRate Field = "error_rate_pct"
	FieldP50       Field = "p50_ms"
	FieldP95       Field = "p95_ms"
	FieldP99       Field = "p99_ms"
	FieldMean      Field = "mean_ms"
	FieldTotal     Field = "total"
)

var knownFields = []Field{FieldErrorRate, FieldP50, FieldP95, FieldP99, FieldMean, FieldTotal}

// Comparator is the relation a field value must satisfy against its bound
type Comparator string

const (
	LessOrEqual    Comparator = "<="
	Less           Comparator = "<"
	GreaterOrEqual Comparator = ">="
	Greater        Comparator = ">"
	Equal          Comparator = "=="
)

// Two-character operators first so "<=" is not read as "<"
var comparators = []Comparator{LessOrEqual, GreaterOrEqual, Equal, Less, Greater}

func (c Comparator) holds(v, bound float64) bool {
	switch c {
	case LessOrEqual:
		return v <= bound
	case Less:
		return v < bound
	case GreaterOrEqual:
		return v >= bound
	case Greater:
		return v > bound
	case Equal:
		return v == bound
	}
	return false
}

// Threshold is one named comparison of a summary field against a bound
type Threshold struct {
	Name       string
	Field      Field
	Comparator Comparator
	Bound      float64
}

func (t Threshold) String() string {
	return fmt.Sprintf("%s %s %s", t.Field, t.Comparator, formatFloat(t.Bound))
}

// Verdict is the result of evaluating a summary against thresholds
type Verdict struct {
	Passed     bool
	Violations []string
}

// Message returns the failure message, empty when the verdict passed
func (v Verdict) Message() string {
	if v.Passed {
		return ""
	}
	return "SLO_VIOLATION: " + strings.Join(v.Violations, "; ")
}

// DefaultThresholds returns p95_ms <= 1500 and error_rate_pct <= 5
func DefaultThresholds() []Threshold {
	return []Threshold{
		{Name: string(FieldP95), Field: FieldP95, Comparator: LessOrEqual, Bound: 1500},
		{Name: string(FieldErrorRate), Field: FieldErrorRate, Comparator: LessOrEqual, Bound: 5},
	}
}

// Evaluate checks every threshold in order and collects all violations.
// A field without data (NaN) is skipped; an empty threshold list passes.
func Evaluate(summary *types.SessionSummary, thresholds []Threshold) Verdict {
	violations := make([]string, 0)

	for _, t := range thresholds {
		v := fieldValue(summary, t.Field)
		if math.IsNaN(v) {
			continue
		}
		if t.Comparator.holds(v, t.Bound) {
			continue
		}

		msg := fmt.Sprintf("%s=%s, want %s %s", t.Field, formatFloat(v), t.Comparator, formatFloat(t.Bound))
		if t.Name != "" && t.Name != string(t.Field) {
			msg = t.Name + ": " + msg
		}
		violations = append(violations, msg)
	}

	return Verdict{
		Passed:     len(violations) == 0,
		Violations: violations,
	}
}

func fieldValue(s *types.SessionSummary, f Field) float64 {
	if s == nil {
		return math.NaN()
	}

	switch f {
	case FieldErrorRate:
		return s.ErrorRatePct
	case FieldP50:
		return s.Percentile(types.P50)
	case FieldP95:
		return s.Percentile(types.P95)
	case FieldP99:
		return s.Percentile(types.P99)
	case FieldMean:
		return s.MeanMs
	case FieldTotal:
		return float64(s.Total)
	}
	return math.NaN()
}

// ParseThreshold reads a threshold of the form "p95_ms<=2000" or
// "name:p95_ms<=2000"
func ParseThreshold(expr string) (Threshold, error) {
	var t Threshold

	s := strings.TrimSpace(expr)
	if name, rest, ok := strings.Cut(s, ":"); ok {
		t.Name = strings.TrimSpace(name)
		s = strings.TrimSpace(rest)
	}

	idx := -1
	for _, c := range comparators {
		if i := strings.Index(s, string(c)); i > 0 {
			idx = i
			t.Comparator = c
			break
		}
	}
	if idx < 0 {
		return Threshold{}, fmt.Errorf("threshold %q: missing comparator", expr)
	}

	t.Field = Field(strings.TrimSpace(s[:idx]))
	if !t.Field.valid() {
		return Threshold{}, fmt.Errorf("threshold %q: unknown field %q", expr, t.Field)
	}

	bound, err := strconv.ParseFloat(strings.TrimSpace(s[idx+len(t.Comparator):]), 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("threshold %q: invalid bound: %w", expr, err)
	}
	if math.IsNaN(bound) || math.IsInf(bound, 0) {
		return Threshold{}, fmt.Errorf("threshold %q: bound must be finite", expr)
	}
	t.Bound = bound

	if t.Name == "" {
		t.Name = string(t.Field)
	}

	return t, nil
}

// ParseThresholds parses exprs keeping their order
func ParseThresholds(exprs []string) ([]Threshold, error) {
	out := make([]Threshold, 0, len(exprs))
	for _, e := range exprs {
		t, err := ParseThreshold(e)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (f Field) valid() bool {
	for _, k := range knownFields {
		if f == k {
			return true
		}
	}
	return false
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
