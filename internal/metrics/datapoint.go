package metrics

import (
	"context"
	"fmt"
	"math"
	"time"

	"serving-probe/internal/types"
)

// Unit is the unit attached to a datapoint
type Unit string

const (
	UnitMilliseconds Unit = "Milliseconds"
	UnitPercent      Unit = "Percent"
	UnitCount        Unit = "Count"
)

// Resolution is the storage resolution requested from the sink
type Resolution int

const (
	ResolutionStandard Resolution = 60
	ResolutionHigh     Resolution = 1
)

// MaxDimensions keeps aggregation keys low-cardinality
const MaxDimensions = 2

// Metric names
const (
	NameLatency      = "LatencyMs"
	NameRequestError = "RequestError"
	NameLatencyP50   = "LatencyP50Ms"
	NameLatencyP95   = "LatencyP95Ms"
	NameLatencyP99   = "LatencyP99Ms"
	NameLatencyAvg   = "LatencyAvgMs"
	NameErrorRate    = "ErrorRatePct"
	NameRequestCount = "RequestCount"
)

// Dimension is one name/value tag
type Dimension struct {
	Name  string `json:"name" mapstructure:"name"`
	Value string `json:"value" mapstructure:"value"`
}

// Dimensions is an ordered tag set, shared by every datapoint of a session
type Dimensions []Dimension

// NewDimensions validates and freezes the tag set for a session
func NewDimensions(dims ...Dimension) (Dimensions, error) {
	if len(dims) > MaxDimensions {
		return nil, fmt.Errorf("at most %d dimensions allowed, got %d", MaxDimensions, len(dims))
	}

	seen := make(map[string]struct{}, len(dims))
	out := make(Dimensions, 0, len(dims))
	for _, d := range dims {
		if d.Name == "" || d.Value == "" {
			return nil, fmt.Errorf("dimension %q has an empty name or value", d.Name)
		}
		if _, ok := seen[d.Name]; ok {
			return nil, fmt.Errorf("duplicate dimension %q", d.Name)
		}
		seen[d.Name] = struct{}{}
		out = append(out, d)
	}

	return out, nil
}

// Datapoint is one timestamped record destined for a metrics sink
type Datapoint struct {
	Name       string
	Value      float64
	Unit       Unit
	Dimensions Dimensions
	Timestamp  time.Time
	Resolution Resolution
}

// Sink accepts bounded batches of datapoints
type Sink interface {
	Send(ctx context.Context, batch []Datapoint) error
}

// Emitter builds datapoints with a fixed dimension set and resolution
type Emitter struct {
	dims       Dimensions
	resolution Resolution
}

// NewEmitter creates a new datapoint emitter
func NewEmitter(dims Dimensions, resolution Resolution) *Emitter {
	if resolution == 0 {
		resolution = ResolutionStandard
	}
	return &Emitter{dims: dims, resolution: resolution}
}

// PerRequest is the number of datapoints produced for each outcome
const PerRequest = 2

// FromOutcome returns the live datapoints for one request
func (e *Emitter) FromOutcome(o types.RequestOutcome) []Datapoint {
	errValue := 0.0
	if !o.Success {
		errValue = 1
	}

	return []Datapoint{
		e.point(NameLatency, o.LatencyMs, UnitMilliseconds, o.Timestamp),
		e.point(NameRequestError, errValue, UnitCount, o.Timestamp),
	}
}

// FromSummary returns the end-of-session datapoints; percentiles without data are skipped
func (e *Emitter) FromSummary(s *types.SessionSummary, at time.Time) []Datapoint {
	points := make([]Datapoint, 0, 6)

	latency := []struct {
		name  string
		value float64
	}{
		{NameLatencyP50, s.Percentile(types.P50)},
		{NameLatencyP95, s.Percentile(types.P95)},
		{NameLatencyP99, s.Percentile(types.P99)},
		{NameLatencyAvg, s.MeanMs},
	}
	for _, l := range latency {
		if math.IsNaN(l.value) {
			continue
		}
		points = append(points, e.point(l.name, l.value, UnitMilliseconds, at))
	}

	points = append(points,
		e.point(NameErrorRate, s.ErrorRatePct, UnitPercent, at),
		e.point(NameRequestCount, float64(s.Total), UnitCount, at),
	)

	return points
}

func (e *Emitter) point(name string, value float64, unit Unit, at time.Time) Datapoint {
	return Datapoint{
		Name:       name,
		Value:      value,
		Unit:       unit,
		Dimensions: e.dims,
		Timestamp:  at,
		Resolution: e.resolution,
	}
}
