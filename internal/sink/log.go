package sink

import (
	"context"

	"github.com/rs/zerolog"

	"serving-probe/internal/metrics"
)

// Log writes datapoints to a logger instead of a metrics backend
type Log struct {
	log zerolog.Logger
}

// NewLog creates a new log sink
func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "sink").Logger()}
}

// Send logs every datapoint of the batch
func (l *Log) Send(_ context.Context, batch []metrics.Datapoint) error {
	for _, dp := range batch {
		ev := l.log.Info().
			Str("metric", dp.Name).
			Float64("value", dp.Value).
			Str("unit", string(dp.Unit)).
			Int("resolution", int(dp.Resolution)).
			Time("ts", dp.Timestamp)
		for _, d := range dp.Dimensions {
			ev = ev.Str(d.Name, d.Value)
		}
		ev.Msg("datapoint")
	}

	l.log.Debug().Int("size", len(batch)).Msg("batch flushed")

	return nil
}
