package benchmark

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"serving-probe/internal/metrics"
	"serving-probe/internal/slo"
	"serving-probe/internal/types"
)

// CloseTimeout bounds the final metric drain
const CloseTimeout = 30 * time.Second

// SessionConfig holds what a session needs besides its collaborators
type SessionConfig struct {
	RunID string

	// LiveMetrics enqueues datapoints for every request, not only the summary
	LiveMetrics bool

	Thresholds []slo.Threshold

	// EmptyErrorRate overrides the error rate of a session without requests
	EmptyErrorRate *float64
}

// Result is everything a finished session reports
type Result struct {
	Summary *types.SessionSummary
	Verdict slo.Verdict
	Run     RunStats
	Metrics metrics.BatcherStats
}

// Session composes a request loop, statistics, metric emission and the SLO gate
type Session struct {
	cfg     SessionConfig
	loop    Loop
	emitter *metrics.Emitter
	batcher *metrics.Batcher
	clock   Clock
	log     zerolog.Logger
}

// NewSession creates a new session. batcher may be nil when no sink is configured.
func NewSession(cfg SessionConfig, loop Loop, emitter *metrics.Emitter, batcher *metrics.Batcher, log zerolog.Logger) (*Session, error) {
	if loop == nil {
		return nil, errors.New("request loop is required")
	}
	if batcher != nil && emitter == nil {
		return nil, errors.New("emitter is required when metrics are batched")
	}

	return &Session{
		cfg:     cfg,
		loop:    loop,
		emitter: emitter,
		batcher: batcher,
		clock:   realClock{},
		log:     log.With().Str("run_id", cfg.RunID).Logger(),
	}, nil
}

// Run executes the loop, summarizes, drains metrics and evaluates the
// thresholds. Sink failures are logged and never abort the session; an
// interrupted loop still yields a summary.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	stats := NewMetrics(s.cfg.RunID)
	if s.cfg.EmptyErrorRate != nil {
		stats.EmptyErrorRate = *s.cfg.EmptyErrorRate
	}

	// Metric delivery outlives an interrupt so the final drain still happens
	sinkCtx := context.WithoutCancel(ctx)

	s.log.Info().Msg("session started")

	runStats, err := s.loop.Run(ctx, func(o types.RequestOutcome) {
		stats.Add(o)

		if s.batcher == nil || !s.cfg.LiveMetrics {
			return
		}
		s.batcher.Enqueue(s.emitter.FromOutcome(o)...)
		if err := s.batcher.MaybeFlush(sinkCtx); err != nil {
			s.log.Warn().Err(err).Int("pending", s.batcher.Pending()).Msg("metric flush failed")
		}
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.log.Warn().Err(err).Int("requests", runStats.Iterations).Msg("session interrupted")
	}

	stats.Finalize()
	summary := stats.Summary()

	result := &Result{
		Summary: summary,
		Run:     runStats,
	}

	if s.batcher != nil {
		s.batcher.Enqueue(s.emitter.FromSummary(summary, s.clock.Now())...)

		closeCtx, cancel := context.WithTimeout(sinkCtx, CloseTimeout)
		if err := s.batcher.Close(closeCtx); err != nil {
			s.log.Warn().Err(err).Msg("final metric flush failed")
		}
		cancel()

		result.Metrics = s.batcher.Stats()
	}

	result.Verdict = slo.Evaluate(summary, s.cfg.Thresholds)

	ev := s.log.Info()
	if !result.Verdict.Passed {
		ev = s.log.Warn().Strs("violations", result.Verdict.Violations)
	}
	ev.Int("total", summary.Total).
		Int("errors", summary.Errors).
		Float64("error_rate_pct", summary.ErrorRatePct).
		Bool("passed", result.Verdict.Passed).
		Msg("session finished")

	return result, nil
}
