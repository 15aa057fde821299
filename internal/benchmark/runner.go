package benchmark

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"serving-probe/internal/payload"
	"serving-probe/internal/sender"
	"serving-probe/internal/types"
)

// maxDetailBytes bounds the response body kept in a failure detail
const maxDetailBytes = 200

// Clock abstracts time for the pacing loop
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Payloads produces request payloads
type Payloads interface {
	Next() payload.Payload
}

// Handler receives every outcome as soon as it is recorded
type Handler func(types.RequestOutcome)

// RunnerConfig bounds and paces a run. A positive SampleCount takes
// precedence over Duration.
type RunnerConfig struct {
	Duration         time.Duration
	SampleCount      int
	Rate             float64
	Timeout          time.Duration
	ProgressInterval time.Duration
}

func (c RunnerConfig) validate() error {
	if c.SampleCount < 0 {
		return fmt.Errorf("sample count must not be negative, got %d", c.SampleCount)
	}
	if c.SampleCount == 0 && c.Duration <= 0 {
		return errors.New("either duration or sample count must be positive")
	}
	if math.IsNaN(c.Rate) || math.IsInf(c.Rate, 0) || c.Rate <= 0 {
		return fmt.Errorf("target rate must be a positive finite number, got %g", c.Rate)
	}
	if float64(time.Second)/c.Rate > math.MaxInt64 {
		return fmt.Errorf("target rate %g gives an interval out of range", c.Rate)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

func (c RunnerConfig) interval() time.Duration {
	return time.Duration(float64(time.Second) / c.Rate)
}

// RunStats describes how a run ended
type RunStats struct {
	Iterations  int
	Failures    int
	Timeouts    int
	Elapsed     time.Duration
	Interrupted bool
}

// Runner sends one request at a time, sleeping between iterations so the
// rate never exceeds the target
type Runner struct {
	cfg      RunnerConfig
	payloads Payloads
	sender   sender.Sender
	clock    Clock
	log      zerolog.Logger

	// shared between the runners of a worker pool
	firstFailure *atomic.Bool
}

// RunnerOption customizes a Runner
type RunnerOption func(*Runner)

// WithClock replaces the wall clock
func WithClock(c Clock) RunnerOption {
	return func(r *Runner) {
		r.clock = c
	}
}

// NewRunner creates a new paced runner
func NewRunner(cfg RunnerConfig, payloads Payloads, s sender.Sender, log zerolog.Logger, opts ...RunnerOption) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if payloads == nil {
		return nil, errors.New("payload source is required")
	}
	if s == nil {
		return nil, errors.New("sender is required")
	}

	r := &Runner{
		cfg:          cfg,
		payloads:     payloads,
		sender:       s,
		clock:        realClock{},
		log:          log,
		firstFailure: new(atomic.Bool),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Run executes the loop until the duration elapsed or the sample count is
// reached. The bound is checked between iterations only, so a slow request
// may overrun the duration by up to one timeout. Cancelling ctx stops the loop
// before the next iteration and returns ctx.Err(); in-flight requests finish.
func (r *Runner) Run(ctx context.Context, handle Handler) (RunStats, error) {
	var stats RunStats

	start := r.clock.Now()
	interval := r.cfg.interval()
	progress := newProgress(r.clock, r.cfg.ProgressInterval, r.log)

	for {
		if err := ctx.Err(); err != nil {
			stats.Interrupted = true
			stats.Elapsed = r.clock.Now().Sub(start)
			return stats, err
		}
		if r.done(stats.Iterations, r.clock.Now().Sub(start)) {
			break
		}

		o := r.iteration(ctx)
		stats.Iterations++
		if !o.Success {
			stats.Failures++
		}
		if o.Timeout {
			stats.Timeouts++
		}
		handle(o)
		progress.tick(stats.Iterations, stats.Failures)

		if r.cfg.SampleCount > 0 && stats.Iterations >= r.cfg.SampleCount {
			break
		}

		elapsed := r.clock.Now().Sub(o.Timestamp)
		if wait := interval - elapsed; wait > 0 {
			r.clock.Sleep(ctx, wait)
		}
	}

	stats.Elapsed = r.clock.Now().Sub(start)

	return stats, nil
}

func (r *Runner) done(iterations int, elapsed time.Duration) bool {
	if r.cfg.SampleCount > 0 {
		return iterations >= r.cfg.SampleCount
	}
	return elapsed >= r.cfg.Duration
}

// iteration performs one request and classifies it
func (r *Runner) iteration(ctx context.Context) types.RequestOutcome {
	o := types.RequestOutcome{Timestamp: r.clock.Now()}

	body, err := r.payloads.Next().Body()
	if err != nil {
		r.fail(&o, fmt.Sprintf("encode payload: %v", err))
		return o
	}

	// The session deadline never cancels a request, only the timeout does
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
	resp, err := r.sender.Send(reqCtx, body)
	cancel()

	o.LatencyMs = float64(r.clock.Now().Sub(o.Timestamp)) / float64(time.Millisecond)
	o.StatusCode = resp.StatusCode

	switch {
	case err != nil:
		if isTimeout(err) {
			o.Timeout = true
			o.LatencyMs = float64(r.cfg.Timeout) / float64(time.Millisecond)
		}
		r.fail(&o, err.Error())
	case !resp.Success():
		r.fail(&o, fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(resp.Body, maxDetailBytes)))
	default:
		o.Success = true
	}

	return o
}

func (r *Runner) fail(o *types.RequestOutcome, detail string) {
	o.Success = false
	if r.firstFailure.CompareAndSwap(false, true) {
		o.ErrorDetail = detail
		r.log.Warn().Str("detail", detail).Msg("first request failure")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return strings.ToValidUTF8(string(b), "")
}

// progress logs run counters at a fixed interval of clock time
type progress struct {
	clock Clock
	every time.Duration
	start time.Time
	next  time.Time
	log   zerolog.Logger
}

func newProgress(clock Clock, every time.Duration, log zerolog.Logger) *progress {
	now := clock.Now()
	return &progress{clock: clock, every: every, start: now, next: now.Add(every), log: log}
}

func (p *progress) tick(iterations, failures int) {
	if p.every <= 0 {
		return
	}

	now := p.clock.Now()
	if now.Before(p.next) {
		return
	}
	p.next = now.Add(p.every)

	elapsed := now.Sub(p.start)
	rps := 0.0
	if elapsed > 0 {
		rps = float64(iterations) / elapsed.Seconds()
	}

	p.log.Info().
		Int("requests", iterations).
		Int("failures", failures).
		Str("rps", fmt.Sprintf("%.2f", rps)).
		Dur("elapsed", elapsed).
		Msg("progress")
}
