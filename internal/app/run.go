package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"serving-probe/internal/benchmark"
	"serving-probe/internal/config"
)

// stopMargin is added on top of the worst case drain after an interrupt
const stopMargin = 15 * time.Second

// ExitStatus holds the exit code computed by the session. A SIGINT or
// SIGTERM reaches fx first with exit code 0, so the recorded code has to
// outlive the shutdown signal.
type ExitStatus struct {
	mu   sync.Mutex
	code int
	set  bool
}

// NewExitStatus creates an empty exit status
func NewExitStatus() *ExitStatus {
	return &ExitStatus{}
}

// Set records the exit code
func (s *ExitStatus) Set(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
	s.set = true
}

// Code returns the recorded exit code and whether one was recorded
func (s *ExitStatus) Code() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code, s.set
}

// RunFunc executes one session and returns the process exit code
type RunFunc func(ctx context.Context) int

// RegisterRun starts run in the background once the app has started. On
// stop the run context is cancelled and the hook waits for run to return.
func RegisterRun(lc fx.Lifecycle, shutdown fx.Shutdowner, status *ExitStatus, log zerolog.Logger, run RunFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)

				code := run(ctx)
				status.Set(code)

				if err := shutdown.Shutdown(fx.ExitCode(code)); err != nil {
					log.Debug().Err(err).Msg("shutdown already in progress")
				}
			}()

			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()

			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

// Execute starts a, waits for the first shutdown signal and stops a within
// stopTimeout. The code recorded in status wins over the signal's.
func Execute(a *fx.App, status *ExitStatus, stopTimeout time.Duration, log zerolog.Logger) int {
	startCtx, cancelStart := context.WithTimeout(context.Background(), a.StartTimeout())
	defer cancelStart()

	if err := a.Start(startCtx); err != nil {
		log.Error().Err(err).Msg("failed to start probe")
		return ExitConfigError
	}

	sig := <-a.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()

	stopErr := a.Stop(stopCtx)
	if stopErr != nil {
		log.Error().Err(stopErr).Dur("stop_timeout", stopTimeout).Msg("failed to stop probe")
	}

	if code, ok := status.Code(); ok {
		return code
	}
	if stopErr != nil {
		return ExitViolated
	}
	return sig.ExitCode
}

// StopTimeout covers one in-flight request plus the final metric drain
func StopTimeout(cfg *config.Config) time.Duration {
	return cfg.Session.Timeout() + benchmark.CloseTimeout + stopMargin
}
