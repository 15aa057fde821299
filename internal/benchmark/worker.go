package benchmark

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"serving-probe/internal/payload"
	"serving-probe/internal/sender"
	"serving-probe/internal/types"
)

// Loop is a paced request loop, either a single Runner or a WorkerPool
type Loop interface {
	Run(ctx context.Context, handle Handler) (RunStats, error)
}

var (
	_ Loop = (*Runner)(nil)
	_ Loop = (*WorkerPool)(nil)
)

// lockedPayloads serializes access to a payload source shared by workers
type lockedPayloads struct {
	mu  sync.Mutex
	src Payloads
}

func (l *lockedPayloads) Next() payload.Payload {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.Next()
}

// WorkerPool runs several paced runners concurrently, each at an equal share
// of the target rate. Outcomes are handed to the caller from a single
// goroutine in the order they arrive.
type WorkerPool struct {
	runners []*Runner
	clock   Clock
	cfg     RunnerConfig
	log     zerolog.Logger
}

// NewWorkerPool creates a pool of workerCount runners sharing the payload
// source and sender. The sender must be safe for concurrent use.
func NewWorkerPool(cfg RunnerConfig, workerCount int, payloads Payloads, s sender.Sender, log zerolog.Logger, opts ...RunnerOption) (*WorkerPool, error) {
	if workerCount < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", workerCount)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.SampleCount > 0 && cfg.SampleCount < workerCount {
		return nil, fmt.Errorf("sample count %d is lower than worker count %d", cfg.SampleCount, workerCount)
	}
	if payloads == nil {
		return nil, errors.New("payload source is required")
	}

	shared := &lockedPayloads{src: payloads}
	firstFailure := new(atomic.Bool)

	pool := &WorkerPool{cfg: cfg, log: log}
	for i := range workerCount {
		wcfg := cfg
		wcfg.Rate = cfg.Rate / float64(workerCount)
		wcfg.ProgressInterval = 0
		if cfg.SampleCount > 0 {
			wcfg.SampleCount = cfg.SampleCount / workerCount
			if i < cfg.SampleCount%workerCount {
				wcfg.SampleCount++
			}
		}

		r, err := NewRunner(wcfg, shared, s, log.With().Int("worker", i).Logger(), opts...)
		if err != nil {
			return nil, err
		}
		r.firstFailure = firstFailure
		pool.runners = append(pool.runners, r)
	}
	pool.clock = pool.runners[0].clock

	return pool, nil
}

// Run starts all workers and blocks until each has finished
func (wp *WorkerPool) Run(ctx context.Context, handle Handler) (RunStats, error) {
	outcomes := make(chan types.RequestOutcome, len(wp.runners))
	results := make([]RunStats, len(wp.runners))
	errs := make([]error, len(wp.runners))

	var wg sync.WaitGroup
	for i, r := range wp.runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = r.Run(ctx, func(o types.RequestOutcome) {
				outcomes <- o
			})
		}()
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	progress := newProgress(wp.clock, wp.cfg.ProgressInterval, wp.log)
	var iterations, failures int
	for o := range outcomes {
		iterations++
		if !o.Success {
			failures++
		}
		handle(o)
		progress.tick(iterations, failures)
	}

	var total RunStats
	for _, s := range results {
		total.Iterations += s.Iterations
		total.Failures += s.Failures
		total.Timeouts += s.Timeouts
		total.Interrupted = total.Interrupted || s.Interrupted
		total.Elapsed = max(total.Elapsed, s.Elapsed)
	}

	for _, err := range errs {
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// Workers returns the number of runners in the pool
func (wp *WorkerPool) Workers() int {
	return len(wp.runners)
}
