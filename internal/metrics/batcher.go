package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxBatchSize is the per-call datapoint limit of the sink
const DefaultMaxBatchSize = 20

// BatcherConfig configures a Batcher
type BatcherConfig struct {
	MaxBatchSize int
	FlushEvery   int // requests between periodic flushes

	// RetainFailed keeps a failed chunk buffered for the next flush instead of dropping it
	RetainFailed bool
}

// BatcherStats counts what happened to enqueued datapoints
type BatcherStats struct {
	Enqueued int
	Sent     int
	Dropped  int
	Calls    int
	Failures int
}

// Batcher buffers datapoints and sends them in size-bounded chunks
type Batcher struct {
	mu sync.Mutex

	sink         Sink
	maxBatchSize int
	flushEvery   int
	retainFailed bool

	buf      []Datapoint
	requests int
	stats    BatcherStats
}

// NewBatcher creates a new metric batcher
func NewBatcher(sink Sink, cfg BatcherConfig) (*Batcher, error) {
	if sink == nil {
		return nil, errors.New("metric sink is required")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be positive, got %d", cfg.MaxBatchSize)
	}
	if cfg.FlushEvery <= 0 {
		return nil, fmt.Errorf("flush interval must be positive, got %d", cfg.FlushEvery)
	}

	return &Batcher{
		sink:         sink,
		maxBatchSize: cfg.MaxBatchSize,
		flushEvery:   cfg.FlushEvery,
		retainFailed: cfg.RetainFailed,
		buf:          make([]Datapoint, 0, cfg.MaxBatchSize),
	}, nil
}

// Enqueue appends datapoints in order
func (b *Batcher) Enqueue(points ...Datapoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, points...)
	b.stats.Enqueued += len(points)
}

// Pending returns the number of buffered datapoints
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Stats returns a copy of the counters
func (b *Batcher) Stats() BatcherStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// MaybeFlush is called once per request. Every FlushEvery requests the
// buffer is drained; in between only full chunks are sent.
func (b *Batcher) MaybeFlush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++
	if b.requests >= b.flushEvery {
		b.requests = 0
		return b.drain(ctx, 0, b.retainFailed)
	}

	return b.drain(ctx, b.maxBatchSize, b.retainFailed)
}

// Flush sends the whole buffer in chunks of at most MaxBatchSize
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.drain(ctx, 0, b.retainFailed)
}

// Close drains the buffer one last time; failed chunks are dropped
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = 0
	return b.drain(ctx, 0, false)
}

// drain sends chunks while the buffer holds at least threshold datapoints
// (and is not empty). Must be called with mu held.
func (b *Batcher) drain(ctx context.Context, threshold int, retain bool) error {
	var errs []error

	for len(b.buf) > 0 && len(b.buf) >= threshold {
		n := min(len(b.buf), b.maxBatchSize)
		chunk := make([]Datapoint, n)
		copy(chunk, b.buf[:n])

		b.stats.Calls++
		err := b.sink.Send(ctx, chunk)
		if err != nil {
			b.stats.Failures++
			errs = append(errs, fmt.Errorf("send %d datapoints: %w", n, err))

			if retain {
				// Keep the chunk at the front; no inline retry
				break
			}
			b.stats.Dropped += n
		} else {
			b.stats.Sent += n
		}

		b.buf = b.buf[n:]
	}

	// Release the consumed prefix
	if len(b.buf) == 0 {
		b.buf = nil
	}

	return errors.Join(errs...)
}
