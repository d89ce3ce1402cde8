// Package batch implements the additive-increase/multiplicative-decrease
// adaptive batcher of spec.md §4.4: it groups an upstream item sequence
// into batches whose size grows by one when collection keeps up with a
// target processing time, and halves when it does not.
package batch

import "time"

// Config bounds and seeds the batcher's adaptive size.
type Config struct {
	InitialBatchSize int
	MinBatchSize     int
	MaxBatchSize     int
	TargetProcessing time.Duration
}

// Batcher pulls items from an input channel and yields batches whose size
// adapts to how long collection takes. It produces a finite,
// non-restartable sequence: once the input closes and a final partial
// batch (if any) is yielded, the batcher is done.
type Batcher[V any] struct {
	cfg       Config
	batchSize int
	now       func() time.Time
}

// New constructs a Batcher with the given configuration. batch_size
// starts at cfg.InitialBatchSize, clamped into [MinBatchSize,
// MaxBatchSize].
func New[V any](cfg Config) *Batcher[V] {
	return NewWithClock[V](cfg, time.Now)
}

// NewWithClock is New with an injectable clock, for tests that need
// deterministic collection latencies without sleeping.
func NewWithClock[V any](cfg Config, now func() time.Time) *Batcher[V] {
	b := &Batcher[V]{cfg: cfg, now: now}
	b.batchSize = clamp(cfg.InitialBatchSize, cfg.MinBatchSize, cfg.MaxBatchSize)
	return b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CurrentBatchSize returns the size that will be targeted for the next
// collection. Exposed for tests exercising AIMD dynamics directly.
func (b *Batcher[V]) CurrentBatchSize() int { return b.batchSize }

// Run reads in until it closes, sending each completed batch to out. It
// closes out when done. batch_size adapts after every batch, including
// the final partial one, though no further batch is collected afterward.
func (b *Batcher[V]) Run(in <-chan V, out chan<- []V) {
	defer close(out)

	for {
		start := b.now()
		target := b.batchSize
		batch := make([]V, 0, target)

		for len(batch) < target {
			v, ok := <-in
			if !ok {
				break
			}
			batch = append(batch, v)
		}

		if len(batch) == 0 {
			return
		}

		elapsed := b.now().Sub(start)
		if elapsed <= b.cfg.TargetProcessing {
			b.batchSize = clamp(b.batchSize+1, b.cfg.MinBatchSize, b.cfg.MaxBatchSize)
		} else {
			b.batchSize = clamp(b.batchSize/2, b.cfg.MinBatchSize, b.cfg.MaxBatchSize)
		}

		out <- batch

		if len(batch) < target {
			return
		}
	}
}
