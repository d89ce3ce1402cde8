package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances by a fixed step on every call, letting tests
// simulate a constant per-batch collection latency (the batcher calls
// now() exactly twice per batch: once at collection start, once when the
// batch is ready) without real sleeps.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (f *fakeClock) now() time.Time {
	cur := f.t
	f.t = f.t.Add(f.step)
	return cur
}

func TestAIMDUnderTarget(t *testing.T) {
	// 10 items fed instantly: every collection finishes within target, so
	// batch_size increases by one after each full batch.
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := Config{InitialBatchSize: 2, MinBatchSize: 1, MaxBatchSize: 5, TargetProcessing: 100 * time.Millisecond}
	b := NewWithClock[int](cfg, clock.now)

	in := make(chan int, 10)
	for i := 0; i < 10; i++ {
		in <- i
	}
	close(in)

	out := make(chan []int, 10)
	b.Run(in, out)

	var sizes []int
	var total int
	for batch := range out {
		sizes = append(sizes, len(batch))
		total += len(batch)
	}

	// batch_size climbs 2,3,4,5 but only 10 items exist: the non-final
	// batches collect their full target (2,3,4), and the final batch is
	// a short partial (1) that ends the stream once the 5-target can't
	// be filled.
	require.Equal(t, []int{2, 3, 4, 1}, sizes)
	require.Equal(t, 10, total)
}

func TestAIMDOverTarget(t *testing.T) {
	// Every collection takes 200ms > 100ms target, so batch_size halves
	// (floor) after each batch, bottoming out at min=1.
	target := 100 * time.Millisecond
	clock := &fakeClock{t: time.Unix(0, 0), step: 200 * time.Millisecond}
	cfg := Config{InitialBatchSize: 2, MinBatchSize: 1, MaxBatchSize: 5, TargetProcessing: target}
	b := NewWithClock[int](cfg, clock.now)

	in := make(chan int, 10)
	for i := 0; i < 10; i++ {
		in <- i
	}
	close(in)

	out := make(chan []int, 10)
	b.Run(in, out)

	var sizes []int
	for batch := range out {
		sizes = append(sizes, len(batch))
	}

	require.Equal(t, []int{2, 1, 1, 1, 1, 1}, sizes[:6])
}

func TestConservationPreservesOrderAndSizes(t *testing.T) {
	cfg := Config{InitialBatchSize: 3, MinBatchSize: 1, MaxBatchSize: 8, TargetProcessing: time.Hour}
	b := New[int](cfg)

	in := make(chan int, 20)
	for i := 0; i < 17; i++ {
		in <- i
	}
	close(in)

	out := make(chan []int, 20)
	b.Run(in, out)

	var got []int
	var batches [][]int
	for batch := range out {
		batches = append(batches, batch)
		got = append(got, batch...)
	}

	expected := make([]int, 17)
	for i := range expected {
		expected[i] = i
	}
	require.Equal(t, expected, got)

	// every non-final batch has the size in effect when it started: with
	// TargetProcessing always satisfied (collection takes far less than
	// the hour-long target), size grows by one per batch, so 17 items
	// yield batches of 3, 4 and 5 and a final partial batch of 5.
	for i := 0; i < len(batches)-1; i++ {
		require.Len(t, batches[i], 3+i)
	}
}

func TestEmptyUpstreamYieldsNoBatches(t *testing.T) {
	cfg := Config{InitialBatchSize: 4, MinBatchSize: 1, MaxBatchSize: 8, TargetProcessing: time.Second}
	b := New[int](cfg)

	in := make(chan int)
	close(in)

	out := make(chan []int)
	done := make(chan struct{})
	go func() {
		b.Run(in, out)
		close(done)
	}()

	_, ok := <-out
	require.False(t, ok)
	<-done
}

func TestBatchSizeClampedAtConstruction(t *testing.T) {
	cfg := Config{InitialBatchSize: 100, MinBatchSize: 1, MaxBatchSize: 5, TargetProcessing: time.Second}
	b := New[int](cfg)
	require.Equal(t, 5, b.CurrentBatchSize())
}
