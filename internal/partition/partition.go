// Package partition fans a single stream of keyed records out to N bounded
// channels by hash(key) mod N, per spec.md §4.3. Records sharing a key
// always land on the same channel and keep their relative order.
package partition

import (
	"context"

	"github.com/cespare/xxhash/v2"
)

// ChannelCapacity is the fixed bound on each output partition. A slow
// consumer on one partition backpressures only its own producer write,
// never the others.
const ChannelCapacity = 1000

// Item is one (key, value) pair entering the partitioner.
type Item[V any] struct {
	Key   string
	Value V
}

// Partitioner owns N bounded output channels and a single writer goroutine
// feeding them. It is not safe for concurrent calls to Run.
type Partitioner[V any] struct {
	outputs []chan Item[V]
}

// New allocates n output channels, each with capacity ChannelCapacity.
func New[V any](n int) *Partitioner[V] {
	if n < 1 {
		n = 1
	}
	outputs := make([]chan Item[V], n)
	for i := range outputs {
		outputs[i] = make(chan Item[V], ChannelCapacity)
	}
	return &Partitioner[V]{outputs: outputs}
}

// Outputs returns the N destination channels in partition-index order.
func (p *Partitioner[V]) Outputs() []chan Item[V] { return p.outputs }

// PartitionOf returns the destination index for key, using a fixed
// 64-bit non-cryptographic hash whose result does not depend on host
// byte order: xxhash consumes the key as a byte slice and is defined in
// terms of its own internal accumulator, not the platform's native
// endianness.
func (p *Partitioner[V]) PartitionOf(key string) int {
	h := xxhash.Sum64String(key)
	return int(h % uint64(len(p.outputs)))
}

// Run reads from in until it closes or ctx is done, routing each item to
// its partition channel. On return (clean or via ctx cancellation) all
// output channels are closed, signaling end-of-stream to every
// downstream consumer. Run blocks on a full destination channel without
// affecting delivery to other partitions, since each send targets only
// the one channel chosen for that item's key.
func (p *Partitioner[V]) Run(ctx context.Context, in <-chan Item[V]) {
	defer func() {
		for _, ch := range p.outputs {
			close(ch)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-in:
			if !ok {
				return
			}
			idx := p.PartitionOf(item.Key)
			select {
			case p.outputs[idx] <- item:
			case <-ctx.Done():
				return
			}
		}
	}
}
