// Package script implements the runtime pool of spec.md §4.5: N workers,
// each a single-threaded JavaScript interpreter pinned to its own
// dedicated OS thread, evaluating a user-supplied `transform(inputs)`
// function per batch.
package script

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jeffutter/kafka-postgres-transform/internal/dynval"
)

// platformInit runs once before the first worker is created. goja
// requires no cross-worker platform bootstrap the way some embedded
// engines (e.g. a V8-backed runtime) do, but the hook is kept so the
// pool's construction order matches spec.md §4.5 regardless of which
// engine backs a given build.
var platformInit sync.Once

func initPlatform() {
	platformInit.Do(func() {})
}

// Pool dispatches batches to a fixed set of workers, each running its own
// interpreter loaded from the same script source.
type Pool struct {
	workers []*worker
	next    uint64
}

// NewPool starts n workers (n <= 0 defaults to runtime.NumCPU()), each
// loading and evaluating scriptSource once. It fails with
// ErrScriptLoadFailed if any worker's script does not load or does not
// define transform(inputs).
func NewPool(scriptSource string, n int) (*Pool, error) {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	initPlatform()

	p := &Pool{workers: make([]*worker, n)}
	for i := 0; i < n; i++ {
		w, err := newWorker(i, scriptSource)
		if err != nil {
			p.shutdownStarted(i)
			return nil, err
		}
		p.workers[i] = w
	}
	return p, nil
}

func (p *Pool) shutdownStarted(upTo int) {
	for i := 0; i < upTo; i++ {
		p.workers[i].acquire(mailboxMsg{shutdown: true})
	}
}

// Future resolves to the TransformResult of one submitted batch.
type Future struct {
	ch <-chan jobResult
}

// Get blocks until the result is available or ctx is done. Dropping a
// Future without calling Get does not cancel the in-flight execution;
// the worker runs it to completion and discards the result.
func (f *Future) Get(ctx context.Context) (TransformResult, error) {
	select {
	case res := <-f.ch:
		return res.value, res.err
	case <-ctx.Done():
		return TransformResult{}, ctx.Err()
	}
}

// Execute submits batch for processing and returns a Future for its
// result. Dispatch prefers a worker whose mailbox is currently idle
// (non-blocking try-acquire, in worker order); if every mailbox is full
// it falls back to round-robin using a shared counter, which may block
// on the selected worker's mailbox.
func (p *Pool) Execute(batch []dynval.Value) *Future {
	resultCh := make(chan jobResult, 1)
	j := &job{batch: batch, result: resultCh}
	msg := mailboxMsg{job: j}

	for _, w := range p.workers {
		if w.tryAcquire(msg) {
			return &Future{ch: resultCh}
		}
	}

	idx := atomic.AddUint64(&p.next, 1) % uint64(len(p.workers))
	p.workers[idx].acquire(msg)
	return &Future{ch: resultCh}
}

// Shutdown sends the shutdown sentinel to every worker and joins its
// thread. It blocks until all workers have exited.
func (p *Pool) Shutdown() {
	for _, w := range p.workers {
		w.acquire(mailboxMsg{shutdown: true})
	}
	for _, w := range p.workers {
		<-w.done
	}
}

// NumWorkers reports the pool's worker count, useful for callers sizing
// upstream partition counts to match.
func (p *Pool) NumWorkers() int { return len(p.workers) }

// MessageKey evaluates the script's optional messageKey(input) hook
// (spec.md §6) against v, routed through a worker's own thread since
// the interpreter it runs in cannot be touched concurrently. Every
// worker loads the same script, so any one of them answers identically;
// ok is false when the script defines no such hook.
func (p *Pool) MessageKey(v dynval.Value) (key string, ok bool) {
	resultCh := make(chan keyResult, 1)
	p.workers[0].acquire(mailboxMsg{keyReq: &keyRequest{value: v, result: resultCh}})
	res := <-resultCh
	return res.key, res.ok
}
