package script

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/dop251/goja"

	"github.com/jeffutter/kafka-postgres-transform/internal/dynval"
)

type job struct {
	batch  []dynval.Value
	result chan<- jobResult
}

type jobResult struct {
	value TransformResult
	err   error
}

// mailboxMsg carries a submission, a key-resolution request, or the
// shutdown sentinel that stops a worker's loop and lets its dedicated
// thread exit. Exactly one of job/keyReq is set for a non-shutdown
// message.
type mailboxMsg struct {
	job      *job
	keyReq   *keyRequest
	shutdown bool
}

// keyRequest asks the worker's own goroutine to evaluate the optional
// messageKey(input) hook against value, since a goja.Runtime is not
// safe for concurrent use and must only ever be touched from the
// worker's dedicated thread.
type keyRequest struct {
	value  dynval.Value
	result chan<- keyResult
}

type keyResult struct {
	key string
	ok  bool
}

// worker owns one interpreter, running on one dedicated OS thread for its
// entire lifetime. It never migrates and never shares its interpreter
// with another goroutine.
type worker struct {
	index     int
	inbox     chan mailboxMsg
	done      chan struct{}
	vm        *goja.Runtime
	fn        goja.Callable
	messageFn goja.Callable
}

func newWorker(index int, scriptSource string) (*worker, error) {
	w := &worker{
		index: index,
		inbox: make(chan mailboxMsg, 1),
		done:  make(chan struct{}),
	}

	ready := make(chan error, 1)
	go w.run(scriptSource, ready)

	if err := <-ready; err != nil {
		return nil, err
	}
	return w, nil
}

// run is the worker's dedicated goroutine. It is locked to its OS thread
// for its entire life so the interpreter it owns never observes a thread
// switch, per spec.md §4.5.
func (w *worker) run(scriptSource string, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	vm := goja.New()
	// Cap the JS call depth so unbounded recursion in a script makes the
	// call return a stack-overflow error instead of exhausting memory.
	vm.SetMaxCallStackSize(10000)
	if _, err := vm.RunString(scriptSource); err != nil {
		ready <- fmt.Errorf("%w: %w", ErrScriptLoadFailed, err)
		return
	}

	transformVal := vm.Get("transform")
	if transformVal == nil || goja.IsUndefined(transformVal) {
		ready <- fmt.Errorf("%w: script does not define transform(inputs)", ErrScriptLoadFailed)
		return
	}
	fn, ok := goja.AssertFunction(transformVal)
	if !ok {
		ready <- fmt.Errorf("%w: transform is not callable", ErrScriptLoadFailed)
		return
	}

	w.vm = vm
	w.fn = fn

	// messageKey(input) is an optional script-defined hook (spec.md §6):
	// when present, the broker path uses its result as the record's key
	// in log lines. Its absence is not an error — the native record key
	// is used unchanged.
	if keyVal := vm.Get("messageKey"); keyVal != nil && !goja.IsUndefined(keyVal) {
		if keyFn, ok := goja.AssertFunction(keyVal); ok {
			w.messageFn = keyFn
		}
	}

	ready <- nil

	for msg := range w.inbox {
		if msg.shutdown {
			return
		}
		if msg.keyReq != nil {
			key, ok := w.messageKey(msg.keyReq.value)
			msg.keyReq.result <- keyResult{key: key, ok: ok}
			continue
		}
		w.process(msg.job)
	}
}

func (w *worker) process(j *job) {
	res := jobResult{}
	func() {
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("%w: %v", ErrWorkerDied, r)
			}
		}()

		native := make([]interface{}, len(j.batch))
		for i, v := range j.batch {
			native[i] = v.Native()
		}

		retVal, err := w.fn(goja.Undefined(), w.vm.ToValue(native))
		if err != nil {
			res.err = fmt.Errorf("%w: %w", ErrScriptExecFailed, err)
			return
		}

		raw, ok := retVal.Export().(string)
		if !ok {
			res.err = fmt.Errorf("%w: transform did not return a string", ErrResultParseFailed)
			return
		}

		var tr TransformResult
		if err := json.Unmarshal([]byte(raw), &tr); err != nil {
			res.err = fmt.Errorf("%w: %w", ErrResultParseFailed, err)
			return
		}
		res.value = tr
	}()

	j.result <- res
}

// messageKey calls the script's optional messageKey(input) hook and
// returns the re-key it produces. It reports false when the script
// defines no such hook, or when the hook does not return a string,
// leaving the caller to fall back to the record's native key.
func (w *worker) messageKey(v dynval.Value) (key string, ok bool) {
	if w.messageFn == nil {
		return "", false
	}
	defer func() {
		if recover() != nil {
			key, ok = "", false
		}
	}()

	retVal, err := w.messageFn(goja.Undefined(), w.vm.ToValue(v.Native()))
	if err != nil {
		return "", false
	}
	s, isString := retVal.Export().(string)
	if !isString {
		return "", false
	}
	return s, true
}

// tryAcquire attempts a non-blocking send of msg to the worker's mailbox.
// It reports whether the send succeeded.
func (w *worker) tryAcquire(msg mailboxMsg) bool {
	select {
	case w.inbox <- msg:
		return true
	default:
		return false
	}
}

// acquire blocks until the worker's mailbox accepts msg.
func (w *worker) acquire(msg mailboxMsg) {
	w.inbox <- msg
}
