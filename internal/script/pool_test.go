package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeffutter/kafka-postgres-transform/internal/dynval"
)

const passthroughScript = `
function transform(inputs) {
  var rows = [];
  for (var i = 0; i < inputs.length; i++) {
    rows.push({customer_id: inputs[i].id, customer_name: inputs[i].name});
  }
  return JSON.stringify({
    success: true,
    table_info: {schema: "public", name: "customers", columns: [
      {name: "customer_id", type: "int"},
      {name: "customer_name", type: "text"}
    ]},
    data: rows
  });
}
`

func customerBatch(ids []int64, names []string) []dynval.Value {
	batch := make([]dynval.Value, len(ids))
	for i := range ids {
		batch[i] = dynval.Object([]dynval.Field{
			{Name: "id", Value: dynval.Int64(ids[i])},
			{Name: "name", Value: dynval.String(names[i])},
		})
	}
	return batch
}

func TestSingleRecordTransform(t *testing.T) {
	p, err := NewPool(passthroughScript, 1)
	require.NoError(t, err)
	defer p.Shutdown()

	fut := p.Execute(customerBatch([]int64{42}, []string{"Test Customer"}))
	res, err := fut.Get(context.Background())
	require.NoError(t, err)

	require.True(t, res.Success)
	require.Equal(t, "customers", res.TableInfo.Name)
	require.Equal(t, float64(42), res.Data[0]["customer_id"])
	require.Equal(t, "Test Customer", res.Data[0]["customer_name"])
}

func TestThreeRecordBatchPreservesOrder(t *testing.T) {
	p, err := NewPool(passthroughScript, 1)
	require.NoError(t, err)
	defer p.Shutdown()

	fut := p.Execute(customerBatch([]int64{1, 2, 3}, []string{"Customer One", "Customer Two", "Customer Three"}))
	res, err := fut.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Data, 3)
	require.Equal(t, "Customer One", res.Data[0]["customer_name"])
	require.Equal(t, "Customer Three", res.Data[2]["customer_name"])
}

func TestScriptLoadFailedOnMissingTransform(t *testing.T) {
	_, err := NewPool(`var x = 1;`, 1)
	require.ErrorIs(t, err, ErrScriptLoadFailed)
}

func TestScriptLoadFailedOnSyntaxError(t *testing.T) {
	_, err := NewPool(`function transform(inputs) { return`, 1)
	require.ErrorIs(t, err, ErrScriptLoadFailed)
}

func TestScriptExecFailedOnThrow(t *testing.T) {
	p, err := NewPool(`function transform(inputs) { throw new Error("boom"); }`, 1)
	require.NoError(t, err)
	defer p.Shutdown()

	fut := p.Execute(customerBatch([]int64{1}, []string{"a"}))
	_, err = fut.Get(context.Background())
	require.ErrorIs(t, err, ErrScriptExecFailed)
}

func TestResultParseFailedOnNonJSON(t *testing.T) {
	p, err := NewPool(`function transform(inputs) { return "not json"; }`, 1)
	require.NoError(t, err)
	defer p.Shutdown()

	fut := p.Execute(customerBatch([]int64{1}, []string{"a"}))
	_, err = fut.Get(context.Background())
	require.ErrorIs(t, err, ErrResultParseFailed)
}

func TestUnboundedRecursionIsCaughtAsExecFailure(t *testing.T) {
	// Each worker caps goja's call depth, so unbounded recursion makes the
	// transform() call return a stack-overflow error rather than exhaust
	// memory; it surfaces as a normal execution failure, not a host panic.
	p, err := NewPool(`function transform(inputs) { return transform(inputs); }`, 1)
	require.NoError(t, err)
	defer p.Shutdown()

	fut := p.Execute(customerBatch([]int64{1}, []string{"a"}))
	_, err = fut.Get(context.Background())
	require.ErrorIs(t, err, ErrScriptExecFailed)
}

func TestWorkerDiedSurfacesOnPanic(t *testing.T) {
	// process() wraps every execution in a recover() so that a genuine
	// host-level panic (e.g. from a future goja native-function binding
	// with a Go bug) degrades to a per-submission error instead of
	// killing the worker's thread; exercised directly against process
	// since provoking a real interpreter-level panic from script alone
	// is not reliable.
	resultCh := make(chan jobResult, 1)
	j := &job{batch: nil, result: resultCh}
	w := &worker{index: 0}
	w.process(j)

	res := <-resultCh
	require.ErrorIs(t, res.err, ErrWorkerDied)
}

func TestDispatchFallsBackToRoundRobinWhenAllBusy(t *testing.T) {
	p, err := NewPool(`function transform(inputs) {
		var start = Date.now();
		while (Date.now() - start < 50) {}
		return JSON.stringify({success: true, table_info: {schema:"public",name:"t",columns:[]}, data: []});
	}`, 2)
	require.NoError(t, err)
	defer p.Shutdown()

	var futs []*Future
	for i := 0; i < 4; i++ {
		futs = append(futs, p.Execute(customerBatch([]int64{int64(i)}, []string{"x"})))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, f := range futs {
		_, err := f.Get(ctx)
		require.NoError(t, err)
	}
}

func TestMessageKeyHookAbsentReportsNotOK(t *testing.T) {
	p, err := NewPool(passthroughScript, 1)
	require.NoError(t, err)
	defer p.Shutdown()

	_, ok := p.MessageKey(dynval.Object([]dynval.Field{{Name: "id", Value: dynval.Int64(1)}}))
	require.False(t, ok)
}

func TestMessageKeyHookPresentReKeys(t *testing.T) {
	script := passthroughScript + `
function messageKey(input) { return "customer:" + input.id; }
`
	p, err := NewPool(script, 1)
	require.NoError(t, err)
	defer p.Shutdown()

	key, ok := p.MessageKey(dynval.Object([]dynval.Field{{Name: "id", Value: dynval.Int64(7)}}))
	require.True(t, ok)
	require.Equal(t, "customer:7", key)
}

func TestShutdownJoinsAllWorkers(t *testing.T) {
	p, err := NewPool(passthroughScript, 3)
	require.NoError(t, err)
	p.Shutdown()
	for _, w := range p.workers {
		select {
		case <-w.done:
		default:
			t.Fatal("worker goroutine did not exit after shutdown")
		}
	}
}
