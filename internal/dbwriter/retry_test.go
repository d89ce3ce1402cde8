package dbwriter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jeffutter/kafka-postgres-transform/internal/script"
)

type flakyDB struct {
	failures int
	calls    int
}

func (f *flakyDB) Acquire(ctx context.Context) (Conn, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection refused")
	}
	return flakyConn{}, nil
}

type flakyConn struct{}

func (flakyConn) Prepare(ctx context.Context, name, sql string) error { return nil }
func (flakyConn) ExecPrepared(ctx context.Context, name string, args []interface{}) (int64, error) {
	return 1, nil
}
func (flakyConn) Release() {}

func goodResult() script.TransformResult {
	return script.TransformResult{
		Success: true,
		TableInfo: &script.TableInfo{
			Schema: "public", Name: "widgets",
			Columns: []script.ColumnDef{{Name: "id", Type: "int"}},
		},
		Data: []map[string]interface{}{{"id": float64(1)}},
	}
}

func TestRetryingWriterRecoversFromTransientFailure(t *testing.T) {
	db := &flakyDB{failures: 2}
	rw := NewRetrying(New(db), rate.Inf, 3)

	rows, err := rw.Insert(context.Background(), goodResult())
	require.NoError(t, err)
	require.EqualValues(t, 1, rows)
	require.Equal(t, 3, db.calls)
}

func TestRetryingWriterGivesUpAfterMaxAttempts(t *testing.T) {
	db := &flakyDB{failures: 5}
	rw := NewRetrying(New(db), rate.Inf, 3)

	_, err := rw.Insert(context.Background(), goodResult())
	require.Error(t, err)
	require.Equal(t, 3, db.calls)
}

func TestRetryingWriterDoesNotRetryPermanentFailures(t *testing.T) {
	db := &flakyDB{}
	rw := NewRetrying(New(db), rate.Inf, 3)

	bad := goodResult()
	bad.Success = false
	bad.Error = "boom"

	_, err := rw.Insert(context.Background(), bad)
	require.ErrorIs(t, err, ErrUpstreamScriptError)
	require.Equal(t, 0, db.calls)
}
