package status

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReporterTicksAndStopsCleanly(t *testing.T) {
	var calls int64

	r, err := Start(20*time.Millisecond, func() Counts {
		atomic.AddInt64(&calls, 1)
		return Counts{Processed: 5, Total: 10}
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&calls) >= 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, r.Stop())
}
