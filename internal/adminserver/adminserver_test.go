package adminserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotAggregatesCounters(t *testing.T) {
	s := New(":0")
	s.AddProcessed(5)
	s.AddFailed(1)
	s.AddInserted(4)
	s.AddProcessed(2)

	snap := s.snapshot()
	require.Equal(t, Stats{Processed: 7, Failed: 1, Inserted: 4}, snap)
}
