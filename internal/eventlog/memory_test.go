package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairgrid/internal/core"
)

func TestMemoryStoreAppendAndReadSinceOrdersBySlotAndID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, []core.EventRow{
		{EventID: 2, SlotID: 1, Kind: "FillEvent"},
		{EventID: 1, SlotID: 1, Kind: "Bootstrap"},
		{EventID: 3, SlotID: 2, Kind: "FillEvent"},
	}))

	rows, err := s.ReadSince(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].EventID)
	assert.Equal(t, int64(2), rows[1].EventID)

	rows, err = s.ReadSince(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].EventID)
}

func TestMemoryStoreMaxEventID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	max, err := s.MaxEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), max)

	require.NoError(t, s.Append(ctx, []core.EventRow{{EventID: 7, SlotID: 1}}))
	max, err = s.MaxEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), max)
}

func TestMemoryStorePutGetSnapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, core.SnapshotRow{SlotID: 1, EventID: 5, StateJSON: []byte(`{}`)}))
	row, ok, err := s.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), row.EventID)
}

func TestMemoryStoreRecordFill(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.RecordFill(ctx, core.FillRow{SlotID: 1, TradeID: core.TradeA, Cycle: 1}))
	require.NoError(t, s.RecordFill(ctx, core.FillRow{SlotID: 1, TradeID: core.TradeB, Cycle: 1}))
	assert.Len(t, s.Fills(), 2)
}
