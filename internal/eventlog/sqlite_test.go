package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairgrid/internal/core"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreAppendAndReadSinceRoundTrips(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, []core.EventRow{
		{EventID: 1, SlotID: 1, Kind: "Bootstrap", PayloadRaw: []byte(`{"order_size_usd":2}`), Ts: 10},
		{EventID: 2, SlotID: 1, Kind: "FillEvent", PayloadRaw: []byte(`{}`), Ts: 20},
	}))

	rows, err := store.ReadSince(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Bootstrap", rows[0].Kind)
	assert.Equal(t, "FillEvent", rows[1].Kind)

	max, err := store.MaxEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), max)
}

func TestSQLiteStoreSnapshotPutGetVerifiesChecksum(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, core.SnapshotRow{
		SlotID: 1, EventID: 5, StateJSON: []byte(`{"market_price":"0.1"}`), Ts: 100,
	}))

	row, ok, err := store.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), row.EventID)
	assert.Equal(t, `{"market_price":"0.1"}`, string(row.StateJSON))
}

func TestSQLiteStoreRecordFill(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, store.RecordFill(ctx, core.FillRow{
		SlotID: 1, TradeID: core.TradeA, Cycle: 1, Side: core.SideSell, Ts: 50,
	}))
}
