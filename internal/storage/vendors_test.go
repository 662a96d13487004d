package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVendorLabels_AppendOnlyHistory(t *testing.T) {
	ctx := context.Background()
	store := setupDB(t)

	for _, account := range []string{"6100 Office Supplies", "6100 Office Supplies", "6300 Software"} {
		require.NoError(t, store.AppendVendorLabel(ctx, "acme corp", account))
	}
	require.NoError(t, store.AppendVendorLabel(ctx, "globex", "6200 Utilities"))

	labels, err := store.GetVendorLabels(ctx, "acme corp")
	require.NoError(t, err)
	assert.Equal(t, []string{"6100 Office Supplies", "6100 Office Supplies", "6300 Software"}, labels)

	history, err := store.ListVendorLabels(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, []string{"6200 Utilities"}, history["globex"])
}

func TestGetVendorAmountStats(t *testing.T) {
	ctx := context.Background()
	store := setupDB(t)

	for _, amount := range []float64{10, 20, 30} {
		require.NoError(t, store.RecordVendorAmount(ctx, "acme corp", amount))
	}

	stats, err := store.GetVendorAmountStats(ctx, "acme corp")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Count)
	assert.InDelta(t, 20.0, stats.Mean, 1e-9)
	// Population stddev of {10, 20, 30}.
	assert.InDelta(t, 8.1649658, stats.StdDev, 1e-6)

	empty, err := store.GetVendorAmountStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.Count)
	assert.Zero(t, empty.StdDev)
}
