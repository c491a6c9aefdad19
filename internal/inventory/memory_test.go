package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveDeductsEagerly(t *testing.T) {
	l := NewMemoryLedger()
	l.SetVariantStock("shirt", "red", "M", 5)

	err := l.Reserve(context.Background(), "ord-1", []Line{{ProductID: "shirt", Color: "red", Size: "M", Qty: 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, l.Available("shirt", "red", "M"))

	// a second order sees only what is left
	err = l.Reserve(context.Background(), "ord-2", []Line{{ProductID: "shirt", Color: "red", Size: "M", Qty: 4}})
	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 4, short.Requested)
	assert.Equal(t, 3, short.Available)
	assert.Equal(t, 3, l.Available("shirt", "red", "M"))
}

func TestReserveAllOrNothing(t *testing.T) {
	l := NewMemoryLedger()
	l.SetStock("mug", 10)
	l.SetVariantStock("shirt", "blue", "L", 1)

	err := l.Reserve(context.Background(), "ord-1", []Line{
		{ProductID: "mug", Qty: 3},
		{ProductID: "shirt", Color: "blue", Size: "L", Qty: 2},
	})
	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, "shirt", short.ProductID)

	// the passing first line must not have been deducted
	assert.Equal(t, 10, l.Available("mug", "", ""))
	assert.Equal(t, 1, l.Available("shirt", "blue", "L"))
}

func TestReleaseIdempotent(t *testing.T) {
	l := NewMemoryLedger()
	l.SetStock("mug", 10)
	require.NoError(t, l.Reserve(context.Background(), "ord-1", []Line{{ProductID: "mug", Qty: 4}}))
	assert.Equal(t, 6, l.Available("mug", "", ""))

	require.NoError(t, l.Release(context.Background(), "ord-1"))
	assert.Equal(t, 10, l.Available("mug", "", ""))

	// the second release finds nothing reserved and restores nothing
	require.NoError(t, l.Release(context.Background(), "ord-1"))
	assert.Equal(t, 10, l.Available("mug", "", ""))
}

func TestReleaseAfterCommitIsNoop(t *testing.T) {
	l := NewMemoryLedger()
	l.SetStock("mug", 10)
	require.NoError(t, l.Reserve(context.Background(), "ord-1", []Line{{ProductID: "mug", Qty: 4}}))
	require.NoError(t, l.Commit(context.Background(), "ord-1"))

	require.NoError(t, l.Release(context.Background(), "ord-1"))
	assert.Equal(t, 6, l.Available("mug", "", ""))
}

func TestReserveVariantRequired(t *testing.T) {
	l := NewMemoryLedger()
	l.SetVariantStock("shirt", "red", "M", 5)

	err := l.Reserve(context.Background(), "ord-1", []Line{{ProductID: "shirt", Qty: 1}})
	assert.ErrorIs(t, err, ErrVariantRequired)
	assert.Equal(t, 5, l.Available("shirt", "red", "M"))
}

func TestReserveUnknownCellIsZeroStock(t *testing.T) {
	l := NewMemoryLedger()
	l.SetVariantStock("shirt", "red", "M", 5)

	err := l.Reserve(context.Background(), "ord-1", []Line{{ProductID: "shirt", Color: "green", Size: "M", Qty: 1}})
	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Zero(t, short.Available)
}

func TestReserveValidation(t *testing.T) {
	l := NewMemoryLedger()
	l.SetStock("mug", 10)

	assert.ErrorIs(t, l.Reserve(context.Background(), "o", []Line{{ProductID: "mug", Qty: 0}}), ErrInvalidQuantity)
	assert.ErrorIs(t, l.Reserve(context.Background(), "o", []Line{{ProductID: "mug", Qty: -1}}), ErrInvalidQuantity)
	assert.ErrorIs(t, l.Reserve(context.Background(), "o", []Line{{ProductID: "ghost", Qty: 1}}), ErrUnknownProduct)
}

func TestReserveDuplicateLinesCountedOnce(t *testing.T) {
	l := NewMemoryLedger()
	l.SetVariantStock("shirt", "red", "M", 2)

	// two lines against the same cell demand 4 units in total
	err := l.Reserve(context.Background(), "ord-1", []Line{
		{ProductID: "shirt", Color: "red", Size: "M", Qty: 2},
		{ProductID: "shirt", Color: "red", Size: "M", Qty: 2},
	})
	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 4, short.Requested)
	assert.Equal(t, 2, short.Available)
	assert.Equal(t, 2, l.Available("shirt", "red", "M"), "a failed reserve must not touch the cell")
}

func TestReserveDuplicateLinesRoundTrip(t *testing.T) {
	l := NewMemoryLedger()
	l.SetStock("mug", 10)

	require.NoError(t, l.Reserve(context.Background(), "ord-1", []Line{
		{ProductID: "mug", Qty: 3},
		{ProductID: "mug", Qty: 2},
	}))
	assert.Equal(t, 5, l.Available("mug", "", ""))

	require.NoError(t, l.Release(context.Background(), "ord-1"))
	assert.Equal(t, 10, l.Available("mug", "", ""), "release must restore the full combined quantity")
}

func TestMergeLines(t *testing.T) {
	merged, err := mergeLines([]Line{
		{ProductID: "shirt", Color: "red", Size: "M", Qty: 1},
		{ProductID: "mug", Qty: 2},
		{ProductID: "shirt", Color: "red", Size: "M", Qty: 3},
		{ProductID: "shirt", Color: "red", Size: "L", Qty: 1},
	})
	require.NoError(t, err)
	require.Len(t, merged, 3)
	assert.Equal(t, Line{ProductID: "shirt", Color: "red", Size: "M", Qty: 4}, merged[0])
	assert.Equal(t, Line{ProductID: "mug", Qty: 2}, merged[1])
	assert.Equal(t, Line{ProductID: "shirt", Color: "red", Size: "L", Qty: 1}, merged[2])

	_, err = mergeLines([]Line{{ProductID: "mug", Qty: 2}, {ProductID: "mug", Qty: 0}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}
