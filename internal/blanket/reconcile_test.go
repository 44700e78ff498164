package blanket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productLine(id, productID int64, uom string, qty float64) BlanketOrderLine {
	return BlanketOrderLine{
		ID:          id,
		OrderID:     1,
		Kind:        LineKindProduct,
		ProductID:   &productID,
		UOM:         uom,
		OriginalQty: qty,
	}
}

func TestReconcileLineSameUnit(t *testing.T) {
	line := productLine(1, 7, "PCE", 100)
	drawdowns := []DrawdownLine{
		{ID: 11, ProductID: 7, UOM: "PCE", Qty: 30, DeliveredQty: 30, InvoicedQty: 10},
		{ID: 12, ProductID: 7, UOM: "PCE", Qty: 20},
	}

	q, fallbacks := ReconcileLine(context.Background(), line, "PCE", drawdowns, newMockConverter())
	require.Empty(t, fallbacks)
	assert.InDelta(t, 50.0, q.Ordered, 1e-9)
	assert.InDelta(t, 30.0, q.Delivered, 1e-9)
	assert.InDelta(t, 10.0, q.Invoiced, 1e-9)
	assert.InDelta(t, 50.0, q.Remaining, 1e-9)
	assert.InDelta(t, 50.0, q.RemainingBase, 1e-9)
	assert.InDelta(t, 50.0, q.RemainingPercent, 1e-9)
}

func TestReconcileLineConvertsDozens(t *testing.T) {
	// Agreement in pieces, draw-down ordered in dozens.
	line := productLine(1, 7, "PCE", 100)
	drawdowns := []DrawdownLine{
		{ID: 11, ProductID: 7, UOM: "DZN", Qty: 2, DeliveredQty: 1},
	}

	q, fallbacks := ReconcileLine(context.Background(), line, "PCE", drawdowns, newMockConverter())
	require.Empty(t, fallbacks)
	assert.InDelta(t, 24.0, q.Ordered, 1e-9)
	assert.InDelta(t, 12.0, q.Delivered, 1e-9)
	assert.InDelta(t, 76.0, q.Remaining, 1e-9)
	assert.InDelta(t, 76.0, q.RemainingPercent, 1e-9)
}

func TestReconcileLineConversionFallback(t *testing.T) {
	// Kilograms cannot convert to pieces, so raw quantities are summed
	// and the offending draw-down line is reported.
	line := productLine(1, 7, "PCE", 100)
	drawdowns := []DrawdownLine{
		{ID: 11, ProductID: 7, UOM: "KG", Qty: 5},
		{ID: 12, ProductID: 7, UOM: "PCE", Qty: 10},
	}

	q, fallbacks := ReconcileLine(context.Background(), line, "PCE", drawdowns, newMockConverter())
	assert.Equal(t, []int64{11}, fallbacks)
	assert.InDelta(t, 15.0, q.Ordered, 1e-9)
	assert.InDelta(t, 85.0, q.Remaining, 1e-9)
}

func TestReconcileLineIgnoresOtherProducts(t *testing.T) {
	line := productLine(1, 7, "PCE", 100)
	drawdowns := []DrawdownLine{
		{ID: 11, ProductID: 8, UOM: "PCE", Qty: 40},
		{ID: 12, ProductID: 7, UOM: "PCE", Qty: 10},
	}

	q, _ := ReconcileLine(context.Background(), line, "PCE", drawdowns, newMockConverter())
	assert.InDelta(t, 10.0, q.Ordered, 1e-9)
}

func TestReconcileLineClampsRemaining(t *testing.T) {
	// Over-consumption (historic data, tolerance drift) never yields a
	// negative remaining quantity.
	line := productLine(1, 7, "PCE", 100)
	drawdowns := []DrawdownLine{
		{ID: 11, ProductID: 7, UOM: "PCE", Qty: 130},
	}

	q, _ := ReconcileLine(context.Background(), line, "PCE", drawdowns, newMockConverter())
	assert.InDelta(t, 0.0, q.Remaining, 1e-9)
	assert.InDelta(t, 0.0, q.RemainingPercent, 1e-9)
}

func TestReconcileLineRemainingBaseUnit(t *testing.T) {
	// Line kept in dozens, product base unit is pieces.
	line := productLine(1, 7, "DZN", 10)
	drawdowns := []DrawdownLine{
		{ID: 11, ProductID: 7, UOM: "DZN", Qty: 4},
	}

	q, fallbacks := ReconcileLine(context.Background(), line, "PCE", drawdowns, newMockConverter())
	require.Empty(t, fallbacks)
	assert.InDelta(t, 6.0, q.Remaining, 1e-9)
	assert.InDelta(t, 72.0, q.RemainingBase, 1e-9)
}

func TestReconcileLineDisplayLinesAreZero(t *testing.T) {
	line := BlanketOrderLine{ID: 1, Kind: LineKindSection, Description: "Hardware"}

	q, fallbacks := ReconcileLine(context.Background(), line, "", nil, newMockConverter())
	assert.Empty(t, fallbacks)
	assert.Equal(t, LineQuantities{}, q)
}

func TestReconcileLineDeterministic(t *testing.T) {
	line := productLine(1, 7, "PCE", 100)
	drawdowns := []DrawdownLine{
		{ID: 11, ProductID: 7, UOM: "DZN", Qty: 3, DeliveredQty: 2, InvoicedQty: 1},
	}

	first, _ := ReconcileLine(context.Background(), line, "PCE", drawdowns, newMockConverter())
	second, _ := ReconcileLine(context.Background(), line, "PCE", drawdowns, newMockConverter())
	assert.True(t, first.Equal(second))
}

func TestLineQuantitiesEqualTolerance(t *testing.T) {
	a := LineQuantities{Ordered: 10, Remaining: 90}
	b := LineQuantities{Ordered: 10.0004, Remaining: 89.9996}
	c := LineQuantities{Ordered: 10.01, Remaining: 89.99}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
