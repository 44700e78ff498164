package blanket

import (
	"context"
)

// Converter converts a quantity between two units of measure. It fails
// with *units.ConversionError when the units belong to incompatible
// categories.
type Converter interface {
	Convert(ctx context.Context, qty float64, fromUOM, toUOM string) (float64, error)
}

// LineQuantities is the result of reconciling one blanket line against
// its draw-down lines.
type LineQuantities struct {
	Ordered          float64
	Delivered        float64
	Invoiced         float64
	Remaining        float64
	RemainingBase    float64
	RemainingPercent float64
}

// Equal reports tolerance-aware equality, used to skip redundant writes
// when a recomputation was triggered by an unrelated sibling change.
func (q LineQuantities) Equal(other LineQuantities) bool {
	return floatEquals(q.Ordered, other.Ordered) &&
		floatEquals(q.Delivered, other.Delivered) &&
		floatEquals(q.Invoiced, other.Invoiced) &&
		floatEquals(q.Remaining, other.Remaining) &&
		floatEquals(q.RemainingBase, other.RemainingBase) &&
		floatEquals(q.RemainingPercent, other.RemainingPercent)
}

// StoredQuantities extracts the currently persisted quantities of a
// line for comparison against a fresh reconciliation.
func StoredQuantities(line BlanketOrderLine) LineQuantities {
	return LineQuantities{
		Ordered:          line.OrderedQty,
		Delivered:        line.DeliveredQty,
		Invoiced:         line.InvoicedQty,
		Remaining:        line.RemainingQty,
		RemainingBase:    line.RemainingBaseQty,
		RemainingPercent: line.RemainingPercent,
	}
}

// ReconcileLine recomputes a blanket line's consumed and remaining
// quantities from the given draw-down lines. Draw-down quantities are
// converted into the blanket line's unit before summing; when a single
// line fails to convert its raw quantities are summed instead and its
// id is reported in fallbacks, so one bad reference never aborts the
// whole aggregation. The remaining quantity is clamped at zero and
// additionally expressed in baseUOM, the product's base unit.
//
// Re-running with unchanged inputs yields identical output.
func ReconcileLine(ctx context.Context, line BlanketOrderLine, baseUOM string, drawdowns []DrawdownLine, conv Converter) (LineQuantities, []int64) {
	var q LineQuantities
	if line.Kind.IsDisplay() || line.ProductID == nil {
		return q, nil
	}

	var fallbacks []int64
	for _, dl := range drawdowns {
		if dl.ProductID != *line.ProductID {
			continue
		}
		ordered, delivered, invoiced := dl.Qty, dl.DeliveredQty, dl.InvoicedQty
		if dl.UOM != line.UOM {
			factor, err := conv.Convert(ctx, 1, dl.UOM, line.UOM)
			if err != nil {
				fallbacks = append(fallbacks, dl.ID)
			} else {
				ordered *= factor
				delivered *= factor
				invoiced *= factor
			}
		}
		q.Ordered += ordered
		q.Delivered += delivered
		q.Invoiced += invoiced
	}

	q.Remaining = line.OriginalQty - q.Ordered
	if q.Remaining < 0 {
		q.Remaining = 0
	}

	q.RemainingBase = q.Remaining
	if baseUOM != "" && baseUOM != line.UOM {
		if converted, err := conv.Convert(ctx, q.Remaining, line.UOM, baseUOM); err == nil {
			q.RemainingBase = converted
		} else {
			fallbacks = append(fallbacks, line.ID)
		}
	}

	if !floatIsZero(line.OriginalQty) {
		q.RemainingPercent = q.Remaining / line.OriginalQty * 100
	}

	return q, fallbacks
}
