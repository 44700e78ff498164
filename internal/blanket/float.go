package blanket

import "math"

// Quantities are compared at three decimal digits; writes and
// validations within this tolerance are treated as equal.
const qtyTolerance = 1e-3

// floatIsZero reports whether v is zero within the quantity tolerance.
func floatIsZero(v float64) bool {
	return math.Abs(v) < qtyTolerance
}

// floatCompare returns -1, 0 or 1 comparing a to b within the quantity
// tolerance.
func floatCompare(a, b float64) int {
	d := a - b
	if math.Abs(d) < qtyTolerance {
		return 0
	}
	if d < 0 {
		return -1
	}
	return 1
}

// floatEquals reports tolerance-aware equality.
func floatEquals(a, b float64) bool {
	return floatCompare(a, b) == 0
}
