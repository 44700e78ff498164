package shared

// CalculateLineTotals computes a sales line's discount, tax and total
// amounts from quantity, unit price and the two percentages.
func CalculateLineTotals(quantity, unitPrice, discountPercent, taxPercent float64) (discountAmount, taxAmount, lineTotal float64) {
	grossAmount := quantity * unitPrice
	discountAmount = grossAmount * (discountPercent / 100)
	netAmount := grossAmount - discountAmount
	taxAmount = netAmount * (taxPercent / 100)
	lineTotal = netAmount + taxAmount
	return
}

// CalculateAmounts is CalculateLineTotals without a discount, returning
// the untaxed subtotal instead. Blanket order lines carry no discount.
func CalculateAmounts(quantity, unitPrice, taxPercent float64) (subtotal, taxAmount, total float64) {
	subtotal = quantity * unitPrice
	taxAmount = subtotal * (taxPercent / 100)
	total = subtotal + taxAmount
	return
}
