package products

import "time"

// Product is a sellable item. UOM is the code of the product's base unit
// of measure; blanket and sales lines may use any unit from the same
// category.
type Product struct {
	ID         int64     `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	UOM        string    `json:"uom"`
	SalePrice  float64   `json:"sale_price"`
	TaxPercent float64   `json:"tax_percent"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
