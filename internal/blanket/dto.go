package blanket

import "time"

// CreateBlanketOrderRequest creates a draft blanket order with its
// lines. Lines without a sequence are numbered in request order.
type CreateBlanketOrderRequest struct {
	CompanyID     int64       `json:"company_id" validate:"required,gt=0"`
	CustomerID    int64       `json:"customer_id" validate:"required,gt=0"`
	Currency      string      `json:"currency" validate:"required,len=3"`
	PricelistID   *int64      `json:"pricelist_id,omitempty"`
	PaymentTermID *int64      `json:"payment_term_id,omitempty"`
	OrderDate     time.Time   `json:"order_date" validate:"required"`
	ValidityDate  *time.Time  `json:"validity_date,omitempty"`
	Notes         *string     `json:"notes,omitempty"`
	Lines         []LineInput `json:"lines" validate:"dive"`
}

// LineInput is one line of a create or update request.
type LineInput struct {
	Kind         LineKind   `json:"kind" validate:"required,oneof=product section note"`
	Sequence     *int       `json:"sequence,omitempty"`
	ProductID    *int64     `json:"product_id,omitempty"`
	Description  string     `json:"description"`
	UOM          string     `json:"uom,omitempty"`
	OriginalQty  float64    `json:"original_qty" validate:"gte=0"`
	UnitPrice    float64    `json:"unit_price" validate:"gte=0"`
	TaxPercent   float64    `json:"tax_percent" validate:"gte=0,lte=100"`
	DateSchedule *time.Time `json:"date_schedule,omitempty"`
}

// UpdateBlanketOrderRequest patches a draft order. A non-nil Lines
// slice replaces the full line set. A nil ValidityDate leaves the date
// untouched; ClearValidityDate removes it, turning the order into an
// open-ended agreement.
type UpdateBlanketOrderRequest struct {
	CustomerID        *int64      `json:"customer_id,omitempty"`
	Currency          *string     `json:"currency,omitempty" validate:"omitempty,len=3"`
	OrderDate         *time.Time  `json:"order_date,omitempty"`
	ValidityDate      *time.Time  `json:"validity_date,omitempty"`
	ClearValidityDate bool        `json:"clear_validity_date,omitempty"`
	Notes             *string     `json:"notes,omitempty"`
	Lines             []LineInput `json:"lines,omitempty" validate:"omitempty,dive"`
}

// ListBlanketOrdersResponse is a paginated order list.
type ListBlanketOrdersResponse struct {
	Orders []BlanketOrderWithDetails `json:"orders"`
	Total  int                       `json:"total"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}
