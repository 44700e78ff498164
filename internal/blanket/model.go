package blanket

import "time"

// State is the derived lifecycle state of a blanket order. It is stored
// for queryability but always recomputed from the order's confirmed and
// cancelled flags, validity date and aggregate remaining quantity; it is
// never written directly by callers.
type State string

const (
	StateDraft   State = "draft"
	StateOpen    State = "open"
	StateExpired State = "expired"
	StateDone    State = "done"
)

// LineKind distinguishes quantity-bearing product lines from
// display-only section headers and notes.
type LineKind string

const (
	LineKindProduct LineKind = "product"
	LineKindSection LineKind = "section"
	LineKindNote    LineKind = "note"
)

// IsDisplay reports whether the line carries no product, quantity or
// price.
func (k LineKind) IsDisplay() bool {
	return k == LineKindSection || k == LineKindNote
}

// BlanketOrder is a framework sales agreement. DocNumber stays empty
// until confirmation so abandoned drafts never consume a sequence
// number.
type BlanketOrder struct {
	ID            int64              `json:"id"`
	DocNumber     string             `json:"doc_number"`
	CompanyID     int64              `json:"company_id"`
	CustomerID    int64              `json:"customer_id"`
	Currency      string             `json:"currency"`
	PricelistID   *int64             `json:"pricelist_id,omitempty"`
	PaymentTermID *int64             `json:"payment_term_id,omitempty"`
	OrderDate     time.Time          `json:"order_date"`
	ValidityDate  *time.Time         `json:"validity_date,omitempty"`
	Confirmed     bool               `json:"confirmed"`
	Cancelled     bool               `json:"cancelled"`
	State         State              `json:"state"`
	Subtotal      float64            `json:"subtotal"`
	TaxAmount     float64            `json:"tax_amount"`
	TotalAmount   float64            `json:"total_amount"`
	Notes         *string            `json:"notes,omitempty"`
	CreatedBy     int64              `json:"created_by"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Lines         []BlanketOrderLine `json:"lines,omitempty"`
}

// RemainingTotal sums the remaining quantity over product lines.
func (o *BlanketOrder) RemainingTotal() float64 {
	var total float64
	for _, line := range o.Lines {
		if line.Kind == LineKindProduct {
			total += line.RemainingQty
		}
	}
	return total
}

// BlanketOrderLine is one product commitment within a blanket order.
// Ordered/Delivered/Invoiced/Remaining quantities are derived from the
// non-cancelled draw-down lines referencing this line and stored.
type BlanketOrderLine struct {
	ID           int64      `json:"id"`
	OrderID      int64      `json:"order_id"`
	Sequence     int        `json:"sequence"`
	Kind         LineKind   `json:"kind"`
	ProductID    *int64     `json:"product_id,omitempty"`
	Description  string     `json:"description"`
	UOM          string     `json:"uom,omitempty"`
	OriginalQty  float64    `json:"original_qty"`
	UnitPrice    float64    `json:"unit_price"`
	TaxPercent   float64    `json:"tax_percent"`
	DateSchedule *time.Time `json:"date_schedule,omitempty"`

	OrderedQty       float64 `json:"ordered_qty"`
	DeliveredQty     float64 `json:"delivered_qty"`
	InvoicedQty      float64 `json:"invoiced_qty"`
	RemainingQty     float64 `json:"remaining_qty"`
	RemainingBaseQty float64 `json:"remaining_base_qty"`
	RemainingPercent float64 `json:"remaining_percent"`

	Subtotal    float64 `json:"subtotal"`
	TaxAmount   float64 `json:"tax_amount"`
	TotalAmount float64 `json:"total_amount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlanketOrderWithDetails augments an order with list-view joins.
type BlanketOrderWithDetails struct {
	BlanketOrder
	CustomerName  string `json:"customer_name"`
	DrawdownCount int    `json:"drawdown_count"`
}

// DrawdownLine is the read model for a sales order line drawing down a
// blanket line. Only lines whose parent order is not cancelled are ever
// aggregated.
type DrawdownLine struct {
	ID           int64
	OrderID      int64
	ProductID    int64
	UOM          string
	Qty          float64
	DeliveredQty float64
	InvoicedQty  float64
}

// DrawdownOrder describes a sales order to be created by an allocation.
type DrawdownOrder struct {
	DocNumber      string
	CompanyID      int64
	CustomerID     int64
	BlanketOrderID int64
	OrderDate      time.Time
	Currency       string
	Subtotal       float64
	TaxAmount      float64
	TotalAmount    float64
	Notes          *string
	CreatedBy      int64
}

// DrawdownOrderLine describes one allocated line of a draw-down order.
// BlanketLineID is the back-reference that quantity reconciliation
// aggregates over.
type DrawdownOrderLine struct {
	OrderID       int64
	ProductID     int64
	Description   string
	Qty           float64
	UOM           string
	UnitPrice     float64
	TaxPercent    float64
	TaxAmount     float64
	LineTotal     float64
	BlanketLineID int64
	DateSchedule  *time.Time
	Sequence      int
}
