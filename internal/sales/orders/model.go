package orders

import "time"

type SalesOrderStatus string

const (
	SalesOrderStatusDraft     SalesOrderStatus = "DRAFT"
	SalesOrderStatusConfirmed SalesOrderStatus = "CONFIRMED"
	SalesOrderStatusCancelled SalesOrderStatus = "CANCELLED"
	SalesOrderStatusCompleted SalesOrderStatus = "COMPLETED"
)

// SalesOrder is a customer order. When BlanketOrderID is set the order
// draws down a blanket agreement and its lines reference blanket lines.
type SalesOrder struct {
	ID                 int64            `json:"id" db:"id"`
	DocNumber          string           `json:"doc_number" db:"doc_number"`
	CompanyID          int64            `json:"company_id" db:"company_id"`
	CustomerID         int64            `json:"customer_id" db:"customer_id"`
	BlanketOrderID     *int64           `json:"blanket_order_id,omitempty" db:"blanket_order_id"`
	OrderDate          time.Time        `json:"order_date" db:"order_date"`
	Status             SalesOrderStatus `json:"status" db:"status"`
	Currency           string           `json:"currency" db:"currency"`
	Subtotal           float64          `json:"subtotal" db:"subtotal"`
	TaxAmount          float64          `json:"tax_amount" db:"tax_amount"`
	TotalAmount        float64          `json:"total_amount" db:"total_amount"`
	Notes              *string          `json:"notes,omitempty" db:"notes"`
	CreatedBy          int64            `json:"created_by" db:"created_by"`
	ConfirmedBy        *int64           `json:"confirmed_by,omitempty" db:"confirmed_by"`
	ConfirmedAt        *time.Time       `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledBy        *int64           `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancelledAt        *time.Time       `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancellationReason *string          `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
	Lines              []SalesOrderLine `json:"lines,omitempty" db:"-"`
}

// SalesOrderLine is one ordered product. BlanketLineID back-references
// the blanket line this line draws down, nil for standalone orders.
// Delivered and invoiced quantities feed blanket reconciliation.
type SalesOrderLine struct {
	ID            int64      `json:"id" db:"id"`
	SalesOrderID  int64      `json:"sales_order_id" db:"sales_order_id"`
	ProductID     int64      `json:"product_id" db:"product_id"`
	Description   *string    `json:"description,omitempty" db:"description"`
	Quantity      float64    `json:"quantity" db:"quantity"`
	UOM           string     `json:"uom" db:"uom"`
	UnitPrice     float64    `json:"unit_price" db:"unit_price"`
	TaxPercent    float64    `json:"tax_percent" db:"tax_percent"`
	TaxAmount     float64    `json:"tax_amount" db:"tax_amount"`
	LineTotal     float64    `json:"line_total" db:"line_total"`
	BlanketLineID *int64     `json:"blanket_line_id,omitempty" db:"blanket_line_id"`
	DateSchedule  *time.Time `json:"date_schedule,omitempty" db:"date_schedule"`
	DeliveredQty  float64    `json:"delivered_qty" db:"delivered_qty"`
	InvoicedQty   float64    `json:"invoiced_qty" db:"invoiced_qty"`
	LineOrder     int        `json:"line_order" db:"line_order"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

type SalesOrderWithDetails struct {
	SalesOrder
	CustomerName string `json:"customer_name" db:"customer_name"`
}
