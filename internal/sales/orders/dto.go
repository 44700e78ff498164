package orders

import "time"

type CreateSalesOrderRequest struct {
	CompanyID  int64                     `json:"company_id" validate:"required,gt=0"`
	CustomerID int64                     `json:"customer_id" validate:"required,gt=0"`
	OrderDate  time.Time                 `json:"order_date" validate:"required"`
	Currency   string                    `json:"currency" validate:"required,len=3"`
	Notes      *string                   `json:"notes,omitempty"`
	Lines      []CreateSalesOrderLineReq `json:"lines" validate:"required,min=1,dive"`
}

type CreateSalesOrderLineReq struct {
	ProductID    int64      `json:"product_id" validate:"required,gt=0"`
	Description  *string    `json:"description,omitempty"`
	Quantity     float64    `json:"quantity" validate:"required,gt=0"`
	UOM          string     `json:"uom" validate:"required,max=20"`
	UnitPrice    float64    `json:"unit_price" validate:"required,gte=0"`
	TaxPercent   float64    `json:"tax_percent" validate:"gte=0,lte=100"`
	DateSchedule *time.Time `json:"date_schedule,omitempty"`
	LineOrder    int        `json:"line_order" validate:"gte=0"`
}

type UpdateSalesOrderRequest struct {
	OrderDate *time.Time                 `json:"order_date,omitempty"`
	Notes     *string                    `json:"notes,omitempty"`
	Lines     *[]CreateSalesOrderLineReq `json:"lines,omitempty" validate:"omitempty,min=1,dive"`
}

// UpdateProgressRequest records delivered and invoiced quantities per
// line, typically posted by fulfilment and invoicing integrations.
type UpdateProgressRequest struct {
	Lines []ProgressLineReq `json:"lines" validate:"required,min=1,dive"`
}

type ProgressLineReq struct {
	LineID       int64    `json:"line_id" validate:"required,gt=0"`
	DeliveredQty *float64 `json:"delivered_qty,omitempty" validate:"omitempty,gte=0"`
	InvoicedQty  *float64 `json:"invoiced_qty,omitempty" validate:"omitempty,gte=0"`
}

type ListSalesOrdersRequest struct {
	CompanyID      int64             `json:"company_id" validate:"required,gt=0"`
	CustomerID     *int64            `json:"customer_id,omitempty"`
	BlanketOrderID *int64            `json:"blanket_order_id,omitempty"`
	Status         *SalesOrderStatus `json:"status,omitempty"`
	DateFrom       *time.Time        `json:"date_from,omitempty"`
	DateTo         *time.Time        `json:"date_to,omitempty"`
	Limit          int               `json:"limit" validate:"gte=0,lte=1000"`
	Offset         int               `json:"offset" validate:"gte=0"`
}
