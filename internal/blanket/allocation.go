package blanket

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/keystone-erp/keystone-erp/internal/sales/shared"
)

// AllocationLineInput requests a quantity against one blanket line.
type AllocationLineInput struct {
	BlanketLineID int64      `json:"blanket_line_id" validate:"required,gt=0"`
	Qty           float64    `json:"qty" validate:"gte=0"`
	DateSchedule  *time.Time `json:"date_schedule,omitempty"`
}

// AllocationRequest creates draw-down sales orders from blanket lines.
// Lines may span multiple blanket orders as long as all of them are
// open, belong to one company and share one currency.
type AllocationRequest struct {
	Lines     []AllocationLineInput `json:"lines" validate:"required,min=1,dive"`
	Notes     *string               `json:"notes,omitempty"`
	CreatedBy int64                 `json:"-"`
}

// AllocationResult reports the draw-down orders one allocation created.
// One order is created per distinct customer across the source lines.
type AllocationResult struct {
	BatchID string                 `json:"batch_id"`
	Orders  []AllocatedOrderResult `json:"orders"`
}

// AllocatedOrderResult identifies one created draw-down order.
type AllocatedOrderResult struct {
	OrderID    int64  `json:"order_id"`
	DocNumber  string `json:"doc_number"`
	CustomerID int64  `json:"customer_id"`
}

// PrepareAllocation returns the default allocation inputs for an open
// order: every product line with remaining quantity, prefilled with
// that remaining quantity and the line's scheduled date, today when
// the line has none.
func (s *Service) PrepareAllocation(ctx context.Context, orderID int64) ([]AllocationLineInput, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get blanket order: %w", err)
	}
	if order.State != StateOpen {
		return nil, fmt.Errorf("%w: blanket order is %s, allocation requires open", ErrInvalidState, order.State)
	}

	today := truncateDay(s.now())
	var inputs []AllocationLineInput
	for _, line := range order.Lines {
		if line.Kind.IsDisplay() || floatCompare(line.RemainingQty, 0) <= 0 {
			continue
		}
		in := AllocationLineInput{
			BlanketLineID: line.ID,
			Qty:           line.RemainingQty,
			DateSchedule:  line.DateSchedule,
		}
		if in.DateSchedule == nil {
			d := today
			in.DateSchedule = &d
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// Allocate validates the requested quantities against their blanket
// lines and creates one draft draw-down sales order per customer, then
// reconciles every touched blanket order, all in one transaction.
func (s *Service) Allocate(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	if err := s.validate.Struct(req); err != nil {
		s.metrics.IncAllocationRejected("invalid_request")
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	result := &AllocationResult{BatchID: uuid.New().String()}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		plan, err := s.planAllocation(ctx, tx, req)
		if err != nil {
			return err
		}

		for _, group := range plan.groups {
			docNumber, err := tx.GenerateDrawdownNumber(ctx, plan.companyID, s.now())
			if err != nil {
				return fmt.Errorf("generate order number: %w", err)
			}
			var subtotal, taxAmount, total float64
			for _, dl := range group.lines {
				subtotal += dl.Qty * dl.UnitPrice
				taxAmount += dl.TaxAmount
				total += dl.LineTotal
			}
			orderID, err := tx.InsertDrawdownOrder(ctx, DrawdownOrder{
				DocNumber:      docNumber,
				CompanyID:      plan.companyID,
				CustomerID:     group.customerID,
				BlanketOrderID: group.blanketOrderIDs[0],
				OrderDate:      truncateDay(s.now()),
				Currency:       plan.currency,
				Subtotal:       subtotal,
				TaxAmount:      taxAmount,
				TotalAmount:    total,
				Notes:          req.Notes,
				CreatedBy:      req.CreatedBy,
			})
			if err != nil {
				return fmt.Errorf("create draw-down order: %w", err)
			}
			for i, dl := range group.lines {
				dl.OrderID = orderID
				dl.Sequence = (i + 1) * 10
				if _, err := tx.InsertDrawdownLine(ctx, dl); err != nil {
					return fmt.Errorf("create draw-down line: %w", err)
				}
			}
			result.Orders = append(result.Orders, AllocatedOrderResult{
				OrderID:    orderID,
				DocNumber:  docNumber,
				CustomerID: group.customerID,
			})
		}

		for _, blanketID := range plan.orderIDs() {
			if err := s.reconcileOrderTx(ctx, tx, blanketID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, o := range result.Orders {
		s.logger.Info("allocated draw-down order",
			"batch_id", result.BatchID, "order_id", o.OrderID, "doc_number", o.DocNumber)
	}
	return result, nil
}

type allocationGroup struct {
	customerID      int64
	blanketOrderIDs []int64
	lines           []DrawdownOrderLine
}

type allocationPlan struct {
	companyID int64
	currency  string
	orders    map[int64]bool
	groups    []*allocationGroup
}

func (p *allocationPlan) orderIDs() []int64 {
	ids := make([]int64, 0, len(p.orders))
	for id := range p.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// planAllocation validates every requested line and groups the
// resulting draw-down lines by customer, preserving request order.
func (s *Service) planAllocation(ctx context.Context, tx TxRepository, req AllocationRequest) (*allocationPlan, error) {
	plan := &allocationPlan{orders: make(map[int64]bool)}
	byCustomer := make(map[int64]*allocationGroup)
	orderCache := make(map[int64]*BlanketOrder)
	requested := make(map[int64]float64)
	anyQty := false

	for _, in := range req.Lines {
		if floatIsZero(in.Qty) {
			continue
		}

		line, err := tx.GetLine(ctx, in.BlanketLineID)
		if err != nil {
			s.metrics.IncAllocationRejected("line_not_found")
			return nil, fmt.Errorf("get blanket line %d: %w", in.BlanketLineID, err)
		}
		if line.Kind.IsDisplay() || line.ProductID == nil {
			s.metrics.IncAllocationRejected("display_line")
			return nil, validationf("line %d carries no product and cannot be allocated", in.BlanketLineID)
		}

		order, ok := orderCache[line.OrderID]
		if !ok {
			order, err = tx.Get(ctx, line.OrderID)
			if err != nil {
				return nil, fmt.Errorf("get blanket order %d: %w", line.OrderID, err)
			}
			orderCache[line.OrderID] = order
		}

		if order.State != StateOpen {
			s.metrics.IncAllocationRejected("not_open")
			return nil, fmt.Errorf("%w: blanket order %s is %s, allocation requires open", ErrInvalidState, order.DocNumber, order.State)
		}
		if plan.companyID == 0 {
			plan.companyID = order.CompanyID
			plan.currency = order.Currency
		} else {
			if order.CompanyID != plan.companyID {
				s.metrics.IncAllocationRejected("mixed_company")
				return nil, validationf("all blanket orders in one allocation must belong to the same company")
			}
			if order.Currency != plan.currency {
				s.metrics.IncAllocationRejected("mixed_currency")
				return nil, validationf("all blanket orders in one allocation must share the same currency")
			}
		}

		// The same blanket line may appear more than once in a request,
		// so the ceiling compares the accumulated quantity.
		requested[line.ID] += in.Qty
		if floatCompare(requested[line.ID], line.RemainingQty) > 0 {
			reason := "over_remaining"
			if floatIsZero(line.RemainingQty) {
				reason = "exhausted"
			}
			s.metrics.IncAllocationRejected(reason)
			name, nameErr := tx.ProductName(ctx, *line.ProductID)
			if nameErr != nil {
				name = line.Description
			}
			return nil, &QuantityError{Product: name, Requested: requested[line.ID], Available: line.RemainingQty}
		}

		anyQty = true
		plan.orders[order.ID] = true

		group := byCustomer[order.CustomerID]
		if group == nil {
			group = &allocationGroup{customerID: order.CustomerID}
			byCustomer[order.CustomerID] = group
			plan.groups = append(plan.groups, group)
		}
		found := false
		for _, id := range group.blanketOrderIDs {
			if id == order.ID {
				found = true
				break
			}
		}
		if !found {
			group.blanketOrderIDs = append(group.blanketOrderIDs, order.ID)
		}

		schedule := in.DateSchedule
		if schedule == nil {
			schedule = line.DateSchedule
		}
		_, taxAmount, lineTotal := shared.CalculateAmounts(in.Qty, line.UnitPrice, line.TaxPercent)
		group.lines = append(group.lines, DrawdownOrderLine{
			ProductID:     *line.ProductID,
			Description:   line.Description,
			Qty:           in.Qty,
			UOM:           line.UOM,
			UnitPrice:     line.UnitPrice,
			TaxPercent:    line.TaxPercent,
			TaxAmount:     taxAmount,
			LineTotal:     lineTotal,
			BlanketLineID: line.ID,
			DateSchedule:  schedule,
		})
	}

	if !anyQty {
		s.metrics.IncAllocationRejected("empty")
		return nil, validationf("at least one line must have a quantity greater than zero")
	}
	return plan, nil
}
