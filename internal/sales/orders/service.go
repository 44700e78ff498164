package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/keystone-erp/keystone-erp/internal/sales/customers"
	"github.com/keystone-erp/keystone-erp/internal/sales/shared"
)

var ErrInvalidStatus = errors.New("invalid status transition")

// BlanketGuard hooks blanket agreement checks into the sales order
// lifecycle. Confirm is blocked while any referenced agreement is not
// open; every lifecycle transition triggers a recomputation of the
// referenced agreements' consumed quantities.
type BlanketGuard interface {
	CheckDrawdownConfirmable(ctx context.Context, drawdownOrderID int64) error
	RecomputeForDrawdown(ctx context.Context, drawdownOrderID int64) error
}

type Service struct {
	repo         Repository
	customerRepo customers.Repository
	blanket      BlanketGuard
	logger       *slog.Logger
	validate     *validator.Validate
}

// NewService constructs a sales order service. blanket may be nil when
// the deployment carries no blanket agreements.
func NewService(repo Repository, customerRepo customers.Repository, blanket BlanketGuard, logger *slog.Logger) *Service {
	return &Service{
		repo:         repo,
		customerRepo: customerRepo,
		blanket:      blanket,
		logger:       logger,
		validate:     validator.New(),
	}
}

func (s *Service) Create(ctx context.Context, req CreateSalesOrderRequest, createdBy int64) (*SalesOrder, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}
	if _, err := s.customerRepo.Get(ctx, req.CustomerID); err != nil {
		return nil, fmt.Errorf("verify customer: %w", err)
	}

	docNumber, err := s.repo.GenerateNumber(ctx, req.CompanyID, req.OrderDate)
	if err != nil {
		return nil, fmt.Errorf("generate doc number: %w", err)
	}

	lines := buildLines(0, req.Lines)
	order := SalesOrder{
		DocNumber:  docNumber,
		CompanyID:  req.CompanyID,
		CustomerID: req.CustomerID,
		OrderDate:  req.OrderDate,
		Status:     SalesOrderStatusDraft,
		Currency:   req.Currency,
		Notes:      req.Notes,
		CreatedBy:  createdBy,
	}
	order.Subtotal, order.TaxAmount, order.TotalAmount = sumLines(lines)

	var orderID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		id, err := repo.Create(ctx, order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		orderID = id
		for i := range lines {
			lines[i].SalesOrderID = id
			if _, err := repo.InsertLine(ctx, lines[i]); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.repo.Get(ctx, orderID)
}

func (s *Service) Update(ctx context.Context, id int64, req UpdateSalesOrderRequest) (*SalesOrder, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if existing.Status != SalesOrderStatusDraft {
		return nil, fmt.Errorf("%w: can only update DRAFT orders", ErrInvalidStatus)
	}

	updates := make(map[string]interface{})
	if req.OrderDate != nil {
		updates["order_date"] = *req.OrderDate
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}

	var lines []SalesOrderLine
	if req.Lines != nil {
		lines = buildLines(id, *req.Lines)
		updates["subtotal"], updates["tax_amount"], updates["total_amount"] = sumLines(lines)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if len(updates) > 0 {
			if err := repo.Update(ctx, id, updates); err != nil {
				return err
			}
		}
		if req.Lines == nil {
			return nil
		}
		if err := repo.DeleteLines(ctx, id); err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := repo.InsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	s.recomputeBlanket(ctx, id, existing.BlanketOrderID)
	return s.repo.Get(ctx, id)
}

// Confirm transitions a draft order to confirmed. Orders drawing down
// a blanket agreement are rejected unless every referenced agreement
// is still open with remaining quantity.
func (s *Service) Confirm(ctx context.Context, id int64, userID int64) (*SalesOrder, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if existing.Status != SalesOrderStatusDraft {
		return nil, fmt.Errorf("%w: can only confirm DRAFT orders", ErrInvalidStatus)
	}

	if s.blanket != nil && existing.BlanketOrderID != nil {
		if err := s.blanket.CheckDrawdownConfirmable(ctx, id); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateStatus(ctx, id, SalesOrderStatusConfirmed, userID, nil); err != nil {
		return nil, fmt.Errorf("confirm order: %w", err)
	}

	s.recomputeBlanket(ctx, id, existing.BlanketOrderID)
	return s.repo.Get(ctx, id)
}

// Cancel voids the order. Cancelled draw-down lines no longer count
// against their blanket lines, so the agreement is recomputed.
func (s *Service) Cancel(ctx context.Context, id int64, cancelledBy int64, reason string) (*SalesOrder, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if existing.Status == SalesOrderStatusCancelled || existing.Status == SalesOrderStatusCompleted {
		return nil, fmt.Errorf("%w: order is already final", ErrInvalidStatus)
	}

	if err := s.repo.UpdateStatus(ctx, id, SalesOrderStatusCancelled, cancelledBy, &reason); err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	s.recomputeBlanket(ctx, id, existing.BlanketOrderID)
	return s.repo.Get(ctx, id)
}

// Complete marks a confirmed order fully delivered and invoiced.
func (s *Service) Complete(ctx context.Context, id int64, userID int64) (*SalesOrder, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if existing.Status != SalesOrderStatusConfirmed {
		return nil, fmt.Errorf("%w: can only complete CONFIRMED orders", ErrInvalidStatus)
	}

	if err := s.repo.UpdateStatus(ctx, id, SalesOrderStatusCompleted, userID, nil); err != nil {
		return nil, fmt.Errorf("complete order: %w", err)
	}
	return s.repo.Get(ctx, id)
}

// UpdateProgress records delivered and invoiced quantities per line
// and propagates them to any referenced blanket agreement.
func (s *Service) UpdateProgress(ctx context.Context, id int64, req UpdateProgressRequest) (*SalesOrder, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if existing.Status != SalesOrderStatusConfirmed && existing.Status != SalesOrderStatusCompleted {
		return nil, fmt.Errorf("%w: progress requires a CONFIRMED order", ErrInvalidStatus)
	}

	lineSet := make(map[int64]bool, len(existing.Lines))
	for _, l := range existing.Lines {
		lineSet[l.ID] = true
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		for _, p := range req.Lines {
			if !lineSet[p.LineID] {
				return fmt.Errorf("line %d does not belong to order %d: %w", p.LineID, id, ErrNotFound)
			}
			if err := repo.UpdateLineProgress(ctx, p.LineID, p.DeliveredQty, p.InvoicedQty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}

	s.recomputeBlanket(ctx, id, existing.BlanketOrderID)
	return s.repo.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id int64) (*SalesOrder, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, req ListSalesOrdersRequest) ([]SalesOrderWithDetails, int, error) {
	if req.Limit == 0 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

// recomputeBlanket refreshes the referenced agreement after a
// transition. The refresh is best effort: the order change has already
// committed and the nightly reconciliation converges stored values.
func (s *Service) recomputeBlanket(ctx context.Context, orderID int64, blanketOrderID *int64) {
	if s.blanket == nil || blanketOrderID == nil {
		return
	}
	if err := s.blanket.RecomputeForDrawdown(ctx, orderID); err != nil {
		s.logger.Warn("recompute blanket agreement", "order_id", orderID, "error", err)
	}
}

func buildLines(orderID int64, reqs []CreateSalesOrderLineReq) []SalesOrderLine {
	lines := make([]SalesOrderLine, 0, len(reqs))
	for i, lr := range reqs {
		_, tax, lineTotal := shared.CalculateLineTotals(lr.Quantity, lr.UnitPrice, 0, lr.TaxPercent)
		line := SalesOrderLine{
			SalesOrderID: orderID,
			ProductID:    lr.ProductID,
			Description:  lr.Description,
			Quantity:     lr.Quantity,
			UOM:          lr.UOM,
			UnitPrice:    lr.UnitPrice,
			TaxPercent:   lr.TaxPercent,
			TaxAmount:    tax,
			LineTotal:    lineTotal,
			DateSchedule: lr.DateSchedule,
			LineOrder:    lr.LineOrder,
		}
		if line.LineOrder == 0 {
			line.LineOrder = (i + 1) * 10
		}
		lines = append(lines, line)
	}
	return lines
}

func sumLines(lines []SalesOrderLine) (subtotal, tax, total float64) {
	for _, l := range lines {
		subtotal += l.Quantity * l.UnitPrice
		tax += l.TaxAmount
		total += l.LineTotal
	}
	return
}
