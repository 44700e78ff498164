package blanket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/keystone-erp/keystone-erp/internal/observability"
	"github.com/keystone-erp/keystone-erp/internal/sales/shared"
)

const messageEntity = "blanket_order"

// Service provides business logic for blanket orders: the draft
// lifecycle, confirmation numbering, quantity reconciliation against
// draw-down orders, and scheduled expiry.
type Service struct {
	repo      Repository
	converter Converter
	seq       Sequencer
	notifier  Notifier
	metrics   *observability.Metrics
	logger    *slog.Logger
	validate  *validator.Validate

	now func() time.Time
}

// NewService constructs a blanket order service. metrics and notifier
// may be nil.
func NewService(repo Repository, converter Converter, seq Sequencer, notifier Notifier, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		converter: converter,
		seq:       seq,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Create persists a new blanket order in draft state. No document
// number is assigned and no sequence value is consumed.
func (s *Service) Create(ctx context.Context, req CreateBlanketOrderRequest, createdBy int64) (*BlanketOrder, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if err := s.validateDates(req.OrderDate, req.ValidityDate); err != nil {
		return nil, err
	}
	lines, err := s.buildLines(req.Lines)
	if err != nil {
		return nil, err
	}

	order := BlanketOrder{
		CompanyID:     req.CompanyID,
		CustomerID:    req.CustomerID,
		Currency:      req.Currency,
		PricelistID:   req.PricelistID,
		PaymentTermID: req.PaymentTermID,
		OrderDate:     req.OrderDate,
		ValidityDate:  req.ValidityDate,
		State:         StateDraft,
		Notes:         req.Notes,
		CreatedBy:     createdBy,
	}
	order.Subtotal, order.TaxAmount, order.TotalAmount = sumAmounts(lines)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Create(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		for i := range lines {
			lines[i].OrderID = id
			lineID, err := tx.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create blanket order: %w", err)
	}

	order.Lines = lines
	return &order, nil
}

// Update modifies a draft order. Orders past draft are immutable
// except through lifecycle actions and reconciliation.
func (s *Service) Update(ctx context.Context, id int64, req UpdateBlanketOrderRequest) (*BlanketOrder, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get blanket order: %w", err)
	}
	if existing.State != StateDraft {
		return nil, fmt.Errorf("%w: only draft orders can be edited, order is %s", ErrInvalidState, existing.State)
	}

	orderDate := existing.OrderDate
	if req.OrderDate != nil {
		orderDate = *req.OrderDate
	}
	if req.ClearValidityDate && req.ValidityDate != nil {
		return nil, validationf("clear_validity_date cannot be combined with a validity date")
	}
	validity := existing.ValidityDate
	if req.ClearValidityDate {
		validity = nil
	} else if req.ValidityDate != nil {
		validity = req.ValidityDate
	}
	if err := s.validateDates(orderDate, validity); err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.CustomerID != nil {
		updates["customer_id"] = *req.CustomerID
	}
	if req.Currency != nil {
		updates["currency"] = *req.Currency
	}
	if req.OrderDate != nil {
		updates["order_date"] = *req.OrderDate
	}
	if req.ClearValidityDate {
		updates["validity_date"] = nil
	} else if req.ValidityDate != nil {
		updates["validity_date"] = *req.ValidityDate
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}

	var lines []BlanketOrderLine
	if req.Lines != nil {
		lines, err = s.buildLines(req.Lines)
		if err != nil {
			return nil, err
		}
		updates["subtotal"], updates["tax_amount"], updates["total_amount"] = sumAmounts(lines)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if len(updates) > 0 {
			if err := tx.UpdateDraft(ctx, id, updates); err != nil {
				return err
			}
		}
		if req.Lines == nil {
			return nil
		}
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		for i := range lines {
			lines[i].OrderID = id
			if _, err := tx.InsertLine(ctx, lines[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update blanket order: %w", err)
	}

	return s.repo.Get(ctx, id)
}

// Get returns an order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*BlanketOrder, error) {
	return s.repo.Get(ctx, id)
}

// List returns a filtered page of orders.
func (s *Service) List(ctx context.Context, req ListBlanketOrdersRequest) (*ListBlanketOrdersResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if req.Limit == 0 {
		req.Limit = 50
	}
	orders, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list blanket orders: %w", err)
	}
	return &ListBlanketOrdersResponse{Orders: orders, Total: total, Limit: req.Limit, Offset: req.Offset}, nil
}

// Confirm moves a draft order to open, assigning its document number.
// Confirming an already confirmed, non-cancelled order is a no-op.
func (s *Service) Confirm(ctx context.Context, id int64) (*BlanketOrder, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get blanket order: %w", err)
	}
	if order.Confirmed && !order.Cancelled {
		return order, nil
	}
	if order.Cancelled {
		return nil, fmt.Errorf("%w: cancelled order must be reset to draft before confirming", ErrInvalidState)
	}
	if err := s.validateConfirmable(order); err != nil {
		return nil, err
	}

	docNumber := order.DocNumber
	if docNumber == "" {
		docNumber, err = s.nextDocNumber(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetConfirmed(ctx, id, docNumber); err != nil {
			return err
		}
		if err := s.reconcileOrderTx(ctx, tx, id); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirm blanket order: %w", err)
	}

	s.post(ctx, id, fmt.Sprintf("Blanket order confirmed as %s", docNumber))
	return s.repo.Get(ctx, id)
}

// Cancel marks the order cancelled, which derives to expired. It is
// rejected while non-cancelled draw-down orders still reference the
// order. Cancelling an already cancelled order is a no-op.
func (s *Service) Cancel(ctx context.Context, id int64) (*BlanketOrder, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get blanket order: %w", err)
	}
	if order.Cancelled {
		return order, nil
	}

	count, err := s.repo.ActiveDrawdownCount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count draw-down orders: %w", err)
	}
	if count > 0 {
		return nil, validationf("cannot cancel: %d active sale order(s) reference this blanket order", count)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetCancelled(ctx, id); err != nil {
			return err
		}
		return tx.SetState(ctx, id, StateExpired)
	})
	if err != nil {
		return nil, fmt.Errorf("cancel blanket order: %w", err)
	}

	s.post(ctx, id, "Blanket order cancelled")
	return s.repo.Get(ctx, id)
}

// ResetToDraft clears the confirmed and cancelled flags so an expired
// or cancelled order can be corrected and re-confirmed. The document
// number already assigned is kept.
func (s *Service) ResetToDraft(ctx context.Context, id int64) (*BlanketOrder, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get blanket order: %w", err)
	}
	if order.State == StateDraft {
		return order, nil
	}
	if order.State == StateDone {
		return nil, fmt.Errorf("%w: completed orders cannot be reset to draft", ErrInvalidState)
	}

	count, err := s.repo.ActiveDrawdownCount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count draw-down orders: %w", err)
	}
	if count > 0 {
		return nil, validationf("cannot reset to draft: %d active sale order(s) reference this blanket order", count)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ClearFlags(ctx, id); err != nil {
			return err
		}
		return tx.SetState(ctx, id, StateDraft)
	})
	if err != nil {
		return nil, fmt.Errorf("reset blanket order: %w", err)
	}

	s.post(ctx, id, "Blanket order reset to draft")
	return s.repo.Get(ctx, id)
}

// Delete removes an order. Only draft and expired orders without
// active draw-down orders can be deleted.
func (s *Service) Delete(ctx context.Context, id int64) error {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get blanket order: %w", err)
	}
	if order.State != StateDraft && order.State != StateExpired {
		return fmt.Errorf("%w: only draft and expired orders can be deleted, order is %s", ErrInvalidState, order.State)
	}

	count, err := s.repo.ActiveDrawdownCount(ctx, id)
	if err != nil {
		return fmt.Errorf("count draw-down orders: %w", err)
	}
	if count > 0 {
		return validationf("cannot delete: %d active sale order(s) reference this blanket order", count)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		return tx.DeleteOrder(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete blanket order: %w", err)
	}
	return nil
}

// RecomputeOrder re-reconciles every product line of the order against
// its draw-down lines and re-derives the lifecycle state, all inside
// one transaction so the aggregation sees a consistent snapshot.
func (s *Service) RecomputeOrder(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return s.reconcileOrderTx(ctx, tx, id)
	})
	if err != nil {
		return fmt.Errorf("recompute blanket order: %w", err)
	}
	return nil
}

// RecomputeLine re-reconciles the order owning the given line. The
// whole order is recomputed because the parent state and totals depend
// on every sibling line.
func (s *Service) RecomputeLine(ctx context.Context, lineID int64) error {
	line, err := s.repo.GetLine(ctx, lineID)
	if err != nil {
		return fmt.Errorf("get blanket line %d: %w", lineID, err)
	}
	return s.RecomputeOrder(ctx, line.OrderID)
}

// RecomputeForDrawdown re-reconciles the blanket lines referenced by
// the given sales order. Sales order transitions call this after
// commit so blanket quantities follow draw-down changes.
func (s *Service) RecomputeForDrawdown(ctx context.Context, drawdownOrderID int64) error {
	lineIDs, err := s.repo.BlanketLineIDsForDrawdown(ctx, drawdownOrderID)
	if err != nil {
		return fmt.Errorf("resolve blanket lines: %w", err)
	}
	if len(lineIDs) == 0 {
		return nil
	}

	seen := make(map[int64]bool)
	for _, lineID := range lineIDs {
		line, err := s.repo.GetLine(ctx, lineID)
		if err != nil {
			return fmt.Errorf("get blanket line %d: %w", lineID, err)
		}
		if !seen[line.OrderID] {
			seen[line.OrderID] = true
			if err := s.RecomputeOrder(ctx, line.OrderID); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckDrawdownConfirmable verifies every blanket-backed line of a
// sales order still has remaining quantity. Sales order confirmation
// calls this so a fully consumed agreement blocks further draw-downs.
func (s *Service) CheckDrawdownConfirmable(ctx context.Context, drawdownOrderID int64) error {
	lineIDs, err := s.repo.BlanketLineIDsForDrawdown(ctx, drawdownOrderID)
	if err != nil {
		return fmt.Errorf("resolve blanket lines: %w", err)
	}
	for _, lineID := range lineIDs {
		line, err := s.repo.GetLine(ctx, lineID)
		if err != nil {
			return fmt.Errorf("get blanket line %d: %w", lineID, err)
		}
		order, err := s.repo.Get(ctx, line.OrderID)
		if err != nil {
			return fmt.Errorf("get blanket order %d: %w", line.OrderID, err)
		}
		if order.State != StateOpen {
			return fmt.Errorf("%w: blanket order %s is %s, not open", ErrInvalidState, order.DocNumber, order.State)
		}
	}
	return nil
}

// ExpireDueOrders transitions open orders whose validity date has
// passed to expired. It is safe to run repeatedly; already expired
// orders are not revisited. Returns the number of orders expired.
func (s *Service) ExpireDueOrders(ctx context.Context, asOf time.Time) (int, error) {
	ids, err := s.repo.ListDue(ctx, truncateDay(asOf))
	if err != nil {
		return 0, fmt.Errorf("list due blanket orders: %w", err)
	}

	expired := 0
	for _, id := range ids {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.SetState(ctx, id, StateExpired)
		})
		if err != nil {
			s.logger.Error("expire blanket order", "order_id", id, "error", err)
			continue
		}
		expired++
		s.post(ctx, id, "Blanket order expired: validity date has passed")
	}

	s.metrics.AddExpiredOrders(expired)
	if expired > 0 {
		s.logger.Info("expired blanket orders", "count", expired, "as_of", truncateDay(asOf))
	}
	return expired, nil
}

// reconcileOrderTx recomputes every line's quantities, then the order
// totals and state, within the caller's transaction. Lines whose
// quantities are unchanged within tolerance are not rewritten.
func (s *Service) reconcileOrderTx(ctx context.Context, tx TxRepository, orderID int64) error {
	order, err := tx.Get(ctx, orderID)
	if err != nil {
		return err
	}

	remainingTotal := 0.0
	for i := range order.Lines {
		line := &order.Lines[i]
		if line.Kind.IsDisplay() || line.ProductID == nil {
			continue
		}

		drawdowns, err := tx.DrawdownLines(ctx, line.ID)
		if err != nil {
			return fmt.Errorf("load draw-down lines for line %d: %w", line.ID, err)
		}
		baseUOM, err := tx.ProductBaseUOM(ctx, *line.ProductID)
		if err != nil {
			return fmt.Errorf("resolve base unit for product %d: %w", *line.ProductID, err)
		}

		q, fallbacks := ReconcileLine(ctx, *line, baseUOM, drawdowns, s.converter)
		for _, dlID := range fallbacks {
			s.metrics.IncConversionFallback()
			s.logger.Warn("unit conversion failed, using raw quantity",
				"blanket_line_id", line.ID, "drawdown_line_id", dlID)
		}

		if !q.Equal(StoredQuantities(*line)) {
			if err := tx.UpdateLineQuantities(ctx, line.ID, q); err != nil {
				return fmt.Errorf("update line %d quantities: %w", line.ID, err)
			}
		}
		line.RemainingQty = q.Remaining
		remainingTotal += q.Remaining
	}

	state := DeriveState(StateInput{
		Confirmed:      order.Confirmed,
		Cancelled:      order.Cancelled,
		ValidityDate:   order.ValidityDate,
		RemainingTotal: remainingTotal,
	}, s.now())
	if state != order.State {
		if err := tx.SetState(ctx, orderID, state); err != nil {
			return fmt.Errorf("update order state: %w", err)
		}
	}

	subtotal, tax, total := sumAmounts(order.Lines)
	if !floatEquals(subtotal, order.Subtotal) || !floatEquals(tax, order.TaxAmount) || !floatEquals(total, order.TotalAmount) {
		if err := tx.UpdateOrderTotals(ctx, orderID, subtotal, tax, total); err != nil {
			return fmt.Errorf("update order totals: %w", err)
		}
	}
	return nil
}

// nextDocNumber draws from the configured sequence, falling back to a
// timestamp-based local reference when the sequence is exhausted or
// missing so confirmation never fails over numbering.
func (s *Service) nextDocNumber(ctx context.Context, orderID int64) (string, error) {
	docNumber, err := s.seq.Next(ctx, SequenceKeyBlanketOrder)
	if err == nil {
		return docNumber, nil
	}
	if !isSequenceExhausted(err) {
		return "", fmt.Errorf("assign document number: %w", err)
	}
	s.metrics.IncSequenceFallback()
	fallback := fmt.Sprintf("BO%s-%d", s.now().UTC().Format("20060102150405"), orderID)
	s.logger.Warn("sequence unavailable, using fallback reference",
		"order_id", orderID, "doc_number", fallback, "error", err)
	return fallback, nil
}

func (s *Service) validateConfirmable(order *BlanketOrder) error {
	if order.CustomerID == 0 {
		return validationf("customer is required before confirming")
	}
	if order.ValidityDate != nil && !truncateDay(*order.ValidityDate).After(truncateDay(s.now())) {
		return validationf("validity date must be in the future")
	}

	products := 0
	for _, line := range order.Lines {
		if line.Kind.IsDisplay() {
			continue
		}
		products++
		if line.ProductID == nil {
			return validationf("line %d has no product", line.Sequence)
		}
		if floatCompare(line.OriginalQty, 0) <= 0 {
			return validationf("line %d must have a positive quantity", line.Sequence)
		}
		if floatCompare(line.UnitPrice, 0) <= 0 {
			return validationf("line %d must have a positive price", line.Sequence)
		}
	}
	if products == 0 {
		return validationf("at least one product line is required before confirming")
	}
	return nil
}

func (s *Service) validateDates(orderDate time.Time, validity *time.Time) error {
	if validity != nil && truncateDay(*validity).Before(truncateDay(orderDate)) {
		return validationf("validity date cannot precede the order date")
	}
	return nil
}

// buildLines converts line inputs into persistable lines. Explicit
// sequences are kept; missing ones continue past the current maximum
// in steps of 10.
func (s *Service) buildLines(inputs []LineInput) ([]BlanketOrderLine, error) {
	maxSeq := 0
	for _, in := range inputs {
		if in.Sequence != nil && *in.Sequence > maxSeq {
			maxSeq = *in.Sequence
		}
	}

	lines := make([]BlanketOrderLine, 0, len(inputs))
	for i, in := range inputs {
		if in.Kind == LineKindProduct {
			if in.ProductID == nil {
				return nil, validationf("line %d: product is required", i+1)
			}
			if in.UOM == "" {
				return nil, validationf("line %d: unit of measure is required", i+1)
			}
			if in.OriginalQty < 0 {
				return nil, validationf("line %d: quantity cannot be negative", i+1)
			}
		}

		line := BlanketOrderLine{
			Kind:         in.Kind,
			Description:  in.Description,
			DateSchedule: in.DateSchedule,
		}
		if in.Sequence != nil {
			line.Sequence = *in.Sequence
		} else {
			maxSeq += 10
			line.Sequence = maxSeq
		}
		if in.Kind == LineKindProduct {
			line.ProductID = in.ProductID
			line.UOM = in.UOM
			line.OriginalQty = in.OriginalQty
			line.UnitPrice = in.UnitPrice
			line.TaxPercent = in.TaxPercent
			line.RemainingQty = in.OriginalQty
			line.RemainingBaseQty = in.OriginalQty
			line.RemainingPercent = 100
			if floatIsZero(in.OriginalQty) {
				line.RemainingPercent = 0
			}
			line.Subtotal, line.TaxAmount, line.TotalAmount = shared.CalculateAmounts(in.OriginalQty, in.UnitPrice, in.TaxPercent)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func sumAmounts(lines []BlanketOrderLine) (subtotal, tax, total float64) {
	for _, l := range lines {
		subtotal += l.Subtotal
		tax += l.TaxAmount
		total += l.TotalAmount
	}
	return
}

// post records a lifecycle message; failures are logged, never fatal.
func (s *Service) post(ctx context.Context, orderID int64, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Post(ctx, messageEntity, orderID, body); err != nil {
		s.logger.Warn("post record message", "order_id", orderID, "error", err)
	}
}

func isSequenceExhausted(err error) bool {
	return errors.Is(err, ErrSequenceExhausted)
}
