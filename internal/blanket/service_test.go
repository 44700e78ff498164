package blanket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	orders map[int64]*BlanketOrder
	lines  map[int64]*BlanketOrderLine

	// DrawdownLines keyed by blanket line id.
	drawdowns map[int64][]DrawdownLine

	createdOrders map[int64]*DrawdownOrder
	createdLines  map[int64][]DrawdownOrderLine

	baseUOM      map[int64]string
	productNames map[int64]string

	// Extra active draw-down orders beyond the ones created through
	// InsertDrawdownOrder, used by the lifecycle guards.
	activeCount map[int64]int

	nextOrderID    int64
	nextLineID     int64
	nextDrawdownID int64
	nextDocSeq     int64

	txError error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		orders:         make(map[int64]*BlanketOrder),
		lines:          make(map[int64]*BlanketOrderLine),
		drawdowns:      make(map[int64][]DrawdownLine),
		createdOrders:  make(map[int64]*DrawdownOrder),
		createdLines:   make(map[int64][]DrawdownOrderLine),
		baseUOM:        make(map[int64]string),
		productNames:   make(map[int64]string),
		activeCount:    make(map[int64]int),
		nextOrderID:    1,
		nextLineID:     1,
		nextDrawdownID: 1,
		nextDocSeq:     1,
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txError != nil {
		return m.txError
	}
	return fn(ctx, &mockTxRepo{mock: m})
}

func (m *mockRepository) Get(ctx context.Context, id int64) (*BlanketOrder, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *o
	out.Lines = m.linesFor(id)
	return &out, nil
}

func (m *mockRepository) linesFor(orderID int64) []BlanketOrderLine {
	var lines []BlanketOrderLine
	for _, l := range m.lines {
		if l.OrderID == orderID {
			lines = append(lines, *l)
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Sequence != lines[j].Sequence {
			return lines[i].Sequence < lines[j].Sequence
		}
		return lines[i].ID < lines[j].ID
	})
	return lines
}

func (m *mockRepository) GetLine(ctx context.Context, id int64) (*BlanketOrderLine, error) {
	l, ok := m.lines[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *l
	return &out, nil
}

func (m *mockRepository) DrawdownLines(ctx context.Context, blanketLineID int64) ([]DrawdownLine, error) {
	return m.drawdowns[blanketLineID], nil
}

func (m *mockRepository) ActiveDrawdownCount(ctx context.Context, orderID int64) (int, error) {
	count := m.activeCount[orderID]
	for _, o := range m.createdOrders {
		if o.BlanketOrderID == orderID {
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) BlanketLineIDsForDrawdown(ctx context.Context, drawdownOrderID int64) ([]int64, error) {
	var ids []int64
	seen := make(map[int64]bool)
	for _, l := range m.createdLines[drawdownOrderID] {
		if !seen[l.BlanketLineID] {
			seen[l.BlanketLineID] = true
			ids = append(ids, l.BlanketLineID)
		}
	}
	return ids, nil
}

func (m *mockRepository) ProductBaseUOM(ctx context.Context, productID int64) (string, error) {
	uom, ok := m.baseUOM[productID]
	if !ok {
		return "", ErrNotFound
	}
	return uom, nil
}

func (m *mockRepository) ProductName(ctx context.Context, productID int64) (string, error) {
	name, ok := m.productNames[productID]
	if !ok {
		return fmt.Sprintf("product-%d", productID), nil
	}
	return name, nil
}

func (m *mockRepository) List(ctx context.Context, req ListBlanketOrdersRequest) ([]BlanketOrderWithDetails, int, error) {
	var out []BlanketOrderWithDetails
	for _, o := range m.orders {
		if o.CompanyID != req.CompanyID {
			continue
		}
		if req.State != nil && o.State != *req.State {
			continue
		}
		if req.CustomerID != nil && o.CustomerID != *req.CustomerID {
			continue
		}
		out = append(out, BlanketOrderWithDetails{BlanketOrder: *o})
	}
	return out, len(out), nil
}

func (m *mockRepository) ListDue(ctx context.Context, asOf time.Time) ([]int64, error) {
	var ids []int64
	for id, o := range m.orders {
		if o.State == StateOpen && o.ValidityDate != nil && !o.ValidityDate.After(asOf) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type mockTxRepo struct {
	mock *mockRepository
}

func (t *mockTxRepo) Get(ctx context.Context, id int64) (*BlanketOrder, error) {
	return t.mock.Get(ctx, id)
}

func (t *mockTxRepo) GetLine(ctx context.Context, id int64) (*BlanketOrderLine, error) {
	return t.mock.GetLine(ctx, id)
}

func (t *mockTxRepo) DrawdownLines(ctx context.Context, blanketLineID int64) ([]DrawdownLine, error) {
	return t.mock.DrawdownLines(ctx, blanketLineID)
}

func (t *mockTxRepo) ActiveDrawdownCount(ctx context.Context, orderID int64) (int, error) {
	return t.mock.ActiveDrawdownCount(ctx, orderID)
}

func (t *mockTxRepo) BlanketLineIDsForDrawdown(ctx context.Context, drawdownOrderID int64) ([]int64, error) {
	return t.mock.BlanketLineIDsForDrawdown(ctx, drawdownOrderID)
}

func (t *mockTxRepo) ProductBaseUOM(ctx context.Context, productID int64) (string, error) {
	return t.mock.ProductBaseUOM(ctx, productID)
}

func (t *mockTxRepo) ProductName(ctx context.Context, productID int64) (string, error) {
	return t.mock.ProductName(ctx, productID)
}

func (t *mockTxRepo) Create(ctx context.Context, order BlanketOrder) (int64, error) {
	id := t.mock.nextOrderID
	t.mock.nextOrderID++
	order.ID = id
	order.Lines = nil
	t.mock.orders[id] = &order
	return id, nil
}

func (t *mockTxRepo) InsertLine(ctx context.Context, line BlanketOrderLine) (int64, error) {
	id := t.mock.nextLineID
	t.mock.nextLineID++
	line.ID = id
	t.mock.lines[id] = &line
	return id, nil
}

func (t *mockTxRepo) DeleteLines(ctx context.Context, orderID int64) error {
	for id, l := range t.mock.lines {
		if l.OrderID == orderID {
			delete(t.mock.lines, id)
		}
	}
	return nil
}

func (t *mockTxRepo) UpdateDraft(ctx context.Context, id int64, updates map[string]interface{}) error {
	o, ok := t.mock.orders[id]
	if !ok {
		return ErrNotFound
	}
	if v, ok := updates["customer_id"]; ok {
		o.CustomerID = v.(int64)
	}
	if v, ok := updates["currency"]; ok {
		o.Currency = v.(string)
	}
	if v, ok := updates["order_date"]; ok {
		o.OrderDate = v.(time.Time)
	}
	if v, ok := updates["validity_date"]; ok {
		if v == nil {
			o.ValidityDate = nil
		} else {
			d := v.(time.Time)
			o.ValidityDate = &d
		}
	}
	if v, ok := updates["notes"]; ok {
		n := v.(string)
		o.Notes = &n
	}
	if v, ok := updates["subtotal"]; ok {
		o.Subtotal = v.(float64)
	}
	if v, ok := updates["tax_amount"]; ok {
		o.TaxAmount = v.(float64)
	}
	if v, ok := updates["total_amount"]; ok {
		o.TotalAmount = v.(float64)
	}
	return nil
}

func (t *mockTxRepo) DeleteOrder(ctx context.Context, id int64) error {
	delete(t.mock.orders, id)
	return nil
}

func (t *mockTxRepo) SetConfirmed(ctx context.Context, id int64, docNumber string) error {
	o, ok := t.mock.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Confirmed = true
	o.DocNumber = docNumber
	return nil
}

func (t *mockTxRepo) SetCancelled(ctx context.Context, id int64) error {
	o, ok := t.mock.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Cancelled = true
	return nil
}

func (t *mockTxRepo) ClearFlags(ctx context.Context, id int64) error {
	o, ok := t.mock.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Confirmed = false
	o.Cancelled = false
	return nil
}

func (t *mockTxRepo) SetState(ctx context.Context, id int64, state State) error {
	o, ok := t.mock.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.State = state
	return nil
}

func (t *mockTxRepo) UpdateOrderTotals(ctx context.Context, id int64, subtotal, tax, total float64) error {
	o, ok := t.mock.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Subtotal, o.TaxAmount, o.TotalAmount = subtotal, tax, total
	return nil
}

func (t *mockTxRepo) UpdateLineQuantities(ctx context.Context, lineID int64, q LineQuantities) error {
	l, ok := t.mock.lines[lineID]
	if !ok {
		return ErrNotFound
	}
	l.OrderedQty = q.Ordered
	l.DeliveredQty = q.Delivered
	l.InvoicedQty = q.Invoiced
	l.RemainingQty = q.Remaining
	l.RemainingBaseQty = q.RemainingBase
	l.RemainingPercent = q.RemainingPercent
	return nil
}

func (t *mockTxRepo) InsertDrawdownOrder(ctx context.Context, o DrawdownOrder) (int64, error) {
	id := t.mock.nextDrawdownID
	t.mock.nextDrawdownID++
	t.mock.createdOrders[id] = &o
	return id, nil
}

func (t *mockTxRepo) InsertDrawdownLine(ctx context.Context, l DrawdownOrderLine) (int64, error) {
	id := t.mock.nextDrawdownID
	t.mock.nextDrawdownID++
	t.mock.createdLines[l.OrderID] = append(t.mock.createdLines[l.OrderID], l)
	t.mock.drawdowns[l.BlanketLineID] = append(t.mock.drawdowns[l.BlanketLineID], DrawdownLine{
		ID:        id,
		OrderID:   l.OrderID,
		ProductID: l.ProductID,
		UOM:       l.UOM,
		Qty:       l.Qty,
	})
	return id, nil
}

func (t *mockTxRepo) GenerateDrawdownNumber(ctx context.Context, companyID int64, date time.Time) (string, error) {
	seq := t.mock.nextDocSeq
	t.mock.nextDocSeq++
	return fmt.Sprintf("SO-%s-%04d", date.Format("0601"), seq), nil
}

// ============================================================================
// MOCK COLLABORATORS
// ============================================================================

type mockConverter struct {
	// factors maps "from->to" to the multiplication factor.
	factors map[string]float64
}

func newMockConverter() *mockConverter {
	return &mockConverter{factors: map[string]float64{
		"DZN->PCE": 12,
		"PCE->DZN": 1.0 / 12,
		"G->KG":    0.001,
		"KG->G":    1000,
	}}
}

func (c *mockConverter) Convert(ctx context.Context, qty float64, fromUOM, toUOM string) (float64, error) {
	if fromUOM == toUOM {
		return qty, nil
	}
	f, ok := c.factors[fromUOM+"->"+toUOM]
	if !ok {
		return 0, fmt.Errorf("no conversion from %s to %s", fromUOM, toUOM)
	}
	return qty * f, nil
}

type mockSequencer struct {
	next  int64
	calls int
	err   error
}

func (s *mockSequencer) Next(ctx context.Context, key string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	v := s.next
	s.next++
	return fmt.Sprintf("BO%05d", v), nil
}

type mockNotifier struct {
	posts []string
}

func (n *mockNotifier) Post(ctx context.Context, entity string, recordID int64, body string) error {
	n.posts = append(n.posts, body)
	return nil
}

// ============================================================================
// FIXTURES
// ============================================================================

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestService(repo *mockRepository) (*Service, *mockSequencer, *mockNotifier) {
	seq := &mockSequencer{next: 1}
	notifier := &mockNotifier{}
	svc := NewService(repo, newMockConverter(), seq, notifier, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return testNow }
	return svc, seq, notifier
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func int64Ptr(v int64) *int64 { return &v }

func seedProduct(repo *mockRepository, id int64, name, baseUOM string) {
	repo.baseUOM[id] = baseUOM
	repo.productNames[id] = name
}

// seedOpenOrder stores a confirmed open order with one product line and
// returns the order and line ids.
func seedOpenOrder(repo *mockRepository, productID int64, uom string, qty float64) (int64, int64) {
	orderID := repo.nextOrderID
	repo.nextOrderID++
	repo.orders[orderID] = &BlanketOrder{
		ID:           orderID,
		DocNumber:    fmt.Sprintf("BO%05d", orderID),
		CompanyID:    1,
		CustomerID:   1,
		Currency:     "EUR",
		OrderDate:    testNow.AddDate(0, -1, 0),
		ValidityDate: datePtr(2026, 12, 31),
		Confirmed:    true,
		State:        StateOpen,
	}

	lineID := repo.nextLineID
	repo.nextLineID++
	repo.lines[lineID] = &BlanketOrderLine{
		ID:               lineID,
		OrderID:          orderID,
		Sequence:         10,
		Kind:             LineKindProduct,
		ProductID:        &productID,
		Description:      repo.productNames[productID],
		UOM:              uom,
		OriginalQty:      qty,
		UnitPrice:        10,
		RemainingQty:     qty,
		RemainingBaseQty: qty,
		RemainingPercent: 100,
	}
	return orderID, lineID
}

// ============================================================================
// CREATE / UPDATE
// ============================================================================

func TestCreateBlanketOrderDraft(t *testing.T) {
	repo := newMockRepository()
	svc, seq, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")

	order, err := svc.Create(context.Background(), CreateBlanketOrderRequest{
		CompanyID:    1,
		CustomerID:   1,
		Currency:     "EUR",
		OrderDate:    testNow,
		ValidityDate: datePtr(2026, 12, 31),
		Lines: []LineInput{
			{Kind: LineKindSection, Description: "Hardware"},
			{Kind: LineKindProduct, ProductID: int64Ptr(7), Description: "Widget", UOM: "PCE", OriginalQty: 100, UnitPrice: 10, TaxPercent: 20},
		},
	}, 42)
	require.NoError(t, err)

	assert.Equal(t, StateDraft, order.State)
	assert.Empty(t, order.DocNumber)
	assert.Zero(t, seq.calls, "drafts must not consume a sequence number")
	require.Len(t, order.Lines, 2)
	assert.Equal(t, 10, order.Lines[0].Sequence)
	assert.Equal(t, 20, order.Lines[1].Sequence)
	assert.InDelta(t, 1000.0, order.Subtotal, 1e-9)
	assert.InDelta(t, 200.0, order.TaxAmount, 1e-9)
	assert.InDelta(t, 1200.0, order.TotalAmount, 1e-9)
	assert.InDelta(t, 100.0, order.Lines[1].RemainingQty, 1e-9)
	assert.InDelta(t, 100.0, order.Lines[1].RemainingPercent, 1e-9)
}

func TestCreateRejectsProductLineWithoutProduct(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)

	_, err := svc.Create(context.Background(), CreateBlanketOrderRequest{
		CompanyID:  1,
		CustomerID: 1,
		Currency:   "EUR",
		OrderDate:  testNow,
		Lines:      []LineInput{{Kind: LineKindProduct, Description: "orphan", UOM: "PCE", OriginalQty: 5}},
	}, 1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateRejectsValidityBeforeOrderDate(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")

	_, err := svc.Create(context.Background(), CreateBlanketOrderRequest{
		CompanyID:    1,
		CustomerID:   1,
		Currency:     "EUR",
		OrderDate:    testNow,
		ValidityDate: datePtr(2026, 1, 1),
		Lines:        []LineInput{{Kind: LineKindProduct, ProductID: int64Ptr(7), UOM: "PCE", OriginalQty: 1, UnitPrice: 1}},
	}, 1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateOnlyDraft(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")
	orderID, _ := seedOpenOrder(repo, 7, "PCE", 100)

	notes := "late change"
	_, err := svc.Update(context.Background(), orderID, UpdateBlanketOrderRequest{Notes: &notes})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUpdateClearsValidityDate(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")

	draft, err := svc.Create(context.Background(), CreateBlanketOrderRequest{
		CompanyID:    1,
		CustomerID:   1,
		Currency:     "EUR",
		OrderDate:    testNow,
		ValidityDate: datePtr(2026, 12, 31),
		Lines:        []LineInput{{Kind: LineKindProduct, ProductID: int64Ptr(7), UOM: "PCE", OriginalQty: 10, UnitPrice: 1}},
	}, 1)
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), draft.ID, UpdateBlanketOrderRequest{ClearValidityDate: true})
	require.NoError(t, err)
	assert.Nil(t, updated.ValidityDate, "cleared orders are open-ended")

	_, err = svc.Update(context.Background(), draft.ID, UpdateBlanketOrderRequest{
		ClearValidityDate: true,
		ValidityDate:      datePtr(2027, 1, 1),
	})
	assert.ErrorIs(t, err, ErrValidation)
}

// ============================================================================
// CONFIRM
// ============================================================================

func TestConfirmAssignsNumberOnce(t *testing.T) {
	repo := newMockRepository()
	svc, seq, notifier := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")

	draft, err := svc.Create(context.Background(), CreateBlanketOrderRequest{
		CompanyID:    1,
		CustomerID:   1,
		Currency:     "EUR",
		OrderDate:    testNow,
		ValidityDate: datePtr(2026, 12, 31),
		Lines:        []LineInput{{Kind: LineKindProduct, ProductID: int64Ptr(7), UOM: "PCE", OriginalQty: 100, UnitPrice: 10}},
	}, 1)
	require.NoError(t, err)

	confirmed, err := svc.Confirm(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, confirmed.State)
	assert.Equal(t, "BO00001", confirmed.DocNumber)
	assert.Equal(t, 1, seq.calls)
	require.Len(t, notifier.posts, 1)
	assert.Contains(t, notifier.posts[0], "BO00001")

	// Confirming again is a no-op and must not draw another number.
	again, err := svc.Confirm(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "BO00001", again.DocNumber)
	assert.Equal(t, 1, seq.calls)
}

func TestConfirmSequenceFallback(t *testing.T) {
	repo := newMockRepository()
	svc, seq, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")
	seq.err = fmt.Errorf("%w: sequence not configured", ErrSequenceExhausted)

	draft, err := svc.Create(context.Background(), CreateBlanketOrderRequest{
		CompanyID:  1,
		CustomerID: 1,
		Currency:   "EUR",
		OrderDate:  testNow,
		Lines:      []LineInput{{Kind: LineKindProduct, ProductID: int64Ptr(7), UOM: "PCE", OriginalQty: 10, UnitPrice: 1}},
	}, 1)
	require.NoError(t, err)

	confirmed, err := svc.Confirm(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(confirmed.DocNumber, "BO2026"), "got %q", confirmed.DocNumber)
	assert.Equal(t, StateOpen, confirmed.State)
}

func TestConfirmRejectsPastValidity(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")

	draft, err := svc.Create(context.Background(), CreateBlanketOrderRequest{
		CompanyID:    1,
		CustomerID:   1,
		Currency:     "EUR",
		OrderDate:    testNow.AddDate(-1, 0, 0),
		ValidityDate: datePtr(2026, 3, 10),
		Lines:        []LineInput{{Kind: LineKindProduct, ProductID: int64Ptr(7), UOM: "PCE", OriginalQty: 10, UnitPrice: 1}},
	}, 1)
	require.NoError(t, err)

	// Validity date equal to today is already past.
	_, err = svc.Confirm(context.Background(), draft.ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConfirmRequiresProductLine(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)

	draft, err := svc.Create(context.Background(), CreateBlanketOrderRequest{
		CompanyID:  1,
		CustomerID: 1,
		Currency:   "EUR",
		OrderDate:  testNow,
		Lines:      []LineInput{{Kind: LineKindNote, Description: "terms apply"}},
	}, 1)
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), draft.ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConfirmRejectsZeroPriceLine(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")

	draft, err := svc.Create(context.Background(), CreateBlanketOrderRequest{
		CompanyID:  1,
		CustomerID: 1,
		Currency:   "EUR",
		OrderDate:  testNow,
		Lines:      []LineInput{{Kind: LineKindProduct, ProductID: int64Ptr(7), UOM: "PCE", OriginalQty: 10, UnitPrice: 0}},
	}, 1)
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), draft.ID)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "positive price")
}

// ============================================================================
// CANCEL / RESET / DELETE
// ============================================================================

func TestCancelBlockedByActiveDrawdowns(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")
	orderID, _ := seedOpenOrder(repo, 7, "PCE", 100)
	repo.activeCount[orderID] = 2

	_, err := svc.Cancel(context.Background(), orderID)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "2 active sale order(s)")

	repo.activeCount[orderID] = 0
	cancelled, err := svc.Cancel(context.Background(), orderID)
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled)
	assert.Equal(t, StateExpired, cancelled.State)

	// A second cancel is a no-op.
	again, err := svc.Cancel(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, again.State)
}

func TestResetToDraftClearsFlags(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")
	orderID, _ := seedOpenOrder(repo, 7, "PCE", 100)

	_, err := svc.Cancel(context.Background(), orderID)
	require.NoError(t, err)

	reset, err := svc.ResetToDraft(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, reset.State)
	assert.False(t, reset.Confirmed)
	assert.False(t, reset.Cancelled)
	assert.NotEmpty(t, reset.DocNumber, "assigned number survives a reset")
}

func TestResetToDraftFromOpen(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")
	orderID, _ := seedOpenOrder(repo, 7, "PCE", 100)

	// Open orders without active draw-downs can be pulled back for
	// correction, same as expired ones.
	reset, err := svc.ResetToDraft(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, reset.State)
	assert.False(t, reset.Confirmed)
}

func TestResetToDraftRejectsDone(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")
	orderID, _ := seedOpenOrder(repo, 7, "PCE", 100)
	repo.orders[orderID].State = StateDone

	_, err := svc.ResetToDraft(context.Background(), orderID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDeleteOnlyDraftOrExpired(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")
	orderID, _ := seedOpenOrder(repo, 7, "PCE", 100)

	err := svc.Delete(context.Background(), orderID)
	assert.ErrorIs(t, err, ErrInvalidState)

	repo.orders[orderID].State = StateExpired
	require.NoError(t, svc.Delete(context.Background(), orderID))
	_, err = svc.Get(context.Background(), orderID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// ============================================================================
// EXPIRY SWEEP
// ============================================================================

func TestExpireDueOrders(t *testing.T) {
	repo := newMockRepository()
	svc, _, notifier := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")

	dueID, _ := seedOpenOrder(repo, 7, "PCE", 100)
	repo.orders[dueID].ValidityDate = datePtr(2026, 3, 1)
	aliveID, _ := seedOpenOrder(repo, 7, "PCE", 50)
	repo.orders[aliveID].ValidityDate = datePtr(2026, 6, 30)
	foreverID, _ := seedOpenOrder(repo, 7, "PCE", 25)
	repo.orders[foreverID].ValidityDate = nil

	count, err := svc.ExpireDueOrders(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, StateExpired, repo.orders[dueID].State)
	assert.Equal(t, StateOpen, repo.orders[aliveID].State)
	assert.Equal(t, StateOpen, repo.orders[foreverID].State)
	require.Len(t, notifier.posts, 1)

	// Re-running the sweep finds nothing new.
	count, err = svc.ExpireDueOrders(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, count)
}

// ============================================================================
// RECOMPUTATION
// ============================================================================

func TestRecomputeOrderMarksDone(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")
	orderID, lineID := seedOpenOrder(repo, 7, "PCE", 100)
	repo.drawdowns[lineID] = []DrawdownLine{{ID: 1, OrderID: 90, ProductID: 7, UOM: "PCE", Qty: 100, DeliveredQty: 40, InvoicedQty: 25}}

	require.NoError(t, svc.RecomputeOrder(context.Background(), orderID))

	line := repo.lines[lineID]
	assert.InDelta(t, 100.0, line.OrderedQty, 1e-9)
	assert.InDelta(t, 40.0, line.DeliveredQty, 1e-9)
	assert.InDelta(t, 25.0, line.InvoicedQty, 1e-9)
	assert.InDelta(t, 0.0, line.RemainingQty, 1e-9)
	assert.Equal(t, StateDone, repo.orders[orderID].State)
}

func TestRecomputeOrderPartialConsumption(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	seedProduct(repo, 7, "Widget", "PCE")
	orderID, lineID := seedOpenOrder(repo, 7, "PCE", 100)
	repo.drawdowns[lineID] = []DrawdownLine{{ID: 1, OrderID: 90, ProductID: 7, UOM: "PCE", Qty: 30}}

	require.NoError(t, svc.RecomputeOrder(context.Background(), orderID))

	line := repo.lines[lineID]
	assert.InDelta(t, 70.0, line.RemainingQty, 1e-9)
	assert.InDelta(t, 70.0, line.RemainingPercent, 1e-9)
	assert.Equal(t, StateOpen, repo.orders[orderID].State)
}

func TestRecomputeTxError(t *testing.T) {
	repo := newMockRepository()
	svc, _, _ := newTestService(repo)
	repo.txError = errors.New("connection reset")

	err := svc.RecomputeOrder(context.Background(), 1)
	assert.ErrorContains(t, err, "connection reset")
}
