package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-erp/keystone-erp/internal/sales/customers"
)

// ============================================================================
// MOCKS
// ============================================================================

type mockRepository struct {
	orders   map[int64]*SalesOrder
	lines    map[int64]*SalesOrderLine
	nextID   int64
	txError  error
	statuses []SalesOrderStatus
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		orders: make(map[int64]*SalesOrder),
		lines:  make(map[int64]*SalesOrderLine),
		nextID: 1,
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if m.txError != nil {
		return m.txError
	}
	return fn(ctx, m)
}

func (m *mockRepository) Get(ctx context.Context, id int64) (*SalesOrder, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *o
	out.Lines = nil
	for _, l := range m.lines {
		if l.SalesOrderID == id {
			out.Lines = append(out.Lines, *l)
		}
	}
	return &out, nil
}

func (m *mockRepository) GetByDocNumber(ctx context.Context, docNumber string) (*SalesOrder, error) {
	for _, o := range m.orders {
		if o.DocNumber == docNumber {
			return m.Get(ctx, o.ID)
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepository) List(ctx context.Context, req ListSalesOrdersRequest) ([]SalesOrderWithDetails, int, error) {
	var out []SalesOrderWithDetails
	for _, o := range m.orders {
		if o.CompanyID != req.CompanyID {
			continue
		}
		if req.Status != nil && o.Status != *req.Status {
			continue
		}
		if req.BlanketOrderID != nil && (o.BlanketOrderID == nil || *o.BlanketOrderID != *req.BlanketOrderID) {
			continue
		}
		out = append(out, SalesOrderWithDetails{SalesOrder: *o})
	}
	return out, len(out), nil
}

func (m *mockRepository) Create(ctx context.Context, order SalesOrder) (int64, error) {
	id := m.nextID
	m.nextID++
	order.ID = id
	m.orders[id] = &order
	return id, nil
}

func (m *mockRepository) Update(ctx context.Context, id int64, updates map[string]interface{}) error {
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if v, ok := updates["notes"]; ok {
		n := v.(string)
		o.Notes = &n
	}
	if v, ok := updates["order_date"]; ok {
		o.OrderDate = v.(time.Time)
	}
	return nil
}

func (m *mockRepository) InsertLine(ctx context.Context, line SalesOrderLine) (int64, error) {
	id := m.nextID
	m.nextID++
	line.ID = id
	m.lines[id] = &line
	return id, nil
}

func (m *mockRepository) UpdateStatus(ctx context.Context, id int64, status SalesOrderStatus, userID int64, reason *string) error {
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockRepository) UpdateLineProgress(ctx context.Context, lineID int64, delivered, invoiced *float64) error {
	l, ok := m.lines[lineID]
	if !ok {
		return ErrNotFound
	}
	if delivered != nil {
		l.DeliveredQty = *delivered
	}
	if invoiced != nil {
		l.InvoicedQty = *invoiced
	}
	return nil
}

func (m *mockRepository) DeleteLines(ctx context.Context, orderID int64) error {
	for id, l := range m.lines {
		if l.SalesOrderID == orderID {
			delete(m.lines, id)
		}
	}
	return nil
}

func (m *mockRepository) GenerateNumber(ctx context.Context, companyID int64, date time.Time) (string, error) {
	return fmt.Sprintf("SO-%s-%04d", date.Format("0601"), m.nextID), nil
}

type mockCustomerRepo struct {
	customers map[int64]*customers.Customer
}

func (m *mockCustomerRepo) Get(ctx context.Context, id int64) (*customers.Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, customers.ErrNotFound
	}
	return c, nil
}

func (m *mockCustomerRepo) List(ctx context.Context, companyID int64, search string) ([]customers.Customer, error) {
	return nil, nil
}

func (m *mockCustomerRepo) Create(ctx context.Context, c customers.Customer) (int64, error) {
	return 0, errors.New("not implemented")
}

func (m *mockCustomerRepo) Update(ctx context.Context, id int64, c customers.Customer) error {
	return errors.New("not implemented")
}

type mockBlanketGuard struct {
	confirmErr     error
	confirmCalls   []int64
	recomputeCalls []int64
}

func (g *mockBlanketGuard) CheckDrawdownConfirmable(ctx context.Context, drawdownOrderID int64) error {
	g.confirmCalls = append(g.confirmCalls, drawdownOrderID)
	return g.confirmErr
}

func (g *mockBlanketGuard) RecomputeForDrawdown(ctx context.Context, drawdownOrderID int64) error {
	g.recomputeCalls = append(g.recomputeCalls, drawdownOrderID)
	return nil
}

// ============================================================================
// FIXTURES
// ============================================================================

func newTestService(t *testing.T) (*Service, *mockRepository, *mockBlanketGuard) {
	t.Helper()
	repo := newMockRepository()
	custRepo := &mockCustomerRepo{customers: map[int64]*customers.Customer{
		1: {ID: 1, CompanyID: 1, Code: "ACME", Name: "Acme Ltd", IsActive: true},
	}}
	guard := &mockBlanketGuard{}
	svc := NewService(repo, custRepo, guard, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, repo, guard
}

func seedDrawdownOrder(repo *mockRepository, blanketOrderID, blanketLineID int64) int64 {
	id := repo.nextID
	repo.nextID++
	repo.orders[id] = &SalesOrder{
		ID:             id,
		DocNumber:      fmt.Sprintf("SO-2603-%04d", id),
		CompanyID:      1,
		CustomerID:     1,
		BlanketOrderID: &blanketOrderID,
		OrderDate:      time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Status:         SalesOrderStatusDraft,
		Currency:       "EUR",
	}

	lineID := repo.nextID
	repo.nextID++
	repo.lines[lineID] = &SalesOrderLine{
		ID:            lineID,
		SalesOrderID:  id,
		ProductID:     7,
		Quantity:      30,
		UOM:           "PCE",
		UnitPrice:     10,
		BlanketLineID: &blanketLineID,
	}
	return id
}

// ============================================================================
// TESTS
// ============================================================================

func TestCreateSalesOrder(t *testing.T) {
	svc, _, _ := newTestService(t)

	order, err := svc.Create(context.Background(), CreateSalesOrderRequest{
		CompanyID:  1,
		CustomerID: 1,
		OrderDate:  time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Currency:   "EUR",
		Lines: []CreateSalesOrderLineReq{
			{ProductID: 7, Quantity: 3, UOM: "PCE", UnitPrice: 100, TaxPercent: 20},
		},
	}, 42)
	require.NoError(t, err)

	assert.Equal(t, SalesOrderStatusDraft, order.Status)
	assert.NotEmpty(t, order.DocNumber)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 10, order.Lines[0].LineOrder)
	assert.InDelta(t, 300.0, order.Subtotal, 1e-9)
	assert.InDelta(t, 60.0, order.TaxAmount, 1e-9)
	assert.InDelta(t, 360.0, order.TotalAmount, 1e-9)
}

func TestCreateRejectsUnknownCustomer(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateSalesOrderRequest{
		CompanyID:  1,
		CustomerID: 99,
		OrderDate:  time.Now(),
		Currency:   "EUR",
		Lines:      []CreateSalesOrderLineReq{{ProductID: 7, Quantity: 1, UOM: "PCE", UnitPrice: 1}},
	}, 1)
	assert.ErrorContains(t, err, "verify customer")
}

func TestConfirmChecksBlanketGuard(t *testing.T) {
	svc, repo, guard := newTestService(t)
	orderID := seedDrawdownOrder(repo, 5, 50)

	confirmed, err := svc.Confirm(context.Background(), orderID, 42)
	require.NoError(t, err)
	assert.Equal(t, SalesOrderStatusConfirmed, confirmed.Status)
	assert.Equal(t, []int64{orderID}, guard.confirmCalls)
	assert.Equal(t, []int64{orderID}, guard.recomputeCalls)
}

func TestConfirmBlockedByExhaustedAgreement(t *testing.T) {
	svc, repo, guard := newTestService(t)
	orderID := seedDrawdownOrder(repo, 5, 50)
	guard.confirmErr = errors.New("blanket order BO00005 is done, not open")

	_, err := svc.Confirm(context.Background(), orderID, 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not open")

	order, err := svc.Get(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, SalesOrderStatusDraft, order.Status)
}

func TestConfirmSkipsGuardForStandaloneOrders(t *testing.T) {
	svc, repo, guard := newTestService(t)
	orderID := seedDrawdownOrder(repo, 5, 50)
	repo.orders[orderID].BlanketOrderID = nil

	_, err := svc.Confirm(context.Background(), orderID, 42)
	require.NoError(t, err)
	assert.Empty(t, guard.confirmCalls)
}

func TestConfirmOnlyDraft(t *testing.T) {
	svc, repo, _ := newTestService(t)
	orderID := seedDrawdownOrder(repo, 5, 50)
	repo.orders[orderID].Status = SalesOrderStatusCancelled

	_, err := svc.Confirm(context.Background(), orderID, 42)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCancelRecomputesBlanket(t *testing.T) {
	svc, repo, guard := newTestService(t)
	orderID := seedDrawdownOrder(repo, 5, 50)
	repo.orders[orderID].Status = SalesOrderStatusConfirmed

	cancelled, err := svc.Cancel(context.Background(), orderID, 42, "customer withdrew")
	require.NoError(t, err)
	assert.Equal(t, SalesOrderStatusCancelled, cancelled.Status)
	assert.Equal(t, []int64{orderID}, guard.recomputeCalls)
}

func TestCancelRejectsFinalOrders(t *testing.T) {
	svc, repo, _ := newTestService(t)
	orderID := seedDrawdownOrder(repo, 5, 50)
	repo.orders[orderID].Status = SalesOrderStatusCompleted

	_, err := svc.Cancel(context.Background(), orderID, 42, "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUpdateProgressPropagates(t *testing.T) {
	svc, repo, guard := newTestService(t)
	orderID := seedDrawdownOrder(repo, 5, 50)
	repo.orders[orderID].Status = SalesOrderStatusConfirmed

	var lineID int64
	for id := range repo.lines {
		lineID = id
	}

	delivered := 12.0
	order, err := svc.UpdateProgress(context.Background(), orderID, UpdateProgressRequest{
		Lines: []ProgressLineReq{{LineID: lineID, DeliveredQty: &delivered}},
	})
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	assert.InDelta(t, 12.0, order.Lines[0].DeliveredQty, 1e-9)
	assert.Equal(t, []int64{orderID}, guard.recomputeCalls)
}

func TestUpdateProgressRejectsForeignLine(t *testing.T) {
	svc, repo, _ := newTestService(t)
	orderID := seedDrawdownOrder(repo, 5, 50)
	repo.orders[orderID].Status = SalesOrderStatusConfirmed

	delivered := 1.0
	_, err := svc.UpdateProgress(context.Background(), orderID, UpdateProgressRequest{
		Lines: []ProgressLineReq{{LineID: 9999, DeliveredQty: &delivered}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteRequiresConfirmed(t *testing.T) {
	svc, repo, _ := newTestService(t)
	orderID := seedDrawdownOrder(repo, 5, 50)

	_, err := svc.Complete(context.Background(), orderID, 42)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	repo.orders[orderID].Status = SalesOrderStatusConfirmed
	done, err := svc.Complete(context.Background(), orderID, 42)
	require.NoError(t, err)
	assert.Equal(t, SalesOrderStatusCompleted, done.Status)
}
