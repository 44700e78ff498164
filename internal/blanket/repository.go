package blanket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-erp/keystone-erp/internal/platform/db"
)

// ListBlanketOrdersRequest filters the order list.
type ListBlanketOrdersRequest struct {
	CompanyID  int64  `json:"company_id" validate:"required,gt=0"`
	CustomerID *int64 `json:"customer_id,omitempty"`
	State      *State `json:"state,omitempty"`
	Limit      int    `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int    `json:"offset" validate:"gte=0"`
}

// Reader provides the read operations shared by the pool-backed
// repository and its transactional wrapper, so recomputation always
// reads the same snapshot it writes into.
type Reader interface {
	Get(ctx context.Context, id int64) (*BlanketOrder, error)
	GetLine(ctx context.Context, id int64) (*BlanketOrderLine, error)
	DrawdownLines(ctx context.Context, blanketLineID int64) ([]DrawdownLine, error)
	ActiveDrawdownCount(ctx context.Context, orderID int64) (int, error)
	BlanketLineIDsForDrawdown(ctx context.Context, drawdownOrderID int64) ([]int64, error)
	ProductBaseUOM(ctx context.Context, productID int64) (string, error)
	ProductName(ctx context.Context, productID int64) (string, error)
}

// Repository provides PostgreSQL backed persistence for blanket orders
// and the draw-down documents created against them.
type Repository interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, req ListBlanketOrdersRequest) ([]BlanketOrderWithDetails, int, error)
	ListDue(ctx context.Context, asOf time.Time) ([]int64, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Reader
	Create(ctx context.Context, order BlanketOrder) (int64, error)
	InsertLine(ctx context.Context, line BlanketOrderLine) (int64, error)
	DeleteLines(ctx context.Context, orderID int64) error
	UpdateDraft(ctx context.Context, id int64, updates map[string]interface{}) error
	DeleteOrder(ctx context.Context, id int64) error

	SetConfirmed(ctx context.Context, id int64, docNumber string) error
	SetCancelled(ctx context.Context, id int64) error
	ClearFlags(ctx context.Context, id int64) error
	SetState(ctx context.Context, id int64, state State) error
	UpdateOrderTotals(ctx context.Context, id int64, subtotal, tax, total float64) error
	UpdateLineQuantities(ctx context.Context, lineID int64, q LineQuantities) error

	InsertDrawdownOrder(ctx context.Context, o DrawdownOrder) (int64, error)
	InsertDrawdownLine(ctx context.Context, l DrawdownOrderLine) (int64, error)
	GenerateDrawdownNumber(ctx context.Context, companyID int64, date time.Time) (string, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// WithTx wraps the callback in a repeatable-read transaction so the
// aggregation reads a consistent snapshot of draw-down lines.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const orderColumns = `id, doc_number, company_id, customer_id, currency, pricelist_id, payment_term_id,
	order_date, validity_date, confirmed, cancelled, state, subtotal, tax_amount, total_amount,
	notes, created_by, created_at, updated_at`

const lineColumns = `id, order_id, sequence, kind, product_id, description, uom, original_qty,
	unit_price, tax_percent, date_schedule, ordered_qty, delivered_qty, invoiced_qty,
	remaining_qty, remaining_base_qty, remaining_percent, subtotal, tax_amount, total_amount,
	created_at, updated_at`

func scanOrder(row pgx.Row) (*BlanketOrder, error) {
	var o BlanketOrder
	err := row.Scan(
		&o.ID, &o.DocNumber, &o.CompanyID, &o.CustomerID, &o.Currency, &o.PricelistID, &o.PaymentTermID,
		&o.OrderDate, &o.ValidityDate, &o.Confirmed, &o.Cancelled, &o.State, &o.Subtotal, &o.TaxAmount, &o.TotalAmount,
		&o.Notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanLines(rows pgx.Rows) ([]BlanketOrderLine, error) {
	defer rows.Close()
	var lines []BlanketOrderLine
	for rows.Next() {
		var l BlanketOrderLine
		if err := rows.Scan(
			&l.ID, &l.OrderID, &l.Sequence, &l.Kind, &l.ProductID, &l.Description, &l.UOM, &l.OriginalQty,
			&l.UnitPrice, &l.TaxPercent, &l.DateSchedule, &l.OrderedQty, &l.DeliveredQty, &l.InvoicedQty,
			&l.RemainingQty, &l.RemainingBaseQty, &l.RemainingPercent, &l.Subtotal, &l.TaxAmount, &l.TotalAmount,
			&l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// reads holds the queries shared between pool and tx execution.
type reads struct {
	q interface {
		Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	}
}

func (r reads) Get(ctx context.Context, id int64) (*BlanketOrder, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM blanket_orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	rows, err := r.q.Query(ctx, `SELECT `+lineColumns+` FROM blanket_order_lines WHERE order_id = $1 ORDER BY sequence, id`, id)
	if err != nil {
		return nil, err
	}
	o.Lines, err = scanLines(rows)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r reads) GetLine(ctx context.Context, id int64) (*BlanketOrderLine, error) {
	rows, err := r.q.Query(ctx, `SELECT `+lineColumns+` FROM blanket_order_lines WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	lines, err := scanLines(rows)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrNotFound
	}
	return &lines[0], nil
}

// DrawdownLines returns the non-cancelled sales order lines drawing
// down the given blanket line.
func (r reads) DrawdownLines(ctx context.Context, blanketLineID int64) ([]DrawdownLine, error) {
	rows, err := r.q.Query(ctx,
		`SELECT sol.id, sol.sales_order_id, sol.product_id, sol.uom, sol.quantity, sol.delivered_qty, sol.invoiced_qty
		 FROM sales_order_lines sol
		 JOIN sales_orders so ON so.id = sol.sales_order_id
		 WHERE sol.blanket_line_id = $1 AND so.status <> 'CANCELLED'`, blanketLineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DrawdownLine
	for rows.Next() {
		var dl DrawdownLine
		if err := rows.Scan(&dl.ID, &dl.OrderID, &dl.ProductID, &dl.UOM, &dl.Qty, &dl.DeliveredQty, &dl.InvoicedQty); err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// ActiveDrawdownCount counts the non-cancelled sales orders still
// referencing the blanket order.
func (r reads) ActiveDrawdownCount(ctx context.Context, orderID int64) (int, error) {
	var count int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(DISTINCT so.id)
		 FROM sales_orders so
		 JOIN sales_order_lines sol ON sol.sales_order_id = so.id
		 JOIN blanket_order_lines bol ON bol.id = sol.blanket_line_id
		 WHERE bol.order_id = $1 AND so.status <> 'CANCELLED'`, orderID,
	).Scan(&count)
	return count, err
}

func (r reads) BlanketLineIDsForDrawdown(ctx context.Context, drawdownOrderID int64) ([]int64, error) {
	rows, err := r.q.Query(ctx,
		`SELECT DISTINCT blanket_line_id FROM sales_order_lines
		 WHERE sales_order_id = $1 AND blanket_line_id IS NOT NULL`, drawdownOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r reads) ProductBaseUOM(ctx context.Context, productID int64) (string, error) {
	var uom string
	err := r.q.QueryRow(ctx, `SELECT uom FROM products WHERE id = $1`, productID).Scan(&uom)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return uom, err
}

func (r reads) ProductName(ctx context.Context, productID int64) (string, error) {
	var name string
	err := r.q.QueryRow(ctx, `SELECT name FROM products WHERE id = $1`, productID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return name, err
}

func (r *repository) Get(ctx context.Context, id int64) (*BlanketOrder, error) {
	return reads{q: r.pool}.Get(ctx, id)
}

func (r *repository) GetLine(ctx context.Context, id int64) (*BlanketOrderLine, error) {
	return reads{q: r.pool}.GetLine(ctx, id)
}

func (r *repository) DrawdownLines(ctx context.Context, blanketLineID int64) ([]DrawdownLine, error) {
	return reads{q: r.pool}.DrawdownLines(ctx, blanketLineID)
}

func (r *repository) ActiveDrawdownCount(ctx context.Context, orderID int64) (int, error) {
	return reads{q: r.pool}.ActiveDrawdownCount(ctx, orderID)
}

func (r *repository) BlanketLineIDsForDrawdown(ctx context.Context, drawdownOrderID int64) ([]int64, error) {
	return reads{q: r.pool}.BlanketLineIDsForDrawdown(ctx, drawdownOrderID)
}

func (r *repository) ProductBaseUOM(ctx context.Context, productID int64) (string, error) {
	return reads{q: r.pool}.ProductBaseUOM(ctx, productID)
}

func (r *repository) ProductName(ctx context.Context, productID int64) (string, error) {
	return reads{q: r.pool}.ProductName(ctx, productID)
}

func (r *repository) List(ctx context.Context, req ListBlanketOrdersRequest) ([]BlanketOrderWithDetails, int, error) {
	conditions := []string{"bo.company_id = $1"}
	args := []interface{}{req.CompanyID}
	argPos := 2

	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("bo.customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.State != nil {
		conditions = append(conditions, fmt.Sprintf("bo.state = $%d", argPos))
		args = append(args, *req.State)
		argPos++
	}

	whereClause := "WHERE " + conditions[0]
	for i := 1; i < len(conditions); i++ {
		whereClause += " AND " + conditions[i]
	}

	var total int
	if err := r.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM blanket_orders bo %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT bo.id, bo.doc_number, bo.company_id, bo.customer_id, bo.currency, bo.pricelist_id, bo.payment_term_id,
		       bo.order_date, bo.validity_date, bo.confirmed, bo.cancelled, bo.state, bo.subtotal, bo.tax_amount, bo.total_amount,
		       bo.notes, bo.created_by, bo.created_at, bo.updated_at,
		       c.name AS customer_name,
		       (SELECT COUNT(DISTINCT so.id)
		        FROM sales_orders so
		        JOIN sales_order_lines sol ON sol.sales_order_id = so.id
		        JOIN blanket_order_lines bol ON bol.id = sol.blanket_line_id
		        WHERE bol.order_id = bo.id AND so.status <> 'CANCELLED') AS drawdown_count
		FROM blanket_orders bo
		JOIN customers c ON bo.customer_id = c.id
		%s
		ORDER BY bo.order_date DESC, bo.id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)

	args = append(args, req.Limit, req.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []BlanketOrderWithDetails
	for rows.Next() {
		var o BlanketOrderWithDetails
		if err := rows.Scan(
			&o.ID, &o.DocNumber, &o.CompanyID, &o.CustomerID, &o.Currency, &o.PricelistID, &o.PaymentTermID,
			&o.OrderDate, &o.ValidityDate, &o.Confirmed, &o.Cancelled, &o.State, &o.Subtotal, &o.TaxAmount, &o.TotalAmount,
			&o.Notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
			&o.CustomerName, &o.DrawdownCount,
		); err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

// ListDue returns the ids of open orders whose validity date has
// passed as of the given date.
func (r *repository) ListDue(ctx context.Context, asOf time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM blanket_orders
		 WHERE state = $1 AND validity_date IS NOT NULL AND validity_date <= $2
		 ORDER BY id`, StateOpen, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) Get(ctx context.Context, id int64) (*BlanketOrder, error) {
	return reads{q: t.tx}.Get(ctx, id)
}

func (t *txRepo) GetLine(ctx context.Context, id int64) (*BlanketOrderLine, error) {
	return reads{q: t.tx}.GetLine(ctx, id)
}

func (t *txRepo) DrawdownLines(ctx context.Context, blanketLineID int64) ([]DrawdownLine, error) {
	return reads{q: t.tx}.DrawdownLines(ctx, blanketLineID)
}

func (t *txRepo) ActiveDrawdownCount(ctx context.Context, orderID int64) (int, error) {
	return reads{q: t.tx}.ActiveDrawdownCount(ctx, orderID)
}

func (t *txRepo) BlanketLineIDsForDrawdown(ctx context.Context, drawdownOrderID int64) ([]int64, error) {
	return reads{q: t.tx}.BlanketLineIDsForDrawdown(ctx, drawdownOrderID)
}

func (t *txRepo) ProductBaseUOM(ctx context.Context, productID int64) (string, error) {
	return reads{q: t.tx}.ProductBaseUOM(ctx, productID)
}

func (t *txRepo) ProductName(ctx context.Context, productID int64) (string, error) {
	return reads{q: t.tx}.ProductName(ctx, productID)
}

func (t *txRepo) Create(ctx context.Context, o BlanketOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO blanket_orders (doc_number, company_id, customer_id, currency, pricelist_id, payment_term_id,
		   order_date, validity_date, confirmed, cancelled, state, subtotal, tax_amount, total_amount, notes, created_by,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
		 RETURNING id`,
		o.DocNumber, o.CompanyID, o.CustomerID, o.Currency, o.PricelistID, o.PaymentTermID,
		o.OrderDate, o.ValidityDate, o.Confirmed, o.Cancelled, o.State, o.Subtotal, o.TaxAmount, o.TotalAmount,
		o.Notes, o.CreatedBy,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertLine(ctx context.Context, l BlanketOrderLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO blanket_order_lines (order_id, sequence, kind, product_id, description, uom, original_qty,
		   unit_price, tax_percent, date_schedule, ordered_qty, delivered_qty, invoiced_qty,
		   remaining_qty, remaining_base_qty, remaining_percent, subtotal, tax_amount, total_amount,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW(), NOW())
		 RETURNING id`,
		l.OrderID, l.Sequence, l.Kind, l.ProductID, l.Description, l.UOM, l.OriginalQty,
		l.UnitPrice, l.TaxPercent, l.DateSchedule, l.OrderedQty, l.DeliveredQty, l.InvoicedQty,
		l.RemainingQty, l.RemainingBaseQty, l.RemainingPercent, l.Subtotal, l.TaxAmount, l.TotalAmount,
	).Scan(&id)
	return id, err
}

func (t *txRepo) DeleteLines(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM blanket_order_lines WHERE order_id = $1`, orderID)
	return err
}

func (t *txRepo) UpdateDraft(ctx context.Context, id int64, updates map[string]interface{}) error {
	query := "UPDATE blanket_orders SET updated_at = NOW()"
	var args []interface{}
	argPos := 1

	for _, col := range []string{"customer_id", "currency", "order_date", "validity_date", "notes", "subtotal", "tax_amount", "total_amount"} {
		if v, ok := updates[col]; ok {
			query += fmt.Sprintf(", %s = $%d", col, argPos)
			args = append(args, v)
			argPos++
		}
	}

	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	_, err := t.tx.Exec(ctx, query, args...)
	return err
}

func (t *txRepo) DeleteOrder(ctx context.Context, id int64) error {
	// Lines cascade via the order_id foreign key.
	_, err := t.tx.Exec(ctx, `DELETE FROM blanket_orders WHERE id = $1`, id)
	return err
}

func (t *txRepo) SetConfirmed(ctx context.Context, id int64, docNumber string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE blanket_orders SET confirmed = TRUE, doc_number = $1, updated_at = NOW() WHERE id = $2`,
		docNumber, id)
	return err
}

func (t *txRepo) SetCancelled(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE blanket_orders SET cancelled = TRUE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (t *txRepo) ClearFlags(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE blanket_orders SET confirmed = FALSE, cancelled = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (t *txRepo) SetState(ctx context.Context, id int64, state State) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE blanket_orders SET state = $1, updated_at = NOW() WHERE id = $2`, state, id)
	return err
}

func (t *txRepo) UpdateOrderTotals(ctx context.Context, id int64, subtotal, tax, total float64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE blanket_orders SET subtotal = $1, tax_amount = $2, total_amount = $3, updated_at = NOW() WHERE id = $4`,
		subtotal, tax, total, id)
	return err
}

func (t *txRepo) UpdateLineQuantities(ctx context.Context, lineID int64, q LineQuantities) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE blanket_order_lines
		 SET ordered_qty = $1, delivered_qty = $2, invoiced_qty = $3,
		     remaining_qty = $4, remaining_base_qty = $5, remaining_percent = $6, updated_at = NOW()
		 WHERE id = $7`,
		q.Ordered, q.Delivered, q.Invoiced, q.Remaining, q.RemainingBase, q.RemainingPercent, lineID)
	return err
}

func (t *txRepo) InsertDrawdownOrder(ctx context.Context, o DrawdownOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO sales_orders (doc_number, company_id, customer_id, blanket_order_id, order_date, status, currency,
		   subtotal, tax_amount, total_amount, notes, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'DRAFT', $6, $7, $8, $9, $10, $11, NOW(), NOW())
		 RETURNING id`,
		o.DocNumber, o.CompanyID, o.CustomerID, o.BlanketOrderID, o.OrderDate, o.Currency,
		o.Subtotal, o.TaxAmount, o.TotalAmount, o.Notes, o.CreatedBy,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertDrawdownLine(ctx context.Context, l DrawdownOrderLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO sales_order_lines (sales_order_id, product_id, description, quantity, uom, unit_price, tax_percent,
		   tax_amount, line_total, blanket_line_id, date_schedule, line_order, delivered_qty, invoiced_qty, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, 0, NOW(), NOW())
		 RETURNING id`,
		l.OrderID, l.ProductID, l.Description, l.Qty, l.UOM, l.UnitPrice, l.TaxPercent,
		l.TaxAmount, l.LineTotal, l.BlanketLineID, l.DateSchedule, l.Sequence,
	).Scan(&id)
	return id, err
}

// GenerateDrawdownNumber produces SO-{YY}{MM}-{SEQ} numbers for
// allocation-created orders.
func (t *txRepo) GenerateDrawdownNumber(ctx context.Context, companyID int64, date time.Time) (string, error) {
	var count int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM sales_orders WHERE company_id = $1`, companyID).Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SO-%s-%04d", date.Format("0601"), count+1), nil
}
