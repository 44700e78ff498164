package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-erp/keystone-erp/internal/platform/db"
)

var ErrNotFound = errors.New("record not found")

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*SalesOrder, error)
	GetByDocNumber(ctx context.Context, docNumber string) (*SalesOrder, error)
	List(ctx context.Context, req ListSalesOrdersRequest) ([]SalesOrderWithDetails, int, error)
	Create(ctx context.Context, order SalesOrder) (int64, error)
	Update(ctx context.Context, id int64, updates map[string]interface{}) error
	InsertLine(ctx context.Context, line SalesOrderLine) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status SalesOrderStatus, userID int64, reason *string) error
	UpdateLineProgress(ctx context.Context, lineID int64, delivered, invoiced *float64) error
	DeleteLines(ctx context.Context, orderID int64) error
	GenerateNumber(ctx context.Context, companyID int64, date time.Time) (string, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const orderColumns = `id, doc_number, company_id, customer_id, blanket_order_id, order_date, status,
	currency, subtotal, tax_amount, total_amount, notes, created_by, confirmed_by, confirmed_at,
	cancelled_by, cancelled_at, cancellation_reason, created_at, updated_at`

const lineColumns = `id, sales_order_id, product_id, description, quantity, uom, unit_price,
	tax_percent, tax_amount, line_total, blanket_line_id, date_schedule, delivered_qty, invoiced_qty,
	line_order, created_at, updated_at`

func scanOrder(row pgx.Row) (*SalesOrder, error) {
	var o SalesOrder
	err := row.Scan(
		&o.ID, &o.DocNumber, &o.CompanyID, &o.CustomerID, &o.BlanketOrderID, &o.OrderDate, &o.Status,
		&o.Currency, &o.Subtotal, &o.TaxAmount, &o.TotalAmount, &o.Notes, &o.CreatedBy, &o.ConfirmedBy, &o.ConfirmedAt,
		&o.CancelledBy, &o.CancelledAt, &o.CancellationReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repository) loadLines(ctx context.Context, o *SalesOrder) error {
	rows, err := r.db.Query(ctx,
		`SELECT `+lineColumns+` FROM sales_order_lines WHERE sales_order_id = $1 ORDER BY line_order, id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var l SalesOrderLine
		if err := rows.Scan(
			&l.ID, &l.SalesOrderID, &l.ProductID, &l.Description, &l.Quantity, &l.UOM, &l.UnitPrice,
			&l.TaxPercent, &l.TaxAmount, &l.LineTotal, &l.BlanketLineID, &l.DateSchedule, &l.DeliveredQty, &l.InvoicedQty,
			&l.LineOrder, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return err
		}
		o.Lines = append(o.Lines, l)
	}
	return rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (*SalesOrder, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) GetByDocNumber(ctx context.Context, docNumber string) (*SalesOrder, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE doc_number = $1`, docNumber))
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) List(ctx context.Context, req ListSalesOrdersRequest) ([]SalesOrderWithDetails, int, error) {
	conditions := []string{"so.company_id = $1"}
	args := []interface{}{req.CompanyID}
	argPos := 2

	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("so.customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.BlanketOrderID != nil {
		conditions = append(conditions, fmt.Sprintf("so.blanket_order_id = $%d", argPos))
		args = append(args, *req.BlanketOrderID)
		argPos++
	}
	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("so.status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
	}
	if req.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("so.order_date >= $%d", argPos))
		args = append(args, *req.DateFrom)
		argPos++
	}
	if req.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("so.order_date <= $%d", argPos))
		args = append(args, *req.DateTo)
		argPos++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM sales_orders so %s", whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT so.id, so.doc_number, so.company_id, so.customer_id, so.blanket_order_id, so.order_date, so.status,
		       so.currency, so.subtotal, so.tax_amount, so.total_amount, so.notes, so.created_by,
		       so.confirmed_by, so.confirmed_at, so.cancelled_by, so.cancelled_at, so.cancellation_reason,
		       so.created_at, so.updated_at,
		       c.name AS customer_name
		FROM sales_orders so
		JOIN customers c ON so.customer_id = c.id
		%s
		ORDER BY so.order_date DESC, so.id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)

	args = append(args, req.Limit, req.Offset)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []SalesOrderWithDetails
	for rows.Next() {
		var o SalesOrderWithDetails
		if err := rows.Scan(
			&o.ID, &o.DocNumber, &o.CompanyID, &o.CustomerID, &o.BlanketOrderID, &o.OrderDate, &o.Status,
			&o.Currency, &o.Subtotal, &o.TaxAmount, &o.TotalAmount, &o.Notes, &o.CreatedBy,
			&o.ConfirmedBy, &o.ConfirmedAt, &o.CancelledBy, &o.CancelledAt, &o.CancellationReason,
			&o.CreatedAt, &o.UpdatedAt,
			&o.CustomerName,
		); err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, o SalesOrder) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO sales_orders (doc_number, company_id, customer_id, blanket_order_id, order_date, status,
		   currency, subtotal, tax_amount, total_amount, notes, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		 RETURNING id`,
		o.DocNumber, o.CompanyID, o.CustomerID, o.BlanketOrderID, o.OrderDate, o.Status,
		o.Currency, o.Subtotal, o.TaxAmount, o.TotalAmount, o.Notes, o.CreatedBy,
	).Scan(&id)
	return id, err
}

func (r *repository) Update(ctx context.Context, id int64, updates map[string]interface{}) error {
	query := "UPDATE sales_orders SET updated_at = NOW()"
	var args []interface{}
	argPos := 1

	for _, col := range []string{"order_date", "notes", "subtotal", "tax_amount", "total_amount"} {
		if v, ok := updates[col]; ok {
			query += fmt.Sprintf(", %s = $%d", col, argPos)
			args = append(args, v)
			argPos++
		}
	}

	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	_, err := r.db.Exec(ctx, query, args...)
	return err
}

func (r *repository) InsertLine(ctx context.Context, l SalesOrderLine) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO sales_order_lines (sales_order_id, product_id, description, quantity, uom, unit_price,
		   tax_percent, tax_amount, line_total, blanket_line_id, date_schedule, delivered_qty, invoiced_qty,
		   line_order, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		 RETURNING id`,
		l.SalesOrderID, l.ProductID, l.Description, l.Quantity, l.UOM, l.UnitPrice,
		l.TaxPercent, l.TaxAmount, l.LineTotal, l.BlanketLineID, l.DateSchedule, l.DeliveredQty, l.InvoicedQty,
		l.LineOrder,
	).Scan(&id)
	return id, err
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status SalesOrderStatus, userID int64, reason *string) error {
	switch status {
	case SalesOrderStatusConfirmed:
		_, err := r.db.Exec(ctx,
			`UPDATE sales_orders SET status = $1, confirmed_by = $2, confirmed_at = NOW(), updated_at = NOW() WHERE id = $3`,
			status, userID, id)
		return err
	case SalesOrderStatusCancelled:
		_, err := r.db.Exec(ctx,
			`UPDATE sales_orders SET status = $1, cancelled_by = $2, cancelled_at = NOW(), cancellation_reason = $3, updated_at = NOW() WHERE id = $4`,
			status, userID, reason, id)
		return err
	default:
		_, err := r.db.Exec(ctx,
			`UPDATE sales_orders SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
		return err
	}
}

func (r *repository) UpdateLineProgress(ctx context.Context, lineID int64, delivered, invoiced *float64) error {
	query := "UPDATE sales_order_lines SET updated_at = NOW()"
	var args []interface{}
	argPos := 1

	if delivered != nil {
		query += fmt.Sprintf(", delivered_qty = $%d", argPos)
		args = append(args, *delivered)
		argPos++
	}
	if invoiced != nil {
		query += fmt.Sprintf(", invoiced_qty = $%d", argPos)
		args = append(args, *invoiced)
		argPos++
	}
	if len(args) == 0 {
		return nil
	}

	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, lineID)

	_, err := r.db.Exec(ctx, query, args...)
	return err
}

func (r *repository) DeleteLines(ctx context.Context, orderID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sales_order_lines WHERE sales_order_id = $1`, orderID)
	return err
}

// GenerateNumber produces SO-{YY}{MM}-{SEQ} numbers.
func (r *repository) GenerateNumber(ctx context.Context, companyID int64, date time.Time) (string, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sales_orders WHERE company_id = $1`, companyID).Scan(&count); err != nil {
		return "", err
	}
	return fmt.Sprintf("SO-%s-%04d", date.Format("0601"), count+1), nil
}
