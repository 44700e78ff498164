package products

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the product does not exist.
var ErrNotFound = errors.New("products: not found")

type Repository interface {
	List(ctx context.Context, search string, activeOnly bool) ([]Product, error)
	Get(ctx context.Context, id int64) (*Product, error)
	Create(ctx context.Context, p Product) (int64, error)
	Update(ctx context.Context, id int64, p Product) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const productColumns = `id, sku, name, uom, sale_price, tax_percent, is_active, created_at, updated_at`

func (r *repository) List(ctx context.Context, search string, activeOnly bool) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	args := []interface{}{}
	if activeOnly {
		query += ` AND is_active`
	}
	if search != "" {
		query += ` AND (name ILIKE $1 OR sku ILIKE $1)`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.UOM, &p.SalePrice, &p.TaxPercent, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.UOM, &p.SalePrice, &p.TaxPercent, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) Create(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (sku, name, uom, sale_price, tax_percent, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING id`,
		p.SKU, p.Name, p.UOM, p.SalePrice, p.TaxPercent, p.IsActive,
	).Scan(&id)
	return id, err
}

func (r *repository) Update(ctx context.Context, id int64, p Product) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE products SET sku = $1, name = $2, uom = $3, sale_price = $4, tax_percent = $5, is_active = $6, updated_at = NOW() WHERE id = $7`,
		p.SKU, p.Name, p.UOM, p.SalePrice, p.TaxPercent, p.IsActive, id,
	)
	return err
}
