package units

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the unit does not exist.
var ErrNotFound = errors.New("units: not found")

type Repository interface {
	List(ctx context.Context, search string) ([]Unit, error)
	Get(ctx context.Context, id int64) (Unit, error)
	GetByCode(ctx context.Context, code string) (Unit, error)
	Create(ctx context.Context, unit Unit) (Unit, error)
	Update(ctx context.Context, id int64, unit Unit) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context, search string) ([]Unit, error) {
	query := `SELECT id, code, name, category, factor FROM units`
	args := []interface{}{}
	if search != "" {
		query += ` WHERE name ILIKE $1 OR code ILIKE $1`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY category, factor`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.Code, &u.Name, &u.Category, &u.Factor); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, category, factor FROM units WHERE id = $1`, id,
	).Scan(&u.ID, &u.Code, &u.Name, &u.Category, &u.Factor)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, ErrNotFound
	}
	return u, err
}

func (r *repository) GetByCode(ctx context.Context, code string) (Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, category, factor FROM units WHERE code = $1`, code,
	).Scan(&u.ID, &u.Code, &u.Name, &u.Category, &u.Factor)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, ErrNotFound
	}
	return u, err
}

func (r *repository) Create(ctx context.Context, unit Unit) (Unit, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO units (code, name, category, factor, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING id`,
		unit.Code, unit.Name, unit.Category, unit.Factor,
	).Scan(&unit.ID)
	if err != nil {
		return Unit{}, err
	}
	return unit, nil
}

func (r *repository) Update(ctx context.Context, id int64, unit Unit) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE units SET code = $1, name = $2, category = $3, factor = $4, updated_at = NOW() WHERE id = $5`,
		unit.Code, unit.Name, unit.Category, unit.Factor, id,
	)
	return err
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM units WHERE id = $1`, id)
	return err
}
