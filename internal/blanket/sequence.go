package blanket

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceKeyBlanketOrder is the sequence used for blanket order
// reference numbers.
const SequenceKeyBlanketOrder = "sale.blanket.order"

// ErrSequenceExhausted indicates the sequence is missing, misconfigured
// or has reached its configured maximum. Callers recover by
// synthesizing a local reference instead of failing the confirmation.
var ErrSequenceExhausted = errors.New("blanket: sequence exhausted")

// Sequencer produces unique document reference numbers. Next must not
// return the same value twice for one key under concurrent calls.
type Sequencer interface {
	Next(ctx context.Context, key string) (string, error)
}

// PGSequencer hands out numbers from the doc_sequences table, relying
// on row-level locking for uniqueness under concurrent confirmations.
type PGSequencer struct {
	pool *pgxpool.Pool
}

func NewPGSequencer(pool *pgxpool.Pool) *PGSequencer {
	return &PGSequencer{pool: pool}
}

func (s *PGSequencer) Next(ctx context.Context, key string) (string, error) {
	var prefix string
	var value int64
	var maxValue *int64
	err := s.pool.QueryRow(ctx,
		`UPDATE doc_sequences SET next_value = next_value + 1, updated_at = NOW()
		 WHERE key = $1
		 RETURNING prefix, next_value - 1, max_value`, key,
	).Scan(&prefix, &value, &maxValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: sequence %q not configured", ErrSequenceExhausted, key)
	}
	if err != nil {
		return "", fmt.Errorf("blanket: next sequence value: %w", err)
	}
	if maxValue != nil && value > *maxValue {
		return "", fmt.Errorf("%w: sequence %q reached %d", ErrSequenceExhausted, key, *maxValue)
	}
	return fmt.Sprintf("%s%05d", prefix, value), nil
}
