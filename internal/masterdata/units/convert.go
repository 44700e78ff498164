package units

import (
	"context"
	"fmt"
)

// ConversionError indicates that two units belong to incompatible
// categories and no quantity conversion between them exists.
type ConversionError struct {
	FromCode     string
	FromCategory string
	ToCode       string
	ToCategory   string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("units: cannot convert %s (%s) to %s (%s): incompatible categories",
		e.FromCode, e.FromCategory, e.ToCode, e.ToCategory)
}

// Convert converts a quantity from one unit of measure to another.
// Both units must belong to the same category; otherwise a
// *ConversionError is returned.
func (s *Service) Convert(ctx context.Context, qty float64, fromCode, toCode string) (float64, error) {
	if fromCode == toCode {
		return qty, nil
	}
	from, err := s.repo.GetByCode(ctx, fromCode)
	if err != nil {
		return 0, fmt.Errorf("units: resolve %q: %w", fromCode, err)
	}
	to, err := s.repo.GetByCode(ctx, toCode)
	if err != nil {
		return 0, fmt.Errorf("units: resolve %q: %w", toCode, err)
	}
	if from.Category != to.Category {
		return 0, &ConversionError{
			FromCode:     from.Code,
			FromCategory: from.Category,
			ToCode:       to.Code,
			ToCategory:   to.Category,
		}
	}
	if to.Factor == 0 {
		return 0, fmt.Errorf("units: unit %q has zero factor", to.Code)
	}
	return qty * from.Factor / to.Factor, nil
}
