package blanket

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the blanket order or line does not exist.
	ErrNotFound = errors.New("blanket: not found")
	// ErrValidation marks user-correctable validation failures; the
	// wrapped message is surfaced verbatim.
	ErrValidation = errors.New("blanket: validation failed")
	// ErrInvalidState indicates a lifecycle action was attempted from a
	// state that does not permit it.
	ErrInvalidState = errors.New("blanket: invalid state transition")
)

// QuantityError rejects an allocation that exceeds a line's remaining
// quantity. It names the product and both numeric values so the user
// can correct the request without inspecting logs.
type QuantityError struct {
	Product   string
	Requested float64
	Available float64
}

func (e *QuantityError) Error() string {
	if floatIsZero(e.Available) {
		return fmt.Sprintf("no remaining quantity available for product %s", e.Product)
	}
	return fmt.Sprintf("quantity to order (%.3f) cannot exceed remaining quantity (%.3f) for product %s",
		e.Requested, e.Available, e.Product)
}

// Is folds QuantityError into the validation taxonomy.
func (e *QuantityError) Is(target error) bool {
	return target == ErrValidation
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
