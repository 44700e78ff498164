package units

import (
	"errors"
	"strings"
)

func (s *Service) validate(u Unit) error {
	if strings.TrimSpace(u.Code) == "" {
		return errors.New("unit code is required")
	}
	if strings.TrimSpace(u.Name) == "" {
		return errors.New("unit name is required")
	}
	if strings.TrimSpace(u.Category) == "" {
		return errors.New("unit category is required")
	}
	if u.Factor <= 0 {
		return errors.New("unit factor must be positive")
	}
	return nil
}
