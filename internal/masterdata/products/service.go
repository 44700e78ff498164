package products

import (
	"context"
	"errors"
	"strings"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, search string, activeOnly bool) ([]Product, error) {
	return s.repo.List(ctx, search, activeOnly)
}

func (s *Service) Get(ctx context.Context, id int64) (*Product, error) {
	if id <= 0 {
		return nil, errors.New("invalid product ID")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, p Product) (int64, error) {
	if err := s.validate(p); err != nil {
		return 0, err
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Update(ctx context.Context, id int64, p Product) error {
	if id <= 0 {
		return errors.New("invalid product ID")
	}
	if err := s.validate(p); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, p)
}

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.SKU) == "" {
		return errors.New("product SKU is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("product name is required")
	}
	if strings.TrimSpace(p.UOM) == "" {
		return errors.New("product unit of measure is required")
	}
	if p.SalePrice < 0 {
		return errors.New("sale price cannot be negative")
	}
	return nil
}
