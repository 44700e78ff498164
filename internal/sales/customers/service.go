package customers

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

func (s *Service) Get(ctx context.Context, id int64) (*Customer, error) {
	if id <= 0 {
		return nil, errors.New("invalid customer ID")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, companyID int64, search string) ([]Customer, error) {
	return s.repo.List(ctx, companyID, search)
}

func (s *Service) Create(ctx context.Context, c Customer) (int64, error) {
	if strings.TrimSpace(c.Name) == "" {
		return 0, errors.New("customer name is required")
	}
	if c.CompanyID <= 0 {
		return 0, errors.New("company is required")
	}
	return s.repo.Create(ctx, c)
}

func (s *Service) Update(ctx context.Context, id int64, c Customer) error {
	if id <= 0 {
		return errors.New("invalid customer ID")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("customer name is required")
	}
	return s.repo.Update(ctx, id, c)
}
