package transaction

import (
	"context"

	"finsync/internal/shared/errs"
)

// Service exposes read access to mirrored transactions
type Service struct {
	repo Repository
}

// NewService creates a new transaction service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns a customer's transactions after normalising the filter.
func (s *Service) List(ctx context.Context, customerID string, filter ListFilter) ([]*Transaction, error) {
	if customerID == "" {
		return nil, errs.New(errs.ErrValidation, "customer ID is required")
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, errs.New(errs.ErrValidation, "date_from must not be after date_to")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultListLimit
	case filter.Limit > MaxListLimit:
		filter.Limit = MaxListLimit
	}
	return s.repo.ListByCustomer(ctx, customerID, filter)
}
