package fiscal

import (
	"context"

	"finsync/internal/shared/errs"
)

// Service exposes read access to mirrored fiscal documents
type Service struct {
	repo Repository
}

// NewService creates a new fiscal document service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// InvoicePage is one page of invoices.
type InvoicePage struct {
	Items []*Invoice `json:"items"`
	Total int        `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
}

// TaxReturnPage is one page of tax returns.
type TaxReturnPage struct {
	Items []*TaxReturn `json:"items"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}

// ListInvoices returns a page of a customer's invoices
func (s *Service) ListInvoices(ctx context.Context, customerID string, filter InvoiceFilter) (*InvoicePage, error) {
	if customerID == "" {
		return nil, errs.New(errs.ErrValidation, "customer ID is required")
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, errs.New(errs.ErrValidation, "date_from must not be after date_to")
	}
	filter.Page = normalizePage(filter.Page)

	items, total, err := s.repo.ListInvoices(ctx, customerID, filter)
	if err != nil {
		return nil, err
	}
	return &InvoicePage{Items: items, Total: total, Page: filter.Page.Page, Limit: filter.Limit}, nil
}

// ListTaxReturns returns a page of a customer's tax returns
func (s *Service) ListTaxReturns(ctx context.Context, customerID string, page Page) (*TaxReturnPage, error) {
	if customerID == "" {
		return nil, errs.New(errs.ErrValidation, "customer ID is required")
	}
	page = normalizePage(page)

	items, total, err := s.repo.ListTaxReturns(ctx, customerID, page)
	if err != nil {
		return nil, err
	}
	return &TaxReturnPage{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

func normalizePage(p Page) Page {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultPageLimit
	case p.Limit > MaxPageLimit:
		p.Limit = MaxPageLimit
	}
	return p
}
