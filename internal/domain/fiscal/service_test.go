package fiscal

import (
	"context"
	"errors"
	"testing"
	"time"

	"finsync/internal/shared/errs"
)

// MockRepository implements Repository for testing
type MockRepository struct {
	ListInvoicesFunc   func(ctx context.Context, customerID string, filter InvoiceFilter) ([]*Invoice, int, error)
	ListTaxReturnsFunc func(ctx context.Context, customerID string, page Page) ([]*TaxReturn, int, error)
}

func (m *MockRepository) GetInvoiceByExternalID(ctx context.Context, externalID string) (*Invoice, error) {
	return nil, ErrDocumentNotFound
}
func (m *MockRepository) CreateInvoice(ctx context.Context, params InvoiceParams) (*Invoice, error) {
	return nil, nil
}
func (m *MockRepository) UpdateInvoice(ctx context.Context, id string, params InvoiceParams) (*Invoice, error) {
	return nil, nil
}
func (m *MockRepository) ListInvoices(ctx context.Context, customerID string, filter InvoiceFilter) ([]*Invoice, int, error) {
	if m.ListInvoicesFunc != nil {
		return m.ListInvoicesFunc(ctx, customerID, filter)
	}
	return nil, 0, nil
}
func (m *MockRepository) GetTaxReturnByExternalID(ctx context.Context, externalID string) (*TaxReturn, error) {
	return nil, ErrDocumentNotFound
}
func (m *MockRepository) CreateTaxReturn(ctx context.Context, params TaxReturnParams) (*TaxReturn, error) {
	return nil, nil
}
func (m *MockRepository) UpdateTaxReturn(ctx context.Context, id string, params TaxReturnParams) (*TaxReturn, error) {
	return nil, nil
}
func (m *MockRepository) ListTaxReturns(ctx context.Context, customerID string, page Page) ([]*TaxReturn, int, error) {
	if m.ListTaxReturnsFunc != nil {
		return m.ListTaxReturnsFunc(ctx, customerID, page)
	}
	return nil, 0, nil
}

func TestService_ListInvoices(t *testing.T) {
	var got InvoiceFilter
	svc := NewService(&MockRepository{
		ListInvoicesFunc: func(ctx context.Context, customerID string, filter InvoiceFilter) ([]*Invoice, int, error) {
			got = filter
			return []*Invoice{{ID: "i1"}}, 41, nil
		},
	})

	page, err := svc.ListInvoices(context.Background(), "C1", InvoiceFilter{Page: Page{Page: 0, Limit: 500}})
	if err != nil {
		t.Fatalf("ListInvoices() error = %v", err)
	}
	if got.Page.Page != 1 || got.Limit != MaxPageLimit {
		t.Errorf("normalized page = %+v", got.Page)
	}
	if page.Total != 41 || len(page.Items) != 1 || page.Page != 1 {
		t.Errorf("page = %+v", page)
	}
	if got.Offset() != 0 {
		t.Errorf("Offset() = %d, want 0", got.Offset())
	}
}

func TestService_ListInvoices_InvertedRange(t *testing.T) {
	svc := NewService(&MockRepository{})
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, -1, 0)

	_, err := svc.ListInvoices(context.Background(), "C1", InvoiceFilter{From: &from, To: &to})
	if !errors.Is(err, errs.ErrValidation) {
		t.Errorf("error = %v, want validation failure", err)
	}
}

func TestService_ListTaxReturns(t *testing.T) {
	var got Page
	svc := NewService(&MockRepository{
		ListTaxReturnsFunc: func(ctx context.Context, customerID string, page Page) ([]*TaxReturn, int, error) {
			got = page
			return nil, 0, nil
		},
	})

	if _, err := svc.ListTaxReturns(context.Background(), "C1", Page{Page: 3}); err != nil {
		t.Fatalf("ListTaxReturns() error = %v", err)
	}
	if got.Page != 3 || got.Limit != DefaultPageLimit {
		t.Errorf("page = %+v", got)
	}
	if got.Offset() != 2*DefaultPageLimit {
		t.Errorf("Offset() = %d, want %d", got.Offset(), 2*DefaultPageLimit)
	}

	if _, err := svc.ListTaxReturns(context.Background(), "", Page{}); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("missing customer error = %v", err)
	}
}
