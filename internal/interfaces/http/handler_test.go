package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsync/internal/domain/account"
	"finsync/internal/domain/fiscal"
	"finsync/internal/domain/link"
	"finsync/internal/domain/openfinance"
	"finsync/internal/domain/transaction"
	"finsync/internal/shared/errs"
	"finsync/internal/shared/middleware"
)

// MockFinancial implements every service interface the handlers depend on
type MockFinancial struct {
	ActivateLinkFunc      func(ctx context.Context, customerID, linkID string) (*link.Result, error)
	DeactivateLinkFunc    func(ctx context.Context, customerID string) error
	GetLinkStatusFunc     func(ctx context.Context, customerID string) (*link.LinkStatus, error)
	TriggerSyncFunc       func(ctx context.Context, customerID string) (*openfinance.SyncOutcome, error)
	TriggerFiscalSyncFunc func(ctx context.Context, customerID string) (*openfinance.SyncOutcome, error)
	GetSyncStatusFunc     func(ctx context.Context, customerID string) (*openfinance.SyncStatus, error)
	GetAccountsFunc       func(ctx context.Context, customerID string) ([]*account.Account, error)
	GetBalancesFunc       func(ctx context.Context, customerID string) ([]account.Balance, error)
	GetTransactionsFunc   func(ctx context.Context, customerID string, filter transaction.ListFilter) ([]*transaction.Transaction, error)
	GetInvoicesFunc       func(ctx context.Context, customerID string, filter fiscal.InvoiceFilter) (*fiscal.InvoicePage, error)
	GetTaxReturnsFunc     func(ctx context.Context, customerID string, page fiscal.Page) (*fiscal.TaxReturnPage, error)
}

func (m *MockFinancial) ActivateLink(ctx context.Context, customerID, linkID string) (*link.Result, error) {
	return m.ActivateLinkFunc(ctx, customerID, linkID)
}

func (m *MockFinancial) DeactivateLink(ctx context.Context, customerID string) error {
	return m.DeactivateLinkFunc(ctx, customerID)
}

func (m *MockFinancial) GetLinkStatus(ctx context.Context, customerID string) (*link.LinkStatus, error) {
	return m.GetLinkStatusFunc(ctx, customerID)
}

func (m *MockFinancial) TriggerSync(ctx context.Context, customerID string) (*openfinance.SyncOutcome, error) {
	return m.TriggerSyncFunc(ctx, customerID)
}

func (m *MockFinancial) TriggerFiscalSync(ctx context.Context, customerID string) (*openfinance.SyncOutcome, error) {
	return m.TriggerFiscalSyncFunc(ctx, customerID)
}

func (m *MockFinancial) GetSyncStatus(ctx context.Context, customerID string) (*openfinance.SyncStatus, error) {
	return m.GetSyncStatusFunc(ctx, customerID)
}

func (m *MockFinancial) GetAccounts(ctx context.Context, customerID string) ([]*account.Account, error) {
	return m.GetAccountsFunc(ctx, customerID)
}

func (m *MockFinancial) GetBalances(ctx context.Context, customerID string) ([]account.Balance, error) {
	return m.GetBalancesFunc(ctx, customerID)
}

func (m *MockFinancial) GetTransactions(ctx context.Context, customerID string, filter transaction.ListFilter) ([]*transaction.Transaction, error) {
	return m.GetTransactionsFunc(ctx, customerID, filter)
}

func (m *MockFinancial) GetInvoices(ctx context.Context, customerID string, filter fiscal.InvoiceFilter) (*fiscal.InvoicePage, error) {
	return m.GetInvoicesFunc(ctx, customerID, filter)
}

func (m *MockFinancial) GetTaxReturns(ctx context.Context, customerID string, page fiscal.Page) (*fiscal.TaxReturnPage, error) {
	return m.GetTaxReturnsFunc(ctx, customerID, page)
}

// serve runs h behind the customer middleware, the way the router mounts it.
func serve(h http.HandlerFunc, method, target, customerID, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if customerID != "" {
		req.Header.Set(middleware.CustomerIDHeader, customerID)
	}
	rr := httptest.NewRecorder()
	middleware.Customer(h).ServeHTTP(rr, req)
	return rr
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{link.ErrNoActiveLink, http.StatusNotFound},
		{link.ErrAlreadyLinked, http.StatusConflict},
		{link.ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("resolve: %w", errs.ErrUpstreamUnavailable), http.StatusBadGateway},
		{errs.New(errs.ErrQueueUnavailable, "queue closed"), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestLinkHandler_Activate(t *testing.T) {
	var gotCustomer, gotLink string
	svc := &MockFinancial{
		ActivateLinkFunc: func(ctx context.Context, customerID, linkID string) (*link.Result, error) {
			gotCustomer, gotLink = customerID, linkID
			return &link.Result{
				Link: &link.Link{CustomerID: customerID, LinkID: linkID, Status: link.StatusActive},
				Path: openfinance.PathTransactional,
			}, nil
		},
	}
	h := NewLinkHandler(svc)

	rr := serve(h.HandleActivate, http.MethodPost, "/api/link/activate", "C1", `{"linkId":"L1"}`)

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "C1", gotCustomer)
	assert.Equal(t, "L1", gotLink)

	var body struct {
		Link link.Link            `json:"link"`
		Path openfinance.SyncPath `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, link.StatusActive, body.Link.Status)
	assert.Equal(t, openfinance.PathTransactional, body.Path)
}

func TestLinkHandler_ActivateErrors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		customer   string
		body       string
		serviceErr error
		wantStatus int
	}{
		{name: "wrong method", method: http.MethodGet, customer: "C1", wantStatus: http.StatusMethodNotAllowed},
		{name: "no customer", method: http.MethodPost, body: `{"linkId":"L1"}`, wantStatus: http.StatusUnauthorized},
		{name: "bad body", method: http.MethodPost, customer: "C1", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "missing link id", method: http.MethodPost, customer: "C1", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "already linked", method: http.MethodPost, customer: "C1", body: `{"linkId":"L1"}`, serviceErr: link.ErrAlreadyLinked, wantStatus: http.StatusConflict},
		{name: "link in use", method: http.MethodPost, customer: "C1", body: `{"linkId":"L1"}`, serviceErr: link.ErrLinkInUse, wantStatus: http.StatusConflict},
		{name: "provider down", method: http.MethodPost, customer: "C1", body: `{"linkId":"L1"}`, serviceErr: fmt.Errorf("resolve: %w", errs.ErrUpstreamUnavailable), wantStatus: http.StatusBadGateway},
		{name: "link not found", method: http.MethodPost, customer: "C1", body: `{"linkId":"L1"}`, serviceErr: link.ErrLinkNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockFinancial{
				ActivateLinkFunc: func(ctx context.Context, customerID, linkID string) (*link.Result, error) {
					if tt.serviceErr == nil {
						t.Fatal("service should not be called")
					}
					return nil, tt.serviceErr
				},
			}

			rr := serve(NewLinkHandler(svc).HandleActivate, tt.method, "/api/link/activate", tt.customer, tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestLinkHandler_Deactivate(t *testing.T) {
	svc := &MockFinancial{
		DeactivateLinkFunc: func(ctx context.Context, customerID string) error {
			if customerID == "C2" {
				return link.ErrNoActiveLink
			}
			return nil
		},
	}
	h := NewLinkHandler(svc)

	assert.Equal(t, http.StatusNoContent, serve(h.HandleDeactivate, http.MethodDelete, "/api/link", "C1", "").Code)
	assert.Equal(t, http.StatusNoContent, serve(h.HandleDeactivate, http.MethodPost, "/api/link/deactivate", "C1", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h.HandleDeactivate, http.MethodPost, "/api/link/deactivate", "C2", "").Code)
}

func TestLinkHandler_Status(t *testing.T) {
	linkedAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := &MockFinancial{
		GetLinkStatusFunc: func(ctx context.Context, customerID string) (*link.LinkStatus, error) {
			return &link.LinkStatus{CustomerID: customerID, IsLinked: true, Status: link.StatusActive, LinkID: "L1", LinkedAt: &linkedAt}, nil
		},
	}

	rr := serve(NewLinkHandler(svc).HandleStatus, http.MethodGet, "/api/link/status", "C1", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var status link.LinkStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.True(t, status.IsLinked)
	assert.Equal(t, "L1", status.LinkID)
}

func TestSyncHandler_Trigger(t *testing.T) {
	svc := &MockFinancial{
		TriggerSyncFunc: func(ctx context.Context, customerID string) (*openfinance.SyncOutcome, error) {
			return &openfinance.SyncOutcome{
				CustomerID:    customerID,
				LinkID:        "L1",
				Path:          openfinance.PathTransactional,
				Transactional: &openfinance.TransactionalResult{AccountsSynced: 2, TransactionsSynced: 10},
			}, nil
		},
		TriggerFiscalSyncFunc: func(ctx context.Context, customerID string) (*openfinance.SyncOutcome, error) {
			return &openfinance.SyncOutcome{
				CustomerID:    customerID,
				LinkID:        "L1",
				Path:          openfinance.PathFiscal,
				Unrecoverable: true,
				Err:           fmt.Errorf("list invoices: %w", errs.ErrUpstreamUnavailable),
			}, nil
		},
	}
	h := NewSyncHandler(svc)

	rr := serve(h.HandleTriggerSync, http.MethodPost, "/api/sync", "C1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var ok map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ok))
	assert.Equal(t, "transactional", ok["path"])
	assert.NotContains(t, ok, "error")
	assert.Contains(t, ok, "transactional")

	rr = serve(h.HandleTriggerFiscalSync, http.MethodPost, "/api/sync/fiscal", "C1", "")
	require.Equal(t, http.StatusBadGateway, rr.Code)

	var failed map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &failed))
	assert.Equal(t, "fiscal", failed["path"])
	assert.Equal(t, true, failed["unrecoverable"])
	assert.Contains(t, failed["error"], "list invoices")
}

func TestSyncHandler_TriggerWithoutLink(t *testing.T) {
	svc := &MockFinancial{
		TriggerSyncFunc: func(ctx context.Context, customerID string) (*openfinance.SyncOutcome, error) {
			return nil, link.ErrNoActiveLink
		},
	}

	rr := serve(NewSyncHandler(svc).HandleTriggerSync, http.MethodPost, "/api/sync", "C1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(NewSyncHandler(svc).HandleTriggerSync, http.MethodGet, "/api/sync", "C1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestSyncHandler_Status(t *testing.T) {
	svc := &MockFinancial{
		GetSyncStatusFunc: func(ctx context.Context, customerID string) (*openfinance.SyncStatus, error) {
			return &openfinance.SyncStatus{CustomerID: customerID, Waiting: 2, Active: 1, Completed: 5, Total: 8}, nil
		},
	}

	rr := serve(NewSyncHandler(svc).HandleSyncStatus, http.MethodGet, "/api/sync/status", "C1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var status openfinance.SyncStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, 8, status.Total)
	assert.Equal(t, "C1", status.CustomerID)
}

func TestAccountHandler(t *testing.T) {
	svc := &MockFinancial{
		GetAccountsFunc: func(ctx context.Context, customerID string) ([]*account.Account, error) {
			return nil, nil
		},
		GetBalancesFunc: func(ctx context.Context, customerID string) ([]account.Balance, error) {
			return []account.Balance{{Currency: "MXN", Accounts: 2, CurrentBalance: decimal.RequireFromString("150.25")}}, nil
		},
	}
	h := NewAccountHandler(svc)

	rr := serve(h.HandleListAccounts, http.MethodGet, "/api/accounts", "C1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = serve(h.HandleBalances, http.MethodGet, "/api/balances", "C1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"currentBalance":"150.25"`)
}

func TestAccountHandler_NoActiveLink(t *testing.T) {
	svc := &MockFinancial{
		GetAccountsFunc: func(ctx context.Context, customerID string) ([]*account.Account, error) {
			return nil, link.ErrNoActiveLink
		},
	}

	rr := serve(NewAccountHandler(svc).HandleListAccounts, http.MethodGet, "/api/accounts", "C1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTransactionHandler_Filter(t *testing.T) {
	var got transaction.ListFilter
	svc := &MockFinancial{
		GetTransactionsFunc: func(ctx context.Context, customerID string, filter transaction.ListFilter) ([]*transaction.Transaction, error) {
			got = filter
			return []*transaction.Transaction{{ID: "t1", Amount: decimal.RequireFromString("-20")}}, nil
		},
	}
	h := NewTransactionHandler(svc)

	rr := serve(h.HandleListTransactions, http.MethodGet, "/api/transactions?from=2026-01-01&to=2026-02-01T00:00:00Z&limit=50", "C1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, got.From)
	require.NotNil(t, got.To)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *got.From)
	assert.Equal(t, 50, got.Limit)
}

func TestTransactionHandler_InvalidQuery(t *testing.T) {
	svc := &MockFinancial{
		GetTransactionsFunc: func(ctx context.Context, customerID string, filter transaction.ListFilter) ([]*transaction.Transaction, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}
	h := NewTransactionHandler(svc)

	for _, q := range []string{"from=yesterday", "limit=0", "limit=abc", "from=2026-02-01&to=2026-01-01"} {
		t.Run(q, func(t *testing.T) {
			rr := serve(h.HandleListTransactions, http.MethodGet, "/api/transactions?"+q, "C1", "")
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestFiscalHandler_Invoices(t *testing.T) {
	var got fiscal.InvoiceFilter
	svc := &MockFinancial{
		GetInvoicesFunc: func(ctx context.Context, customerID string, filter fiscal.InvoiceFilter) (*fiscal.InvoicePage, error) {
			got = filter
			return &fiscal.InvoicePage{Items: []*fiscal.Invoice{{ID: "inv-1"}}, Total: 41, Page: 3, Limit: 20}, nil
		},
	}

	rr := serve(NewFiscalHandler(svc).HandleListInvoices, http.MethodGet, "/api/invoices?page=3&limit=20&from=2026-01-01", "C1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 3, got.Page.Page)
	assert.Equal(t, 20, got.Limit)
	require.NotNil(t, got.From)
	assert.Nil(t, got.To)

	var page fiscal.InvoicePage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, 41, page.Total)
	assert.Len(t, page.Items, 1)
}

func TestFiscalHandler_TaxReturns(t *testing.T) {
	svc := &MockFinancial{
		GetTaxReturnsFunc: func(ctx context.Context, customerID string, page fiscal.Page) (*fiscal.TaxReturnPage, error) {
			if page.Limit > 0 && page.Limit != 5 {
				t.Errorf("limit = %d, want 5", page.Limit)
			}
			return &fiscal.TaxReturnPage{Items: []*fiscal.TaxReturn{{FiscalYear: "2025"}}, Total: 1, Page: 1, Limit: 5}, nil
		},
	}
	h := NewFiscalHandler(svc)

	rr := serve(h.HandleListTaxReturns, http.MethodGet, "/api/tax-returns?limit=5", "C1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"fiscalYear":"2025"`)

	rr = serve(h.HandleListTaxReturns, http.MethodGet, "/api/tax-returns?page=-1", "C1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

func TestHandleReady(t *testing.T) {
	rr := httptest.NewRecorder()
	HandleReady(stubPinger{})(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	HandleReady(stubPinger{err: errors.New("connection refused")})(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
