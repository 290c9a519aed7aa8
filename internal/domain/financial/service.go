// Package financial is the customer-facing entry point for linking,
// syncing and reading mirrored financial data.
package financial

import (
	"context"
	"log"
	"time"

	"finsync/internal/domain/account"
	"finsync/internal/domain/fiscal"
	"finsync/internal/domain/link"
	"finsync/internal/domain/openfinance"
	"finsync/internal/domain/transaction"
	"finsync/internal/shared/errs"
)

// LinkManager is the link lifecycle.
type LinkManager interface {
	Activate(ctx context.Context, customerID, linkID string) (*link.Result, error)
	Deactivate(ctx context.Context, customerID string) error
	Status(ctx context.Context, customerID string) (*link.LinkStatus, error)
	Current(ctx context.Context, customerID string) (*link.Link, error)
	Classify(tag string) openfinance.SyncPath
	ApplyOutcome(l *link.Link, outcome openfinance.SyncOutcome)
}

// SyncRunner runs a sync path inline.
type SyncRunner interface {
	Run(ctx context.Context, customerID, linkID string, path openfinance.SyncPath) openfinance.SyncOutcome
}

// StatusReader reports queued sync progress.
type StatusReader interface {
	Status(ctx context.Context, customerID string) (*openfinance.SyncStatus, error)
}

// AccountReader reads mirrored accounts.
type AccountReader interface {
	ListAccounts(ctx context.Context, customerID string) ([]*account.Account, error)
	Balances(ctx context.Context, customerID string) ([]account.Balance, error)
}

// TransactionReader reads mirrored transactions.
type TransactionReader interface {
	List(ctx context.Context, customerID string, filter transaction.ListFilter) ([]*transaction.Transaction, error)
}

// FiscalReader reads mirrored fiscal documents.
type FiscalReader interface {
	ListInvoices(ctx context.Context, customerID string, filter fiscal.InvoiceFilter) (*fiscal.InvoicePage, error)
	ListTaxReturns(ctx context.Context, customerID string, page fiscal.Page) (*fiscal.TaxReturnPage, error)
}

// Service wires the link lifecycle, sync engine and read models together.
type Service struct {
	links        LinkManager
	syncer       SyncRunner
	status       StatusReader
	accounts     AccountReader
	transactions TransactionReader
	fiscal       FiscalReader
}

// NewService creates the financial facade
func NewService(
	links LinkManager,
	syncer SyncRunner,
	status StatusReader,
	accounts AccountReader,
	transactions TransactionReader,
	fiscalDocs FiscalReader,
) *Service {
	return &Service{
		links:        links,
		syncer:       syncer,
		status:       status,
		accounts:     accounts,
		transactions: transactions,
		fiscal:       fiscalDocs,
	}
}

// ActivateLink links the customer to a provider link and starts the initial sync.
func (s *Service) ActivateLink(ctx context.Context, customerID, linkID string) (*link.Result, error) {
	return s.links.Activate(ctx, customerID, linkID)
}

// DeactivateLink unlinks the customer's link.
func (s *Service) DeactivateLink(ctx context.Context, customerID string) error {
	return s.links.Deactivate(ctx, customerID)
}

// GetLinkStatus reports the customer's link state.
func (s *Service) GetLinkStatus(ctx context.Context, customerID string) (*link.LinkStatus, error) {
	if customerID == "" {
		return nil, errs.New(errs.ErrValidation, "customer ID is required")
	}
	return s.links.Status(ctx, customerID)
}

// TriggerSync re-runs the sync path of the customer's active link and waits
// for it.
func (s *Service) TriggerSync(ctx context.Context, customerID string) (*openfinance.SyncOutcome, error) {
	current, err := s.links.Current(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, current, s.links.Classify(current.InstitutionTag)), nil
}

// TriggerFiscalSync re-fetches the customer's fiscal documents and queues
// them. It returns once the documents are queued.
func (s *Service) TriggerFiscalSync(ctx context.Context, customerID string) (*openfinance.SyncOutcome, error) {
	current, err := s.links.Current(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, current, openfinance.PathFiscal), nil
}

func (s *Service) run(ctx context.Context, l *link.Link, path openfinance.SyncPath) *openfinance.SyncOutcome {
	log.Printf("Customer %s: manual %s sync requested for link %s", l.CustomerID, path, l.LinkID)
	start := time.Now()
	outcome := s.syncer.Run(ctx, l.CustomerID, l.LinkID, path)
	s.links.ApplyOutcome(l, outcome)
	log.Printf("Customer %s: manual %s sync finished in %v", l.CustomerID, path, time.Since(start))
	return &outcome
}

// GetSyncStatus counts the customer's queued sync jobs by state.
func (s *Service) GetSyncStatus(ctx context.Context, customerID string) (*openfinance.SyncStatus, error) {
	return s.status.Status(ctx, customerID)
}

// GetAccounts returns the customer's mirrored accounts.
func (s *Service) GetAccounts(ctx context.Context, customerID string) ([]*account.Account, error) {
	if _, err := s.links.Current(ctx, customerID); err != nil {
		return nil, err
	}
	return s.accounts.ListAccounts(ctx, customerID)
}

// GetBalances returns the customer's balances per currency.
func (s *Service) GetBalances(ctx context.Context, customerID string) ([]account.Balance, error) {
	if _, err := s.links.Current(ctx, customerID); err != nil {
		return nil, err
	}
	return s.accounts.Balances(ctx, customerID)
}

// GetTransactions returns the customer's transactions, newest first.
func (s *Service) GetTransactions(ctx context.Context, customerID string, filter transaction.ListFilter) ([]*transaction.Transaction, error) {
	if _, err := s.links.Current(ctx, customerID); err != nil {
		return nil, err
	}
	return s.transactions.List(ctx, customerID, filter)
}

// GetInvoices returns a page of the customer's invoices.
func (s *Service) GetInvoices(ctx context.Context, customerID string, filter fiscal.InvoiceFilter) (*fiscal.InvoicePage, error) {
	if _, err := s.links.Current(ctx, customerID); err != nil {
		return nil, err
	}
	return s.fiscal.ListInvoices(ctx, customerID, filter)
}

// GetTaxReturns returns a page of the customer's tax returns.
func (s *Service) GetTaxReturns(ctx context.Context, customerID string, page fiscal.Page) (*fiscal.TaxReturnPage, error) {
	if _, err := s.links.Current(ctx, customerID); err != nil {
		return nil, err
	}
	return s.fiscal.ListTaxReturns(ctx, customerID, page)
}
