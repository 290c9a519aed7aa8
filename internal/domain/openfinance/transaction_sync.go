// Package openfinance provides domain services for syncing provider data
package openfinance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ofclient "finsync/internal/infrastructure/openfinance"
)

const (
	DefaultAccountConcurrency = 5
	DefaultTransactionWindow  = 90 * 24 * time.Hour
)

// TransactionalResult contains the results of a transactional sync
type TransactionalResult struct {
	CustomerID          string   `json:"customerId"`
	LinkID              string   `json:"linkId"`
	AccountsSynced      int      `json:"accountsSynced"`
	AccountsErrored     int      `json:"accountsErrored"`
	TransactionsSynced  int      `json:"transactionsSynced"`
	TransactionsSkipped int      `json:"transactionsSkipped"`
	TransactionsErrored int      `json:"transactionsErrored"`
	Errors              []string `json:"errors,omitempty"`
	// Unrecoverable is set when the provider no longer accepts the link.
	Unrecoverable bool `json:"unrecoverable,omitempty"`

	mu sync.Mutex
}

func (r *TransactionalResult) addError(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *TransactionalResult) count(field *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*field++
}

// TransactionSyncOptions tunes the transactional path.
type TransactionSyncOptions struct {
	AccountConcurrency int
	Window             time.Duration
}

// TransactionSyncService mirrors a bank link's accounts and recent
// transactions directly, without the job queue.
type TransactionSyncService struct {
	gateway     ofclient.Gateway
	upserter    *Upserter
	concurrency int
	window      time.Duration
	now         func() time.Time
}

// NewTransactionSyncService creates a new transaction sync service
func NewTransactionSyncService(gateway ofclient.Gateway, upserter *Upserter, opts TransactionSyncOptions) *TransactionSyncService {
	if opts.AccountConcurrency <= 0 {
		opts.AccountConcurrency = DefaultAccountConcurrency
	}
	if opts.Window <= 0 {
		opts.Window = DefaultTransactionWindow
	}
	return &TransactionSyncService{
		gateway:     gateway,
		upserter:    upserter,
		concurrency: opts.AccountConcurrency,
		window:      opts.Window,
		now:         time.Now,
	}
}

// Sync upserts every account of the link, then inserts the transactions of
// the trailing window that are not stored yet. Single record failures are
// counted and never stop the batch.
func (s *TransactionSyncService) Sync(ctx context.Context, customerID, linkID string) *TransactionalResult {
	result := &TransactionalResult{CustomerID: customerID, LinkID: linkID}

	accounts, err := s.gateway.FetchAccounts(ctx, linkID)
	dropped, err := ofclient.Dropped(err)
	if err != nil {
		result.addError("failed to fetch accounts: %v", err)
		result.Unrecoverable = ofclient.IsNotFound(err) || ofclient.IsUnauthorized(err)
		log.Printf("Customer %s: account fetch for link %s failed: %v", customerID, linkID, err)
		return result
	}
	for _, rec := range dropped {
		result.count(&result.AccountsErrored)
		result.addError("account %s: %v", rec.ID, rec.Err)
		log.Printf("Customer %s: skipped malformed account %s: %v", customerID, rec.ID, rec.Err)
	}
	log.Printf("Customer %s: syncing %d accounts for link %s", customerID, len(accounts), linkID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range accounts {
		acc := &accounts[i]
		g.Go(func() error {
			if _, err := s.upserter.UpsertAccount(gctx, customerID, linkID, acc); err != nil {
				result.count(&result.AccountsErrored)
				result.addError("account %s: %v", acc.ID, err)
				log.Printf("Customer %s: failed to sync account %s: %v", customerID, acc.ID, err)
				return nil
			}
			result.count(&result.AccountsSynced)
			return nil
		})
	}
	_ = g.Wait()

	// Transactions resolve their account locally, so accounts must land first.
	to := s.now()
	from := to.Add(-s.window)
	transactions, err := s.gateway.FetchTransactions(ctx, linkID, from, to)
	dropped, err = ofclient.Dropped(err)
	if err != nil {
		result.addError("failed to fetch transactions: %v", err)
		result.Unrecoverable = ofclient.IsNotFound(err) || ofclient.IsUnauthorized(err)
		log.Printf("Customer %s: transaction fetch for link %s failed: %v", customerID, linkID, err)
		return result
	}
	for _, rec := range dropped {
		result.count(&result.TransactionsErrored)
		result.addError("transaction %s: %v", rec.ID, rec.Err)
		log.Printf("Customer %s: skipped malformed transaction %s: %v", customerID, rec.ID, rec.Err)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range transactions {
		tx := &transactions[i]
		g.Go(func() error {
			res, err := s.upserter.UpsertTransaction(gctx, customerID, tx)
			switch {
			case err != nil:
				result.count(&result.TransactionsErrored)
				result.addError("transaction %s: %v", tx.ID, err)
			case res.Outcome == OutcomeCreated:
				result.count(&result.TransactionsSynced)
			default:
				result.count(&result.TransactionsSkipped)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Printf("Customer %s: transactional sync complete - accounts=%d (errors=%d), transactions created=%d skipped=%d errors=%d",
		customerID, result.AccountsSynced, result.AccountsErrored,
		result.TransactionsSynced, result.TransactionsSkipped, result.TransactionsErrored)

	return result
}
