package openfinance

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ofclient "finsync/internal/infrastructure/openfinance"
	"finsync/internal/infrastructure/queue"
)

// Fiscal job routing.
const (
	FiscalQueueName  = "fiscal-sync"
	JobTypeInvoice   = "sync-invoice"
	JobTypeTaxReturn = "sync-tax-return"

	fiscalJobPriority = 1
)

const (
	DefaultInvoiceWindow      = 365 * 24 * time.Hour
	DefaultTaxReturnYears     = 4
	DefaultEnqueueConcurrency = 10
)

// Enqueuer accepts deferred jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

// FiscalResult contains the per-phase counts of a fiscal sync. Queued
// documents have not necessarily been processed yet.
type FiscalResult struct {
	CustomerID        string `json:"customerId"`
	LinkID            string `json:"linkId"`
	InvoicesQueued    int    `json:"invoicesQueued"`
	InvoicesErrored   int    `json:"invoicesErrored"`
	TaxReturnsQueued  int    `json:"taxReturnsQueued"`
	TaxReturnsErrored int    `json:"taxReturnsErrored"`
	Unrecoverable     bool   `json:"unrecoverable,omitempty"`
}

// FiscalSyncOptions tunes the fiscal path.
type FiscalSyncOptions struct {
	InvoiceWindow      time.Duration
	TaxReturnYears     int
	EnqueueConcurrency int
}

// FiscalSyncService fetches a fiscal link's documents and defers each one to
// the job queue.
type FiscalSyncService struct {
	gateway ofclient.Gateway
	queue   Enqueuer
	opts    FiscalSyncOptions
	now     func() time.Time
}

// NewFiscalSyncService creates a new fiscal sync service
func NewFiscalSyncService(gateway ofclient.Gateway, q Enqueuer, opts FiscalSyncOptions) *FiscalSyncService {
	if opts.InvoiceWindow <= 0 {
		opts.InvoiceWindow = DefaultInvoiceWindow
	}
	if opts.TaxReturnYears <= 0 {
		opts.TaxReturnYears = DefaultTaxReturnYears
	}
	if opts.EnqueueConcurrency <= 0 {
		opts.EnqueueConcurrency = DefaultEnqueueConcurrency
	}
	return &FiscalSyncService{gateway: gateway, queue: q, opts: opts, now: time.Now}
}

// Sync runs the invoice and tax return phases concurrently. A failed fetch
// counts as one errored document for its phase only.
func (s *FiscalSyncService) Sync(ctx context.Context, customerID, linkID string) *FiscalResult {
	result := &FiscalResult{CustomerID: customerID, LinkID: linkID}
	var mu sync.Mutex
	markUnrecoverable := func(err error) {
		if ofclient.IsNotFound(err) || ofclient.IsUnauthorized(err) {
			mu.Lock()
			result.Unrecoverable = true
			mu.Unlock()
		}
	}

	var phases errgroup.Group
	phases.Go(func() error {
		queued, errored, err := s.syncInvoices(ctx, customerID, linkID)
		if err != nil {
			log.Printf("Customer %s: invoice fetch for link %s failed: %v", customerID, linkID, err)
			markUnrecoverable(err)
		}
		mu.Lock()
		result.InvoicesQueued, result.InvoicesErrored = queued, errored
		mu.Unlock()
		return nil
	})
	phases.Go(func() error {
		queued, errored, err := s.syncTaxReturns(ctx, customerID, linkID)
		if err != nil {
			log.Printf("Customer %s: tax return fetch for link %s failed: %v", customerID, linkID, err)
			markUnrecoverable(err)
		}
		mu.Lock()
		result.TaxReturnsQueued, result.TaxReturnsErrored = queued, errored
		mu.Unlock()
		return nil
	})
	_ = phases.Wait()

	log.Printf("Customer %s: fiscal sync queued invoices=%d (errors=%d), tax returns=%d (errors=%d)",
		customerID, result.InvoicesQueued, result.InvoicesErrored, result.TaxReturnsQueued, result.TaxReturnsErrored)
	return result
}

func (s *FiscalSyncService) syncInvoices(ctx context.Context, customerID, linkID string) (int, int, error) {
	to := s.now()
	from := to.Add(-s.opts.InvoiceWindow)
	invoices, err := s.gateway.FetchInvoices(ctx, linkID, from, to)
	dropped, err := ofclient.Dropped(err)
	if err != nil {
		return 0, 1, err
	}
	logDropped(customerID, JobTypeInvoice, dropped)

	docs := make([]document, len(invoices))
	for i := range invoices {
		docs[i] = document{id: invoices[i].ID, raw: invoices[i].Raw, value: &invoices[i]}
	}
	queued, errored := s.enqueueAll(ctx, JobTypeInvoice, customerID, linkID, docs)
	return queued, errored + len(dropped), nil
}

func (s *FiscalSyncService) syncTaxReturns(ctx context.Context, customerID, linkID string) (int, int, error) {
	yearTo := s.now().Year()
	yearFrom := yearTo - (s.opts.TaxReturnYears - 1)
	returns, err := s.gateway.FetchTaxReturns(ctx, linkID, yearFrom, yearTo)
	dropped, err := ofclient.Dropped(err)
	if err != nil {
		return 0, 1, err
	}
	logDropped(customerID, JobTypeTaxReturn, dropped)

	docs := make([]document, len(returns))
	for i := range returns {
		docs[i] = document{id: returns[i].ID, raw: returns[i].Raw, value: &returns[i]}
	}
	queued, errored := s.enqueueAll(ctx, JobTypeTaxReturn, customerID, linkID, docs)
	return queued, errored + len(dropped), nil
}

func logDropped(customerID, jobType string, dropped []ofclient.RecordError) {
	for _, rec := range dropped {
		log.Printf("Customer %s: skipped malformed %s %s: %v", customerID, jobType, rec.ID, rec.Err)
	}
}

// document is a fetched record awaiting enqueue. raw is the provider body
// when the record was decoded from the wire.
type document struct {
	id    string
	raw   json.RawMessage
	value any
}

func (d document) payload() any {
	if len(d.raw) > 0 {
		return d.raw
	}
	return d.value
}

// enqueueAll enqueues every document concurrently. A failed enqueue is
// counted and does not stop the others.
func (s *FiscalSyncService) enqueueAll(ctx context.Context, jobType, customerID, linkID string, docs []document) (queued, errored int) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.EnqueueConcurrency)

	for _, doc := range docs {
		g.Go(func() error {
			_, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
				Type:       jobType,
				CustomerID: customerID,
				LinkID:     linkID,
				Payload:    doc.payload(),
				Priority:   fiscalJobPriority,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errored++
				log.Printf("Customer %s: failed to enqueue %s %s: %v", customerID, jobType, doc.id, err)
				return nil
			}
			queued++
			return nil
		})
	}
	_ = g.Wait()
	return queued, errored
}
