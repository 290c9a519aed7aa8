package openfinance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"finsync/internal/infrastructure/events"
)

// SyncPath selects how a link's data is mirrored.
type SyncPath string

const (
	// PathTransactional upserts accounts and transactions inline.
	PathTransactional SyncPath = "transactional"
	// PathFiscal defers invoices and tax returns to the job queue.
	PathFiscal SyncPath = "fiscal"
)

const DefaultSyncTimeout = 10 * time.Minute

// TransactionalSyncer runs the transactional path.
type TransactionalSyncer interface {
	Sync(ctx context.Context, customerID, linkID string) *TransactionalResult
}

// FiscalSyncer runs the fiscal path.
type FiscalSyncer interface {
	Sync(ctx context.Context, customerID, linkID string) *FiscalResult
}

// SyncOutcome is the result of one sync run. Exactly one of Transactional
// and Fiscal is set unless Err is.
type SyncOutcome struct {
	CustomerID    string               `json:"customerId"`
	LinkID        string               `json:"linkId"`
	Path          SyncPath             `json:"path"`
	Transactional *TransactionalResult `json:"transactional,omitempty"`
	Fiscal        *FiscalResult        `json:"fiscal,omitempty"`
	// Unrecoverable means the provider rejected the link itself.
	Unrecoverable bool  `json:"unrecoverable,omitempty"`
	Err           error `json:"-"`
}

// Orchestrator runs sync paths, either inline or as submitted background
// tasks whose outcome is delivered on a channel.
type Orchestrator struct {
	transactional TransactionalSyncer
	fiscal        FiscalSyncer
	publisher     events.Publisher
	timeout       time.Duration
	inflight      sync.WaitGroup
}

// NewOrchestrator creates a new sync orchestrator
func NewOrchestrator(transactional TransactionalSyncer, fiscal FiscalSyncer, publisher events.Publisher, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Orchestrator{
		transactional: transactional,
		fiscal:        fiscal,
		publisher:     publisher,
		timeout:       timeout,
	}
}

// Run executes the path and returns its outcome.
func (o *Orchestrator) Run(ctx context.Context, customerID, linkID string, path SyncPath) (outcome SyncOutcome) {
	outcome = SyncOutcome{CustomerID: customerID, LinkID: linkID, Path: path}
	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("sync panicked: %v", r)
			log.Printf("Customer %s: %s sync of link %s panicked: %v", customerID, path, linkID, r)
		}
	}()

	switch path {
	case PathTransactional:
		res := o.transactional.Sync(ctx, customerID, linkID)
		outcome.Transactional = res
		outcome.Unrecoverable = res.Unrecoverable
	case PathFiscal:
		res := o.fiscal.Sync(ctx, customerID, linkID)
		outcome.Fiscal = res
		outcome.Unrecoverable = res.Unrecoverable
	default:
		outcome.Err = fmt.Errorf("unknown sync path %q", path)
		return outcome
	}

	if outcome.Unrecoverable {
		outcome.Err = fmt.Errorf("provider rejected link %s", linkID)
	}
	return outcome
}

// Submit starts the path in the background and returns immediately. The
// run is detached from ctx cancellation and bounded by the sync timeout.
// The channel receives exactly one outcome and is then closed; callers may
// ignore it.
func (o *Orchestrator) Submit(ctx context.Context, customerID, linkID string, path SyncPath) <-chan SyncOutcome {
	ch := make(chan SyncOutcome, 1)
	o.inflight.Add(1)

	go func() {
		defer o.inflight.Done()
		defer close(ch)

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()

		start := time.Now()
		outcome := o.Run(runCtx, customerID, linkID, path)
		if outcome.Err != nil {
			log.Printf("Customer %s: %s sync of link %s failed after %v: %v",
				customerID, path, linkID, time.Since(start), outcome.Err)
		} else {
			log.Printf("Customer %s: %s sync of link %s finished in %v", customerID, path, linkID, time.Since(start))
		}

		events.PublishBestEffort(runCtx, o.publisher, events.Event{
			Type:       events.SyncCompleted,
			CustomerID: customerID,
			LinkID:     linkID,
			Data:       outcomeData(outcome),
		})
		ch <- outcome
	}()

	return ch
}

// Wait blocks until every submitted sync has finished.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

func outcomeData(o SyncOutcome) map[string]any {
	data := map[string]any{"path": string(o.Path)}
	if o.Err != nil {
		data["error"] = o.Err.Error()
	}
	if r := o.Transactional; r != nil {
		data["accountsSynced"] = r.AccountsSynced
		data["accountsErrored"] = r.AccountsErrored
		data["transactionsSynced"] = r.TransactionsSynced
		data["transactionsErrored"] = r.TransactionsErrored
	}
	if r := o.Fiscal; r != nil {
		data["invoicesQueued"] = r.InvoicesQueued
		data["invoicesErrored"] = r.InvoicesErrored
		data["taxReturnsQueued"] = r.TaxReturnsQueued
		data["taxReturnsErrored"] = r.TaxReturnsErrored
	}
	return data
}
