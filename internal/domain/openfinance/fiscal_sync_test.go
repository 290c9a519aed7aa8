package openfinance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	ofclient "finsync/internal/infrastructure/openfinance"
	"finsync/internal/infrastructure/queue"
	"finsync/internal/shared/errs"
)

func fiscalGateway(invoices []ofclient.Invoice, returns []ofclient.TaxReturn) *MockGateway {
	return &MockGateway{
		FetchInvoicesFunc: func(ctx context.Context, linkID string, from, to time.Time) ([]ofclient.Invoice, error) {
			return invoices, nil
		},
		FetchTaxReturnsFunc: func(ctx context.Context, linkID string, yearFrom, yearTo int) ([]ofclient.TaxReturn, error) {
			return returns, nil
		},
	}
}

func TestFiscalSync_Windows(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	gateway := &MockGateway{
		FetchInvoicesFunc: func(ctx context.Context, linkID string, from, to time.Time) ([]ofclient.Invoice, error) {
			if !to.Equal(now) || !from.Equal(now.Add(-DefaultInvoiceWindow)) {
				t.Errorf("invoice window = %v..%v", from, to)
			}
			return nil, nil
		},
		FetchTaxReturnsFunc: func(ctx context.Context, linkID string, yearFrom, yearTo int) ([]ofclient.TaxReturn, error) {
			if yearFrom != 2021 || yearTo != 2024 {
				t.Errorf("tax years = %d..%d, want 2021..2024", yearFrom, yearTo)
			}
			return nil, nil
		},
	}
	svc := NewFiscalSyncService(gateway, &recordingEnqueuer{}, FiscalSyncOptions{})
	svc.now = func() time.Time { return now }

	svc.Sync(context.Background(), "C1", "L2")
}

func TestFiscalSync_EnqueuesOneJobPerDocument(t *testing.T) {
	enq := &recordingEnqueuer{}
	gateway := fiscalGateway(
		[]ofclient.Invoice{testInvoice("I1", "VIGENTE", "10"), testInvoice("I2", "VIGENTE", "20")},
		[]ofclient.TaxReturn{testTaxReturn("R1", "2023")},
	)

	result := NewFiscalSyncService(gateway, enq, FiscalSyncOptions{}).Sync(context.Background(), "C1", "L2")

	if result.InvoicesQueued != 2 || result.TaxReturnsQueued != 1 {
		t.Errorf("queued invoices=%d tax returns=%d, want 2 and 1", result.InvoicesQueued, result.TaxReturnsQueued)
	}
	if len(enq.requests) != 3 {
		t.Fatalf("enqueued = %d, want 3", len(enq.requests))
	}
	for _, req := range enq.requests {
		if req.CustomerID != "C1" || req.LinkID != "L2" || req.Priority != 1 {
			t.Errorf("request = %+v", req)
		}
		if req.Type != JobTypeInvoice && req.Type != JobTypeTaxReturn {
			t.Errorf("job type = %s", req.Type)
		}
	}
}

func TestFiscalSync_EnqueueFailuresCounted(t *testing.T) {
	enq := &recordingEnqueuer{
		failFor: func(req queue.EnqueueRequest) error {
			if req.Type == JobTypeInvoice {
				return fmt.Errorf("store down: %w", errs.ErrQueueUnavailable)
			}
			return nil
		},
	}
	gateway := fiscalGateway(
		[]ofclient.Invoice{testInvoice("I1", "VIGENTE", "10"), testInvoice("I2", "VIGENTE", "20")},
		[]ofclient.TaxReturn{testTaxReturn("R1", "2023"), testTaxReturn("R2", "2022")},
	)

	result := NewFiscalSyncService(gateway, enq, FiscalSyncOptions{}).Sync(context.Background(), "C1", "L2")

	if result.InvoicesQueued != 0 || result.InvoicesErrored != 2 {
		t.Errorf("invoices queued=%d errored=%d, want 0 and 2", result.InvoicesQueued, result.InvoicesErrored)
	}
	if result.TaxReturnsQueued != 2 || result.TaxReturnsErrored != 0 {
		t.Errorf("tax returns queued=%d errored=%d, want 2 and 0", result.TaxReturnsQueued, result.TaxReturnsErrored)
	}
}

func TestFiscalSync_PhaseFailureIsIsolated(t *testing.T) {
	gateway := &MockGateway{
		FetchInvoicesFunc: func(ctx context.Context, linkID string, from, to time.Time) ([]ofclient.Invoice, error) {
			return nil, errors.New("gateway timeout")
		},
		FetchTaxReturnsFunc: func(ctx context.Context, linkID string, yearFrom, yearTo int) ([]ofclient.TaxReturn, error) {
			return []ofclient.TaxReturn{testTaxReturn("R1", "2023")}, nil
		},
	}

	result := NewFiscalSyncService(gateway, &recordingEnqueuer{}, FiscalSyncOptions{}).Sync(context.Background(), "C1", "L2")

	if result.InvoicesQueued != 0 || result.InvoicesErrored != 1 {
		t.Errorf("invoices queued=%d errored=%d, want 0 and 1", result.InvoicesQueued, result.InvoicesErrored)
	}
	if result.TaxReturnsQueued != 1 {
		t.Errorf("tax returns queued = %d, want 1", result.TaxReturnsQueued)
	}
	if result.Unrecoverable {
		t.Error("transport failure marked unrecoverable")
	}
}

func TestFiscalSync_MalformedDocumentsCounted(t *testing.T) {
	enq := &recordingEnqueuer{}
	gateway := &MockGateway{
		FetchInvoicesFunc: func(ctx context.Context, linkID string, from, to time.Time) ([]ofclient.Invoice, error) {
			return []ofclient.Invoice{testInvoice("I1", "VIGENTE", "10"), testInvoice("I3", "VIGENTE", "30")},
				&ofclient.PartialError{Kind: "invoice", Total: 3, Records: []ofclient.RecordError{
					{Index: 1, ID: "I2", Err: errs.New(errs.ErrValidation, "bad total")},
				}}
		},
		FetchTaxReturnsFunc: func(ctx context.Context, linkID string, yearFrom, yearTo int) ([]ofclient.TaxReturn, error) {
			return []ofclient.TaxReturn{testTaxReturn("R1", "2023")}, nil
		},
	}

	result := NewFiscalSyncService(gateway, enq, FiscalSyncOptions{}).Sync(context.Background(), "C1", "L2")

	if result.InvoicesQueued != 2 || result.InvoicesErrored != 1 {
		t.Errorf("invoices queued=%d errored=%d, want 2 and 1", result.InvoicesQueued, result.InvoicesErrored)
	}
	if result.TaxReturnsQueued != 1 || result.TaxReturnsErrored != 0 {
		t.Errorf("tax returns queued=%d errored=%d, want 1 and 0", result.TaxReturnsQueued, result.TaxReturnsErrored)
	}
	if len(enq.requests) != 3 {
		t.Errorf("enqueued %d jobs, want 3", len(enq.requests))
	}
}

// Full fiscal scenario: documents wait in the queue, drain through the
// handler, and a second pass adds no new rows.
func TestFiscalSync_QueueScenario(t *testing.T) {
	ctx := context.Background()
	u, _, _, fiscalRepo := newTestUpserter()

	invoices := []ofclient.Invoice{
		testInvoice("I1", "VIGENTE", "10"),
		testInvoice("I2", "VIGENTE", "20"),
		testInvoice("I3", "VIGENTE", "30"),
	}
	returns := []ofclient.TaxReturn{testTaxReturn("R1", "2023"), testTaxReturn("R2", "2022")}
	const n, m = 3, 2

	q := queue.New(FiscalQueueName, queue.NewMemoryStore(), queue.Options{
		BackoffBase:      time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		RemoveOnComplete: true,
	})
	validator, err := ofclient.NewPayloadValidator()
	if err != nil {
		t.Fatalf("NewPayloadValidator() error = %v", err)
	}
	NewFiscalJobHandler(u, validator, nil).Register(q, 2)

	svc := NewFiscalSyncService(fiscalGateway(invoices, returns), q, FiscalSyncOptions{})
	status := NewStatusService(q)

	result := svc.Sync(ctx, "C1", "L2")
	if result.InvoicesQueued != n || result.TaxReturnsQueued != m {
		t.Fatalf("queued = %d/%d, want %d/%d", result.InvoicesQueued, result.TaxReturnsQueued, n, m)
	}

	before, err := status.Status(ctx, "C1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if before.Waiting != n+m || before.Total != n+m {
		t.Errorf("before start waiting=%d total=%d, want %d", before.Waiting, before.Total, n+m)
	}

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer q.Shutdown(time.Second)

	waitDrained := func(want int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for {
			s, err := status.Status(ctx, "C1")
			if err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			if s.Completed+s.Failed == want && s.Waiting == 0 && s.Active == 0 {
				if s.Failed != 0 {
					t.Errorf("failed jobs = %d, want 0", s.Failed)
				}
				if s.Total != want {
					t.Errorf("total = %d, want %d", s.Total, want)
				}
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("queue did not drain: %+v", s)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	waitDrained(n + m)

	gotInvoices, gotReturns := fiscalRepo.counts()
	if gotInvoices != n || gotReturns != m {
		t.Fatalf("stored documents = %d/%d, want %d/%d", gotInvoices, gotReturns, n, m)
	}

	svc.Sync(ctx, "C1", "L2")
	waitDrained(2 * (n + m))

	gotInvoices, gotReturns = fiscalRepo.counts()
	if gotInvoices != n || gotReturns != m {
		t.Errorf("documents after resync = %d/%d, want %d/%d", gotInvoices, gotReturns, n, m)
	}
	fiscalRepo.mu.Lock()
	updates := fiscalRepo.updates
	fiscalRepo.mu.Unlock()
	if updates != n+m {
		t.Errorf("updates after resync = %d, want %d", updates, n+m)
	}
}
