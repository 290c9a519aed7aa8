package openfinance

import (
	"context"
	"sync"
	"testing"
	"time"

	"finsync/internal/infrastructure/events"
	"finsync/internal/infrastructure/queue"
)

type stubTransactional struct {
	result *TransactionalResult
	calls  int
	mu     sync.Mutex
}

func (s *stubTransactional) Sync(ctx context.Context, customerID, linkID string) *TransactionalResult {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.result != nil {
		return s.result
	}
	return &TransactionalResult{CustomerID: customerID, LinkID: linkID, AccountsSynced: 1}
}

type stubFiscal struct {
	block   chan struct{}
	ctxCh   chan context.Context
	errSeen error
}

func (s *stubFiscal) Sync(ctx context.Context, customerID, linkID string) *FiscalResult {
	if s.ctxCh != nil {
		s.ctxCh <- ctx
	}
	if s.block != nil {
		<-s.block
	}
	s.errSeen = ctx.Err()
	return &FiscalResult{CustomerID: customerID, LinkID: linkID, InvoicesQueued: 2}
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func receive(t *testing.T, ch <-chan SyncOutcome) SyncOutcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome delivered")
		return SyncOutcome{}
	}
}

func TestOrchestrator_SubmitTransactional(t *testing.T) {
	pub := &capturePublisher{}
	tx := &stubTransactional{}
	o := NewOrchestrator(tx, &stubFiscal{}, pub, time.Second)

	outcome := receive(t, o.Submit(context.Background(), "C1", "L1", PathTransactional))
	o.Wait()

	if outcome.Err != nil {
		t.Fatalf("outcome error = %v", outcome.Err)
	}
	if outcome.Transactional == nil || outcome.Transactional.AccountsSynced != 1 || outcome.Fiscal != nil {
		t.Errorf("outcome = %+v", outcome)
	}
	if tx.calls != 1 {
		t.Errorf("transactional calls = %d, want 1", tx.calls)
	}
	if len(pub.events) != 1 || pub.events[0].Type != events.SyncCompleted {
		t.Errorf("events = %+v, want one sync.completed", pub.events)
	}
}

func TestOrchestrator_SubmitDoesNotBlock(t *testing.T) {
	fiscal := &stubFiscal{block: make(chan struct{})}
	o := NewOrchestrator(&stubTransactional{}, fiscal, nil, time.Second)

	ch := o.Submit(context.Background(), "C1", "L2", PathFiscal)
	select {
	case <-ch:
		t.Fatal("outcome delivered before sync finished")
	default:
	}

	close(fiscal.block)
	outcome := receive(t, ch)
	if outcome.Fiscal == nil || outcome.Fiscal.InvoicesQueued != 2 {
		t.Errorf("outcome = %+v", outcome)
	}
	if _, open := <-ch; open {
		t.Error("channel not closed after outcome")
	}
}

func TestOrchestrator_SubmitDetachesFromCaller(t *testing.T) {
	fiscal := &stubFiscal{ctxCh: make(chan context.Context, 1), block: make(chan struct{})}
	o := NewOrchestrator(&stubTransactional{}, fiscal, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	ch := o.Submit(ctx, "C1", "L2", PathFiscal)
	runCtx := <-fiscal.ctxCh
	cancel()
	close(fiscal.block)

	receive(t, ch)
	if fiscal.errSeen != nil {
		t.Errorf("sync saw cancelled context: %v", fiscal.errSeen)
	}
	if _, ok := runCtx.Deadline(); !ok {
		t.Error("run context has no deadline")
	}
}

func TestOrchestrator_Unrecoverable(t *testing.T) {
	tx := &stubTransactional{result: &TransactionalResult{Unrecoverable: true}}
	o := NewOrchestrator(tx, &stubFiscal{}, nil, time.Second)

	outcome := o.Run(context.Background(), "C1", "L1", PathTransactional)
	if !outcome.Unrecoverable || outcome.Err == nil {
		t.Errorf("outcome = %+v, want unrecoverable error", outcome)
	}
}

func TestOrchestrator_UnknownPath(t *testing.T) {
	o := NewOrchestrator(&stubTransactional{}, &stubFiscal{}, nil, time.Second)

	outcome := o.Run(context.Background(), "C1", "L1", SyncPath("statements"))
	if outcome.Err == nil {
		t.Error("expected error for unknown path")
	}
}

func TestStatusService_PartitionsByState(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	q := queue.New(FiscalQueueName, store, queue.Options{})
	// Registered but never started: the test drives state transitions itself.
	q.Register(JobTypeInvoice, func(ctx context.Context, job *queue.Job) error { return nil }, 1)

	for i := 0; i < 4; i++ {
		if _, err := q.Enqueue(ctx, queue.EnqueueRequest{Type: JobTypeInvoice, CustomerID: "C1"}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if _, err := q.Enqueue(ctx, queue.EnqueueRequest{Type: JobTypeInvoice, CustomerID: "C2"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	now := time.Now()
	claim := func() *queue.Job {
		j, err := store.ClaimNext(ctx, JobTypeInvoice, now)
		if err != nil || j == nil {
			t.Fatalf("ClaimNext() = %v, %v", j, err)
		}
		return j
	}
	// Jobs are claimed in enqueue order, so these are all C1's.
	if err := store.Complete(ctx, claim().ID, now, true); err != nil {
		t.Fatal(err)
	}
	if err := store.Fail(ctx, claim().ID, now, "boom"); err != nil {
		t.Fatal(err)
	}
	claim()

	s, err := NewStatusService(q).Status(ctx, "C1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	want := SyncStatus{CustomerID: "C1", Waiting: 1, Active: 1, Completed: 1, Failed: 1, Total: 4}
	if *s != want {
		t.Errorf("status = %+v, want %+v", *s, want)
	}

	if _, err := NewStatusService(q).Status(ctx, ""); err == nil {
		t.Error("expected error for empty customer")
	}
}
