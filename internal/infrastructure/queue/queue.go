package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"finsync/internal/shared/errs"
)

var (
	jobTracer      = otel.Tracer("finsync/queue")
	jobMeter       = otel.Meter("finsync/queue")
	jobDuration, _ = jobMeter.Float64Histogram("queue.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _    = jobMeter.Int64Counter("queue.job.total", metric.WithDescription("Job executions by outcome"))
	jobEnqueued, _ = jobMeter.Int64Counter("queue.job.enqueued", metric.WithDescription("Jobs enqueued by type"))
)

const DefaultConcurrency = 10

// Options tunes retry and dispatch behaviour.
type Options struct {
	MaxAttempts      int
	BackoffBase      time.Duration
	RemoveOnComplete bool
	PollInterval     time.Duration
	JobTimeout       time.Duration
}

// DefaultOptions: three attempts, 1s exponential backoff, completed payloads purged.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:      3,
		BackoffBase:      time.Second,
		RemoveOnComplete: true,
		PollInterval:     time.Second,
		JobTimeout:       120 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = d.JobTimeout
	}
	return o
}

// Backoff returns the delay before retrying after the given failed attempt.
func (o Options) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	return o.BackoffBase * time.Duration(1<<(attempt-1))
}

// EnqueueRequest describes a job to add.
type EnqueueRequest struct {
	Type       string
	CustomerID string
	LinkID     string
	Payload    any
	Priority   int
}

type registration struct {
	handler     Handler
	concurrency int
	wake        chan struct{}
}

// Queue dispatches stored jobs to per-type bounded worker pools.
// Delivery is at-least-once: a job whose process dies mid-run is claimed
// again on the next Start.
type Queue struct {
	name  string
	store Store
	opts  Options

	mu       sync.RWMutex
	handlers map[string]*registration

	onCompleted func(*Job)
	onFailed    func(*Job, error)

	stopCtx    context.Context
	stop       context.CancelFunc
	jobCtx     context.Context
	cancelJobs context.CancelFunc
	wg         sync.WaitGroup
	started    atomic.Bool
	closed     atomic.Bool

	now func() time.Time
}

// New creates a queue backed by store.
func New(name string, store Store, opts Options) *Queue {
	stopCtx, stop := context.WithCancel(context.Background())
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	return &Queue{
		name:       name,
		store:      store,
		opts:       opts.withDefaults(),
		handlers:   make(map[string]*registration),
		stopCtx:    stopCtx,
		stop:       stop,
		jobCtx:     jobCtx,
		cancelJobs: cancelJobs,
		now:        time.Now,
	}
}

// Register installs the handler for jobType with the given worker count.
// Must be called before Start.
func (q *Queue) Register(jobType string, handler Handler, concurrency int) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = &registration{
		handler:     handler,
		concurrency: concurrency,
		wake:        make(chan struct{}, 1),
	}
}

// OnCompleted sets a hook called after a job completes.
func (q *Queue) OnCompleted(fn func(*Job)) { q.onCompleted = fn }

// OnFailed sets a hook called after a job fails terminally.
func (q *Queue) OnFailed(fn func(*Job, error)) { q.onFailed = fn }

// Enqueue stores a waiting job and returns its id. Returning does not imply
// the job ran. Unregistered job types are rejected as validation errors so no
// job waits for a worker that will never exist. Store failures are reported
// as ErrQueueUnavailable.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if q.closed.Load() {
		return "", fmt.Errorf("queue %s is shut down: %w", q.name, errs.ErrQueueUnavailable)
	}
	if req.Type == "" {
		return "", errs.New(errs.ErrValidation, "job type is required")
	}
	q.mu.RLock()
	_, registered := q.handlers[req.Type]
	q.mu.RUnlock()
	if !registered {
		return "", errs.New(errs.ErrValidation, fmt.Sprintf("no handler registered for job type %q on queue %s", req.Type, q.name))
	}

	payload, err := marshalPayload(req.Payload)
	if err != nil {
		return "", errs.New(errs.ErrValidation, fmt.Sprintf("failed to marshal %s payload: %v", req.Type, err))
	}

	now := q.now()
	job := &Job{
		ID:          uuid.NewString(),
		Type:        req.Type,
		CustomerID:  req.CustomerID,
		LinkID:      req.LinkID,
		Payload:     payload,
		Priority:    req.Priority,
		State:       StateWaiting,
		MaxAttempts: q.opts.MaxAttempts,
		EnqueuedAt:  now,
		RunAt:       now,
	}

	if err := q.store.Add(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %v: %w", req.Type, err, errs.ErrQueueUnavailable)
	}
	jobEnqueued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", q.name),
		attribute.String("job.type", req.Type),
	))

	q.signal(req.Type)
	return job.ID, nil
}

func marshalPayload(p any) (json.RawMessage, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return append(json.RawMessage(nil), v...), nil
	case []byte:
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid JSON")
		}
		return append(json.RawMessage(nil), v...), nil
	default:
		return json.Marshal(v)
	}
}

// signal wakes one idle worker of jobType, if any.
func (q *Queue) signal(jobType string) {
	q.mu.RLock()
	reg, ok := q.handlers[jobType]
	q.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case reg.wake <- struct{}{}:
	default:
	}
}

// Start recovers jobs left active by a previous run and launches the workers.
func (q *Queue) Start(ctx context.Context) error {
	if !q.started.CompareAndSwap(false, true) {
		return errors.New("queue already started")
	}

	n, err := q.store.RequeueActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to requeue stalled jobs: %w", err)
	}
	if n > 0 {
		log.Printf("Queue %s: requeued %d stalled jobs", q.name, n)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	for jobType, reg := range q.handlers {
		log.Printf("Queue %s: starting %d workers for %s", q.name, reg.concurrency, jobType)
		for i := 1; i <= reg.concurrency; i++ {
			q.wg.Add(1)
			go q.worker(jobType, reg, i)
		}
	}
	return nil
}

// worker claims and processes jobs of one type until the queue stops.
func (q *Queue) worker(jobType string, reg *registration, id int) {
	defer q.wg.Done()

	timer := time.NewTimer(q.opts.PollInterval)
	defer timer.Stop()

	for {
		if q.stopCtx.Err() != nil {
			return
		}

		job, err := q.store.ClaimNext(q.stopCtx, jobType, q.now())
		if err != nil && q.stopCtx.Err() == nil {
			log.Printf("Queue %s worker %s-%d: claim failed: %v", q.name, jobType, id, err)
		}

		if job != nil {
			// Let another idle worker look for more work.
			q.signal(jobType)
			q.process(id, reg, job)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.opts.PollInterval)

		select {
		case <-q.stopCtx.Done():
			return
		case <-reg.wake:
		case <-timer.C:
		}
	}
}

// process runs one claimed job with tracing, metrics and the retry policy.
func (q *Queue) process(workerID int, reg *registration, job *Job) {
	ctx, cancel := context.WithTimeout(q.jobCtx, q.opts.JobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("queue", q.name),
			attribute.String("job.id", job.ID),
			attribute.String("job.type", job.Type),
			attribute.String("job.customer_id", job.CustomerID),
			attribute.Int("job.attempt", job.Attempt),
		),
	)
	defer span.End()

	start := time.Now()
	err := runHandler(ctx, reg.handler, job)
	jobDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("job.type", job.Type)))

	// Bookkeeping must land even when the job context was cancelled.
	storeCtx, storeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer storeCancel()

	if err == nil {
		if serr := q.store.Complete(storeCtx, job.ID, q.now(), q.opts.RemoveOnComplete); serr != nil {
			log.Printf("Queue %s: failed to mark job %s completed: %v", q.name, job.ID, serr)
		}
		q.record(ctx, job, "completed")
		if q.onCompleted != nil {
			q.onCompleted(job)
		}
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if IsPermanent(err) || job.Attempt >= job.MaxAttempts {
		if serr := q.store.Fail(storeCtx, job.ID, q.now(), err.Error()); serr != nil {
			log.Printf("Queue %s: failed to mark job %s failed: %v", q.name, job.ID, serr)
		}
		q.record(ctx, job, "failed")
		log.Printf("Queue %s: job %s (%s) for customer %s failed after %d attempt(s): %v",
			q.name, job.ID, job.Type, job.CustomerID, job.Attempt, err)
		if q.onFailed != nil {
			q.onFailed(job, err)
		}
		return
	}

	delay := q.opts.Backoff(job.Attempt)
	if serr := q.store.Retry(storeCtx, job.ID, q.now().Add(delay), err.Error()); serr != nil {
		log.Printf("Queue %s: failed to reschedule job %s: %v", q.name, job.ID, serr)
	}
	q.record(ctx, job, "retried")
	log.Printf("Queue %s: job %s (%s) attempt %d/%d failed, retrying in %v: %v",
		q.name, job.ID, job.Type, job.Attempt, job.MaxAttempts, delay, err)
}

func (q *Queue) record(ctx context.Context, job *Job, status string) {
	jobTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", q.name),
		attribute.String("job.type", job.Type),
		attribute.String("status", status),
	))
}

// runHandler converts a handler panic into an error so the worker survives.
func runHandler(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

// ListByState returns the jobs in a state.
func (q *Queue) ListByState(ctx context.Context, state State) ([]*Job, error) {
	jobs, err := q.store.ListByState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %v: %w", state, err, errs.ErrQueueUnavailable)
	}
	return jobs, nil
}

// Shutdown stops claiming new jobs and waits for running ones. Jobs still
// running after timeout have their context cancelled.
func (q *Queue) Shutdown(timeout time.Duration) {
	log.Printf("Queue %s: initiating graceful shutdown with %v timeout", q.name, timeout)
	q.closed.Store(true)
	q.stop()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("Queue %s: all workers finished gracefully", q.name)
	case <-time.After(timeout):
		log.Printf("Queue %s: timeout reached, cancelling running jobs", q.name)
		q.cancelJobs()
		<-done
	}
	q.cancelJobs()

	log.Printf("Queue %s: shutdown complete", q.name)
}
