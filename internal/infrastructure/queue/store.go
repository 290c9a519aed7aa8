package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrJobNotFound is returned by stores for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Store is the durable backing store of a queue.
type Store interface {
	// Add persists a new waiting job
	Add(ctx context.Context, job *Job) error

	// ClaimNext atomically moves the next due waiting job of jobType to
	// active and increments its attempt. Returns nil when nothing is due.
	ClaimNext(ctx context.Context, jobType string, now time.Time) (*Job, error)

	// Complete marks an active job completed, dropping its payload when purge is set
	Complete(ctx context.Context, id string, at time.Time, purge bool) error

	// Retry puts an active job back to waiting until runAt
	Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error

	// Fail marks an active job failed; failed jobs are retained
	Fail(ctx context.Context, id string, at time.Time, lastErr string) error

	// Get retrieves a job by id
	Get(ctx context.Context, id string) (*Job, error)

	// ListByState returns every job in the given state
	ListByState(ctx context.Context, state State) ([]*Job, error)

	// RequeueActive moves jobs left active by a previous process back to waiting
	RequeueActive(ctx context.Context) (int, error)
}

// MemoryStore is an in-process Store. Jobs do not survive a restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*memJob
	seq  int64
}

type memJob struct {
	job Job
	seq int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*memJob)}
}

func (s *MemoryStore) Add(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("duplicate job id")
	}
	s.seq++
	s.jobs[job.ID] = &memJob{job: cloneJob(*job), seq: s.seq}
	return nil
}

func (s *MemoryStore) ClaimNext(ctx context.Context, jobType string, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *memJob
	for _, m := range s.jobs {
		if m.job.Type != jobType || m.job.State != StateWaiting || m.job.RunAt.After(now) {
			continue
		}
		if next == nil || claimsBefore(m, next) {
			next = m
		}
	}
	if next == nil {
		return nil, nil
	}

	started := now
	next.job.State = StateActive
	next.job.Attempt++
	next.job.StartedAt = &started
	claimed := cloneJob(next.job)
	return &claimed, nil
}

// claimsBefore orders by priority (lower first), then enqueue order.
func claimsBefore(a, b *memJob) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority < b.job.Priority
	}
	return a.seq < b.seq
}

func (s *MemoryStore) Complete(ctx context.Context, id string, at time.Time, purge bool) error {
	return s.transition(id, func(j *Job) {
		j.State = StateCompleted
		j.FinishedAt = &at
		j.LastError = ""
		if purge {
			j.Payload = nil
		}
	})
}

func (s *MemoryStore) Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	return s.transition(id, func(j *Job) {
		j.State = StateWaiting
		j.RunAt = runAt
		j.LastError = lastErr
	})
}

func (s *MemoryStore) Fail(ctx context.Context, id string, at time.Time, lastErr string) error {
	return s.transition(id, func(j *Job) {
		j.State = StateFailed
		j.FinishedAt = &at
		j.LastError = lastErr
	})
}

func (s *MemoryStore) transition(id string, apply func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if m.job.State != StateActive {
		return errors.New("job is not active")
	}
	apply(&m.job)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	j := cloneJob(m.job)
	return &j, nil
}

func (s *MemoryStore) ListByState(ctx context.Context, state State) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*memJob, 0)
	for _, m := range s.jobs {
		if m.job.State == state {
			matched = append(matched, m)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	jobs := make([]*Job, 0, len(matched))
	for _, m := range matched {
		j := cloneJob(m.job)
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

func (s *MemoryStore) RequeueActive(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.jobs {
		if m.job.State == StateActive {
			m.job.State = StateWaiting
			n++
		}
	}
	return n, nil
}

func cloneJob(j Job) Job {
	if j.Payload != nil {
		j.Payload = append([]byte(nil), j.Payload...)
	}
	return j
}
