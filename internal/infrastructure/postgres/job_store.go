package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"finsync/internal/infrastructure/queue"
)

const jobColumns = `id, type, customer_id, link_id, payload, priority, state, attempt, max_attempts, last_error,
	enqueued_at, run_at, started_at, finished_at`

// JobStore is a queue.Store backed by the sync_jobs table. Each queue name is a
// partition of that table.
type JobStore struct {
	db    *DB
	queue string
}

var _ queue.Store = (*JobStore)(nil)

// NewJobStore creates a job store for one named queue
func NewJobStore(db *DB, queueName string) *JobStore {
	return &JobStore{db: db, queue: queueName}
}

func scanJob(row rowScanner) (*queue.Job, error) {
	var j queue.Job
	var customerID, linkID, lastError sql.NullString
	var state string
	var payload []byte
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&j.ID, &j.Type, &customerID, &linkID, &payload, &j.Priority, &state, &j.Attempt,
		&j.MaxAttempts, &lastError, &j.EnqueuedAt, &j.RunAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	j.CustomerID = customerID.String
	j.LinkID = linkID.String
	j.LastError = lastError.String
	j.State = queue.State(state)
	j.Payload = rawJSON(payload)
	j.StartedAt = timePtr(startedAt)
	j.FinishedAt = timePtr(finishedAt)
	return &j, nil
}

func (s *JobStore) Add(ctx context.Context, job *queue.Job) error {
	query := `
		INSERT INTO sync_jobs (
			id, queue, type, customer_id, link_id, payload, priority, state, attempt, max_attempts,
			enqueued_at, run_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID, s.queue, job.Type, nullString(job.CustomerID), nullString(job.LinkID), nullJSON(job.Payload),
		job.Priority, string(job.State), job.Attempt, job.MaxAttempts, job.EnqueuedAt, job.RunAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add job: %w", err)
	}
	return nil
}

// ClaimNext locks the next due job with SKIP LOCKED so concurrent workers,
// in this process or another, never claim the same row.
func (s *JobStore) ClaimNext(ctx context.Context, jobType string, now time.Time) (*queue.Job, error) {
	query := `
		UPDATE sync_jobs
		SET state = $4, attempt = attempt + 1, started_at = $3
		WHERE id = (
			SELECT id FROM sync_jobs
			WHERE queue = $1 AND type = $2 AND state = $5 AND run_at <= $3
			ORDER BY priority, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	j, err := scanJob(s.db.QueryRowContext(ctx, query,
		s.queue, jobType, now, string(queue.StateActive), string(queue.StateWaiting),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return j, nil
}

func (s *JobStore) Complete(ctx context.Context, id string, at time.Time, purge bool) error {
	query := `
		UPDATE sync_jobs
		SET state = $3, finished_at = $4, last_error = NULL,
		    payload = CASE WHEN $5 THEN NULL ELSE payload END
		WHERE queue = $1 AND id = $2 AND state = $6
	`
	return s.transition(ctx, query, id, string(queue.StateCompleted), at, purge, string(queue.StateActive))
}

func (s *JobStore) Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	query := `
		UPDATE sync_jobs
		SET state = $3, run_at = $4, last_error = $5
		WHERE queue = $1 AND id = $2 AND state = $6
	`
	return s.transition(ctx, query, id, string(queue.StateWaiting), runAt, lastErr, string(queue.StateActive))
}

func (s *JobStore) Fail(ctx context.Context, id string, at time.Time, lastErr string) error {
	query := `
		UPDATE sync_jobs
		SET state = $3, finished_at = $4, last_error = $5
		WHERE queue = $1 AND id = $2 AND state = $6
	`
	return s.transition(ctx, query, id, string(queue.StateFailed), at, lastErr, string(queue.StateActive))
}

func (s *JobStore) transition(ctx context.Context, query, id string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, append([]any{s.queue, id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*queue.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE queue = $1 AND id = $2`

	j, err := scanJob(s.db.QueryRowContext(ctx, query, s.queue, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (s *JobStore) ListByState(ctx context.Context, state queue.State) ([]*queue.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE queue = $1 AND state = $2 ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, s.queue, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*queue.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) RequeueActive(ctx context.Context) (int, error) {
	query := `UPDATE sync_jobs SET state = $2 WHERE queue = $1 AND state = $3`

	result, err := s.db.ExecContext(ctx, query, s.queue, string(queue.StateWaiting), string(queue.StateActive))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(rows), nil
}

// RetryFailed moves failed jobs back to waiting with a fresh attempt budget.
// An empty customerID retries every failed job of the queue.
func (s *JobStore) RetryFailed(ctx context.Context, customerID string, now time.Time) (int, error) {
	query := `
		UPDATE sync_jobs
		SET state = $2, attempt = 0, run_at = $3, finished_at = NULL, last_error = NULL
		WHERE queue = $1 AND state = $4 AND payload IS NOT NULL AND ($5 = '' OR customer_id = $5)
	`

	result, err := s.db.ExecContext(ctx, query, s.queue, string(queue.StateWaiting), now, string(queue.StateFailed), customerID)
	if err != nil {
		return 0, fmt.Errorf("failed to retry jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(rows), nil
}
