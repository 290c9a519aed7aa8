package openfinance

import (
	"context"
	"fmt"

	"finsync/internal/infrastructure/queue"
	"finsync/internal/shared/errs"
)

// JobLister exposes the queue's state buckets.
type JobLister interface {
	ListByState(ctx context.Context, state queue.State) ([]*queue.Job, error)
}

// SyncStatus is a point-in-time count of a customer's queued sync jobs.
type SyncStatus struct {
	CustomerID string `json:"customerId"`
	Waiting    int    `json:"waiting"`
	Active     int    `json:"active"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
}

// StatusService aggregates job states per customer. Each call scans every
// bucket, so it is meant for progress checks rather than tight polling.
type StatusService struct {
	jobs JobLister
}

// NewStatusService creates a new status aggregator
func NewStatusService(jobs JobLister) *StatusService {
	return &StatusService{jobs: jobs}
}

// Status counts the customer's jobs in each state.
func (s *StatusService) Status(ctx context.Context, customerID string) (*SyncStatus, error) {
	if customerID == "" {
		return nil, errs.New(errs.ErrValidation, "customer ID is required")
	}

	status := &SyncStatus{CustomerID: customerID}
	for _, state := range queue.States {
		jobs, err := s.jobs.ListByState(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s jobs: %w", state, err)
		}

		n := 0
		for _, job := range jobs {
			if job.CustomerID == customerID {
				n++
			}
		}

		switch state {
		case queue.StateWaiting:
			status.Waiting = n
		case queue.StateActive:
			status.Active = n
		case queue.StateCompleted:
			status.Completed = n
		case queue.StateFailed:
			status.Failed = n
		}
	}
	status.Total = status.Waiting + status.Active + status.Completed + status.Failed
	return status, nil
}
