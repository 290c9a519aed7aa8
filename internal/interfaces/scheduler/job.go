package scheduler

import "context"

// Job represents a unit of work that can be executed by the worker pool.
type Job interface {
	// Execute runs the job with the given context.
	Execute(ctx context.Context) error

	// CustomerID returns the customer whose data the job touches, for logs.
	CustomerID() string

	// Description returns a human-readable description of the job.
	Description() string
}
