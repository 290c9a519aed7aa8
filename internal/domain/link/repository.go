package link

import (
	"context"
	"time"
)

// Repository defines the interface for link data access
type Repository interface {
	// GetCurrent returns the customer's non-deleted link, or ErrNoLink
	GetCurrent(ctx context.Context, customerID string) (*Link, error)

	// CreatePending inserts a pending link. ErrAlreadyLinked is returned when
	// the customer already holds a pending or active link.
	CreatePending(ctx context.Context, customerID, linkID string) (*Link, error)

	// Activate moves a pending link to active with the resolved provider data
	Activate(ctx context.Context, id string, params ActivateParams) (*Link, error)

	// SetStatus changes the status of a non-deleted link
	SetStatus(ctx context.Context, id string, status Status) error

	// SoftDelete unlinks a link, keeping the row
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// FindActiveByLinkID returns the active link with the provider id, or ErrNoLink
	FindActiveByLinkID(ctx context.Context, linkID string) (*Link, error)

	// ListActive returns every active link
	ListActive(ctx context.Context) ([]*Link, error)
}
