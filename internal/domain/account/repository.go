package account

import (
	"context"
	"time"
)

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// GetByExternalID retrieves an account by its provider id
	GetByExternalID(ctx context.Context, externalAccountID string) (*Account, error)

	// Create inserts a new account. A concurrent insert of the same provider
	// account converges to one row; ErrOwnedElsewhere is returned when that
	// row belongs to another customer.
	Create(ctx context.Context, params CreateParams) (*Account, error)

	// UpdateSnapshot refreshes the mutable fields, keeping id and created_at
	UpdateSnapshot(ctx context.Context, id string, params SnapshotParams) (*Account, error)

	// ListByCustomer retrieves the linked accounts of a customer
	ListByCustomer(ctx context.Context, customerID string) ([]*Account, error)

	// MarkUnlinked stamps unlinked_at on every account of a link
	MarkUnlinked(ctx context.Context, linkID string, at time.Time) (int64, error)
}
