package link

import (
	"time"

	"finsync/internal/domain/openfinance"
	"finsync/internal/shared/errs"
)

// Domain errors
var (
	ErrNoLink        = errs.New(errs.ErrNotFound, "customer has no link")
	ErrNoActiveLink  = errs.New(errs.ErrNotFound, "customer has no active link")
	ErrAlreadyLinked = errs.New(errs.ErrConflict, "customer already has a pending or active link")
	ErrLinkMismatch  = errs.New(errs.ErrConflict, "link does not belong to customer")
	ErrLinkInUse     = errs.New(errs.ErrConflict, "link is active for another customer")
	ErrLinkNotFound  = errs.New(errs.ErrNotFound, "link not found at provider")
	ErrInvalidInput  = errs.New(errs.ErrValidation, "customer ID and link ID are required")
)

// Status is the lifecycle state of a link.
type Status string

const (
	StatusUnlinked Status = "unlinked"
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusError    Status = "error"
)

// Link ties a customer to a provider-side link. A soft-deleted link is
// unlinked.
type Link struct {
	ID             string     `json:"id"`
	LinkID         string     `json:"linkId"`
	CustomerID     string     `json:"customerId"`
	Status         Status     `json:"status"`
	LinkedAt       *time.Time `json:"linkedAt"`
	InstitutionTag string     `json:"institutionTag"`
	Institution    string     `json:"institution"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// ActivateParams is what a resolved provider link contributes to the row.
type ActivateParams struct {
	LinkID         string
	Institution    string
	InstitutionTag string
	LinkedAt       time.Time
}

// Result is returned by a successful activation. Sync delivers the outcome
// of the initial sync; callers need not read it.
type Result struct {
	Link *Link                          `json:"link"`
	Path openfinance.SyncPath           `json:"path"`
	Sync <-chan openfinance.SyncOutcome `json:"-"`
}

// LinkStatus is the customer-facing view of a link.
type LinkStatus struct {
	CustomerID     string     `json:"customerId"`
	IsLinked       bool       `json:"isLinked"`
	Status         Status     `json:"status"`
	LinkID         string     `json:"linkId,omitempty"`
	LinkedAt       *time.Time `json:"linkedAt,omitempty"`
	Institution    string     `json:"institution,omitempty"`
	ProviderStatus string     `json:"providerStatus,omitempty"`
	AccessMode     string     `json:"accessMode,omitempty"`
	Message        string     `json:"message,omitempty"`
}
