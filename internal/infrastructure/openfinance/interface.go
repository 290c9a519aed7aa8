package openfinance

import (
	"context"
	"time"
)

// Gateway defines the provider operations the sync engine consumes. Fetch
// methods may return records together with a *PartialError naming the
// records that were malformed; see Dropped.
type Gateway interface {
	FetchAccounts(ctx context.Context, linkID string) ([]Account, error)
	FetchTransactions(ctx context.Context, linkID string, from, to time.Time) ([]Transaction, error)
	FetchInvoices(ctx context.Context, linkID string, from, to time.Time) ([]Invoice, error)
	FetchTaxReturns(ctx context.Context, linkID string, yearFrom, yearTo int) ([]TaxReturn, error)

	// ResolveLink returns the provider link with the given id.
	ResolveLink(ctx context.Context, linkID string) (*Link, error)
	// ResolveLinkByExternalID returns the newest link tagged with externalID,
	// or nil when the provider has none.
	ResolveLinkByExternalID(ctx context.Context, externalID string) (*Link, error)
	RevokeLink(ctx context.Context, linkID string) error
}
