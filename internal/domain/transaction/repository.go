package transaction

import "context"

// Repository defines the interface for transaction data access
type Repository interface {
	// Exists reports whether a transaction with the provider id is stored
	Exists(ctx context.Context, externalTransactionID string) (bool, error)

	// CreateIfAbsent inserts the transaction unless one with the same provider
	// id exists. An existing row is never modified; created is false then.
	CreateIfAbsent(ctx context.Context, params CreateParams) (tx *Transaction, created bool, err error)

	// ListByCustomer returns a customer's transactions, newest value date first
	ListByCustomer(ctx context.Context, customerID string, filter ListFilter) ([]*Transaction, error)
}
