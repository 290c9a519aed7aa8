package fiscal

import "context"

// Repository defines the interface for fiscal document data access
type Repository interface {
	// GetInvoiceByExternalID retrieves an invoice by its provider id
	GetInvoiceByExternalID(ctx context.Context, externalID string) (*Invoice, error)

	// CreateInvoice inserts an invoice. A concurrent insert of the same
	// provider id converges on one row holding the latest mutable fields.
	CreateInvoice(ctx context.Context, params InvoiceParams) (*Invoice, error)

	// UpdateInvoice applies the mutable projection to an existing invoice
	UpdateInvoice(ctx context.Context, id string, params InvoiceParams) (*Invoice, error)

	// ListInvoices returns a page of a customer's invoices and the total count
	ListInvoices(ctx context.Context, customerID string, filter InvoiceFilter) ([]*Invoice, int, error)

	// GetTaxReturnByExternalID retrieves a tax return by its provider id
	GetTaxReturnByExternalID(ctx context.Context, externalID string) (*TaxReturn, error)

	// CreateTaxReturn inserts a tax return, converging like CreateInvoice
	CreateTaxReturn(ctx context.Context, params TaxReturnParams) (*TaxReturn, error)

	// UpdateTaxReturn applies the mutable projection to an existing tax return
	UpdateTaxReturn(ctx context.Context, id string, params TaxReturnParams) (*TaxReturn, error)

	// ListTaxReturns returns a page of a customer's tax returns and the total count
	ListTaxReturns(ctx context.Context, customerID string, page Page) ([]*TaxReturn, int, error)
}
