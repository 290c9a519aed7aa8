package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"finsync/internal/domain/fiscal"
)

const invoiceColumns = `id, customer_id, link_id, external_document_id, type, invoice_type, invoice_identification,
	folio, series, invoice_date, status, cancelation_status, usage, version, payment_type, payment_method,
	place_of_issue, certification_date, certification_authority, sender_id, sender_name, sender_fiscal_regime,
	sender_postal_code, receiver_id, receiver_name, receiver_fiscal_regime, receiver_postal_code, currency,
	exchange_rate, subtotal_amount, discount_amount, tax_amount, total_amount, tax_details, payments,
	invoice_details, related_invoices, raw_data, collected_at, created_at, updated_at`

const taxReturnColumns = `id, customer_id, link_id, external_document_id, fiscal_year, income_tax, net_income,
	gross_income, raw_data, collected_at, created_at, updated_at`

// FiscalRepository implements the fiscal.Repository interface for PostgreSQL
type FiscalRepository struct {
	db *DB
}

var _ fiscal.Repository = (*FiscalRepository)(nil)

// NewFiscalRepository creates a new PostgreSQL fiscal document repository
func NewFiscalRepository(db *DB) *FiscalRepository {
	return &FiscalRepository{db: db}
}

func scanInvoice(row rowScanner) (*fiscal.Invoice, error) {
	var inv fiscal.Invoice
	var text [22]sql.NullString
	var invoiceDate, certificationDate, collectedAt sql.NullTime
	var taxDetails, payments, details, related, raw []byte

	err := row.Scan(
		&inv.ID, &inv.CustomerID, &inv.LinkID, &inv.ExternalDocumentID,
		&text[0], &text[1], &text[2], &text[3], &text[4], &invoiceDate, &text[5], &text[6], &text[7],
		&text[8], &text[9], &text[10], &text[11], &certificationDate, &text[12], &text[13], &text[14],
		&text[15], &text[16], &text[17], &text[18], &text[19], &text[20], &text[21],
		&inv.ExchangeRate, &inv.SubtotalAmount, &inv.DiscountAmount, &inv.TaxAmount, &inv.TotalAmount,
		&taxDetails, &payments, &details, &related, &raw, &collectedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Type = text[0].String
	inv.InvoiceType = text[1].String
	inv.InvoiceIdentification = text[2].String
	inv.Folio = text[3].String
	inv.Series = text[4].String
	inv.Status = text[5].String
	inv.CancelationStatus = text[6].String
	inv.Usage = text[7].String
	inv.Version = text[8].String
	inv.PaymentType = text[9].String
	inv.PaymentMethod = text[10].String
	inv.PlaceOfIssue = text[11].String
	inv.CertificationAuthority = text[12].String
	inv.SenderID = text[13].String
	inv.SenderName = text[14].String
	inv.SenderFiscalRegime = text[15].String
	inv.SenderPostalCode = text[16].String
	inv.ReceiverID = text[17].String
	inv.ReceiverName = text[18].String
	inv.ReceiverFiscalRegime = text[19].String
	inv.ReceiverPostalCode = text[20].String
	inv.Currency = text[21].String
	inv.InvoiceDate = timePtr(invoiceDate)
	inv.CertificationDate = timePtr(certificationDate)
	inv.CollectedAt = timePtr(collectedAt)
	inv.TaxDetails = rawJSON(taxDetails)
	inv.Payments = rawJSON(payments)
	inv.InvoiceDetails = rawJSON(details)
	inv.RelatedInvoices = rawJSON(related)
	inv.RawData = rawJSON(raw)
	return &inv, nil
}

func invoiceArgs(p fiscal.InvoiceParams) []any {
	return []any{
		nullString(p.Type), nullString(p.InvoiceType), nullString(p.InvoiceIdentification),
		nullString(p.Folio), nullString(p.Series), nullTime(p.InvoiceDate), nullString(p.Status),
		nullString(p.CancelationStatus), nullString(p.Usage), nullString(p.Version),
		nullString(p.PaymentType), nullString(p.PaymentMethod), nullString(p.PlaceOfIssue),
		nullTime(p.CertificationDate), nullString(p.CertificationAuthority), nullString(p.SenderID),
		nullString(p.SenderName), nullString(p.SenderFiscalRegime), nullString(p.SenderPostalCode),
		nullString(p.ReceiverID), nullString(p.ReceiverName), nullString(p.ReceiverFiscalRegime),
		nullString(p.ReceiverPostalCode), nullString(p.Currency), p.ExchangeRate, p.SubtotalAmount,
		p.DiscountAmount, p.TaxAmount, p.TotalAmount, nullJSON(p.TaxDetails), nullJSON(p.Payments),
		nullJSON(p.InvoiceDetails), nullJSON(p.RelatedInvoices), nullJSON(p.RawData), nullTime(p.CollectedAt),
	}
}

// invoiceMutable lists the columns refreshed on every sync, in invoiceArgs order.
var invoiceMutable = []string{
	"type", "invoice_type", "invoice_identification", "folio", "series", "invoice_date", "status",
	"cancelation_status", "usage", "version", "payment_type", "payment_method", "place_of_issue",
	"certification_date", "certification_authority", "sender_id", "sender_name", "sender_fiscal_regime",
	"sender_postal_code", "receiver_id", "receiver_name", "receiver_fiscal_regime", "receiver_postal_code",
	"currency", "exchange_rate", "subtotal_amount", "discount_amount", "tax_amount", "total_amount",
	"tax_details", "payments", "invoice_details", "related_invoices", "raw_data", "collected_at",
}

// GetInvoiceByExternalID retrieves an invoice by its provider id
func (r *FiscalRepository) GetInvoiceByExternalID(ctx context.Context, externalID string) (*fiscal.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE external_document_id = $1`

	inv, err := scanInvoice(r.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fiscal.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// CreateInvoice inserts an invoice, converging with a concurrent insert of
// the same provider id on the latest mutable fields.
func (r *FiscalRepository) CreateInvoice(ctx context.Context, params fiscal.InvoiceParams) (*fiscal.Invoice, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	insertCols := append([]string{"id", "customer_id", "link_id", "external_document_id"}, invoiceMutable...)
	updates := make([]string, 0, len(invoiceMutable)+1)
	for _, c := range invoiceMutable {
		updates = append(updates, c+" = EXCLUDED."+c)
	}
	updates = append(updates, "updated_at = NOW()")

	query := `INSERT INTO invoices (` + strings.Join(insertCols, ", ") + `)
		VALUES (` + placeholders(1, len(insertCols)) + `)
		ON CONFLICT (external_document_id) DO UPDATE SET ` + strings.Join(updates, ", ") + `
		RETURNING ` + invoiceColumns

	args := append([]any{uuid.New().String(), params.CustomerID, params.LinkID, params.ExternalDocumentID}, invoiceArgs(params)...)
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	return inv, nil
}

// UpdateInvoice applies the mutable projection to an existing invoice
func (r *FiscalRepository) UpdateInvoice(ctx context.Context, id string, params fiscal.InvoiceParams) (*fiscal.Invoice, error) {
	sets := make([]string, 0, len(invoiceMutable)+1)
	for i, c := range invoiceMutable {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+2))
	}
	sets = append(sets, "updated_at = NOW()")

	query := `UPDATE invoices SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + invoiceColumns

	inv, err := scanInvoice(r.db.QueryRowContext(ctx, query, append([]any{id}, invoiceArgs(params)...)...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fiscal.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update invoice: %w", err)
	}
	return inv, nil
}

// ListInvoices returns a page of a customer's invoices, newest first, and the total count
func (r *FiscalRepository) ListInvoices(ctx context.Context, customerID string, filter fiscal.InvoiceFilter) ([]*fiscal.Invoice, int, error) {
	where := " WHERE customer_id = $1"
	args := []any{customerID}
	if filter.From != nil {
		args = append(args, *filter.From)
		where += fmt.Sprintf(" AND invoice_date >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where += fmt.Sprintf(" AND invoice_date <= $%d", len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count invoices: %w", err)
	}

	n := len(args)
	query := `SELECT ` + invoiceColumns + ` FROM invoices` + where +
		fmt.Sprintf(" ORDER BY invoice_date DESC NULLS LAST, id LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, filter.Limit, filter.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]*fiscal.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating invoices: %w", err)
	}
	return invoices, total, nil
}

func scanTaxReturn(row rowScanner) (*fiscal.TaxReturn, error) {
	var tr fiscal.TaxReturn
	var year sql.NullString
	var collectedAt sql.NullTime
	var raw []byte

	err := row.Scan(
		&tr.ID, &tr.CustomerID, &tr.LinkID, &tr.ExternalDocumentID, &year,
		&tr.IncomeTax, &tr.NetIncome, &tr.GrossIncome, &raw, &collectedAt,
		&tr.CreatedAt, &tr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tr.FiscalYear = year.String
	tr.RawData = rawJSON(raw)
	tr.CollectedAt = timePtr(collectedAt)
	return &tr, nil
}

// GetTaxReturnByExternalID retrieves a tax return by its provider id
func (r *FiscalRepository) GetTaxReturnByExternalID(ctx context.Context, externalID string) (*fiscal.TaxReturn, error) {
	query := `SELECT ` + taxReturnColumns + ` FROM tax_returns WHERE external_document_id = $1`

	tr, err := scanTaxReturn(r.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fiscal.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tax return: %w", err)
	}
	return tr, nil
}

// CreateTaxReturn inserts a tax return, converging like CreateInvoice
func (r *FiscalRepository) CreateTaxReturn(ctx context.Context, params fiscal.TaxReturnParams) (*fiscal.TaxReturn, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO tax_returns (
			id, customer_id, link_id, external_document_id, fiscal_year, income_tax, net_income,
			gross_income, raw_data, collected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (external_document_id)
		DO UPDATE SET
			fiscal_year = EXCLUDED.fiscal_year,
			income_tax = EXCLUDED.income_tax,
			net_income = EXCLUDED.net_income,
			gross_income = EXCLUDED.gross_income,
			raw_data = EXCLUDED.raw_data,
			collected_at = EXCLUDED.collected_at,
			updated_at = NOW()
		RETURNING ` + taxReturnColumns

	tr, err := scanTaxReturn(r.db.QueryRowContext(ctx, query,
		uuid.New().String(), params.CustomerID, params.LinkID, params.ExternalDocumentID,
		nullString(params.FiscalYear), params.IncomeTax, params.NetIncome, params.GrossIncome,
		nullJSON(params.RawData), nullTime(params.CollectedAt),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create tax return: %w", err)
	}
	return tr, nil
}

// UpdateTaxReturn applies the mutable projection to an existing tax return
func (r *FiscalRepository) UpdateTaxReturn(ctx context.Context, id string, params fiscal.TaxReturnParams) (*fiscal.TaxReturn, error) {
	query := `
		UPDATE tax_returns
		SET fiscal_year = $2, income_tax = $3, net_income = $4, gross_income = $5, raw_data = $6,
		    collected_at = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + taxReturnColumns

	tr, err := scanTaxReturn(r.db.QueryRowContext(ctx, query,
		id, nullString(params.FiscalYear), params.IncomeTax, params.NetIncome, params.GrossIncome,
		nullJSON(params.RawData), nullTime(params.CollectedAt),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fiscal.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update tax return: %w", err)
	}
	return tr, nil
}

// ListTaxReturns returns a page of a customer's tax returns, latest year first, and the total count
func (r *FiscalRepository) ListTaxReturns(ctx context.Context, customerID string, page fiscal.Page) ([]*fiscal.TaxReturn, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tax_returns WHERE customer_id = $1`, customerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tax returns: %w", err)
	}

	query := `
		SELECT ` + taxReturnColumns + `
		FROM tax_returns
		WHERE customer_id = $1
		ORDER BY fiscal_year DESC NULLS LAST, id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, customerID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tax returns: %w", err)
	}
	defer rows.Close()

	returns := make([]*fiscal.TaxReturn, 0)
	for rows.Next() {
		tr, err := scanTaxReturn(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan tax return: %w", err)
		}
		returns = append(returns, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating tax returns: %w", err)
	}
	return returns, total, nil
}

// placeholders renders "$from, ..., $(from+n-1)".
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}
