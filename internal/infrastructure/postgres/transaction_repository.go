package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"finsync/internal/domain/transaction"
)

const transactionColumns = `id, customer_id, account_id, external_transaction_id, external_account_id, amount, balance,
	currency, description, observations, category, subcategory, type, status, merchant, reference,
	value_date, accounting_date, collected_at, raw_data, created_at`

// TransactionRepository implements the transaction.Repository interface for PostgreSQL
type TransactionRepository struct {
	db *DB
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func scanTransaction(row rowScanner) (*transaction.Transaction, error) {
	var tx transaction.Transaction
	var description, observations, category, subcategory, txType, status, merchant, reference sql.NullString
	var valueDate, accountingDate, collectedAt sql.NullTime
	var raw []byte

	err := row.Scan(
		&tx.ID, &tx.CustomerID, &tx.AccountID, &tx.ExternalTransactionID, &tx.ExternalAccountID,
		&tx.Amount, &tx.Balance, &tx.Currency, &description, &observations, &category, &subcategory,
		&txType, &status, &merchant, &reference, &valueDate, &accountingDate, &collectedAt, &raw,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Description = description.String
	tx.Observations = observations.String
	tx.Category = category.String
	tx.Subcategory = subcategory.String
	tx.Type = txType.String
	tx.Status = status.String
	tx.Merchant = merchant.String
	tx.Reference = reference.String
	tx.ValueDate = timePtr(valueDate)
	tx.AccountingDate = timePtr(accountingDate)
	tx.CollectedAt = timePtr(collectedAt)
	tx.RawData = rawJSON(raw)
	return &tx, nil
}

// Exists reports whether a transaction with the provider id is stored
func (r *TransactionRepository) Exists(ctx context.Context, externalTransactionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE external_transaction_id = $1)`,
		externalTransactionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction: %w", err)
	}
	return exists, nil
}

// CreateIfAbsent inserts the transaction unless the provider id is already
// stored. The stored row is returned untouched in that case.
func (r *TransactionRepository) CreateIfAbsent(ctx context.Context, params transaction.CreateParams) (*transaction.Transaction, bool, error) {
	if err := params.Validate(); err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO transactions (
			id, customer_id, account_id, external_transaction_id, external_account_id, amount, balance,
			currency, description, observations, category, subcategory, type, status, merchant, reference,
			value_date, accounting_date, collected_at, raw_data
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (external_transaction_id) DO NOTHING
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		uuid.New().String(), params.CustomerID, params.AccountID, params.ExternalTransactionID,
		params.ExternalAccountID, params.Amount, params.Balance, params.Currency,
		nullString(params.Description), nullString(params.Observations), nullString(params.Category),
		nullString(params.Subcategory), nullString(params.Type), nullString(params.Status),
		nullString(params.Merchant), nullString(params.Reference), nullTime(params.ValueDate),
		nullTime(params.AccountingDate), nullTime(params.CollectedAt), nullJSON(params.RawData),
	))
	if err == nil {
		return tx, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create transaction: %w", err)
	}

	existing, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE external_transaction_id = $1`,
		params.ExternalTransactionID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to get existing transaction: %w", err)
	}
	return existing, false, nil
}

// ListByCustomer returns a customer's transactions, newest value date first
func (r *TransactionRepository) ListByCustomer(ctx context.Context, customerID string, filter transaction.ListFilter) ([]*transaction.Transaction, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE customer_id = $1`)
	args := []any{customerID}

	if filter.From != nil {
		args = append(args, *filter.From)
		fmt.Fprintf(&b, " AND value_date >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		fmt.Fprintf(&b, " AND value_date <= $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = transaction.DefaultListLimit
	}
	if limit > transaction.MaxListLimit {
		limit = transaction.MaxListLimit
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY value_date DESC NULLS LAST, created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}
