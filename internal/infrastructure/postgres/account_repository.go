package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"finsync/internal/domain/account"
)

const accountColumns = `id, customer_id, link_id, external_account_id, institution, institution_type, name, type,
	category, number, current_balance, available_balance, currency, raw_data, last_synced_at, unlinked_at,
	created_at, updated_at`

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

var _ account.Repository = (*AccountRepository)(nil)

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func scanAccount(row rowScanner) (*account.Account, error) {
	var acc account.Account
	var institution, institutionType, accType, category, number sql.NullString
	var raw []byte
	var lastSynced, unlinked sql.NullTime

	err := row.Scan(
		&acc.ID, &acc.CustomerID, &acc.LinkID, &acc.ExternalAccountID, &institution, &institutionType,
		&acc.Name, &accType, &category, &number, &acc.CurrentBalance, &acc.AvailableBalance,
		&acc.Currency, &raw, &lastSynced, &unlinked, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	acc.Institution = institution.String
	acc.InstitutionType = institutionType.String
	acc.Type = accType.String
	acc.Category = category.String
	acc.Number = number.String
	acc.RawData = rawJSON(raw)
	acc.LastSyncedAt = timePtr(lastSynced)
	acc.UnlinkedAt = timePtr(unlinked)
	return &acc, nil
}

// GetByExternalID retrieves an account by its provider id
func (r *AccountRepository) GetByExternalID(ctx context.Context, externalAccountID string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE external_account_id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, externalAccountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// Create inserts an account. A racing insert of the same provider account
// by the same customer turns into a snapshot update; the guarded DO UPDATE
// matches no row when another customer owns it.
func (r *AccountRepository) Create(ctx context.Context, params account.CreateParams) (*account.Account, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO accounts (
			id, customer_id, link_id, external_account_id, institution, institution_type, name, type,
			category, number, current_balance, available_balance, currency, raw_data, last_synced_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (external_account_id)
		DO UPDATE SET
			link_id = EXCLUDED.link_id,
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			current_balance = EXCLUDED.current_balance,
			available_balance = EXCLUDED.available_balance,
			raw_data = EXCLUDED.raw_data,
			last_synced_at = EXCLUDED.last_synced_at,
			unlinked_at = NULL,
			updated_at = NOW()
		WHERE accounts.customer_id = EXCLUDED.customer_id
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query,
		uuid.New().String(), params.CustomerID, params.LinkID, params.ExternalAccountID,
		nullString(params.Institution), nullString(params.InstitutionType), params.Name, nullString(params.Type),
		nullString(params.Category), nullString(params.Number), params.CurrentBalance, params.AvailableBalance,
		params.Currency, nullJSON(params.RawData), params.SyncedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrOwnedElsewhere
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acc, nil
}

// UpdateSnapshot refreshes the mutable fields of an account
func (r *AccountRepository) UpdateSnapshot(ctx context.Context, id string, params account.SnapshotParams) (*account.Account, error) {
	query := `
		UPDATE accounts
		SET link_id = $2, name = $3, category = $4, current_balance = $5, available_balance = $6,
		    raw_data = $7, last_synced_at = $8, unlinked_at = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query,
		id, params.LinkID, params.Name, nullString(params.Category), params.CurrentBalance,
		params.AvailableBalance, nullJSON(params.RawData), params.SyncedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return acc, nil
}

// ListByCustomer retrieves the linked accounts of a customer
func (r *AccountRepository) ListByCustomer(ctx context.Context, customerID string) ([]*account.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE customer_id = $1 AND unlinked_at IS NULL
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// MarkUnlinked stamps unlinked_at on every account of a link
func (r *AccountRepository) MarkUnlinked(ctx context.Context, linkID string, at time.Time) (int64, error) {
	query := `UPDATE accounts SET unlinked_at = $2, updated_at = NOW() WHERE link_id = $1 AND unlinked_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, linkID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to unlink accounts: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}
