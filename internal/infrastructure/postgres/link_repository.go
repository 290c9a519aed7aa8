package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"finsync/internal/domain/link"
)

const linkColumns = `id, link_id, customer_id, status, linked_at, institution_tag, institution, created_at, updated_at, deleted_at`

// LinkRepository implements the link.Repository interface for PostgreSQL
type LinkRepository struct {
	db *DB
}

var _ link.Repository = (*LinkRepository)(nil)

// NewLinkRepository creates a new PostgreSQL link repository
func NewLinkRepository(db *DB) *LinkRepository {
	return &LinkRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*link.Link, error) {
	var l link.Link
	var status string
	var tag, institution sql.NullString
	var linkedAt, deletedAt sql.NullTime

	err := row.Scan(
		&l.ID, &l.LinkID, &l.CustomerID, &status, &linkedAt, &tag, &institution,
		&l.CreatedAt, &l.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Status = link.Status(status)
	l.InstitutionTag = tag.String
	l.Institution = institution.String
	l.LinkedAt = timePtr(linkedAt)
	l.DeletedAt = timePtr(deletedAt)
	return &l, nil
}

// GetCurrent retrieves the customer's non-deleted link
func (r *LinkRepository) GetCurrent(ctx context.Context, customerID string) (*link.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE customer_id = $1 AND deleted_at IS NULL`

	l, err := scanLink(r.db.QueryRowContext(ctx, query, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, link.ErrNoLink
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return l, nil
}

// CreatePending inserts a pending link; the partial unique index rejects a
// second live link for the customer.
func (r *LinkRepository) CreatePending(ctx context.Context, customerID, linkID string) (*link.Link, error) {
	query := `
		INSERT INTO links (id, link_id, customer_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + linkColumns

	l, err := scanLink(r.db.QueryRowContext(ctx, query, uuid.New().String(), linkID, customerID, string(link.StatusPending)))
	if isUniqueViolation(err) {
		return nil, link.ErrAlreadyLinked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}
	return l, nil
}

// Activate moves a pending link to active
func (r *LinkRepository) Activate(ctx context.Context, id string, params link.ActivateParams) (*link.Link, error) {
	query := `
		UPDATE links
		SET status = $2, link_id = $3, institution = $4, institution_tag = $5, linked_at = $6, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + linkColumns

	l, err := scanLink(r.db.QueryRowContext(ctx, query,
		id, string(link.StatusActive), params.LinkID,
		nullString(params.Institution), nullString(params.InstitutionTag), params.LinkedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, link.ErrNoLink
	}
	if err != nil {
		return nil, fmt.Errorf("failed to activate link: %w", err)
	}
	return l, nil
}

// SetStatus changes the status of a non-deleted link
func (r *LinkRepository) SetStatus(ctx context.Context, id string, status link.Status) error {
	query := `UPDATE links SET status = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	return r.execOne(ctx, "update link status", query, id, string(status))
}

// SoftDelete unlinks a link, keeping the row
func (r *LinkRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE links SET status = $2, deleted_at = $3, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	return r.execOne(ctx, "delete link", query, id, string(link.StatusUnlinked), at)
}

func (r *LinkRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return link.ErrNoLink
	}
	return nil
}

// FindActiveByLinkID returns the active link with the provider id
func (r *LinkRepository) FindActiveByLinkID(ctx context.Context, linkID string) (*link.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE link_id = $1 AND status = $2 AND deleted_at IS NULL LIMIT 1`

	l, err := scanLink(r.db.QueryRowContext(ctx, query, linkID, string(link.StatusActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, link.ErrNoLink
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find link: %w", err)
	}
	return l, nil
}

// ListActive returns every active link
func (r *LinkRepository) ListActive(ctx context.Context) ([]*link.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE status = $1 AND deleted_at IS NULL ORDER BY linked_at`

	rows, err := r.db.QueryContext(ctx, query, string(link.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []*link.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}
	return links, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
