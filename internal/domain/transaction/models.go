package transaction

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/shared/errs"
)

// Domain errors
var (
	ErrTransactionNotFound = errs.New(errs.ErrNotFound, "transaction not found")
)

// Transaction is an immutable financial event mirrored from the provider.
// Amount and dates never change after the first insert.
type Transaction struct {
	ID                    string              `json:"id"`
	CustomerID            string              `json:"customerId"`
	AccountID             string              `json:"accountId"`
	ExternalTransactionID string              `json:"externalTransactionId"`
	ExternalAccountID     string              `json:"externalAccountId"`
	Amount                decimal.Decimal     `json:"amount"`
	Balance               decimal.NullDecimal `json:"balance"`
	Currency              string              `json:"currency"`
	Description           string              `json:"description"`
	Observations          string              `json:"observations,omitempty"`
	Category              string              `json:"category,omitempty"`
	Subcategory           string              `json:"subcategory,omitempty"`
	Type                  string              `json:"type"`   // INFLOW or OUTFLOW
	Status                string              `json:"status"` // PROCESSED, PENDING, UNCATEGORIZED
	Merchant              string              `json:"merchant,omitempty"`
	Reference             string              `json:"reference,omitempty"`
	ValueDate             *time.Time          `json:"valueDate"`
	AccountingDate        *time.Time          `json:"accountingDate"`
	CollectedAt           *time.Time          `json:"collectedAt"`
	RawData               json.RawMessage     `json:"-"`
	CreatedAt             time.Time           `json:"createdAt"`
}

// CreateParams carries every field captured on first insert.
type CreateParams struct {
	CustomerID            string
	AccountID             string
	ExternalTransactionID string
	ExternalAccountID     string
	Amount                decimal.Decimal
	Balance               decimal.NullDecimal
	Currency              string
	Description           string
	Observations          string
	Category              string
	Subcategory           string
	Type                  string
	Status                string
	Merchant              string
	Reference             string
	ValueDate             *time.Time
	AccountingDate        *time.Time
	CollectedAt           *time.Time
	RawData               json.RawMessage
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.CustomerID == "" {
		return errs.New(errs.ErrValidation, "customer ID is required")
	}
	if p.AccountID == "" {
		return errs.New(errs.ErrValidation, "account ID is required")
	}
	if p.ExternalTransactionID == "" {
		return errs.New(errs.ErrValidation, "external transaction ID is required")
	}
	return nil
}

// ListFilter restricts a customer's transaction listing.
type ListFilter struct {
	From  *time.Time
	To    *time.Time
	Limit int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)
