package account

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"finsync/internal/shared/errs"
)

// Domain errors
var (
	ErrAccountNotFound = errs.New(errs.ErrNotFound, "account not found")
	// ErrOwnedElsewhere is returned when a provider account is already
	// mirrored for a different customer.
	ErrOwnedElsewhere = errs.New(errs.ErrConflict, "provider account belongs to another customer")
	ErrInvalidInput   = errs.New(errs.ErrValidation, "invalid input")
)

// Account is a provider account mirrored locally
type Account struct {
	ID                string              `json:"id"`
	CustomerID        string              `json:"customerId"`
	LinkID            string              `json:"linkId"`
	ExternalAccountID string              `json:"externalAccountId"`
	Institution       string              `json:"institution"`
	InstitutionType   string              `json:"institutionType"`
	Name              string              `json:"name"`
	Type              string              `json:"type"`
	Category          string              `json:"category"`
	Number            string              `json:"number"`
	CurrentBalance    decimal.Decimal     `json:"currentBalance"`
	AvailableBalance  decimal.NullDecimal `json:"availableBalance"`
	Currency          string              `json:"currency"`
	RawData           json.RawMessage     `json:"-"`
	LastSyncedAt      *time.Time          `json:"lastSyncedAt"`
	UnlinkedAt        *time.Time          `json:"unlinkedAt,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// CreateParams contains everything copied from the provider on first sight.
type CreateParams struct {
	CustomerID        string
	LinkID            string
	ExternalAccountID string
	Institution       string
	InstitutionType   string
	Name              string
	Type              string
	Category          string
	Number            string
	CurrentBalance    decimal.Decimal
	AvailableBalance  decimal.NullDecimal
	Currency          string
	RawData           json.RawMessage
	SyncedAt          time.Time
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.CustomerID == "" {
		return errs.New(errs.ErrValidation, "customer ID is required")
	}
	if p.ExternalAccountID == "" {
		return errs.New(errs.ErrValidation, "external account ID is required")
	}
	if !IsValidCurrency(p.Currency) {
		return errs.New(errs.ErrValidation, "valid ISO 4217 currency is required")
	}
	return nil
}

// SnapshotParams is the mutable projection refreshed on every sync pass.
type SnapshotParams struct {
	LinkID           string
	Name             string
	Category         string
	CurrentBalance   decimal.Decimal
	AvailableBalance decimal.NullDecimal
	RawData          json.RawMessage
	SyncedAt         time.Time
}

// Balance is the per-currency aggregate of a customer's accounts.
type Balance struct {
	Currency         string          `json:"currency"`
	Accounts         int             `json:"accounts"`
	CurrentBalance   decimal.Decimal `json:"currentBalance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}

// IsValidCurrency checks for a three-letter upper-case ISO 4217 code.
func IsValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	return true
}
