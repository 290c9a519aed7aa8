package account

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"finsync/internal/shared/errs"
)

// Service contains the read-side business logic for accounts
type Service struct {
	repo Repository
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListAccounts returns the linked accounts of a customer
func (s *Service) ListAccounts(ctx context.Context, customerID string) ([]*Account, error) {
	if customerID == "" {
		return nil, errs.New(errs.ErrValidation, "customer ID is required")
	}
	return s.repo.ListByCustomer(ctx, customerID)
}

// Balances sums current and available balances per currency.
// Accounts without an available balance contribute their current balance.
func (s *Service) Balances(ctx context.Context, customerID string) ([]Balance, error) {
	accounts, err := s.ListAccounts(ctx, customerID)
	if err != nil {
		return nil, err
	}

	byCurrency := make(map[string]*Balance)
	for _, acc := range accounts {
		b, ok := byCurrency[acc.Currency]
		if !ok {
			b = &Balance{Currency: acc.Currency, CurrentBalance: decimal.Zero, AvailableBalance: decimal.Zero}
			byCurrency[acc.Currency] = b
		}
		b.Accounts++
		b.CurrentBalance = b.CurrentBalance.Add(acc.CurrentBalance)
		if acc.AvailableBalance.Valid {
			b.AvailableBalance = b.AvailableBalance.Add(acc.AvailableBalance.Decimal)
		} else {
			b.AvailableBalance = b.AvailableBalance.Add(acc.CurrentBalance)
		}
	}

	balances := make([]Balance, 0, len(byCurrency))
	for _, b := range byCurrency {
		balances = append(balances, *b)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Currency < balances[j].Currency })
	return balances, nil
}
