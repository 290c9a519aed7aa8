package http

import (
	"context"
	"net/http"

	"finsync/internal/domain/account"
)

// AccountService reads the customer's mirrored accounts.
type AccountService interface {
	GetAccounts(ctx context.Context, customerID string) ([]*account.Account, error)
	GetBalances(ctx context.Context, customerID string) ([]account.Balance, error)
}

type AccountHandler struct {
	accounts AccountService
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(accounts AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// HandleListAccounts returns every linked account of the customer
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	accounts, err := h.accounts.GetAccounts(r.Context(), customerID)
	if err != nil {
		writeError(w, customerID, "list accounts", err)
		return
	}
	if accounts == nil {
		accounts = []*account.Account{}
	}

	writeJSON(w, http.StatusOK, accounts)
}

// HandleBalances returns the customer's balances summed per currency
func (h *AccountHandler) HandleBalances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	balances, err := h.accounts.GetBalances(r.Context(), customerID)
	if err != nil {
		writeError(w, customerID, "get balances", err)
		return
	}
	if balances == nil {
		balances = []account.Balance{}
	}

	writeJSON(w, http.StatusOK, balances)
}
