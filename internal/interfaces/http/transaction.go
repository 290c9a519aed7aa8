package http

import (
	"context"
	"net/http"

	"finsync/internal/domain/transaction"
	"finsync/internal/shared/errs"
)

// TransactionService reads the customer's mirrored transactions.
type TransactionService interface {
	GetTransactions(ctx context.Context, customerID string, filter transaction.ListFilter) ([]*transaction.Transaction, error)
}

type TransactionHandler struct {
	transactions TransactionService
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(transactions TransactionService) *TransactionHandler {
	return &TransactionHandler{transactions: transactions}
}

// HandleListTransactions returns the customer's transactions, newest first.
// Query parameters: from, to (dates) and limit.
func (h *TransactionHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	filter, err := parseTransactionFilter(r)
	if err != nil {
		writeError(w, customerID, "list transactions", err)
		return
	}

	transactions, err := h.transactions.GetTransactions(r.Context(), customerID, filter)
	if err != nil {
		writeError(w, customerID, "list transactions", err)
		return
	}
	if transactions == nil {
		transactions = []*transaction.Transaction{}
	}

	writeJSON(w, http.StatusOK, transactions)
}

func parseTransactionFilter(r *http.Request) (transaction.ListFilter, error) {
	var (
		filter transaction.ListFilter
		err    error
	)
	if filter.From, err = queryTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		return filter, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, errs.New(errs.ErrValidation, "to must not be before from")
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		return filter, err
	}
	return filter, nil
}
