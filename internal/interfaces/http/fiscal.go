package http

import (
	"context"
	"net/http"

	"finsync/internal/domain/fiscal"
	"finsync/internal/shared/errs"
)

// FiscalService reads the customer's mirrored fiscal documents.
type FiscalService interface {
	GetInvoices(ctx context.Context, customerID string, filter fiscal.InvoiceFilter) (*fiscal.InvoicePage, error)
	GetTaxReturns(ctx context.Context, customerID string, page fiscal.Page) (*fiscal.TaxReturnPage, error)
}

type FiscalHandler struct {
	fiscal FiscalService
}

// NewFiscalHandler creates a new fiscal document handler
func NewFiscalHandler(fiscalDocs FiscalService) *FiscalHandler {
	return &FiscalHandler{fiscal: fiscalDocs}
}

// HandleListInvoices returns a page of invoices.
// Query parameters: page, limit, from and to.
func (h *FiscalHandler) HandleListInvoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	filter, err := parseInvoiceFilter(r)
	if err != nil {
		writeError(w, customerID, "list invoices", err)
		return
	}

	page, err := h.fiscal.GetInvoices(r.Context(), customerID, filter)
	if err != nil {
		writeError(w, customerID, "list invoices", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// HandleListTaxReturns returns a page of tax returns
func (h *FiscalHandler) HandleListTaxReturns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	page, err := parsePage(r)
	if err != nil {
		writeError(w, customerID, "list tax returns", err)
		return
	}

	result, err := h.fiscal.GetTaxReturns(r.Context(), customerID, page)
	if err != nil {
		writeError(w, customerID, "list tax returns", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func parsePage(r *http.Request) (fiscal.Page, error) {
	var (
		p   fiscal.Page
		err error
	)
	if p.Page, err = queryInt(r, "page"); err != nil {
		return p, err
	}
	if p.Limit, err = queryInt(r, "limit"); err != nil {
		return p, err
	}
	return p, nil
}

func parseInvoiceFilter(r *http.Request) (fiscal.InvoiceFilter, error) {
	var (
		filter fiscal.InvoiceFilter
		err    error
	)
	if filter.Page, err = parsePage(r); err != nil {
		return filter, err
	}
	if filter.From, err = queryTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		return filter, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, errs.New(errs.ErrValidation, "to must not be before from")
	}
	return filter, nil
}
