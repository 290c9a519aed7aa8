package http

import (
	"context"
	"net/http"

	"finsync/internal/domain/openfinance"
)

// SyncService triggers syncs and reports their progress.
type SyncService interface {
	TriggerSync(ctx context.Context, customerID string) (*openfinance.SyncOutcome, error)
	TriggerFiscalSync(ctx context.Context, customerID string) (*openfinance.SyncOutcome, error)
	GetSyncStatus(ctx context.Context, customerID string) (*openfinance.SyncStatus, error)
}

type SyncHandler struct {
	syncs SyncService
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(syncs SyncService) *SyncHandler {
	return &SyncHandler{syncs: syncs}
}

// SyncResponse is the outcome of a manual sync. Error is set when the run
// finished with a failure; the counters still show what was done.
type SyncResponse struct {
	*openfinance.SyncOutcome
	Error string `json:"error,omitempty"`
}

// HandleTriggerSync runs the sync path matching the customer's link
func (h *SyncHandler) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, "sync", h.syncs.TriggerSync)
}

// HandleTriggerFiscalSync re-fetches the customer's fiscal documents
func (h *SyncHandler) HandleTriggerFiscalSync(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, "fiscal sync", h.syncs.TriggerFiscalSync)
}

func (h *SyncHandler) trigger(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	run func(ctx context.Context, customerID string) (*openfinance.SyncOutcome, error),
) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	outcome, err := run(r.Context(), customerID)
	if err != nil {
		writeError(w, customerID, action, err)
		return
	}

	status := http.StatusOK
	resp := SyncResponse{SyncOutcome: outcome}
	if outcome.Err != nil {
		status = statusFor(outcome.Err)
		resp.Error = outcome.Err.Error()
	}

	writeJSON(w, status, resp)
}

// HandleSyncStatus counts the customer's queued sync jobs by state
func (h *SyncHandler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	status, err := h.syncs.GetSyncStatus(r.Context(), customerID)
	if err != nil {
		writeError(w, customerID, "get sync status", err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
