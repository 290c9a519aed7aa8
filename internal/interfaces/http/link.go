package http

import (
	"context"
	"encoding/json"
	"net/http"

	"finsync/internal/domain/link"
)

// LinkService is the link lifecycle as exposed to callers.
type LinkService interface {
	ActivateLink(ctx context.Context, customerID, linkID string) (*link.Result, error)
	DeactivateLink(ctx context.Context, customerID string) error
	GetLinkStatus(ctx context.Context, customerID string) (*link.LinkStatus, error)
}

type LinkHandler struct {
	links LinkService
}

// NewLinkHandler creates a new link handler
func NewLinkHandler(links LinkService) *LinkHandler {
	return &LinkHandler{links: links}
}

// ActivateLinkRequest carries the provider link the customer just created.
type ActivateLinkRequest struct {
	LinkID string `json:"linkId"`
}

// HandleActivate links the customer and kicks off the initial sync. The sync
// runs in the background; its progress is visible through the sync status.
func (h *LinkHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	var req ActivateLinkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.LinkID == "" {
		http.Error(w, "linkId is required", http.StatusBadRequest)
		return
	}

	result, err := h.links.ActivateLink(r.Context(), customerID, req.LinkID)
	if err != nil {
		writeError(w, customerID, "activate link", err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// HandleDeactivate unlinks the customer's link
func (h *LinkHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	if err := h.links.DeactivateLink(r.Context(), customerID); err != nil {
		writeError(w, customerID, "deactivate link", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleStatus reports the customer's link state
func (h *LinkHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	customerID, ok := requireCustomer(w, r)
	if !ok {
		return
	}

	status, err := h.links.GetLinkStatus(r.Context(), customerID)
	if err != nil {
		writeError(w, customerID, "get link status", err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
