package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"finsync/internal/shared/errs"
	"finsync/internal/shared/middleware"
)

// statusFor maps an error kind to the HTTP status returned to callers.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrNotFound:
		return http.StatusNotFound
	case errs.ErrConflict:
		return http.StatusConflict
	case errs.ErrValidation:
		return http.StatusBadRequest
	case errs.ErrUpstreamUnavailable:
		return http.StatusBadGateway
	case errs.ErrQueueUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError answers with the status of err's kind. Errors without a kind
// are logged and hidden behind a generic message.
func writeError(w http.ResponseWriter, customerID, action string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("Customer %s: %s failed: %v", customerID, action, err)
		http.Error(w, "Failed to "+action, status)
		return
	}
	if status >= 500 {
		log.Printf("Customer %s: %s failed: %v", customerID, action, err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// requireCustomer returns the caller's customer ID, answering 401 when the
// request carries none.
func requireCustomer(w http.ResponseWriter, r *http.Request) (string, bool) {
	customerID, ok := middleware.CustomerID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return customerID, true
}

// queryTime parses an optional date query parameter. Both 2006-01-02 and
// RFC 3339 are accepted.
func queryTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, errs.New(errs.ErrValidation, key+" must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errs.New(errs.ErrValidation, key+" must be a positive integer")
	}
	return n, nil
}

// HandleHealth reports liveness.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// Pinger is anything whose reachability gates readiness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HandleReady reports whether the database is reachable.
func HandleReady(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			log.Printf("Readiness check failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
