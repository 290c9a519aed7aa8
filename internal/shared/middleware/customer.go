package middleware

import (
	"context"
	"net/http"
	"strings"
)

type ContextKey string

const (
	CustomerIDKey ContextKey = "customer_id"

	// CustomerIDHeader carries the caller's customer identity. It is set by
	// the authenticating gateway in front of this service.
	CustomerIDHeader = "X-Customer-ID"

	maxCustomerIDLength = 128
)

// Customer puts the X-Customer-ID header value into the request context.
// Requests without one are rejected with 401.
func Customer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		customerID := strings.TrimSpace(r.Header.Get(CustomerIDHeader))
		if customerID == "" {
			http.Error(w, "Customer identity required", http.StatusUnauthorized)
			return
		}
		if len(customerID) > maxCustomerIDLength {
			http.Error(w, "Invalid customer identity", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), CustomerIDKey, customerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CustomerID returns the customer identity stored by Customer.
func CustomerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(CustomerIDKey).(string)
	return id, ok && id != ""
}
