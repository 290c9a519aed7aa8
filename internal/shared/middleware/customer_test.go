package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCustomer(t *testing.T) {
	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedID     string
	}{
		{name: "Header Present", header: "C1", expectedStatus: http.StatusOK, expectedID: "C1"},
		{name: "Header Trimmed", header: "  C2 ", expectedStatus: http.StatusOK, expectedID: "C2"},
		{name: "No Header", header: "", expectedStatus: http.StatusUnauthorized},
		{name: "Blank Header", header: "   ", expectedStatus: http.StatusUnauthorized},
		{name: "Too Long", header: strings.Repeat("x", 200), expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, ok := CustomerID(r.Context())
				if !ok {
					t.Error("Expected customer ID in context, got none")
				}
				if id != tt.expectedID {
					t.Errorf("Expected customer ID %q, got %q", tt.expectedID, id)
				}
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(CustomerIDHeader, tt.header)
			}
			rr := httptest.NewRecorder()

			Customer(nextHandler).ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
		})
	}
}

func TestCustomerID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := CustomerID(req.Context()); ok {
		t.Error("CustomerID() reported a customer on a bare context")
	}
}
