package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsHostAllowed(t *testing.T) {
	tests := []struct {
		name         string
		host         string
		allowedHosts []string
		want         bool
	}{
		{"empty list allows all", "example.com", nil, true},
		{"exact match", "example.com:8080", []string{"example.com:8080"}, true},
		{"host without port", "example.com", []string{"example.com:8080"}, true},
		{"allowed without port", "example.com:8080", []string{"example.com"}, true},
		{"IPv6 loopback", "[::1]:8080", []string{"::1"}, true},
		{"IPv6 bare host", "::1", []string{"[::1]:8080"}, true},
		{"IPv6 zone", "[fe80::1%lo0]:8080", []string{"fe80::1%lo0"}, true},
		{"case and whitespace", "  Example.COM:8080 ", []string{" example.com "}, true},
		{"second in list", "api.example.com", []string{"example.com", "api.example.com"}, true},
		{"no match", "evil.com", []string{"example.com"}, false},
		{"subdomain mismatch", "sub.example.com", []string{"example.com"}, false},
		{"IPv6 different address", "[::2]:8080", []string{"[::1]:8080"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHostAllowed(tt.host, tt.allowedHosts); got != tt.want {
				t.Errorf("IsHostAllowed(%q, %v) = %v, want %v", tt.host, tt.allowedHosts, got, tt.want)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	HSTS(NoStore(next)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))

	if got := rr.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("missing Strict-Transport-Security header")
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}
