package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMetricsServer(t *testing.T) {
	srv := newMetricsServer("9191")
	if srv.Addr != ":9191" {
		t.Errorf("Addr = %q, want :9191", srv.Addr)
	}

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", rr.Code)
	}

	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/other", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("GET /other = %d, want 404", rr.Code)
	}
}
