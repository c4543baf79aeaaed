package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func TestMetricsPreservesStatus(t *testing.T) {
	t.Parallel()

	r := mux.NewRouter()
	r.Use(Metrics)
	r.HandleFunc("/api/index/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/index/status", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}

func TestLoggingPassesThrough(t *testing.T) {
	t.Parallel()

	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestRouteFallsBackToPath(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	if got := route(req); got != "/raw/path" {
		t.Errorf("route() = %q, want /raw/path", got)
	}
}
