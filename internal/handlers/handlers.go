// Package handlers exposes the service's HTTP surface: health and readiness
// probes, the index status and manual-reindex endpoints, name search, and
// the Prometheus metrics handler.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"photovault/internal/catalog"
	"photovault/internal/indexer"
	"photovault/internal/kv"
	"photovault/internal/logging"
	"photovault/internal/middleware"
)

// Handlers carries the dependencies of every endpoint.
type Handlers struct {
	cat     *catalog.Catalog
	store   kv.Store
	worker  *indexer.Worker
	version string
	started time.Time

	// workerAlive reports whether the indexer actor loop is still running.
	workerAlive func() bool
}

// New wires the handler set. workerAlive may be nil, which reads as healthy.
func New(cat *catalog.Catalog, store kv.Store, worker *indexer.Worker, version string, workerAlive func() bool) *Handlers {
	return &Handlers{
		cat:         cat,
		store:       store,
		worker:      worker,
		version:     version,
		started:     time.Now(),
		workerAlive: workerAlive,
	}
}

// Router builds the API router with the shared middleware chain.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging, middleware.Metrics)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/livez", h.Livez).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.Readyz).Methods(http.MethodGet, http.MethodHead)

	r.HandleFunc("/api/index/status", h.IndexStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/reindex", h.Reindex).Methods(http.MethodPost)
	r.HandleFunc("/api/search", h.Search).Methods(http.MethodGet)
	return r
}

// MetricsRouter builds the router served on the metrics port.
func (h *Handlers) MetricsRouter() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/livez", h.Livez).Methods(http.MethodGet, http.MethodHead)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to encode response: %v", err)
	}
}
