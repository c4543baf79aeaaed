package handlers

import (
	"net/http"
	"runtime"
	"time"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// Issue codes reported by /health.
const (
	IssueRedisUnavailable = "redis_unavailable"
	IssueWorkerIndexer    = "worker_indexer"
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string   `json:"status"`
	Version  string   `json:"version"`
	Uptime   string   `json:"uptime"`
	Issues   []string `json:"issues,omitempty"`
	Indexing bool     `json:"indexing"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// Health reports overall service health: 200 when no issue codes are
// present, 503 otherwise. Redis being down is still a 503-worthy issue even
// though the service degrades to local mode, so operators see it.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	issues := h.cat.HealthIssues(r.Context())
	if !h.store.Available() {
		issues = append(issues, IssueRedisUnavailable)
	}
	if h.workerAlive != nil && !h.workerAlive() {
		issues = append(issues, IssueWorkerIndexer)
	}

	resp := HealthResponse{
		Status:       statusHealthy,
		Version:      h.version,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		Issues:       issues,
		Indexing:     h.worker.IndexingInProgress(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	status := http.StatusOK
	if len(issues) > 0 {
		resp.Status = statusDegraded
		status = http.StatusServiceUnavailable
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, resp)
}

// Livez always answers 200 while the process serves requests.
func (h *Handlers) Livez(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readyz answers 200 once the catalog is open and its schema is present.
// A running rebuild does not make the service unready; reads keep working.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if issues := h.cat.HealthIssues(r.Context()); len(issues) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"issues": issues,
		})
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
