package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"photovault/internal/catalog"
	"photovault/internal/indexer"
	"photovault/internal/logging"
)

// IndexStatusResponse is the /api/index/status body.
type IndexStatusResponse struct {
	Status         string `json:"status"`
	ProcessedFiles int64  `json:"processedFiles"`
	TotalFiles     int64  `json:"totalFiles"`
	LastUpdated    int64  `json:"lastUpdated"`
	ResumeCursor   string `json:"resumeCursor,omitempty"`
	TotalItems     int64  `json:"totalItems"`
}

// IndexStatus reports the catalog build state, including any crash-recovery
// resume cursor.
func (h *Handlers) IndexStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	st, err := h.cat.GetIndexStatus(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "status unavailable"})
		return
	}
	cursor, err := h.cat.GetProgress(ctx, catalog.ProgressKeyLastProcessedPath)
	if err != nil {
		logging.Debug("Progress read failed: %v", err)
	}
	total, err := h.cat.CountItems(ctx, "")
	if err != nil {
		logging.Debug("Item count failed: %v", err)
	}

	writeJSON(w, http.StatusOK, IndexStatusResponse{
		Status:         st.Status,
		ProcessedFiles: st.ProcessedFiles,
		TotalFiles:     st.TotalFiles,
		LastUpdated:    st.LastUpdated,
		ResumeCursor:   cursor,
		TotalItems:     total,
	})
}

// Reindex queues a full rebuild. 202 when accepted, 409 while a critical
// task already runs.
func (h *Handlers) Reindex(w http.ResponseWriter, r *http.Request) {
	traceID := fmt.Sprintf("api-%d", time.Now().UnixNano())
	sync := r.URL.Query().Get("syncThumbnails") == "true"

	err := h.worker.Submit(indexer.RebuildIndex{TraceID: traceID, SyncThumbnails: sync})
	switch {
	case errors.Is(err, indexer.ErrCriticalBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "indexing already in progress"})
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		logging.Info("Manual reindex queued (trace %s)", traceID)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "traceId": traceID})
	}
}

// Search runs a name search over the catalog's full-text index.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if len(q) < 3 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query must be at least 3 characters"})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	items, err := h.cat.SearchItems(r.Context(), q, limit)
	if err != nil {
		logging.Error("Search %q failed: %v", q, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "search failed"})
		return
	}
	if items == nil {
		items = []catalog.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": items})
}
