// Package indexer is the sole writer of the items, items_fts, thumb_status,
// and album_covers tables. It runs as a single worker goroutine consuming
// typed requests and emitting typed messages; critical tasks (full rebuild,
// incremental change application) are mutually exclusive, enforced at
// submission.
package indexer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"photovault/internal/cachetags"
	"photovault/internal/catalog"
	"photovault/internal/dimcache"
	"photovault/internal/kv"
	"photovault/internal/logging"
	"photovault/internal/metrics"
)

const (
	indexingFlagKey = "indexing_in_progress"
	indexingFlagTTL = 2 * time.Minute
)

// ErrCriticalBusy is returned when a critical task is submitted while
// another critical task is running.
var ErrCriticalBusy = fmt.Errorf("indexer: critical task already running")

// Gater yields to foreground load between backfill batches. The scheduler
// satisfies it through a thin adapter in main.
type Gater interface {
	Gate(ctx context.Context, kind string)
}

// Config tunes the worker.
type Config struct {
	PhotosDir string
	ThumbDir  string

	BatchSize   int
	Concurrency int

	DimBackfillBatch   int
	DimBackfillSleep   time.Duration
	MtimeBackfillBatch int
	MtimeBackfillSleep time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.DimBackfillBatch <= 0 {
		c.DimBackfillBatch = 200
	}
	if c.MtimeBackfillBatch <= 0 {
		c.MtimeBackfillBatch = 500
	}
	return c
}

// Worker is the indexing actor.
type Worker struct {
	cfg   Config
	cat   *catalog.Catalog
	dims  *dimcache.Cache
	store kv.Store
	inv   *cachetags.Invalidator
	gater Gater

	requests chan Request
	messages chan Message

	criticalRunning atomic.Bool
	indexingLocal   atomic.Bool
}

// New builds the worker. gater may be nil, in which case backfills run
// without yielding.
func New(cfg Config, cat *catalog.Catalog, dims *dimcache.Cache, store kv.Store, inv *cachetags.Invalidator, gater Gater) *Worker {
	return &Worker{
		cfg:      cfg.withDefaults(),
		cat:      cat,
		dims:     dims,
		store:    store,
		inv:      inv,
		gater:    gater,
		requests: make(chan Request, 16),
		messages: make(chan Message, 64),
	}
}

// Messages is the outbound channel. The owner must drain it.
func (w *Worker) Messages() <-chan Message { return w.messages }

// Submit hands a request to the worker. Critical requests are rejected with
// ErrCriticalBusy while another critical task runs; everything else queues.
func (w *Worker) Submit(req Request) error {
	if isCritical(req) && w.criticalRunning.Load() {
		metrics.IndexerRejectedTasks.Inc()
		return ErrCriticalBusy
	}
	select {
	case w.requests <- req:
		return nil
	default:
		return fmt.Errorf("indexer: request queue full")
	}
}

func isCritical(req Request) bool {
	switch req.(type) {
	case RebuildIndex, ProcessChanges:
		return true
	}
	return false
}

// Run is the actor loop. It exits when ctx is done; in-flight tasks observe
// the same ctx.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			w.dispatch(ctx, req)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, req Request) {
	if isCritical(req) {
		w.criticalRunning.Store(true)
		metrics.IndexerCriticalRunning.Set(1)
		defer func() {
			w.criticalRunning.Store(false)
			metrics.IndexerCriticalRunning.Set(0)
		}()
	}

	switch r := req.(type) {
	case RebuildIndex:
		metrics.IndexerRunsTotal.WithLabelValues("rebuild_index").Inc()
		count, err := w.rebuildIndex(ctx, r)
		if err != nil {
			// Downgrade the status before the error message goes out, so
			// anyone reacting to the failure already sees 'pending'.
			w.markIndexPending()
			w.fail(r.TraceID, "rebuild_index", err)
			return
		}
		w.emit(r.TraceID, KindResult, RebuildComplete{Count: count})

	case ProcessChanges:
		metrics.IndexerRunsTotal.WithLabelValues("process_changes").Inc()
		result, err := w.processChanges(ctx, r)
		if err != nil {
			w.fail(r.TraceID, "process_changes", err)
			return
		}
		w.emit(r.TraceID, KindResult, result)

	case BackfillMissingDimensions:
		metrics.IndexerRunsTotal.WithLabelValues("backfill_missing_dimensions").Inc()
		updated, err := w.backfillDimensions(ctx)
		if err != nil {
			w.fail(r.TraceID, "backfill_missing_dimensions", err)
			return
		}
		w.emit(r.TraceID, KindResult, BackfillDimensionsComplete{Updated: updated})

	case BackfillMissingMtime:
		metrics.IndexerRunsTotal.WithLabelValues("backfill_missing_mtime").Inc()
		updated, err := w.backfillMtime(ctx)
		if err != nil {
			w.fail(r.TraceID, "backfill_missing_mtime", err)
			return
		}
		w.emit(r.TraceID, KindResult, BackfillMtimeComplete{Updated: updated})

	case PostIndexBackfill:
		metrics.IndexerRunsTotal.WithLabelValues("post_index_backfill").Inc()
		if _, err := w.backfillDimensions(ctx); err != nil {
			w.fail(r.TraceID, "post_index_backfill", err)
			return
		}
		if _, err := w.backfillMtime(ctx); err != nil {
			w.fail(r.TraceID, "post_index_backfill", err)
			return
		}
		w.emit(r.TraceID, KindResult, PostIndexBackfillComplete{})

	case GetAllMediaItems:
		metrics.IndexerRunsTotal.WithLabelValues("get_all_media_items").Inc()
		items, err := w.allMediaItems(ctx)
		if err != nil {
			w.fail(r.TraceID, "get_all_media_items", err)
			return
		}
		w.emit(r.TraceID, KindResult, AllMediaItemsResult{Items: items})
	}
}

func (w *Worker) emit(traceID string, kind MessageKind, payload any) {
	select {
	case w.messages <- Message{Kind: kind, TraceID: traceID, Payload: payload}:
	default:
		logging.Warn("Indexer message channel full, dropping %T", payload)
	}
}

// fail reports an unrecoverable task error and clears the indexing flag so
// other instances and the watcher are not stuck waiting on a dead rebuild.
func (w *Worker) fail(traceID, task string, err error) {
	metrics.IndexerErrors.WithLabelValues(task).Inc()
	logging.Error("Indexer task %s failed: %v", task, err)
	w.clearIndexingFlag()
	w.emit(traceID, KindError, ErrorPayload{Task: task, Err: err})
}

// markIndexPending downgrades a 'building' status row after a failed
// rebuild. 'building' means a rebuild is actively running; leaving it behind
// would hold the idle predicate busy forever. 'pending' still signals an
// incomplete index without blocking the scheduler.
func (w *Worker) markIndexPending() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := w.cat.GetIndexStatus(ctx)
	if err != nil || st.Status != catalog.IndexBuilding {
		return
	}
	st.Status = catalog.IndexPending
	if err := w.cat.SetIndexStatus(ctx, st); err != nil {
		logging.Debug("Failed to mark index status pending: %v", err)
	}
}

// IndexingInProgress reports whether a full rebuild holds the catalog. The
// flag lives in the KV so multiple instances see it.
func (w *Worker) IndexingInProgress() bool {
	if w.indexingLocal.Load() {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := w.store.Get(ctx, indexingFlagKey)
	return err == nil
}

func (w *Worker) setIndexingFlag(ctx context.Context) {
	w.indexingLocal.Store(true)
	if err := w.store.Set(ctx, indexingFlagKey, "1", indexingFlagTTL); err != nil {
		logging.Debug("Failed to set indexing flag: %v", err)
	}
}

// refreshIndexingFlag extends the advisory TTL; called per batch so a
// crashed rebuild frees the flag within the TTL window.
func (w *Worker) refreshIndexingFlag(ctx context.Context) {
	if err := w.store.Set(ctx, indexingFlagKey, "1", indexingFlagTTL); err != nil {
		logging.Debug("Failed to refresh indexing flag: %v", err)
	}
}

func (w *Worker) clearIndexingFlag() {
	w.indexingLocal.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.store.Delete(ctx, indexingFlagKey); err != nil {
		logging.Debug("Failed to clear indexing flag: %v", err)
	}
}

func (w *Worker) gate(ctx context.Context) {
	if w.gater == nil {
		return
	}
	w.gater.Gate(ctx, "index-batch")
}

func (w *Worker) allMediaItems(ctx context.Context) ([]catalog.Item, error) {
	var all []catalog.Item
	cursor := ""
	for {
		page, err := w.cat.MediaItemsAfter(ctx, cursor, 5000)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		cursor = page[len(page)-1].Path
	}
}
