package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Catalog (SQLite) metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"database", "operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photovault_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"database", "operation"},
	)

	DBBusyRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_db_busy_retries_total",
			Help: "Total number of retried SQLITE_BUSY/SQLITE_LOCKED writes",
		},
		[]string{"database"},
	)

	DBTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_db_query_timeouts_total",
			Help: "Total number of queries abandoned at the query deadline",
		},
		[]string{"database"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photovault_db_transaction_duration_seconds",
			Help:    "Transaction duration in seconds by outcome",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"database", "outcome"}, // "commit", "rollback"
	)

	DBBatchRows = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photovault_db_batch_rows",
			Help:    "Rows written per batch call",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database"},
	)

	DBConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photovault_db_connections_open",
			Help: "Number of open connections per logical database",
		},
		[]string{"database"},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photovault_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"database", "file"}, // file: "main", "wal", "shm"
	)
)

// Indexer metrics
var (
	IndexerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_indexer_runs_total",
			Help: "Total number of indexing tasks executed",
		},
		[]string{"task"},
	)

	IndexerFilesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photovault_indexer_files_processed_total",
			Help: "Total number of files processed by the indexer",
		},
	)

	IndexerBatchesCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photovault_indexer_batches_committed_total",
			Help: "Total number of index write batches committed",
		},
	)

	IndexerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_indexer_errors_total",
			Help: "Total number of indexer errors",
		},
		[]string{"task"},
	)

	IndexerCriticalRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photovault_indexer_critical_running",
			Help: "Whether a critical indexing task is in flight (1 = running)",
		},
	)

	IndexerLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photovault_indexer_last_run_timestamp",
			Help: "Timestamp of the last completed full rebuild",
		},
	)

	IndexerLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photovault_indexer_last_run_duration_seconds",
			Help: "Duration of the last completed full rebuild in seconds",
		},
	)

	IndexerRejectedTasks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photovault_indexer_rejected_tasks_total",
			Help: "Critical tasks rejected because another critical task was running",
		},
	)
)

// Watcher metrics
var (
	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_watcher_events_total",
			Help: "Filesystem events by disposition",
		},
		[]string{"disposition"}, // "accepted", "filtered", "suspended"
	)

	WatcherPendingChanges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photovault_watcher_pending_changes",
			Help: "Paths currently buffered awaiting the debounce drain",
		},
	)

	WatcherDrainsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photovault_watcher_drains_total",
			Help: "Debounce drains submitted for incremental indexing",
		},
	)

	WatcherEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photovault_watcher_escalations_total",
			Help: "Drains escalated to a full rebuild",
		},
	)

	WatcherConsolidatedAway = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photovault_watcher_consolidated_away_total",
			Help: "Events eliminated by consolidation before reaching the indexer",
		},
	)
)

// Scheduler metrics
var (
	SchedulerJobState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "photovault_scheduler_job_state",
			Help: "Current state per named job (0 idle, 1 queued, 2 waiting_idle, 3 locking, 4 running)",
		},
		[]string{"job"},
	)

	SchedulerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_scheduler_jobs_completed_total",
			Help: "Completed named jobs by status",
		},
		[]string{"job", "status"},
	)

	SchedulerIdleChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_scheduler_idle_checks_total",
			Help: "Idle predicate evaluations by verdict",
		},
		[]string{"verdict"}, // "idle", "busy"
	)

	SchedulerLockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_scheduler_lock_acquisitions_total",
			Help: "Job lock acquisitions by backend",
		},
		[]string{"backend"}, // "kv", "local"
	)
)

// Distributed KV metrics
var (
	KVAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photovault_kv_available",
			Help: "Whether the distributed KV is reachable (1 = yes)",
		},
	)

	KVOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_kv_operations_total",
			Help: "KV operations by op and status",
		},
		[]string{"op", "status"},
	)

	KVDegradations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photovault_kv_degradations_total",
			Help: "Operations degraded from distributed to local KV",
		},
	)

	CacheTagInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_cache_tag_invalidations_total",
			Help: "Cache tag invalidations by mode",
		},
		[]string{"mode"}, // "fine", "coarse"
	)
)

// Dimension cache metrics
var (
	DimCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_dimcache_lookups_total",
			Help: "Dimension cache lookups by tier and result",
		},
		[]string{"tier", "result"}, // tier: "l1", "l2"; result: "hit", "miss"
	)

	DimProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photovault_dim_probe_duration_seconds",
			Help:    "Media dimension probe duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"kind"}, // "photo", "video"
	)

	DimProbeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_dim_probe_errors_total",
			Help: "Media dimension probe failures (item indexed with sentinel size)",
		},
		[]string{"kind"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photovault_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photovault_memory_paused",
			Help: "Whether background processing is paused for memory pressure",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photovault_memory_gc_pauses_total",
			Help: "Forced garbage collections triggered by memory pressure",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_http_requests_total",
			Help: "HTTP requests by method, route, and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photovault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photovault_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		},
	)
)

// Filesystem retry metrics
var (
	FSRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_fs_retries_total",
			Help: "Filesystem operations retried after a transient error",
		},
		[]string{"op"}, // "stat", "open", "readdir"
	)

	FSFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photovault_fs_failures_total",
			Help: "Filesystem operations that failed after exhausting retries",
		},
		[]string{"op"},
	)
)
