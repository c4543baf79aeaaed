// Package metrics declares all Prometheus collectors for the indexing and
// orchestration subsystem and provides a background collector for database
// file sizes.
//
// Collectors are registered at package init via promauto and shared by
// reference from the owning packages (catalog, indexer, watcher, scheduler,
// kv, dimcache). InitializeMetrics pre-populates known label combinations so
// dashboards see every series from the first scrape rather than only after
// the first event of each kind.
//
// Metric names are prefixed "photovault_" and grouped by subsystem:
//
//	photovault_db_*        catalog store (queries, retries, timeouts, sizes)
//	photovault_indexer_*   indexing worker tasks and batches
//	photovault_watcher_*   filesystem events, pending buffer, drains
//	photovault_scheduler_* job states, idle checks, lock acquisitions
//	photovault_kv_*        distributed KV availability and degradations
//	photovault_dimcache_*  dimension cache tiers and media probes
//	photovault_memory_*    memory pressure signals
package metrics
