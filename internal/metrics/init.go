package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	databases := []string{"main", "settings", "history", "index"}

	// --- Catalog metrics ---
	ops := []string{"run", "get", "all", "batch", "begin", "commit", "rollback", "maintenance"}
	for _, db := range databases {
		for _, op := range ops {
			DBQueryTotal.WithLabelValues(db, op, "success")
			DBQueryTotal.WithLabelValues(db, op, "error")
			DBQueryDuration.WithLabelValues(db, op)
		}
		DBBusyRetries.WithLabelValues(db)
		DBTimeouts.WithLabelValues(db)
		DBTransactionDuration.WithLabelValues(db, "commit")
		DBTransactionDuration.WithLabelValues(db, "rollback")
		DBBatchRows.WithLabelValues(db)
		DBConnectionsOpen.WithLabelValues(db)
		for _, file := range []string{"main", "wal", "shm"} {
			DBSizeBytes.WithLabelValues(db, file)
		}
	}

	// --- Indexer metrics ---
	tasks := []string{"rebuild_index", "process_changes", "backfill_missing_dimensions",
		"backfill_missing_mtime", "post_index_backfill", "get_all_media_items"}
	for _, task := range tasks {
		IndexerRunsTotal.WithLabelValues(task)
		IndexerErrors.WithLabelValues(task)
	}

	// --- Watcher metrics ---
	for _, d := range []string{"accepted", "filtered", "suspended"} {
		WatcherEventsTotal.WithLabelValues(d)
	}

	// --- Scheduler metrics ---
	for _, v := range []string{"idle", "busy"} {
		SchedulerIdleChecks.WithLabelValues(v)
	}
	for _, b := range []string{"kv", "local"} {
		SchedulerLockAcquisitions.WithLabelValues(b)
	}

	// --- KV and caches ---
	for _, op := range []string{"get", "set", "setnx", "del", "expire", "keys", "ping"} {
		KVOperations.WithLabelValues(op, "success")
		KVOperations.WithLabelValues(op, "error")
	}
	for _, mode := range []string{"fine", "coarse"} {
		CacheTagInvalidations.WithLabelValues(mode)
	}
	for _, tier := range []string{"l1", "l2"} {
		DimCacheLookups.WithLabelValues(tier, "hit")
		DimCacheLookups.WithLabelValues(tier, "miss")
	}
	for _, kind := range []string{"photo", "video"} {
		DimProbeDuration.WithLabelValues(kind)
		DimProbeErrors.WithLabelValues(kind)
	}
}
