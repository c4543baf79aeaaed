package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"photovault/internal/cachetags"
	"photovault/internal/catalog"
	"photovault/internal/config"
	"photovault/internal/dimcache"
	"photovault/internal/handlers"
	"photovault/internal/indexer"
	"photovault/internal/kv"
	"photovault/internal/lock"
	"photovault/internal/logging"
	"photovault/internal/memory"
	"photovault/internal/scheduler"
	"photovault/internal/startup"
	"photovault/internal/videoq"
	"photovault/internal/watcher"
)

// schedGater adapts the scheduler's idle gate to the indexer's yield point.
type schedGater struct {
	sched *scheduler.Scheduler
}

func (g schedGater) Gate(ctx context.Context, kind string) {
	g.sched.Gate(ctx, kind, scheduler.Options{MaxIdleWait: 30 * time.Second})
}

func main() {
	startTime := time.Now()
	startup.PrintBanner()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}
	cfg.LogSummary()

	if err := startup.Prepare(cfg); err != nil {
		logging.Fatal("Startup preparation failed: %v", err)
	}
	startup.CheckFFprobe()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	mem := memory.NewMonitor(memory.DefaultConfig())
	mem.Start()

	store := kv.New(rootCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	// The catalog's write pre-delay asks the worker whether a rebuild is
	// running; the worker does not exist yet, so go through a pointer that
	// is filled in below.
	var workerRef atomic.Pointer[indexer.Worker]
	cat, err := catalog.Open(rootCtx, catalog.Options{
		DataDir:      cfg.DataDir,
		JournalMode:  cfg.SQLiteJournalMode,
		Synchronous:  cfg.SQLiteSynchronous,
		TempStore:    cfg.SQLiteTempStore,
		CacheSize:    cfg.SQLiteCacheSize,
		MmapSize:     cfg.SQLiteMmapSize,
		BusyTimeout:  cfg.SQLiteBusyTimeout,
		QueryTimeout: cfg.QueryTimeout,
		SlowQuery:    cfg.SlowQuery,
		IndexingInProgress: func() bool {
			w := workerRef.Load()
			return w != nil && w.IndexingInProgress()
		},
	})
	if err != nil {
		logging.Fatal("Catalog initialization failed: %v", err)
	}
	logging.Info("Catalog ready (%v)", time.Since(startTime).Round(time.Millisecond))

	if _, err := cat.RecoverThumbStatuses(rootCtx); err != nil {
		logging.Warn("Thumbnail status recovery failed: %v", err)
	}
	if _, err := cat.HealIndexStatus(rootCtx); err != nil {
		logging.Warn("Index status heal failed: %v", err)
	}
	selfHealThumbnails(rootCtx, cat, cfg)
	recordVersion(rootCtx, cat)

	inv := cachetags.New(store)
	dims, err := dimcache.New(store)
	if err != nil {
		logging.Fatal("Dimension cache initialization failed: %v", err)
	}

	idle := scheduler.NewIdleChecker(cat, mem, nil, 0)
	sched := scheduler.New(lock.New(store), idle)
	sched.Start(rootCtx)
	sched.StartMaintenance(rootCtx, cat, scheduler.MaintenanceConfig{
		Interval:         cfg.DBMaintInterval,
		InitialDelay:     cfg.DBMaintInitialDelay,
		Retry:            cfg.DBMaintRetry,
		DBDelayStep:      cfg.DBMaintDBDelayStep,
		HistoryRetention: cfg.HistoryRetention,
	})

	worker := indexer.New(indexer.Config{
		PhotosDir:          cfg.PhotosDir,
		ThumbDir:           cfg.ThumbnailDir,
		BatchSize:          cfg.IndexBatchSize,
		Concurrency:        cfg.IndexConcurrency,
		DimBackfillBatch:   cfg.DimBackfillBatch,
		DimBackfillSleep:   cfg.DimBackfillSleep,
		MtimeBackfillBatch: cfg.MtimeBackfillBatch,
		MtimeBackfillSleep: cfg.MtimeBackfillSleep,
	}, cat, dims, store, inv, schedGater{sched})
	workerRef.Store(worker)

	var workerAlive atomic.Bool
	workerAlive.Store(true)
	go func() {
		worker.Run(rootCtx)
		workerAlive.Store(false)
	}()

	var vq videoq.Queue
	if cfg.VideoQueueDepth > 0 {
		cq := videoq.NewChannelQueue(cfg.PhotosDir, cfg.VideoQueueDepth)
		go drainVideoQueue(rootCtx, cq)
		vq = cq
	} else {
		logging.Info("Video hand-off disabled (VIDEO_QUEUE_DEPTH <= 0)")
		vq = videoq.Discard{}
	}
	go consumeMessages(rootCtx, worker, sched, vq, cfg)

	var fsw *watcher.Watcher
	if cfg.DisableWatch {
		logging.Info("Filesystem watching disabled (DISABLE_WATCH)")
	} else {
		fsw, err = watcher.New(watcher.Config{
			PhotosDir:           cfg.PhotosDir,
			BaseDebounce:        cfg.StabilizeDelay,
			EscalationThreshold: cfg.WatchEscalationThreshold,
			HashSizeThreshold:   cfg.HashSizeThreshold,
			HashSampleBytes:     cfg.HashSampleBytes,
			IdleStopAfter:       cfg.WatcherIdleStop,
			WatchDepth:          cfg.WatchDepth,
			UsePolling:          cfg.WatchUsePolling,
			PollInterval:        cfg.WatchPollInterval,
			StabilityThreshold:  cfg.WatchStability,
		}, inv, watcher.Hooks{
			SubmitChanges:      func(changes []watcher.Change) { submitChanges(worker, changes) },
			EscalateRebuild:    func() { submitRebuild(worker, "escalation") },
			IndexingInProgress: worker.IndexingInProgress,
		})
		if err != nil {
			logging.Fatal("Watcher initialization failed: %v", err)
		}
		fsw.Start(rootCtx)
	}

	scheduleStartupIndexing(rootCtx, cat, worker, sched, cfg)

	go cat.Supervise(rootCtx, cfg.DBHealthCheckInterval, cfg.DBReconnectAttempts)
	go connMetricsLoop(rootCtx, cat)

	h := handlers.New(cat, store, worker, startup.Version, workerAlive.Load)
	apiServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.Info("API server listening on :%s", cfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("API server failed: %v", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsServer = &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           h.MetricsRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logging.Info("Metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server failed: %v", err)
			}
		}()
	}

	logging.Info("Startup complete in %v", time.Since(startTime).Round(time.Millisecond))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	startup.LogShutdownInitiated(received.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if fsw != nil {
		fsw.Stop()
		startup.LogShutdownStepComplete("Watcher stopped")
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("API server shutdown: %v", err)
	}
	startup.LogShutdownStepComplete("API server stopped")
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Metrics server shutdown: %v", err)
		}
		startup.LogShutdownStepComplete("Metrics server stopped")
	}

	sched.Stop()
	startup.LogShutdownStepComplete("Scheduler stopped")
	rootCancel()
	mem.Stop()
	dims.Close()

	if err := cat.Close(); err != nil {
		logging.Warn("Catalog close: %v", err)
	}
	startup.LogShutdownStepComplete("Catalog closed")
	if err := store.Close(); err != nil {
		logging.Warn("KV close: %v", err)
	}
	startup.LogShutdownComplete()
}

// submitChanges forwards a consolidated watcher batch to the worker,
// converting to the worker's boundary type.
func submitChanges(worker *indexer.Worker, changes []watcher.Change) {
	converted := make([]indexer.Change, len(changes))
	for i, ch := range changes {
		converted[i] = indexer.Change{Type: string(ch.Type), Path: ch.Path}
	}
	req := indexer.ProcessChanges{
		TraceID: fmt.Sprintf("watch-%d", time.Now().UnixNano()),
		Changes: converted,
	}
	if err := worker.Submit(req); err != nil {
		// The watcher keeps its buffer while indexing is in progress, so a
		// rejection here only delays the batch until the next drain.
		logging.Warn("Change submission rejected: %v", err)
	}
}

func submitRebuild(worker *indexer.Worker, reason string) {
	req := indexer.RebuildIndex{
		TraceID:        fmt.Sprintf("%s-%d", reason, time.Now().UnixNano()),
		SyncThumbnails: true,
	}
	if err := worker.Submit(req); err != nil {
		logging.Warn("Rebuild submission (%s) rejected: %v", reason, err)
	}
}

// scheduleStartupIndexing decides between an immediate rebuild and a
// deferred idle-scheduled one. Cold starts (empty catalog or an interrupted
// rebuild) index immediately; a warm catalog waits for an idle window.
func scheduleStartupIndexing(ctx context.Context, cat *catalog.Catalog, worker *indexer.Worker, sched *scheduler.Scheduler, cfg *config.Config) {
	if cfg.DisableStartupIndex {
		logging.Info("Startup indexing disabled (DISABLE_STARTUP_INDEX)")
		return
	}

	items, err := cat.CountItems(ctx, "")
	if err != nil {
		logging.Warn("Item count failed, assuming cold start: %v", err)
	}
	cursor, err := cat.GetProgress(ctx, catalog.ProgressKeyLastProcessedPath)
	if err != nil {
		logging.Warn("Resume cursor read failed: %v", err)
	}

	if items == 0 || cursor != "" {
		if cursor != "" {
			logging.Info("Interrupted rebuild detected (cursor %q), resuming immediately", cursor)
		} else {
			logging.Info("Empty catalog, starting initial index immediately")
		}
		submitRebuild(worker, "startup")
		return
	}

	logging.Info("Catalog has %d items, scheduling startup reindex for idle window", items)
	sched.RunWhenIdle("startup-index", func(context.Context) error {
		return worker.Submit(indexer.RebuildIndex{
			TraceID:        fmt.Sprintf("startup-%d", time.Now().UnixNano()),
			SyncThumbnails: true,
		})
	}, scheduler.Options{
		StartDelay:    cfg.IndexStartDelay,
		RetryInterval: cfg.IndexRetryInterval,
		Timeout:       cfg.IndexTimeout,
		LockTTL:       cfg.IndexLockTTL,
		Category:      "index",
	})
}

// consumeMessages drains the worker's outbound channel and fans results out:
// new videos to the video queue, maintenance needs to the scheduler.
func consumeMessages(ctx context.Context, worker *indexer.Worker, sched *scheduler.Scheduler, vq videoq.Queue, cfg *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-worker.Messages():
			switch payload := msg.Payload.(type) {
			case indexer.RebuildComplete:
				logging.Info("Rebuild finished: %d entries (trace %s)", payload.Count, msg.TraceID)
				schedulePostIndexBackfill(worker, sched, cfg)
			case indexer.ProcessChangesComplete:
				if len(payload.VideoPaths) > 0 {
					vq.Enqueue(payload.VideoPaths, cfg.ThumbnailDir)
				}
				if payload.NeedsMaintenance {
					schedulePostIndexBackfill(worker, sched, cfg)
				}
			case indexer.PostIndexBackfillComplete:
				logging.Info("Post-index backfill finished (trace %s)", msg.TraceID)
			case indexer.LogPayload:
				if payload.Level == "debug" {
					logging.Debug("Worker: %s (trace %s)", payload.Text, msg.TraceID)
				} else {
					logging.Info("Worker: %s (trace %s)", payload.Text, msg.TraceID)
				}
			case indexer.ErrorPayload:
				logging.Error("Worker task %s failed (trace %s): %v", payload.Task, msg.TraceID, payload.Err)
			}
		}
	}
}

func schedulePostIndexBackfill(worker *indexer.Worker, sched *scheduler.Scheduler, cfg *config.Config) {
	sched.RunWhenIdle("post-index-backfill", func(context.Context) error {
		return worker.Submit(indexer.PostIndexBackfill{
			TraceID: fmt.Sprintf("backfill-%d", time.Now().UnixNano()),
		})
	}, scheduler.Options{
		StartDelay:    cfg.PostIndexBackfillDelay,
		RetryInterval: cfg.PostIndexBackfillRetry,
		Timeout:       cfg.PostIndexBackfillTimeout,
		Category:      "maintenance",
	})
}

// drainVideoQueue consumes handed-off video batches. Poster generation
// itself lives in a separate service; the queue is drained here so a slow
// or absent consumer never blocks indexing.
func drainVideoQueue(ctx context.Context, vq *videoq.ChannelQueue) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-vq.Batches():
			logging.Info("Video batch ready for postprocessing: %d files", len(batch.Paths))
		}
	}
}

// recordVersion persists the running version in settings so upgrades are
// visible in the database and the log.
func recordVersion(ctx context.Context, cat *catalog.Catalog) {
	prev, err := cat.GetSetting(ctx, "app_version", "")
	if err != nil {
		logging.Debug("Version read failed: %v", err)
		return
	}
	if prev == startup.Version {
		return
	}
	if prev != "" {
		logging.Info("Upgraded from %s to %s", prev, startup.Version)
	}
	if err := cat.SetSetting(ctx, "app_version", startup.Version); err != nil {
		logging.Debug("Version write failed: %v", err)
	}
}

// selfHealThumbnails resets all thumbnail statuses when the catalog believes
// thumbnails exist but the thumbnail tree is empty, which happens after a
// cache volume wipe.
func selfHealThumbnails(ctx context.Context, cat *catalog.Catalog, cfg *config.Config) {
	counts, err := cat.CountThumbStatuses(ctx)
	if err != nil {
		logging.Warn("Thumbnail status count failed: %v", err)
		return
	}
	if counts[catalog.ThumbExists] == 0 {
		return
	}

	entries, err := os.ReadDir(cfg.ThumbnailDir)
	if err != nil || len(entries) > 0 {
		return
	}

	logging.Warn("Catalog records %d thumbnails but the thumbnail root is empty, resetting statuses",
		counts[catalog.ThumbExists])
	if _, err := cat.ResetAllThumbStatuses(ctx); err != nil {
		logging.Error("Thumbnail self-heal failed: %v", err)
	}
}

func connMetricsLoop(ctx context.Context, cat *catalog.Catalog) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cat.UpdateConnMetrics()
		}
	}
}
