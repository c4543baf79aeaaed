package scheduler

import (
	"context"
	"runtime"
	"time"

	"photovault/internal/catalog"
	"photovault/internal/logging"
	"photovault/internal/metrics"
)

// MaintenanceConfig schedules the recurring catalog upkeep job.
type MaintenanceConfig struct {
	Interval     time.Duration
	InitialDelay time.Duration
	Retry        time.Duration
	DBDelayStep  time.Duration
	LockTTL      time.Duration

	// HistoryRetention bounds the history database; rows older than this
	// are pruned during maintenance. Zero disables pruning.
	HistoryRetention time.Duration

	// ManualGCInterval forces a GC cycle on a ticker when positive. Useful
	// under tight GOMEMLIMIT on small NAS boxes; off by default.
	ManualGCInterval time.Duration
}

// StartMaintenance registers the recurring DB maintenance job and, when
// configured, the manual-GC ticker. Runs until ctx is done.
func (s *Scheduler) StartMaintenance(ctx context.Context, cat *catalog.Catalog, cfg MaintenanceConfig) {
	go func() {
		select {
		case <-time.After(cfg.InitialDelay):
		case <-ctx.Done():
			return
		}
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			done := s.RunWhenIdle("db-maintenance", func(ctx context.Context) error {
				return runMaintenance(ctx, cat, cfg)
			}, Options{
				RetryInterval: cfg.Retry,
				LockTTL:       cfg.LockTTL,
				Category:      "maintenance",
			})
			select {
			case err := <-done:
				if err != nil {
					logging.Warn("DB maintenance failed: %v", err)
				}
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	if cfg.ManualGCInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.ManualGCInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					runtime.GC()
					metrics.MemoryGCPauses.Inc()
				}
			}
		}()
	}
}

// runMaintenance checkpoints the WAL and refreshes planner statistics on
// every database, spaced by step so the checkpoints do not pile lock
// pressure onto a busy catalog all at once.
func runMaintenance(ctx context.Context, cat *catalog.Catalog, cfg MaintenanceConfig) error {
	if cfg.HistoryRetention > 0 {
		if n, err := cat.PruneHistory(ctx, cfg.HistoryRetention); err != nil {
			logging.Warn("History prune failed: %v", err)
		} else if n > 0 {
			logging.Info("Pruned %d history rows older than %v", n, cfg.HistoryRetention)
		}
	}
	for i, name := range catalog.Names {
		if i > 0 && cfg.DBDelayStep > 0 {
			select {
			case <-time.After(cfg.DBDelayStep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		db := cat.DB(name)
		start := time.Now()
		if _, err := db.Run(ctx, "wal_checkpoint", "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			logging.Warn("WAL checkpoint on %s failed: %v", name, err)
		}
		if _, err := db.Run(ctx, "analyze", "ANALYZE"); err != nil {
			logging.Warn("ANALYZE on %s failed: %v", name, err)
		}
		logging.Debug("Maintenance on %s took %v", name, time.Since(start).Round(time.Millisecond))
	}
	return nil
}
