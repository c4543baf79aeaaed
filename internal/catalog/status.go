package catalog

import (
	"context"
	"database/sql"
	"time"

	"photovault/internal/logging"
)

// GetIndexStatus reads the singleton build-state row.
func (c *Catalog) GetIndexStatus(ctx context.Context) (IndexStatus, error) {
	var st IndexStatus
	err := c.Index.Get(ctx, "get_index_status",
		"SELECT status, processed_files, total_files, last_updated FROM index_status WHERE id = 1",
		func(r *sql.Row) error {
			return r.Scan(&st.Status, &st.ProcessedFiles, &st.TotalFiles, &st.LastUpdated)
		})
	return st, err
}

// SetIndexStatus replaces the singleton build-state row.
func (c *Catalog) SetIndexStatus(ctx context.Context, st IndexStatus) error {
	_, err := c.Index.Run(ctx, "set_index_status",
		`INSERT INTO index_status (id, status, processed_files, total_files, last_updated)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed_files = excluded.processed_files,
			total_files = excluded.total_files,
			last_updated = excluded.last_updated`,
		st.Status, st.ProcessedFiles, st.TotalFiles, time.Now().UnixMilli())
	return err
}

// UpdateIndexProgressCount bumps only the processed counter, leaving the
// status and total untouched. Called once per committed batch.
func (c *Catalog) UpdateIndexProgressCount(ctx context.Context, processed int64) error {
	_, err := c.Index.Run(ctx, "update_index_progress",
		"UPDATE index_status SET processed_files = ?, last_updated = ? WHERE id = 1",
		processed, time.Now().UnixMilli())
	return err
}

// GetProgress reads a resume-cursor value. Missing keys return "" with no
// error: absence means start from the beginning.
func (c *Catalog) GetProgress(ctx context.Context, key string) (string, error) {
	var v string
	err := c.Index.Get(ctx, "get_progress",
		"SELECT value FROM index_progress WHERE key = ?",
		func(r *sql.Row) error { return r.Scan(&v) }, key)
	if err == ErrNotFound {
		return "", nil
	}
	return v, err
}

// SetProgress writes a resume-cursor value.
func (c *Catalog) SetProgress(ctx context.Context, key, value string) error {
	_, err := c.Index.Run(ctx, "set_progress",
		`INSERT INTO index_progress (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// ClearProgress deletes a resume cursor, typically after a rebuild completes.
func (c *Catalog) ClearProgress(ctx context.Context, key string) error {
	_, err := c.Index.Run(ctx, "clear_progress",
		"DELETE FROM index_progress WHERE key = ?", key)
	return err
}

// HealIndexStatus downgrades a stale 'building' row to 'pending'. Run at
// startup, before any rebuild can be running: 'building' left behind by a
// crash would otherwise keep the idle predicate busy forever. Counters and
// the resume cursor are preserved so the interrupted rebuild can continue.
func (c *Catalog) HealIndexStatus(ctx context.Context) (bool, error) {
	st, err := c.GetIndexStatus(ctx)
	if err != nil {
		return false, err
	}
	if st.Status != IndexBuilding {
		return false, nil
	}
	st.Status = IndexPending
	if err := c.SetIndexStatus(ctx, st); err != nil {
		return false, err
	}
	logging.Warn("Index status was 'building' at startup (interrupted rebuild), reset to 'pending'")
	return true, nil
}

// RecoverThumbStatuses resets rows stuck in 'processing' back to 'pending'.
// Run at startup: a crash mid-generation leaves orphans that would otherwise
// never be retried.
func (c *Catalog) RecoverThumbStatuses(ctx context.Context) (int64, error) {
	res, err := c.Main.Run(ctx, "recover_thumbs",
		"UPDATE thumb_status SET status = ? WHERE status = ?",
		ThumbPending, ThumbProcessing)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Info("Recovered %d thumbnail entries stuck in processing", n)
	}
	return n, nil
}

// ResetAllThumbStatuses forces every row back to pending with mtime 0, so the
// next backfill re-examines everything. This is the self-heal path for a
// wiped thumbnail cache.
func (c *Catalog) ResetAllThumbStatuses(ctx context.Context) (int64, error) {
	res, err := c.Main.Run(ctx, "reset_thumbs",
		"UPDATE thumb_status SET status = ?, mtime = 0, last_checked = 0", ThumbPending)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	logging.Info("Reset %d thumbnail entries to pending", n)
	return n, nil
}

// SetThumbStatus upserts one thumbnail lifecycle row.
func (c *Catalog) SetThumbStatus(ctx context.Context, path, status string, mtime int64) error {
	_, err := c.Main.Run(ctx, "set_thumb_status",
		`INSERT INTO thumb_status (path, mtime, status, last_checked) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			mtime = excluded.mtime,
			status = excluded.status,
			last_checked = excluded.last_checked`,
		path, mtime, status, time.Now().UnixMilli())
	return err
}

// CountThumbStatuses returns row counts keyed by status.
func (c *Catalog) CountThumbStatuses(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	err := c.Main.All(ctx, "count_thumbs",
		"SELECT status, COUNT(*) FROM thumb_status GROUP BY status",
		func(rows *sql.Rows) error {
			var status string
			var n int64
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			counts[status] = n
			return nil
		})
	return counts, err
}

// GetSetting reads a settings value; missing keys return the fallback.
func (c *Catalog) GetSetting(ctx context.Context, key, fallback string) (string, error) {
	var v string
	err := c.Settings.Get(ctx, "get_setting",
		"SELECT value FROM settings WHERE key = ?",
		func(r *sql.Row) error { return r.Scan(&v) }, key)
	if err == ErrNotFound {
		return fallback, nil
	}
	return v, err
}

// SetSetting upserts a settings value.
func (c *Catalog) SetSetting(ctx context.Context, key, value string) error {
	_, err := c.Settings.Run(ctx, "set_setting",
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// RecordHistory appends an event row. History writes are best-effort: a
// failure is logged, never propagated into the caller's operation.
func (c *Catalog) RecordHistory(ctx context.Context, path, event, detail string) {
	_, err := c.History.Run(ctx, "record_history",
		"INSERT INTO history (path, event, detail, created_at) VALUES (?, ?, ?, ?)",
		path, event, detail, time.Now().UnixMilli())
	if err != nil {
		logging.Debug("Failed to record history for %s: %v", path, err)
	}
}

// PruneHistory deletes events older than the retention window.
func (c *Catalog) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := c.History.Run(ctx, "prune_history",
		"DELETE FROM history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
