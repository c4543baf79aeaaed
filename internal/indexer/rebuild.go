package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"photovault/internal/catalog"
	"photovault/internal/dimcache"
	"photovault/internal/logging"
	"photovault/internal/mediatypes"
	"photovault/internal/metrics"
)

// rebuildIndex rebuilds the whole catalog from disk. A fresh run prescans
// for totals and truncates; a run with a resume cursor continues from it,
// keeping progress counters. Batches commit independently so a crash loses
// at most one batch of walk progress.
func (w *Worker) rebuildIndex(ctx context.Context, req RebuildIndex) (int64, error) {
	start := time.Now()
	w.setIndexingFlag(ctx)

	cursor, err := w.cat.GetProgress(ctx, catalog.ProgressKeyLastProcessedPath)
	if err != nil {
		return 0, fmt.Errorf("read resume cursor: %w", err)
	}

	var processed, total int64
	if cursor == "" {
		logging.Info("Full rebuild: prescanning %s", w.cfg.PhotosDir)
		total, err = w.prescan()
		if err != nil {
			return 0, fmt.Errorf("prescan: %w", err)
		}
		logging.Info("Prescan found %d entries", total)

		if err := w.cat.SetIndexStatus(ctx, catalog.IndexStatus{
			Status: catalog.IndexBuilding, TotalFiles: total,
		}); err != nil {
			return 0, err
		}
		if err := w.cat.TruncateItems(ctx); err != nil {
			return 0, fmt.Errorf("truncate: %w", err)
		}
	} else {
		st, err := w.cat.GetIndexStatus(ctx)
		if err != nil {
			return 0, err
		}
		processed, total = st.ProcessedFiles, st.TotalFiles
		logging.Info("Resuming rebuild from %q (%d/%d processed)", cursor, processed, total)
		w.emit(req.TraceID, KindLog, LogPayload{
			Level: "info",
			Text:  fmt.Sprintf("resuming rebuild from %q (%d/%d)", cursor, processed, total),
		})
		if err := w.cat.SetIndexStatus(ctx, catalog.IndexStatus{
			Status: catalog.IndexBuilding, ProcessedFiles: processed, TotalFiles: total,
		}); err != nil {
			return 0, err
		}
	}

	batch := make([]walkEntry, 0, w.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.commitBatch(ctx, batch); err != nil {
			return err
		}
		processed += int64(len(batch))
		last := batch[len(batch)-1].rel
		if err := w.cat.SetProgress(ctx, catalog.ProgressKeyLastProcessedPath, last); err != nil {
			return err
		}
		if err := w.cat.UpdateIndexProgressCount(ctx, processed); err != nil {
			return err
		}
		w.refreshIndexingFlag(ctx)
		metrics.IndexerBatchesCommitted.Inc()
		metrics.IndexerFilesProcessed.Add(float64(len(batch)))
		logging.Debug("Rebuild batch committed: %d entries through %q (%d/%d)",
			len(batch), last, processed, total)
		w.emit(req.TraceID, KindLog, LogPayload{
			Level: "debug",
			Text:  fmt.Sprintf("indexed %d/%d through %q", processed, total, last),
		})
		batch = batch[:0]
		return nil
	}

	err = w.walkTree(func(e walkEntry) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// Resume: skip everything at or before the cursor in walk order.
		if cursor != "" && walkOrderKey(e.rel) <= walkOrderKey(cursor) {
			return true, nil
		}
		batch = append(batch, e)
		if len(batch) >= w.cfg.BatchSize {
			return true, flush()
		}
		return true, nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk: %w", err)
	}
	if err := flush(); err != nil {
		return 0, err
	}

	if err := w.cat.ClearProgress(ctx, catalog.ProgressKeyLastProcessedPath); err != nil {
		return 0, err
	}
	if err := w.cat.SetIndexStatus(ctx, catalog.IndexStatus{
		Status: catalog.IndexComplete, ProcessedFiles: processed, TotalFiles: total,
	}); err != nil {
		return 0, err
	}

	if err := w.rebuildAlbumCovers(ctx); err != nil {
		logging.Error("Album cover rebuild failed: %v", err)
	}
	if req.SyncThumbnails {
		if err := w.syncThumbStatuses(ctx); err != nil {
			logging.Error("Thumbnail status sync failed: %v", err)
		}
	}

	w.clearIndexingFlag()
	elapsed := time.Since(start)
	metrics.IndexerLastRunTimestamp.SetToCurrentTime()
	metrics.IndexerLastRunDuration.Set(elapsed.Seconds())
	w.cat.RecordHistory(ctx, "/", "rebuild",
		fmt.Sprintf("%d entries in %v", processed, elapsed.Round(time.Millisecond)))
	logging.Info("Rebuild complete: %d entries in %v", processed, elapsed.Round(time.Millisecond))
	return processed, nil
}

// commitBatch probes dimensions concurrently, then writes the batch in one
// transaction.
func (w *Worker) commitBatch(ctx context.Context, batch []walkEntry) error {
	items := make([]catalog.Item, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i, e := range batch {
		i, e := i, e
		items[i] = catalog.Item{
			Path:  e.rel,
			Name:  filepath.Base(e.rel),
			Type:  e.typ,
			Mtime: e.mtime,
		}
		if e.typ != mediatypes.ItemTypePhoto && e.typ != mediatypes.ItemTypeVideo {
			continue
		}
		g.Go(func() error {
			d, err := w.dims.Get(gctx, e.abs, e.mtime, e.typ)
			if err != nil {
				return err
			}
			items[i].Width = d.Width
			items[i].Height = d.Height
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("dimension probe: %w", err)
	}

	fts := make(map[string]string, len(items))
	for _, it := range items {
		fts[it.Path] = TokenText(it.Path, it.Type)
	}
	return w.cat.BatchUpsertItems(ctx, items, fts)
}

// rebuildAlbumCovers recomputes every album's cover from the freshly built
// items table.
func (w *Worker) rebuildAlbumCovers(ctx context.Context) error {
	albums, err := w.cat.AlbumPaths(ctx)
	if err != nil {
		return err
	}
	for _, album := range albums {
		if err := w.recomputeCover(ctx, album); err != nil {
			return err
		}
	}
	logging.Info("Rebuilt covers for %d albums", len(albums))
	return nil
}

// recomputeCover picks the newest descendant media as the album's cover, or
// removes the cover row when the album has no media left.
func (w *Worker) recomputeCover(ctx context.Context, album string) error {
	it, err := w.cat.NewestDescendantMedia(ctx, album)
	if err == catalog.ErrNotFound {
		return w.cat.DeleteAlbumCover(ctx, album)
	}
	if err != nil {
		return err
	}
	return w.cat.UpsertAlbumCover(ctx, catalog.AlbumCover{
		AlbumPath: album,
		CoverPath: it.Path,
		Width:     it.Width,
		Height:    it.Height,
		Mtime:     it.Mtime,
	})
}

// syncThumbStatuses reconciles thumb_status against the thumbnail tree:
// rows whose thumbnail file exists become 'exists', the rest 'pending'.
func (w *Worker) syncThumbStatuses(ctx context.Context) error {
	cursor := ""
	var checked, present int
	for {
		page, err := w.cat.MediaItemsAfter(ctx, cursor, 2000)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		for _, it := range page {
			status := catalog.ThumbPending
			if _, err := os.Stat(w.thumbPath(it)); err == nil {
				status = catalog.ThumbExists
				present++
			}
			if err := w.cat.SetThumbStatus(ctx, it.Path, status, it.Mtime); err != nil {
				return err
			}
			checked++
		}
		cursor = page[len(page)-1].Path
	}
	logging.Info("Thumbnail sync: %d of %d thumbnails present", present, checked)
	return nil
}

// thumbPath mirrors the photo tree under the thumbnail root: .webp for
// photos, .jpg posters for videos.
func (w *Worker) thumbPath(it catalog.Item) string {
	rel := it.Path
	if ext := filepath.Ext(rel); ext != "" {
		rel = strings.TrimSuffix(rel, ext)
	}
	if it.Type == mediatypes.ItemTypeVideo {
		return filepath.Join(w.cfg.ThumbDir, rel+".jpg")
	}
	return filepath.Join(w.cfg.ThumbDir, rel+".webp")
}

// probeDims resolves dimensions for one path, mapping failure to the
// sentinel so callers never block on a broken file.
func (w *Worker) probeDims(ctx context.Context, abs string, mtime int64, typ mediatypes.ItemType) dimcache.Dimensions {
	d, err := w.dims.Get(ctx, abs, mtime, typ)
	if err != nil {
		return dimcache.Dimensions{Width: dimcache.SentinelWidth, Height: dimcache.SentinelHeight}
	}
	return d
}
