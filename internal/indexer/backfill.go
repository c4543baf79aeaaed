package indexer

import (
	"context"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"photovault/internal/dimcache"
	"photovault/internal/logging"
)

// backfillDimensions fills media rows with missing or sentinel dimensions,
// in bounded batches with an idle gate and a sleep between them so it never
// competes with interactive load. Idempotent: a second run updates nothing.
func (w *Worker) backfillDimensions(ctx context.Context) (int64, error) {
	var updated int64
	cursor := ""

	for {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		w.gate(ctx)

		page, err := w.cat.ItemsMissingDimensions(ctx, cursor, w.cfg.DimBackfillBatch)
		if err != nil {
			return updated, err
		}
		if len(page) == 0 {
			break
		}
		cursor = page[len(page)-1].Path

		dims := make([]dimcache.Dimensions, len(page))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.cfg.Concurrency)
		for i, it := range page {
			i, it := i, it
			abs := filepath.Join(w.cfg.PhotosDir, filepath.FromSlash(it.Path))
			g.Go(func() error {
				dims[i] = w.probeDims(gctx, abs, it.Mtime, it.Type)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return updated, err
		}

		for i, it := range page {
			d := dims[i]
			if d.Sentinel() {
				// Still unreadable; leave the row for the next pass.
				continue
			}
			if err := w.cat.SetItemDimensions(ctx, it.Path, d.Width, d.Height); err != nil {
				return updated, err
			}
			updated++
		}

		if w.cfg.DimBackfillSleep > 0 {
			select {
			case <-time.After(w.cfg.DimBackfillSleep):
			case <-ctx.Done():
				return updated, ctx.Err()
			}
		}
	}

	logging.Info("Dimension backfill updated %d items", updated)
	return updated, nil
}

// backfillMtime fills zero mtimes from filesystem stat. Missing files are
// skipped silently; the next change event or rebuild reconciles them.
func (w *Worker) backfillMtime(ctx context.Context) (int64, error) {
	var updated int64
	cursor := ""

	for {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		w.gate(ctx)

		page, err := w.cat.ItemsMissingMtime(ctx, cursor, w.cfg.MtimeBackfillBatch)
		if err != nil {
			return updated, err
		}
		if len(page) == 0 {
			break
		}
		cursor = page[len(page)-1].Path

		for _, it := range page {
			abs := filepath.Join(w.cfg.PhotosDir, filepath.FromSlash(it.Path))
			mtime := statMtime(abs)
			if mtime == 0 {
				continue
			}
			if err := w.cat.SetItemMtime(ctx, it.Path, mtime); err != nil {
				return updated, err
			}
			updated++
		}

		if w.cfg.MtimeBackfillSleep > 0 {
			select {
			case <-time.After(w.cfg.MtimeBackfillSleep):
			case <-ctx.Done():
				return updated, ctx.Err()
			}
		}
	}

	logging.Info("Mtime backfill updated %d items", updated)
	return updated, nil
}
