package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"photovault/internal/catalog"
	"photovault/internal/filesystem"
	"photovault/internal/logging"
	"photovault/internal/mediatypes"
	"photovault/internal/metrics"
)

// processChanges applies one consolidated change set inside a single
// transaction: deletes first (with subtree cascade), then the add/update
// pipeline, then cover recomputation and parent mtime bumps for every
// affected album. Tag invalidation happens after the commit, never inside
// it.
func (w *Worker) processChanges(ctx context.Context, req ProcessChanges) (ProcessChangesComplete, error) {
	var result ProcessChangesComplete
	if len(req.Changes) == 0 {
		return result, nil
	}

	var deletes []string
	var adds []Change
	affected := make(map[string]struct{})

	for _, ch := range req.Changes {
		rel, err := catalog.NormalizePath(w.cfg.PhotosDir, ch.Path)
		if err != nil || rel == "" {
			logging.Warn("Rejecting change outside photo root: %s", ch.Path)
			continue
		}
		if ch.isDelete() {
			deletes = append(deletes, rel)
		} else {
			if ch.Type != ChangeAddDir &&
				(!mediatypes.IsMediaFile(rel) || mediatypes.IsExcludedFile(rel)) {
				continue
			}
			adds = append(adds, ch)
		}
		for _, album := range catalog.ParentAlbums(rel) {
			affected[album] = struct{}{}
		}
		if ch.Type == ChangeAddDir || ch.Type == ChangeUnlinkDir {
			affected[rel] = struct{}{}
		}
	}
	if len(deletes) == 0 && len(adds) == 0 {
		return result, nil
	}

	items, videoRels, err := w.buildAddItems(ctx, adds)
	if err != nil {
		return result, err
	}

	now := time.Now().UnixMilli()
	err = w.cat.Main.WithTx(ctx, "process_changes", func(ctx context.Context) error {
		if len(deletes) > 0 {
			n, err := w.cat.DeleteItemsByPaths(ctx, deletes)
			if err != nil {
				return fmt.Errorf("deletes: %w", err)
			}
			logging.Debug("Deleted %d rows for %d removed paths", n, len(deletes))
		}

		if len(items) > 0 {
			fts := make(map[string]string, len(items))
			for _, it := range items {
				fts[it.Path] = TokenText(it.Path, it.Type)
			}
			if err := w.cat.BatchUpsertItems(ctx, items, fts); err != nil {
				return fmt.Errorf("adds: %w", err)
			}
		}

		var bumps []string
		for album := range affected {
			if album == "" {
				continue
			}
			if err := w.recomputeCover(ctx, album); err != nil {
				return fmt.Errorf("cover for %s: %w", album, err)
			}
			bumps = append(bumps, album)
		}
		if err := w.cat.BumpAlbumMtimes(ctx, bumps, now); err != nil {
			return fmt.Errorf("album mtimes: %w", err)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	metrics.IndexerFilesProcessed.Add(float64(len(items)))

	// Post-commit side effects only: a rolled-back transaction must leave
	// the cache untouched. affected already holds the full ancestor chains.
	tags := make([]string, 0, len(affected))
	for album := range affected {
		if album == "" {
			tags = append(tags, "album:/")
		} else {
			tags = append(tags, "album:/"+album)
		}
	}
	sort.Strings(tags)
	invCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	w.inv.Invalidate(invCtx, tags)
	cancel()

	result.VideoPaths = videoRels
	result.NeedsMaintenance = len(items) > 0
	w.cat.RecordHistory(ctx, "/", "process_changes",
		fmt.Sprintf("%d upserts, %d deletes", len(items), len(deletes)))
	logging.Info("Processed %d changes: %d upserts, %d deletes, %d albums touched",
		len(req.Changes), len(items), len(deletes), len(affected))
	return result, nil
}

// buildAddItems stats and classifies added paths and probes media
// dimensions with bounded concurrency. Paths that vanished since the event
// are skipped silently.
func (w *Worker) buildAddItems(ctx context.Context, adds []Change) ([]catalog.Item, []string, error) {
	var items []catalog.Item
	var videoRels []string

	for _, ch := range adds {
		info, err := filesystem.Stat(ch.Path)
		if err != nil {
			logging.Debug("Skipping vanished path %s: %v", ch.Path, err)
			continue
		}
		rel, err := catalog.NormalizePath(w.cfg.PhotosDir, ch.Path)
		if err != nil || rel == "" {
			continue
		}

		typ := mediatypes.ItemTypeAlbum
		if !info.IsDir() {
			typ = mediatypes.GetItemTypeForPath(rel)
			if typ == mediatypes.ItemTypeOther {
				continue
			}
		}
		items = append(items, catalog.Item{
			Path:  rel,
			Name:  filepath.Base(rel),
			Type:  typ,
			Mtime: info.ModTime().UnixMilli(),
		})
		if typ == mediatypes.ItemTypeVideo {
			videoRels = append(videoRels, rel)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i := range items {
		it := &items[i]
		if it.Type != mediatypes.ItemTypePhoto && it.Type != mediatypes.ItemTypeVideo {
			continue
		}
		abs := filepath.Join(w.cfg.PhotosDir, filepath.FromSlash(it.Path))
		g.Go(func() error {
			d := w.probeDims(gctx, abs, it.Mtime, it.Type)
			it.Width = d.Width
			it.Height = d.Height
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return items, videoRels, nil
}
