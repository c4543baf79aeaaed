package catalog

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

func scanItem(it *Item) []any {
	return []any{&it.ID, &it.Path, &it.Name, &it.Type, &it.Mtime, &it.Width, &it.Height}
}

const itemColumns = "id, path, name, type, mtime, width, height"

// GetItem looks up a single item by its relative path.
func (c *Catalog) GetItem(ctx context.Context, rel string) (Item, error) {
	var it Item
	err := c.Main.Get(ctx, "get_item",
		"SELECT "+itemColumns+" FROM items WHERE path = ?",
		func(r *sql.Row) error { return r.Scan(scanItem(&it)...) }, rel)
	return it, err
}

// UpsertItem inserts or updates one item row keyed by path, preserving the
// row id of an existing entry.
func (c *Catalog) UpsertItem(ctx context.Context, it Item) (int64, error) {
	if err := ValidateRelPath(it.Path); err != nil && it.Path != "" {
		return 0, err
	}

	var id int64
	err := c.Main.WithTx(ctx, "upsert_item", func(ctx context.Context) error {
		if _, err := c.Main.Run(ctx, "upsert_item",
			`INSERT INTO items (path, name, type, mtime, width, height)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(path) DO UPDATE SET
				name = excluded.name,
				type = excluded.type,
				mtime = excluded.mtime,
				width = excluded.width,
				height = excluded.height`,
			it.Path, it.Name, it.Type, it.Mtime, it.Width, it.Height); err != nil {
			return err
		}
		return c.Main.Get(ctx, "upsert_item_id",
			"SELECT id FROM items WHERE path = ?",
			func(r *sql.Row) error { return r.Scan(&id) }, it.Path)
	})
	return id, err
}

// BatchUpsertItems writes a whole indexing batch in one transaction: item
// rows, their search-text rows, and pending thumb rows for new media.
// ftsText maps item path to the token text indexed for search.
func (c *Catalog) BatchUpsertItems(ctx context.Context, items []Item, ftsText map[string]string) error {
	if len(items) == 0 {
		return nil
	}

	return c.Main.WithTx(ctx, "batch_upsert", func(ctx context.Context) error {
		itemRows := make([][]any, 0, len(items))
		thumbRows := make([][]any, 0, len(items))
		now := time.Now().UnixMilli()
		for _, it := range items {
			itemRows = append(itemRows, []any{it.Path, it.Name, it.Type, it.Mtime, it.Width, it.Height})
			if it.IsMedia() {
				thumbRows = append(thumbRows, []any{it.Path, it.Mtime, ThumbPending, now})
			}
		}

		if err := c.Main.BatchExec(ctx, "batch_upsert_items",
			"INSERT INTO items (path, name, type, mtime, width, height) VALUES",
			`ON CONFLICT(path) DO UPDATE SET
				name = excluded.name, type = excluded.type, mtime = excluded.mtime,
				width = excluded.width, height = excluded.height`,
			itemRows, BatchOptions{}); err != nil {
			return err
		}

		if len(thumbRows) > 0 {
			// Existing thumb rows keep their state unless the file changed.
			if err := c.Main.BatchExec(ctx, "batch_upsert_thumbs",
				"INSERT INTO thumb_status (path, mtime, status, last_checked) VALUES",
				`ON CONFLICT(path) DO UPDATE SET
					mtime = excluded.mtime,
					status = CASE WHEN thumb_status.mtime != excluded.mtime THEN 'pending' ELSE thumb_status.status END,
					last_checked = excluded.last_checked`,
				thumbRows, BatchOptions{}); err != nil {
				return err
			}
		}

		return c.replaceFTS(ctx, items, ftsText)
	})
}

// replaceFTS rewrites the search rows for the given items, using the item
// rowid as the FTS rowid so re-runs of the same batch stay idempotent.
func (c *Catalog) replaceFTS(ctx context.Context, items []Item, ftsText map[string]string) error {
	for _, it := range items {
		text, ok := ftsText[it.Path]
		if !ok {
			continue
		}
		var id int64
		if err := c.Main.Get(ctx, "fts_item_id",
			"SELECT id FROM items WHERE path = ?",
			func(r *sql.Row) error { return r.Scan(&id) }, it.Path); err != nil {
			return err
		}
		if _, err := c.Main.Run(ctx, "replace_fts",
			"INSERT OR REPLACE INTO items_fts (rowid, name) VALUES (?, ?)",
			id, text); err != nil {
			return err
		}
	}
	return nil
}

// DeleteItemsByPaths removes items at the given relative paths and, for any
// album among them, every descendant row. Related FTS, thumb, and cover rows
// go in the same transaction. Paths are chunked so each statement's bind
// count stays bounded.
func (c *Catalog) DeleteItemsByPaths(ctx context.Context, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}

	var total int64
	err := c.Main.WithTx(ctx, "delete_items", func(ctx context.Context) error {
		for start := 0; start < len(paths); start += DefaultChunkSize {
			end := start + DefaultChunkSize
			if end > len(paths) {
				end = len(paths)
			}
			n, err := c.deleteChunk(ctx, paths[start:end])
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

func (c *Catalog) deleteChunk(ctx context.Context, paths []string) (int64, error) {
	in, inArgs := InClause(paths)

	// LIKE per path catches descendants of deleted albums. ESCAPE keeps
	// literal % and _ in directory names from widening the match.
	var likes []string
	var likeArgs []any
	for _, p := range paths {
		likes = append(likes, "path LIKE ? ESCAPE '\\'")
		likeArgs = append(likeArgs, likePrefix(p))
	}
	where := "path IN " + in + " OR " + strings.Join(likes, " OR ")
	args := append(inArgs, likeArgs...)

	// Collect FTS rowids before the rows disappear.
	var ids []any
	if err := c.Main.All(ctx, "delete_collect_ids",
		"SELECT id FROM items WHERE "+where,
		func(rows *sql.Rows) error {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		}, args...); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	idIn := "(" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")"
	if _, err := c.Main.Run(ctx, "delete_fts",
		"DELETE FROM items_fts WHERE rowid IN "+idIn, ids...); err != nil {
		return 0, err
	}

	res, err := c.Main.Run(ctx, "delete_items", "DELETE FROM items WHERE "+where, args...)
	if err != nil {
		return 0, err
	}

	if _, err := c.Main.Run(ctx, "delete_thumbs",
		"DELETE FROM thumb_status WHERE "+where, args...); err != nil {
		return 0, err
	}
	coverWhere := strings.ReplaceAll(where, "path ", "album_path ")
	coverWhere += " OR cover_path IN " + in
	coverArgs := append(append([]any{}, args...), inArgs...)
	if _, err := c.Main.Run(ctx, "delete_covers",
		"DELETE FROM album_covers WHERE "+coverWhere, coverArgs...); err != nil {
		return 0, err
	}

	n, _ := res.RowsAffected()
	return n, nil
}

func likePrefix(rel string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(rel)
	return escaped + "/%"
}

// TruncateItems empties the items, FTS, and cover tables ahead of a full
// rebuild. Thumb statuses survive: regenerating thumbnails is far more
// expensive than re-walking the tree.
func (c *Catalog) TruncateItems(ctx context.Context) error {
	return c.Main.WithTx(ctx, "truncate_items", func(ctx context.Context) error {
		for _, stmt := range []string{
			"DELETE FROM items_fts",
			"DELETE FROM items",
			"DELETE FROM album_covers",
		} {
			if _, err := c.Main.Run(ctx, "truncate_items", stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountItems returns total row count, optionally filtered by type.
func (c *Catalog) CountItems(ctx context.Context, itemType string) (int64, error) {
	var n int64
	query := "SELECT COUNT(*) FROM items"
	var args []any
	if itemType != "" {
		query += " WHERE type = ?"
		args = append(args, itemType)
	}
	err := c.Main.Get(ctx, "count_items", query,
		func(r *sql.Row) error { return r.Scan(&n) }, args...)
	return n, err
}

// ItemsMissingDimensions streams media rows without usable dimensions, in
// path order after the cursor, up to limit. Used by the dimension backfill.
// The bound is <= 1 rather than = 0 so rows holding the probe-failure
// sentinel are retried too, not just never-probed rows.
func (c *Catalog) ItemsMissingDimensions(ctx context.Context, afterPath string, limit int) ([]Item, error) {
	var items []Item
	err := c.Main.All(ctx, "items_missing_dims",
		`SELECT `+itemColumns+` FROM items
		 WHERE type IN ('photo','video') AND (width <= 1 OR height <= 1) AND path > ?
		 ORDER BY path LIMIT ?`,
		func(rows *sql.Rows) error {
			var it Item
			if err := rows.Scan(scanItem(&it)...); err != nil {
				return err
			}
			items = append(items, it)
			return nil
		}, afterPath, limit)
	return items, err
}

// SetItemDimensions records probed dimensions for one media item.
func (c *Catalog) SetItemDimensions(ctx context.Context, rel string, width, height int) error {
	_, err := c.Main.Run(ctx, "set_dimensions",
		"UPDATE items SET width = ?, height = ? WHERE path = ?",
		width, height, rel)
	return err
}

// BumpAlbumMtimes updates the stored mtime of the given album paths so their
// listings sort and cache-bust correctly after content changed beneath them.
func (c *Catalog) BumpAlbumMtimes(ctx context.Context, albums []string, mtime int64) error {
	if len(albums) == 0 {
		return nil
	}
	var nonRoot []string
	for _, a := range albums {
		if a != "" {
			nonRoot = append(nonRoot, a)
		}
	}
	if len(nonRoot) == 0 {
		return nil
	}
	in, args := InClause(nonRoot)
	_, err := c.Main.Run(ctx, "bump_albums",
		"UPDATE items SET mtime = ? WHERE type = 'album' AND path IN "+in,
		append([]any{mtime}, args...)...)
	return err
}

// NewestDescendantMedia returns the most recent media item under an album
// path ("" for the whole library). Used to pick album covers.
func (c *Catalog) NewestDescendantMedia(ctx context.Context, albumPath string) (Item, error) {
	var it Item
	query := `SELECT ` + itemColumns + ` FROM items
		 WHERE type IN ('photo','video')`
	var args []any
	if albumPath != "" {
		query += " AND path LIKE ? ESCAPE '\\'"
		args = append(args, likePrefix(albumPath))
	}
	query += " ORDER BY mtime DESC, path LIMIT 1"
	err := c.Main.Get(ctx, "newest_descendant", query,
		func(r *sql.Row) error { return r.Scan(scanItem(&it)...) }, args...)
	return it, err
}

// UpsertAlbumCover stores the representative media for an album.
func (c *Catalog) UpsertAlbumCover(ctx context.Context, cover AlbumCover) error {
	_, err := c.Main.Run(ctx, "upsert_cover",
		`INSERT INTO album_covers (album_path, cover_path, width, height, mtime)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(album_path) DO UPDATE SET
			cover_path = excluded.cover_path,
			width = excluded.width,
			height = excluded.height,
			mtime = excluded.mtime`,
		cover.AlbumPath, cover.CoverPath, cover.Width, cover.Height, cover.Mtime)
	return err
}

// DeleteAlbumCover removes a stored cover, forcing recomputation.
func (c *Catalog) DeleteAlbumCover(ctx context.Context, albumPath string) error {
	_, err := c.Main.Run(ctx, "delete_cover",
		"DELETE FROM album_covers WHERE album_path = ?", albumPath)
	return err
}

// GetAlbumCover reads a stored cover.
func (c *Catalog) GetAlbumCover(ctx context.Context, albumPath string) (AlbumCover, error) {
	var cov AlbumCover
	err := c.Main.Get(ctx, "get_cover",
		"SELECT album_path, cover_path, width, height, mtime FROM album_covers WHERE album_path = ?",
		func(r *sql.Row) error {
			return r.Scan(&cov.AlbumPath, &cov.CoverPath, &cov.Width, &cov.Height, &cov.Mtime)
		}, albumPath)
	return cov, err
}

// MediaItemsAfter streams media rows in path order after the cursor, for
// maintenance scans that must not hold one long read transaction.
func (c *Catalog) MediaItemsAfter(ctx context.Context, afterPath string, limit int) ([]Item, error) {
	var items []Item
	err := c.Main.All(ctx, "media_items_after",
		`SELECT `+itemColumns+` FROM items
		 WHERE type IN ('photo','video') AND path > ?
		 ORDER BY path LIMIT ?`,
		func(rows *sql.Rows) error {
			var it Item
			if err := rows.Scan(scanItem(&it)...); err != nil {
				return err
			}
			items = append(items, it)
			return nil
		}, afterPath, limit)
	return items, err
}

// AlbumPaths returns every album path in walk order.
func (c *Catalog) AlbumPaths(ctx context.Context) ([]string, error) {
	var paths []string
	err := c.Main.All(ctx, "album_paths",
		"SELECT path FROM items WHERE type = 'album' ORDER BY path",
		func(rows *sql.Rows) error {
			var p string
			if err := rows.Scan(&p); err != nil {
				return err
			}
			paths = append(paths, p)
			return nil
		})
	return paths, err
}

// ItemsMissingMtime streams rows with a zero mtime, in path order after the
// cursor, up to limit.
func (c *Catalog) ItemsMissingMtime(ctx context.Context, afterPath string, limit int) ([]Item, error) {
	var items []Item
	err := c.Main.All(ctx, "items_missing_mtime",
		`SELECT `+itemColumns+` FROM items
		 WHERE mtime = 0 AND path > ?
		 ORDER BY path LIMIT ?`,
		func(rows *sql.Rows) error {
			var it Item
			if err := rows.Scan(scanItem(&it)...); err != nil {
				return err
			}
			items = append(items, it)
			return nil
		}, afterPath, limit)
	return items, err
}

// SetItemMtime fills in a single item's mtime.
func (c *Catalog) SetItemMtime(ctx context.Context, rel string, mtime int64) error {
	_, err := c.Main.Run(ctx, "set_mtime",
		"UPDATE items SET mtime = ? WHERE path = ?", mtime, rel)
	return err
}

// SearchItems runs an FTS match over indexed names, returning up to limit
// items ranked by FTS relevance.
func (c *Catalog) SearchItems(ctx context.Context, query string, limit int) ([]Item, error) {
	var items []Item
	err := c.Main.All(ctx, "search_items",
		`SELECT i.id, i.path, i.name, i.type, i.mtime, i.width, i.height
		 FROM items_fts f JOIN items i ON i.id = f.rowid
		 WHERE items_fts MATCH ? ORDER BY rank LIMIT ?`,
		func(rows *sql.Rows) error {
			var it Item
			if err := rows.Scan(scanItem(&it)...); err != nil {
				return err
			}
			items = append(items, it)
			return nil
		}, query, limit)
	return items, err
}
