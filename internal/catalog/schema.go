package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"photovault/internal/logging"
)

// Schemas are applied with CREATE ... IF NOT EXISTS so a restart over an
// existing catalog is a no-op. Structural changes beyond that go through the
// migrations ledger below.

const mainSchema = `
CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	type TEXT NOT NULL CHECK (type IN ('album','photo','video','other')),
	mtime INTEGER NOT NULL DEFAULT 0,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_items_type ON items(type);
CREATE INDEX IF NOT EXISTS idx_items_mtime ON items(mtime);
CREATE INDEX IF NOT EXISTS idx_items_path_prefix ON items(path COLLATE NOCASE);

CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
	name,
	tokenize='trigram'
);

CREATE TABLE IF NOT EXISTS thumb_status (
	path TEXT PRIMARY KEY,
	mtime INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending','processing','exists','missing','failed','permanent_failed')),
	last_checked INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_thumb_status_status ON thumb_status(status);

CREATE TABLE IF NOT EXISTS album_covers (
	album_path TEXT PRIMARY KEY,
	cover_path TEXT NOT NULL,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	mtime INTEGER NOT NULL DEFAULT 0
);
`

const settingsSchema = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT 0
);
`

const historySchema = `
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL,
	event TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_path ON history(path);
CREATE INDEX IF NOT EXISTS idx_history_created ON history(created_at);
`

const indexSchema = `
CREATE TABLE IF NOT EXISTS index_status (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	status TEXT NOT NULL DEFAULT 'idle'
		CHECK (status IN ('idle','building','complete','pending')),
	processed_files INTEGER NOT NULL DEFAULT 0,
	total_files INTEGER NOT NULL DEFAULT 0,
	last_updated INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS index_progress (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT 0
);
`

const migrationsSchema = `
CREATE TABLE IF NOT EXISTS migrations (
	key TEXT PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`

// migration is a keyed, one-shot schema change. Each runs at most once per
// database, recorded in the migrations ledger.
type migration struct {
	key string
	fn  func(ctx context.Context, db *DB) error
}

var mainMigrations = []migration{
	{
		// Older catalogs predate dimension columns on items.
		key: "2025-06-items-dimensions",
		fn: func(ctx context.Context, db *DB) error {
			for _, col := range []string{"width", "height"} {
				ok, err := db.HasColumn(ctx, "items", col)
				if err != nil {
					return err
				}
				if ok {
					continue
				}
				if _, err := db.Run(ctx, "migrate",
					fmt.Sprintf("ALTER TABLE items ADD COLUMN %s INTEGER NOT NULL DEFAULT 0", col)); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		key: "2025-09-thumb-status-last-checked",
		fn: func(ctx context.Context, db *DB) error {
			ok, err := db.HasColumn(ctx, "thumb_status", "last_checked")
			if err != nil || ok {
				return err
			}
			_, err = db.Run(ctx, "migrate",
				"ALTER TABLE thumb_status ADD COLUMN last_checked INTEGER NOT NULL DEFAULT 0")
			return err
		},
	},
}

func (c *Catalog) migrate(ctx context.Context) error {
	schemas := map[string]string{
		DBMain:     mainSchema,
		DBSettings: settingsSchema,
		DBHistory:  historySchema,
		DBIndex:    indexSchema,
	}

	for _, name := range Names {
		db := c.dbs[name]
		if err := db.WithTx(ctx, "schema", func(ctx context.Context) error {
			if _, err := db.Run(ctx, "schema", migrationsSchema); err != nil {
				return err
			}
			_, err := db.Run(ctx, "schema", schemas[name])
			return err
		}); err != nil {
			return fmt.Errorf("schema for %s: %w", name, err)
		}
	}

	if err := runMigrations(ctx, c.Main, mainMigrations); err != nil {
		return err
	}

	// Seed the index_status singleton so status reads never hit ErrNotFound.
	_, err := c.Index.Run(ctx, "seed_status",
		"INSERT OR IGNORE INTO index_status (id, status, last_updated) VALUES (1, ?, ?)",
		IndexIdle, time.Now().UnixMilli())
	return err
}

func runMigrations(ctx context.Context, db *DB, migs []migration) error {
	for _, m := range migs {
		var n int
		err := db.Get(ctx, "migrate_check",
			"SELECT COUNT(*) FROM migrations WHERE key = ?",
			func(r *sql.Row) error { return r.Scan(&n) }, m.key)
		if err != nil {
			return fmt.Errorf("migration check %s: %w", m.key, err)
		}
		if n > 0 {
			continue
		}

		logging.Info("Applying migration %s to %s database", m.key, db.name)
		if err := db.WithTx(ctx, "migrate", func(ctx context.Context) error {
			if err := m.fn(ctx, db); err != nil {
				return err
			}
			_, err := db.Run(ctx, "migrate",
				"INSERT INTO migrations (key, applied_at) VALUES (?, ?)",
				m.key, time.Now().UnixMilli())
			return err
		}); err != nil {
			return fmt.Errorf("migration %s: %w", m.key, err)
		}
	}
	return nil
}
