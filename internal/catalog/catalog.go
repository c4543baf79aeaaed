package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"photovault/internal/logging"
	"photovault/internal/metrics"
)

// Logical database names.
const (
	DBMain     = "main"
	DBSettings = "settings"
	DBHistory  = "history"
	DBIndex    = "index"
)

// Names lists the logical databases in maintenance order.
var Names = []string{DBMain, DBSettings, DBHistory, DBIndex}

const defaultPingTimeout = 5 * time.Second

// Options configures connection behavior for all four databases.
type Options struct {
	DataDir     string
	JournalMode string
	Synchronous string
	TempStore   string
	CacheSize   int
	MmapSize    int64
	BusyTimeout time.Duration
	QueryTimeout time.Duration
	SlowQuery    time.Duration

	// IndexingInProgress reports whether a full rebuild holds the catalog.
	// Writers apply a first-attempt pre-delay while it returns true, so
	// interactive writes yield to the indexer instead of colliding with it.
	// Nil means never.
	IndexingInProgress func() bool
}

// Catalog owns the connections to the four logical databases and is the only
// component that issues PRAGMAs.
type Catalog struct {
	opts Options

	Main     *DB
	Settings *DB
	History  *DB
	Index    *DB

	dbs  map[string]*DB
	lock *flock.Flock
}

// Open acquires the single-writer guard, opens all four databases, applies
// PRAGMAs, and runs idempotent schema migrations.
func Open(ctx context.Context, opts Options) (*Catalog, error) {
	if err := diagnosePermissions(opts.DataDir); err != nil {
		logging.Warn("Data directory diagnostics: %v", err)
	}

	// One writer per catalog. A second process gets a clean startup error
	// instead of interleaved WAL corruption risk.
	guard := flock.New(filepath.Join(opts.DataDir, "catalog.lock"))
	locked, err := guard.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire catalog lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("catalog at %s is held by another process", opts.DataDir)
	}

	c := &Catalog{
		opts: opts,
		dbs:  make(map[string]*DB, len(Names)),
		lock: guard,
	}

	for _, name := range Names {
		db, err := c.openDB(ctx, name)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to open %s database: %w", name, err)
		}
		c.dbs[name] = db
	}
	c.Main = c.dbs[DBMain]
	c.Settings = c.dbs[DBSettings]
	c.History = c.dbs[DBHistory]
	c.Index = c.dbs[DBIndex]

	if err := c.migrate(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info("Catalog initialized: %d databases in %s", len(c.dbs), opts.DataDir)
	return c, nil
}

func (c *Catalog) openDB(ctx context.Context, name string) (*DB, error) {
	dbPath := filepath.Join(c.opts.DataDir, name+".db")

	// busy_timeout absorbs short lock contention at the driver level; the
	// retry wrapper handles the longer storms.
	connStr := fmt.Sprintf(
		"file:%s?_journal_mode=%s&_synchronous=%s&_temp_store=%s&_cache_size=%d&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate",
		dbPath,
		c.opts.JournalMode,
		c.opts.Synchronous,
		c.opts.TempStore,
		c.opts.CacheSize,
		c.opts.BusyTimeout.Milliseconds(),
	)

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			logging.Error("failed to close %s database after ping failure: %v", name, closeErr)
		}
		return nil, err
	}

	// Allow multiple readers - the single-writer discipline is enforced at
	// the application level, not the pool level.
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if c.opts.MmapSize > 0 {
		if _, err := sqlDB.ExecContext(ctx, fmt.Sprintf("PRAGMA mmap_size=%d", c.opts.MmapSize)); err != nil {
			logging.Warn("Failed to set mmap_size on %s: %v", name, err)
		}
	}

	return &DB{
		name:    name,
		path:    dbPath,
		connStr: connStr,
		sql:     sqlDB,
		cat:     c,
	}, nil
}

// DB returns the named logical database.
func (c *Catalog) DB(name string) *DB {
	return c.dbs[name]
}

// Close closes all database connections and releases the writer guard.
func (c *Catalog) Close() error {
	var firstErr error
	for name, db := range c.dbs {
		if db == nil || db.sql == nil {
			continue
		}
		if err := db.sql.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s database: %w", name, err)
		}
	}
	if c.lock != nil {
		if err := c.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to release catalog lock: %w", err)
		}
	}
	return firstErr
}

// HealthIssues pings every database and checks the required main tables,
// returning machine-readable issue codes for the health endpoint.
func (c *Catalog) HealthIssues(ctx context.Context) []string {
	var issues []string

	for _, name := range Names {
		db := c.dbs[name]
		pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
		err := db.sql.PingContext(pingCtx)
		cancel()
		if err != nil {
			issues = append(issues, "database_connections")
			return issues // deeper checks would just fail too
		}
	}

	if ok, err := c.Main.HasTable(ctx, "items"); err != nil || !ok {
		issues = append(issues, "items_table")
	}
	if ok, err := c.Main.HasTable(ctx, "items_fts"); err != nil || !ok {
		issues = append(issues, "items_fts_table")
	}

	return issues
}

// UpdateConnMetrics exports pool statistics for every database.
func (c *Catalog) UpdateConnMetrics() {
	for name, db := range c.dbs {
		metrics.DBConnectionsOpen.WithLabelValues(name).Set(float64(db.sql.Stats().OpenConnections))
	}
}

// Supervise periodically health-checks the connections and reconnects with
// capped exponential backoff when a ping fails. Runs until ctx is done.
func (c *Catalog) Supervise(ctx context.Context, interval time.Duration, maxAttempts int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.UpdateConnMetrics()
			for _, name := range Names {
				db := c.dbs[name]
				pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
				err := db.sql.PingContext(pingCtx)
				cancel()
				if err == nil {
					continue
				}
				logging.Error("Health check failed for %s database: %v", name, err)
				if recErr := db.reconnect(ctx, maxAttempts); recErr != nil {
					logging.Error("Reconnect failed for %s database: %v", name, recErr)
				}
			}
		}
	}
}

// diagnosePermissions checks data directory writability and flags read-only
// WAL/SHM sidecars, which cause confusing write failures later.
func diagnosePermissions(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat data directory: %w", err)
	}
	logging.Debug("Data directory: %s (mode: %v)", dir, info.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("data directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	for _, name := range Names {
		base := filepath.Join(dir, name+".db")
		for _, p := range []string{base, base + "-wal", base + "-shm"} {
			fi, err := os.Stat(p)
			if err != nil {
				continue
			}
			if fi.Mode().Perm()&0o200 == 0 {
				logging.Warn("Database file is read-only: %s (mode: %v)", p, fi.Mode())
				if chmodErr := os.Chmod(p, 0o600); chmodErr != nil {
					logging.Error("Failed to fix permissions on %s: %v", p, chmodErr)
				} else {
					logging.Info("Fixed permissions on %s", p)
				}
			}
		}
	}

	return nil
}
