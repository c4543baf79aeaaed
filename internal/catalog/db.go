package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"photovault/internal/logging"
	"photovault/internal/metrics"
)

// Busy retry schedule. busy_timeout at the driver level absorbs short
// contention; this wrapper handles the multi-second storms a full rebuild
// can produce.
const (
	busyMaxAttempts  = 8
	busyBaseInterval = 50 * time.Millisecond
	busyMaxInterval  = 5 * time.Second
	busyPreDelay     = 100 * time.Millisecond
)

// DB wraps one logical SQLite database with query timeouts, bounded busy
// retry, and nested-transaction tracking.
type DB struct {
	name    string
	path    string
	connStr string
	sql     *sql.DB
	cat     *Catalog

	// txMu serializes writers. The open transaction itself travels in the
	// context WithTx hands its callback, so statements outside that call
	// chain keep using the pool and never read uncommitted state.
	txMu sync.Mutex
}

// txCtxKey marks the transaction entry chain in a context.
type txCtxKey struct{}

// txCtxEntry links one open transaction to its database. Entries chain so a
// callback holding transactions on two databases routes each statement to
// the right one.
type txCtxEntry struct {
	db     *DB
	tx     *sql.Tx
	parent *txCtxEntry
}

// txFromContext returns the open transaction for d carried by ctx, or nil.
func txFromContext(ctx context.Context, d *DB) *sql.Tx {
	e, _ := ctx.Value(txCtxKey{}).(*txCtxEntry)
	for ; e != nil; e = e.parent {
		if e.db == d {
			return e.tx
		}
	}
	return nil
}

// Name returns the logical database name.
func (d *DB) Name() string { return d.name }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// SQL exposes the underlying pool for callers that need raw access
// (maintenance PRAGMAs, EXPLAIN).
func (d *DB) SQL() *sql.DB { return d.sql }

func (d *DB) queryTimeout() time.Duration {
	if d.cat != nil && d.cat.opts.QueryTimeout > 0 {
		return d.cat.opts.QueryTimeout
	}
	return 30 * time.Second
}

func (d *DB) slowThreshold() time.Duration {
	if d.cat != nil && d.cat.opts.SlowQuery > 0 {
		return d.cat.opts.SlowQuery
	}
	return time.Second
}

func (d *DB) indexingInProgress() bool {
	if d.cat == nil || d.cat.opts.IndexingInProgress == nil {
		return false
	}
	return d.cat.opts.IndexingInProgress()
}

// withRetry runs op under the bounded busy-retry schedule. When a rebuild is
// in progress, the first attempt is pre-delayed so interactive writes yield
// rather than collide.
func (d *DB) withRetry(ctx context.Context, operation string, op func() error) error {
	if d.indexingInProgress() {
		select {
		case <-time.After(busyPreDelay):
		case <-ctx.Done():
			return mapError(ctx.Err())
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = busyBaseInterval
	bo.MaxInterval = busyMaxInterval
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, busyMaxAttempts-1), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if isBusyErr(err) {
			metrics.DBBusyRetries.WithLabelValues(d.name, operation).Inc()
			logging.Debug("Database %s busy on %s (attempt %d/%d): %v", d.name, operation, attempt, busyMaxAttempts, err)
			return err // retryable
		}
		return backoff.Permanent(err)
	}, policy)

	return mapError(err)
}

func (d *DB) observe(operation string, start time.Time, err error) {
	elapsed := time.Since(start)
	status := "success"
	switch {
	case err == nil:
	case mapError(err) == ErrTimeout:
		status = "timeout"
		metrics.DBTimeouts.WithLabelValues(d.name, operation).Inc()
	default:
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(d.name, operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(d.name, operation).Observe(elapsed.Seconds())
	if elapsed > d.slowThreshold() {
		logging.Warn("Slow query on %s (%s): %v", d.name, operation, elapsed)
	}
}

// Run executes a statement with timeout, retry, and metrics. If ctx carries
// a transaction opened on this database, the statement joins it.
func (d *DB) Run(ctx context.Context, operation, query string, args ...any) (sql.Result, error) {
	start := time.Now()

	var res sql.Result
	err := d.withRetry(ctx, operation, func() error {
		qctx, cancel := context.WithTimeout(ctx, d.queryTimeout())
		defer cancel()

		var execErr error
		if tx := txFromContext(ctx, d); tx != nil {
			res, execErr = tx.ExecContext(qctx, query, args...)
		} else {
			res, execErr = d.sql.ExecContext(qctx, query, args...)
		}
		return execErr
	})

	d.observe(operation, start, err)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", operation, d.name, err)
	}
	return res, nil
}

// Get runs a single-row query, passing the row to scan. A missing row
// surfaces as ErrNotFound.
func (d *DB) Get(ctx context.Context, operation, query string, scan func(*sql.Row) error, args ...any) error {
	start := time.Now()

	err := d.withRetry(ctx, operation, func() error {
		qctx, cancel := context.WithTimeout(ctx, d.queryTimeout())
		defer cancel()

		var row *sql.Row
		if tx := txFromContext(ctx, d); tx != nil {
			row = tx.QueryRowContext(qctx, query, args...)
		} else {
			row = d.sql.QueryRowContext(qctx, query, args...)
		}
		return scan(row)
	})

	d.observe(operation, start, err)
	if err != nil {
		mapped := mapError(err)
		if mapped == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("%s on %s: %w", operation, d.name, mapped)
	}
	return nil
}

// All runs a multi-row query, invoking scan for each row.
func (d *DB) All(ctx context.Context, operation, query string, scan func(*sql.Rows) error, args ...any) error {
	start := time.Now()

	err := d.withRetry(ctx, operation, func() error {
		qctx, cancel := context.WithTimeout(ctx, d.queryTimeout())
		defer cancel()

		var rows *sql.Rows
		var qerr error
		if tx := txFromContext(ctx, d); tx != nil {
			rows, qerr = tx.QueryContext(qctx, query, args...)
		} else {
			rows, qerr = d.sql.QueryContext(qctx, query, args...)
		}
		if qerr != nil {
			return qerr
		}
		defer func() {
			if closeErr := rows.Close(); closeErr != nil {
				logging.Debug("rows close on %s: %v", d.name, closeErr)
			}
		}()

		for rows.Next() {
			if scanErr := scan(rows); scanErr != nil {
				return scanErr
			}
		}
		return rows.Err()
	})

	d.observe(operation, start, err)
	if err != nil {
		return fmt.Errorf("%s on %s: %w", operation, d.name, mapError(err))
	}
	return nil
}

// WithTx runs fn inside an IMMEDIATE transaction. The transaction is carried
// in the context given to fn, so only statements on fn's call chain join it;
// a nested WithTx on the same database runs inside the outer transaction
// rather than issuing a second BEGIN.
func (d *DB) WithTx(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if txFromContext(ctx, d) != nil {
		return fn(ctx)
	}

	// Outermost: serialize writers, then begin with busy retry.
	d.txMu.Lock()
	defer d.txMu.Unlock()

	start := time.Now()

	var tx *sql.Tx
	err := d.withRetry(ctx, operation+"_begin", func() error {
		var beginErr error
		tx, beginErr = d.sql.BeginTx(ctx, nil)
		return beginErr
	})
	if err != nil {
		return fmt.Errorf("begin %s on %s: %w", operation, d.name, err)
	}

	parent, _ := ctx.Value(txCtxKey{}).(*txCtxEntry)
	fnErr := fn(context.WithValue(ctx, txCtxKey{}, &txCtxEntry{db: d, tx: tx, parent: parent}))

	if fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			logging.Error("Rollback failed for %s on %s: %v", operation, d.name, rbErr)
		}
		metrics.DBTransactionDuration.WithLabelValues(d.name, "rollback").Observe(time.Since(start).Seconds())
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		metrics.DBTransactionDuration.WithLabelValues(d.name, "rollback").Observe(time.Since(start).Seconds())
		return fmt.Errorf("commit %s on %s: %w", operation, d.name, mapError(commitErr))
	}
	metrics.DBTransactionDuration.WithLabelValues(d.name, "commit").Observe(time.Since(start).Seconds())
	return nil
}

// BatchOptions controls BatchExec chunking.
type BatchOptions struct {
	// ChunkSize is the max rows per multi-row INSERT. Bounded so the total
	// bind parameter count stays under SQLite's limit.
	ChunkSize int

	// ManageTransaction wraps the whole batch in one transaction when true.
	// Leave false when the caller already holds one.
	ManageTransaction bool
}

// DefaultChunkSize keeps parameter counts safely under SQLITE_MAX_VARIABLE_NUMBER
// for rows of up to a dozen columns.
const DefaultChunkSize = 500

// BatchExec inserts rows in chunks using a multi-row VALUES statement.
// queryPrefix is everything up to and including "VALUES"; querySuffix is an
// optional ON CONFLICT clause. All rows must have the same width.
func (d *DB) BatchExec(ctx context.Context, operation, queryPrefix, querySuffix string, rows [][]any, opts BatchOptions) error {
	if len(rows) == 0 {
		return nil
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	width := len(rows[0])
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", width), ",") + ")"

	doChunks := func(ctx context.Context) error {
		for start := 0; start < len(rows); start += chunkSize {
			end := start + chunkSize
			if end > len(rows) {
				end = len(rows)
			}
			chunk := rows[start:end]

			placeholders := make([]string, len(chunk))
			args := make([]any, 0, len(chunk)*width)
			for i, row := range chunk {
				if len(row) != width {
					return fmt.Errorf("%w: batch row %d has %d values, want %d", ErrValidation, start+i, len(row), width)
				}
				placeholders[i] = placeholder
				args = append(args, row...)
			}

			query := queryPrefix + " " + strings.Join(placeholders, ",")
			if querySuffix != "" {
				query += " " + querySuffix
			}
			if _, err := d.Run(ctx, operation, query, args...); err != nil {
				return err
			}
			metrics.DBBatchRows.WithLabelValues(d.name).Observe(float64(len(chunk)))
		}
		return nil
	}

	if opts.ManageTransaction {
		return d.WithTx(ctx, operation, doChunks)
	}
	return doChunks(ctx)
}

// HasTable reports whether the named table exists.
func (d *DB) HasTable(ctx context.Context, table string) (bool, error) {
	var n int
	err := d.Get(ctx, "has_table",
		"SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?",
		func(r *sql.Row) error { return r.Scan(&n) }, table)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasColumn reports whether the table has the named column.
func (d *DB) HasColumn(ctx context.Context, table, column string) (bool, error) {
	found := false
	err := d.All(ctx, "has_column",
		fmt.Sprintf("PRAGMA table_info(%s)", table),
		func(rows *sql.Rows) error {
			var cid int
			var name, ctype string
			var notnull, pk int
			var dflt sql.NullString
			if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
				return err
			}
			if name == column {
				found = true
			}
			return nil
		})
	if err != nil {
		return false, err
	}
	return found, nil
}

// InClause builds "(?,?,...)" with its argument slice for an IN predicate.
func InClause(values []string) (string, []any) {
	if len(values) == 0 {
		return "(NULL)", nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", len(values)), ",") + ")", args
}

// reconnect closes and reopens the underlying pool with capped exponential
// backoff. Used by the supervision loop when a health check fails, which on
// NFS-backed data directories usually means a stale handle.
func (d *DB) reconnect(ctx context.Context, maxAttempts int) error {
	if err := d.sql.Close(); err != nil {
		logging.Debug("Close before reconnect on %s: %v", d.name, err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		logging.Info("Reconnecting %s database (attempt %d/%d)", d.name, attempt, maxAttempts)

		newDB, err := sql.Open("sqlite3", d.connStr)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
		err = newDB.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = newDB.Close()
			return err
		}

		newDB.SetMaxOpenConns(25)
		newDB.SetMaxIdleConns(10)
		newDB.SetConnMaxLifetime(time.Hour)

		d.sql = newDB
		logging.Info("Reconnected %s database", d.name)
		return nil
	}, policy)
}
