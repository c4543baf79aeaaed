// Package config loads and validates all environment-driven configuration
// for the indexing and orchestration subsystem.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"photovault/internal/logging"
	"photovault/internal/workers"
)

// Config holds all application configuration.
type Config struct {
	// Directories
	PhotosDir    string
	CacheDir     string
	DataDir      string
	ThumbnailDir string

	// Network
	Port           string
	MetricsPort    string
	MetricsEnabled bool

	// Distributed KV (empty address = local-only mode)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Indexing
	IndexBatchSize      int
	IndexConcurrency    int
	StabilizeDelay      time.Duration
	IndexStartDelay     time.Duration
	IndexRetryInterval  time.Duration
	IndexTimeout        time.Duration
	IndexLockTTL        time.Duration
	DisableStartupIndex bool

	// Watcher
	DisableWatch             bool
	WatchDepth               int
	WatchUsePolling          bool
	WatchPollInterval        time.Duration
	WatchStability           time.Duration
	WatcherIdleStop          time.Duration
	WatchEscalationThreshold int
	HashSizeThreshold        int64
	HashSampleBytes          int64

	// Video thumbnail hand-off (0 or negative discards requests)
	VideoQueueDepth int

	// SQLite tuning
	SQLiteJournalMode string
	SQLiteSynchronous string
	SQLiteTempStore   string
	SQLiteCacheSize   int
	SQLiteMmapSize    int64
	SQLiteBusyTimeout time.Duration
	QueryTimeout      time.Duration
	SlowQuery         time.Duration

	// Connection supervision
	DBHealthCheckInterval time.Duration
	DBReconnectAttempts   int

	// Backfill pacing
	DimBackfillBatch   int
	DimBackfillSleep   time.Duration
	MtimeBackfillBatch int
	MtimeBackfillSleep time.Duration

	// Post-index maintenance scheduling
	PostIndexBackfillDelay   time.Duration
	PostIndexBackfillRetry   time.Duration
	PostIndexBackfillTimeout time.Duration

	// DB maintenance scheduling
	DBMaintInterval     time.Duration
	DBMaintRetry        time.Duration
	DBMaintInitialDelay time.Duration
	DBMaintDBDelayStep  time.Duration
	HistoryRetention    time.Duration
}

const (
	minQueryTimeout = 15 * time.Second
	maxQueryTimeout = 60 * time.Second
)

// Load reads configuration from the environment, resolves paths, and applies
// defaults and clamps. It does not create directories; see startup.Prepare.
func Load() (*Config, error) {
	cfg := &Config{
		PhotosDir:      getEnv("PHOTOS_DIR", "/photos"),
		CacheDir:       getEnv("CACHE_DIR", "/cache"),
		DataDir:        getEnv("DATA_DIR", "/data"),
		Port:           getEnv("PORT", "8080"),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		IndexBatchSize:      getEnvInt("INDEX_BATCH_SIZE", 1000),
		IndexConcurrency:    getEnvInt("INDEX_CONCURRENCY", workers.ForProbing(8)),
		StabilizeDelay:      getEnvMillis("INDEX_STABILIZE_DELAY_MS", 2*time.Second),
		IndexStartDelay:     getEnvMillis("INDEX_START_DELAY_MS", 10*time.Second),
		IndexRetryInterval:  getEnvMillis("INDEX_RETRY_INTERVAL_MS", 30*time.Second),
		IndexTimeout:        getEnvMillis("INDEX_TIMEOUT_MS", 2*time.Hour),
		IndexLockTTL:        getEnvSeconds("INDEX_LOCK_TTL_SEC", 2*time.Hour),
		DisableStartupIndex: getEnvBool("DISABLE_STARTUP_INDEX", false),

		DisableWatch:             getEnvBool("DISABLE_WATCH", false),
		WatchDepth:               getEnvInt("WATCH_DEPTH", 0),
		WatchUsePolling:          getEnvBool("WATCH_USE_POLLING", false),
		WatchPollInterval:        getEnvMillis("WATCH_POLL_INTERVAL", 30*time.Second),
		WatchStability:           getEnvMillis("WATCH_STABILITY_THRESHOLD", 2*time.Second),
		WatcherIdleStop:          getEnvMillis("WATCHER_IDLE_STOP_MS", 0),
		WatchEscalationThreshold: getEnvInt("WATCH_ESCALATION_THRESHOLD", 5000),
		HashSizeThreshold:        getEnvInt64("INDEX_HASH_SIZE_THRESHOLD", 32<<20),
		HashSampleBytes:          getEnvInt64("INDEX_HASH_SAMPLE_BYTES", 64<<10),

		VideoQueueDepth: getEnvInt("VIDEO_QUEUE_DEPTH", 64),

		SQLiteJournalMode: getEnv("SQLITE_JOURNAL_MODE", "WAL"),
		SQLiteSynchronous: getEnv("SQLITE_SYNCHRONOUS", "NORMAL"),
		SQLiteTempStore:   getEnv("SQLITE_TEMP_STORE", "MEMORY"),
		SQLiteCacheSize:   getEnvInt("SQLITE_CACHE_SIZE", -64000),
		SQLiteMmapSize:    getEnvInt64("SQLITE_MMAP_SIZE", 256<<20),
		SQLiteBusyTimeout: getEnvMillis("SQLITE_BUSY_TIMEOUT", 5*time.Second),
		QueryTimeout:      getEnvMillis("SQLITE_QUERY_TIMEOUT", 30*time.Second),
		SlowQuery:         getEnvMillis("SQLITE_SLOW_QUERY_MS", time.Second),

		DBHealthCheckInterval: getEnvMillis("DB_HEALTH_CHECK_INTERVAL", time.Minute),
		DBReconnectAttempts:   getEnvInt("DB_RECONNECT_ATTEMPTS", 5),

		DimBackfillBatch:   getEnvInt("DIM_BACKFILL_BATCH", 200),
		DimBackfillSleep:   getEnvMillis("DIM_BACKFILL_SLEEP_MS", 500*time.Millisecond),
		MtimeBackfillBatch: getEnvInt("MTIME_BACKFILL_BATCH", 500),
		MtimeBackfillSleep: getEnvMillis("MTIME_BACKFILL_SLEEP_MS", 250*time.Millisecond),

		PostIndexBackfillDelay:   getEnvMillis("POST_INDEX_BACKFILL_DELAY_MS", 30*time.Second),
		PostIndexBackfillRetry:   getEnvMillis("POST_INDEX_BACKFILL_RETRY_MS", 5*time.Minute),
		PostIndexBackfillTimeout: getEnvMillis("POST_INDEX_BACKFILL_TIMEOUT_MS", time.Hour),

		DBMaintInterval:     getEnvMillis("DB_MAINT_INTERVAL_MS", 6*time.Hour),
		DBMaintRetry:        getEnvMillis("DB_MAINT_RETRY_MS", 15*time.Minute),
		DBMaintInitialDelay: getEnvMillis("DB_MAINT_INITIAL_DELAY_MS", 5*time.Minute),
		DBMaintDBDelayStep:  getEnvMillis("DB_MAINT_DB_DELAY_STEP_MS", 30*time.Second),
		HistoryRetention:    getEnvMillis("HISTORY_RETENTION_MS", 90*24*time.Hour),
	}

	var err error
	cfg.PhotosDir, err = filepath.Abs(cfg.PhotosDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve photos directory path: %w", err)
	}
	cfg.CacheDir, err = filepath.Abs(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory path: %w", err)
	}
	cfg.DataDir, err = filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	cfg.ThumbnailDir = filepath.Join(cfg.CacheDir, "thumbnails")

	if cfg.IndexBatchSize < 1 {
		logging.Warn("Invalid INDEX_BATCH_SIZE, using default: 1000")
		cfg.IndexBatchSize = 1000
	}
	if cfg.IndexConcurrency < 1 {
		cfg.IndexConcurrency = 1
	}

	// The query deadline must stay within a window that tolerates slow NFS
	// without letting a wedged statement hold a job forever.
	if cfg.QueryTimeout < minQueryTimeout {
		cfg.QueryTimeout = minQueryTimeout
	}
	if cfg.QueryTimeout > maxQueryTimeout {
		cfg.QueryTimeout = maxQueryTimeout
	}

	return cfg, nil
}

// DatabasePath returns the on-disk path of a logical database
// ("main", "settings", "history", "index").
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

// LegacyDatabasePath returns the path of the pre-split single database file.
func (c *Config) LegacyDatabasePath() string {
	return filepath.Join(c.DataDir, "media.db")
}

// LogSummary writes the effective configuration to the log in the startup
// section format.
func (c *Config) LogSummary() {
	logging.Info("  PHOTOS_DIR:          %s", c.PhotosDir)
	logging.Info("  CACHE_DIR:           %s", c.CacheDir)
	logging.Info("  DATA_DIR:            %s", c.DataDir)
	logging.Info("  PORT:                %s", c.Port)
	logging.Info("  METRICS_PORT:        %s", c.MetricsPort)
	logging.Info("  METRICS_ENABLED:     %v", c.MetricsEnabled)
	if c.RedisAddr != "" {
		logging.Info("  REDIS_ADDR:          %s", c.RedisAddr)
	} else {
		logging.Info("  REDIS_ADDR:          (unset, local mode)")
	}
	logging.Info("  INDEX_BATCH_SIZE:    %d", c.IndexBatchSize)
	logging.Info("  INDEX_CONCURRENCY:   %d", c.IndexConcurrency)
	logging.Info("  DISABLE_WATCH:       %v", c.DisableWatch)
	logging.Info("  DISABLE_STARTUP_INDEX: %v", c.DisableStartupIndex)
	logging.Info("  SQLITE_QUERY_TIMEOUT: %v", c.QueryTimeout)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getEnvMillis reads an integer number of milliseconds.
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid duration value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return time.Duration(parsed) * time.Millisecond
}

// getEnvSeconds reads an integer number of seconds.
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid duration value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return time.Duration(parsed) * time.Second
}
