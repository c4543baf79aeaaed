package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.IndexBatchSize != 1000 {
		t.Errorf("IndexBatchSize = %d, want 1000", cfg.IndexBatchSize)
	}
	if cfg.QueryTimeout != 30*time.Second {
		t.Errorf("QueryTimeout = %v, want 30s", cfg.QueryTimeout)
	}
	if cfg.SQLiteJournalMode != "WAL" {
		t.Errorf("SQLiteJournalMode = %q, want WAL", cfg.SQLiteJournalMode)
	}
	if !filepath.IsAbs(cfg.PhotosDir) {
		t.Errorf("PhotosDir = %q, want absolute", cfg.PhotosDir)
	}
	if cfg.ThumbnailDir != filepath.Join(cfg.CacheDir, "thumbnails") {
		t.Errorf("ThumbnailDir = %q, not under cache dir", cfg.ThumbnailDir)
	}
}

func TestQueryTimeoutClamped(t *testing.T) {
	t.Setenv("SQLITE_QUERY_TIMEOUT", "1000") // 1s, below floor
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.QueryTimeout != 15*time.Second {
		t.Errorf("QueryTimeout = %v, want clamped to 15s", cfg.QueryTimeout)
	}

	t.Setenv("SQLITE_QUERY_TIMEOUT", "600000") // 10m, above ceiling
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.QueryTimeout != 60*time.Second {
		t.Errorf("QueryTimeout = %v, want clamped to 60s", cfg.QueryTimeout)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("INDEX_BATCH_SIZE", "-5")
	t.Setenv("DISABLE_WATCH", "definitely")
	t.Setenv("INDEX_STABILIZE_DELAY_MS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.IndexBatchSize != 1000 {
		t.Errorf("IndexBatchSize = %d, want default 1000", cfg.IndexBatchSize)
	}
	if cfg.DisableWatch {
		t.Error("DisableWatch should fall back to false on parse error")
	}
	if cfg.StabilizeDelay != 2*time.Second {
		t.Errorf("StabilizeDelay = %v, want default 2s", cfg.StabilizeDelay)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INDEX_BATCH_SIZE", "250")
	t.Setenv("INDEX_LOCK_TTL_SEC", "90")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.IndexBatchSize != 250 {
		t.Errorf("IndexBatchSize = %d, want 250", cfg.IndexBatchSize)
	}
	if cfg.IndexLockTTL != 90*time.Second {
		t.Errorf("IndexLockTTL = %v, want 90s", cfg.IndexLockTTL)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
}

func TestDatabasePath(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/pv-data")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.DatabasePath("index"); got != "/tmp/pv-data/index.db" {
		t.Errorf("DatabasePath(index) = %q", got)
	}
	if got := cfg.LegacyDatabasePath(); got != "/tmp/pv-data/media.db" {
		t.Errorf("LegacyDatabasePath() = %q", got)
	}
}
