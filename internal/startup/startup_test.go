package startup

import (
	"os"
	"path/filepath"
	"testing"

	"photovault/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	photos := filepath.Join(base, "photos")
	if err := os.MkdirAll(photos, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PHOTOS_DIR", photos)
	t.Setenv("DATA_DIR", filepath.Join(base, "data"))
	t.Setenv("CACHE_DIR", filepath.Join(base, "cache"))

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	return cfg
}

func TestPrepareCreatesDirectories(t *testing.T) {
	cfg := testConfig(t)

	if err := Prepare(cfg); err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}

	for _, dir := range []string{cfg.DataDir, cfg.CacheDir, cfg.ThumbnailDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("directory %s not created: %v", dir, err)
		}
	}
}

func TestPrepareFailsWithoutPhotoRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.PhotosDir = filepath.Join(t.TempDir(), "missing")

	if err := Prepare(cfg); err == nil {
		t.Fatal("Prepare() should fail when the photo root does not exist")
	}
}

func TestPrepareIsIdempotent(t *testing.T) {
	cfg := testConfig(t)

	if err := Prepare(cfg); err != nil {
		t.Fatalf("first Prepare() error: %v", err)
	}
	if err := Prepare(cfg); err != nil {
		t.Fatalf("second Prepare() error: %v", err)
	}
}

func TestDetectLegacyDatabaseDoesNotTouchFile(t *testing.T) {
	cfg := testConfig(t)
	if err := Prepare(cfg); err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}

	legacy := cfg.LegacyDatabasePath()
	if err := os.WriteFile(legacy, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	detectLegacyDatabase(cfg)

	data, err := os.ReadFile(legacy)
	if err != nil || string(data) != "old" {
		t.Errorf("legacy database modified: %q, %v", data, err)
	}
}

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()
	if info.Version == "" || info.GoVersion == "" {
		t.Errorf("GetBuildInfo() = %+v, want populated fields", info)
	}
}
