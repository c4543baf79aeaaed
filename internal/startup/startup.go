// Package startup handles directory preparation, environment validation,
// and lifecycle logging for the indexing service.
package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"photovault/internal/config"
	"photovault/internal/logging"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version information about the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
}

// GetBuildInfo returns the current build information.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
	}
}

// PrintBanner writes the startup header.
func PrintBanner() {
	banner := `
------------------------------------------------------------
    ____  __          __      _    __            ____
   / __ \/ /_  ____  / /_____| |  / /___ ___  __/ / /_
  / /_/ / __ \/ __ \/ __/ __ \ | / / __ '/ / / / / __/
 / ____/ / / / /_/ / /_/ /_/ / |/ / /_/ / /_/ / / /_
/_/   /_/ /_/\____/\__/\____/|___/\__,_/\__,_/_/\__/

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Built:      %s", BuildTime)
	logging.Info("  Go version: %s", GoVersion)
	logging.Info("  GOMAXPROCS: %d", runtime.GOMAXPROCS(0))
	logging.Info("------------------------------------------------------------")
}

// Prepare validates and creates the service's directories: the photo root
// must already exist (it is a mount, never created here), the data and
// thumbnail roots are created and write-checked.
func Prepare(cfg *config.Config) error {
	logging.Info("Preparing directories...")

	info, err := os.Stat(cfg.PhotosDir)
	if err != nil {
		return fmt.Errorf("photo root %s: %w", cfg.PhotosDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("photo root %s is not a directory", cfg.PhotosDir)
	}
	logging.Debug("  [OK] Photo root: %s", cfg.PhotosDir)

	for _, dir := range []struct{ path, name string }{
		{cfg.DataDir, "data"},
		{cfg.CacheDir, "cache"},
		{cfg.ThumbnailDir, "thumbnails"},
	} {
		if err := ensureDirectory(dir.path, dir.name); err != nil {
			return fmt.Errorf("%s directory %s: %w", dir.name, dir.path, err)
		}
	}

	// A read-only thumbnail volume would fail every status sync later, at a
	// much more confusing point. Fail here instead.
	if err := testWriteAccess(cfg.ThumbnailDir); err != nil {
		return fmt.Errorf("thumbnail root %s is not writable: %w", cfg.ThumbnailDir, err)
	}
	if err := testWriteAccess(cfg.DataDir); err != nil {
		return fmt.Errorf("data root %s is not writable: %w", cfg.DataDir, err)
	}

	detectLegacyDatabase(cfg)
	return nil
}

// detectLegacyDatabase logs when a pre-split single database file is still
// present. Detection only; the file is never touched.
func detectLegacyDatabase(cfg *config.Config) {
	legacy := cfg.LegacyDatabasePath()
	if info, err := os.Stat(legacy); err == nil && !info.IsDir() {
		logging.Warn("Legacy database found at %s (%d bytes); it is no longer used and can be removed",
			legacy, info.Size())
	}
}

// CheckFFprobe reports whether ffprobe is on PATH. Video dimension probing
// degrades to sentinel sizes without it.
func CheckFFprobe() bool {
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		logging.Warn("ffprobe not found in PATH; video dimensions will not be probed")
		return false
	}
	logging.Debug("  ffprobe path: %s", path)
	return true
}

// LogShutdownInitiated logs shutdown start.
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStepComplete logs a completed shutdown step.
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion.
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}
