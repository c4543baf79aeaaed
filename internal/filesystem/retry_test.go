package filesystem

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestStatExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := Stat(path)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Size() != 1 {
		t.Errorf("Size() = %d, want 1", info.Size())
	}
}

func TestStatMissingFileFailsFast(t *testing.T) {
	t.Parallel()

	_, err := Stat(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat(missing) error = %v, want ErrNotExist", err)
	}
}

func TestOpenAndReadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	f.Close()

	entries, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("ReadDir() = %d entries, want 1", len(entries))
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not exist", fs.ErrNotExist, false},
		{"permission", fs.ErrPermission, false},
		{"stale nfs handle", &os.PathError{Op: "stat", Path: "/x", Err: syscall.ESTALE}, true},
		{"io error", &os.PathError{Op: "read", Path: "/x", Err: syscall.EIO}, true},
		{"timeout", syscall.ETIMEDOUT, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isTransient(tt.err); got != tt.want {
				t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryGivesUpOnPersistentTransientError(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := retry("stat", func() (struct{}, error) {
		calls++
		return struct{}{}, &os.PathError{Op: "stat", Path: "/x", Err: syscall.ESTALE}
	})
	if err == nil {
		t.Fatal("retry() should surface the final error")
	}
	if calls != maxAttempts {
		t.Errorf("retry() made %d attempts, want %d", calls, maxAttempts)
	}
}
