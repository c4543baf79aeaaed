// Package filesystem wraps stat/open/readdir with retries for the transient
// errors network filesystems produce. Photo libraries commonly live on NFS
// or SMB mounts where a momentary ESTALE or EIO does not mean the file is
// gone.
package filesystem

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"photovault/internal/logging"
	"photovault/internal/metrics"
)

const (
	maxAttempts    = 3
	initialBackoff = 50 * time.Millisecond
	maxBackoff     = 500 * time.Millisecond
)

// isTransient reports whether an error is worth retrying. Not-exist is
// final: retrying a genuinely deleted file only slows the caller down.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.ESTALE, syscall.EIO, syscall.ETIMEDOUT, syscall.EAGAIN, syscall.EINTR, syscall.EBUSY:
		return true
	}
	return false
}

func retry[T any](op string, fn func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.MaxInterval = maxBackoff

	attempt := 0
	result, err := backoff.RetryWithData(func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !isTransient(err) {
			return v, backoff.Permanent(err)
		}
		metrics.FSRetries.WithLabelValues(op).Inc()
		logging.Debug("Transient %s error (attempt %d/%d): %v", op, attempt, maxAttempts, err)
		return v, err
	}, backoff.WithMaxRetries(bo, maxAttempts-1))
	if err != nil && isTransient(err) {
		metrics.FSFailures.WithLabelValues(op).Inc()
	}
	return result, err
}

// Stat is os.Stat with transient-error retries.
func Stat(path string) (os.FileInfo, error) {
	return retry("stat", func() (os.FileInfo, error) { return os.Stat(path) })
}

// Open is os.Open with transient-error retries.
func Open(path string) (*os.File, error) {
	return retry("open", func() (*os.File, error) { return os.Open(path) })
}

// ReadDir is os.ReadDir with transient-error retries.
func ReadDir(path string) ([]os.DirEntry, error) {
	return retry("readdir", func() ([]os.DirEntry, error) { return os.ReadDir(path) })
}
