// Package kv provides a small key/value surface used for cross-instance
// coordination: cache tags, dimension cache L2, and lock backing. A Redis
// backend is used when configured; otherwise (or when Redis degrades) a
// process-local TTL map serves the same interface.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: not found")

// Store is the coordination surface. All operations are best-effort from the
// caller's point of view: degraded availability must not break indexing.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// SetNX sets key only if absent, returning whether it was set. This is
	// the primitive distributed locks build on.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Incr atomically increments a counter key, creating it at 0.
	Incr(ctx context.Context, key string) (int64, error)

	// Available reports whether the backend is currently reachable.
	Available() bool

	Close() error
}
