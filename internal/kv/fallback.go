package kv

import (
	"context"
	"time"

	"photovault/internal/logging"
)

// Fallback routes operations to a primary store while it reports available
// and to a local store otherwise. Entries written to the fallback while the
// primary is down are not replayed; TTLs keep both sides from going stale.
type Fallback struct {
	primary Store
	local   *Local
}

// New builds the process Store: Redis-backed with local fallback when addr
// is set, purely local otherwise.
func New(ctx context.Context, addr, password string, db int) Store {
	if addr == "" {
		logging.Info("KV store: local (no Redis configured)")
		return NewLocal()
	}
	logging.Info("KV store: Redis at %s with local fallback", addr)
	return &Fallback{
		primary: NewRedis(ctx, addr, password, db),
		local:   NewLocal(),
	}
}

func (f *Fallback) pick() Store {
	if f.primary.Available() {
		return f.primary
	}
	return f.local
}

func (f *Fallback) Get(ctx context.Context, key string) (string, error) {
	v, err := f.pick().Get(ctx, key)
	if err != nil && err != ErrNotFound && f.primary.Available() {
		// Primary errored mid-call; try local once before giving up.
		return f.local.Get(ctx, key)
	}
	return v, err
}

func (f *Fallback) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := f.pick().Set(ctx, key, value, ttl); err != nil {
		return f.local.Set(ctx, key, value, ttl)
	}
	return nil
}

func (f *Fallback) Delete(ctx context.Context, keys ...string) error {
	// Delete from both: a key written during a degradation window may live
	// on either side.
	errPrimary := error(nil)
	if f.primary.Available() {
		errPrimary = f.primary.Delete(ctx, keys...)
	}
	if err := f.local.Delete(ctx, keys...); err != nil {
		return err
	}
	return errPrimary
}

func (f *Fallback) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := f.pick().SetNX(ctx, key, value, ttl)
	if err != nil {
		return f.local.SetNX(ctx, key, value, ttl)
	}
	return ok, nil
}

func (f *Fallback) Incr(ctx context.Context, key string) (int64, error) {
	n, err := f.pick().Incr(ctx, key)
	if err != nil {
		return f.local.Incr(ctx, key)
	}
	return n, nil
}

func (f *Fallback) Available() bool { return true }

func (f *Fallback) Close() error {
	errPrimary := f.primary.Close()
	if err := f.local.Close(); err != nil {
		return err
	}
	return errPrimary
}
