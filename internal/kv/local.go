package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type localEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Local is an in-process Store backed by a TTL map. It is the default when
// no Redis address is configured and the fallback when Redis is unreachable.
type Local struct {
	mu      sync.Mutex
	entries map[string]localEntry
	done    chan struct{}
	once    sync.Once
}

// NewLocal returns a Local store with a background sweeper that evicts
// expired entries every minute.
func NewLocal() *Local {
	l := &Local{
		entries: make(map[string]localEntry),
		done:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *Local) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for k, e := range l.entries {
				if e.expired(now) {
					delete(l.entries, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *Local) Get(_ context.Context, key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || e.expired(time.Now()) {
		delete(l.entries, key)
		return "", ErrNotFound
	}
	return e.value, nil
}

func (l *Local) Set(_ context.Context, key, value string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = localEntry{value: value, expiresAt: expiry(ttl)}
	return nil
}

func (l *Local) Delete(_ context.Context, keys ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		delete(l.entries, k)
	}
	return nil
}

func (l *Local) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	l.entries[key] = localEntry{value: value, expiresAt: expiry(ttl)}
	return true, nil
}

func (l *Local) Incr(_ context.Context, key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	if e, ok := l.entries[key]; ok && !e.expired(time.Now()) {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err == nil {
			n = parsed
		}
	}
	n++
	l.entries[key] = localEntry{value: strconv.FormatInt(n, 10)}
	return n, nil
}

func (l *Local) Available() bool { return true }

func (l *Local) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
