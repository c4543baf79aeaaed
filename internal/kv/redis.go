package kv

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"photovault/internal/logging"
	"photovault/internal/metrics"
)

const probeInterval = 15 * time.Second

// Redis is a Store backed by a Redis server with availability probing. When
// Redis degrades, callers holding a Fallback transparently switch to the
// local store; a background probe flips availability back once the server
// answers PINGs again.
type Redis struct {
	client    *redis.Client
	available atomic.Bool
	done      chan struct{}
}

// NewRedis connects to addr and starts the availability probe. A Redis that
// is down at startup is not an error: the store begins unavailable and the
// probe picks it up when it returns.
func NewRedis(ctx context.Context, addr, password string, db int) *Redis {
	r := &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     password,
			DB:           db,
			DialTimeout:  3 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		}),
		done: make(chan struct{}),
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		logging.Warn("Redis at %s unavailable at startup: %v", addr, err)
		r.setAvailable(false)
	} else {
		logging.Info("Connected to Redis at %s", addr)
		r.setAvailable(true)
	}

	go r.probe()
	return r
}

func (r *Redis) probe() {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := r.client.Ping(ctx).Err()
			cancel()
			was := r.available.Load()
			now := err == nil
			if was != now {
				if now {
					logging.Info("Redis recovered")
				} else {
					logging.Warn("Redis became unavailable: %v", err)
					metrics.KVDegradations.Inc()
				}
				r.setAvailable(now)
			}
		}
	}
}

func (r *Redis) setAvailable(ok bool) {
	r.available.Store(ok)
	if ok {
		metrics.KVAvailable.Set(1)
	} else {
		metrics.KVAvailable.Set(0)
	}
}

func (r *Redis) observe(op string, err error) {
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
		// Connection-level failures flip availability immediately rather
		// than waiting for the next probe tick.
		if r.available.Load() && !errors.Is(err, context.Canceled) {
			r.setAvailable(false)
			metrics.KVDegradations.Inc()
		}
	}
	metrics.KVOperations.WithLabelValues(op, status).Inc()
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		err = ErrNotFound
	}
	r.observe("get", err)
	return v, err
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := r.client.Set(ctx, key, value, ttl).Err()
	r.observe("set", err)
	return err
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := r.client.Del(ctx, keys...).Err()
	r.observe("delete", err)
	return err
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	r.observe("setnx", err)
	return ok, err
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	r.observe("incr", err)
	return n, err
}

func (r *Redis) Available() bool { return r.available.Load() }

func (r *Redis) Close() error {
	close(r.done)
	return r.client.Close()
}
