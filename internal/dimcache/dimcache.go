// Package dimcache resolves media dimensions with a two-tier cache in front
// of the probes: a small in-process L1 and the kv store as L2, keyed by
// absolute path + mtime so a changed file never serves stale dimensions.
package dimcache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maypok86/otter"

	"photovault/internal/kv"
	"photovault/internal/logging"
	"photovault/internal/mediatypes"
	"photovault/internal/metrics"
)

// Sentinel dimensions recorded when every probe fails. Indexing proceeds;
// the dimension backfill retries these later.
const (
	SentinelWidth  = 1
	SentinelHeight = 1
)

const (
	l1Capacity = 500
	l2TTL      = time.Hour
	keyPrefix  = "dim:"
)

// Dimensions is a probed width/height pair.
type Dimensions struct {
	Width  int
	Height int
}

// Sentinel reports whether the dimensions are the probe-failure fallback.
func (d Dimensions) Sentinel() bool {
	return d.Width == SentinelWidth && d.Height == SentinelHeight
}

// Cache is the two-tier dimension cache.
type Cache struct {
	l1    otter.Cache[string, Dimensions]
	store kv.Store
	probe func(ctx context.Context, absPath string, kind mediatypes.ItemType) (Dimensions, error)
}

// New builds the cache over the given kv store.
func New(store kv.Store) (*Cache, error) {
	l1, err := otter.MustBuilder[string, Dimensions](l1Capacity).
		WithTTL(l2TTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("dimension cache: %w", err)
	}
	return &Cache{l1: l1, store: store, probe: Probe}, nil
}

func cacheKey(absPath string, mtime int64) string {
	return absPath + ":" + strconv.FormatInt(mtime, 10)
}

// Get resolves dimensions for a media file, probing on miss. Probe failures
// return sentinel dimensions with a nil error; only context cancellation
// propagates.
func (c *Cache) Get(ctx context.Context, absPath string, mtime int64, kind mediatypes.ItemType) (Dimensions, error) {
	key := cacheKey(absPath, mtime)

	if d, ok := c.l1.Get(key); ok {
		metrics.DimCacheLookups.WithLabelValues("l1", "hit").Inc()
		return d, nil
	}
	metrics.DimCacheLookups.WithLabelValues("l1", "miss").Inc()

	if v, err := c.store.Get(ctx, keyPrefix+key); err == nil {
		if d, ok := parseDims(v); ok {
			metrics.DimCacheLookups.WithLabelValues("l2", "hit").Inc()
			c.l1.Set(key, d)
			return d, nil
		}
	}
	metrics.DimCacheLookups.WithLabelValues("l2", "miss").Inc()

	start := time.Now()
	d, err := c.probe(ctx, absPath, kind)
	metrics.DimProbeDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return Dimensions{}, ctx.Err()
		}
		metrics.DimProbeErrors.WithLabelValues(string(kind)).Inc()
		logging.Debug("Dimension probe failed for %s: %v", absPath, err)
		d = Dimensions{Width: SentinelWidth, Height: SentinelHeight}
	}

	c.l1.Set(key, d)
	// L2 write is fire-and-forget: a lost write just means a re-probe on
	// another instance.
	go func() {
		wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.store.Set(wctx, keyPrefix+key, formatDims(d), l2TTL); err != nil {
			logging.Debug("Dimension L2 write failed for %s: %v", absPath, err)
		}
	}()

	return d, nil
}

// Close releases the L1 cache.
func (c *Cache) Close() {
	c.l1.Close()
}

func formatDims(d Dimensions) string {
	return strconv.Itoa(d.Width) + "x" + strconv.Itoa(d.Height)
}

func parseDims(s string) (Dimensions, bool) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return Dimensions{}, false
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return Dimensions{}, false
	}
	return Dimensions{Width: width, Height: height}, true
}
