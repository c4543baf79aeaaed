// Package cachetags invalidates browse-route cache entries by album tag.
// Each cached browse response is tagged with the album chain it rendered
// (`album:/`, `album:/a`, `album:/a/b`); after an indexing commit the
// affected chains are purged. Oversized tag sets degrade to a coarse purge
// of every browse key rather than enumerating thousands of tags.
package cachetags

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"photovault/internal/kv"
	"photovault/internal/logging"
	"photovault/internal/metrics"
)

const (
	tagPrefix = "tag:"
	browseKey = "route:browse:generation"
)

// Invalidator purges tag-scoped cache entries through the kv store.
type Invalidator struct {
	store kv.Store

	// FineCap is the largest tag set purged tag-by-tag; beyond it the whole
	// browse cache goes at once.
	FineCap int
}

// New returns an Invalidator with the default fine-grained cap.
func New(store kv.Store) *Invalidator {
	return &Invalidator{store: store, FineCap: 200}
}

// AlbumChain returns the tag chain covering a relative media or album path:
// the root tag plus one tag per ancestor album, shallowest first.
func AlbumChain(rel string) []string {
	tags := []string{"album:/"}
	dir := path.Dir(rel)
	if rel != "" && !strings.Contains(rel, "/") {
		// Top-level file: only the root tag applies.
		return tags
	}
	var chain []string
	for dir != "." && dir != "/" && dir != "" {
		chain = append(chain, "album:/"+dir)
		dir = path.Dir(dir)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		tags = append(tags, chain[i])
	}
	return tags
}

// ChainsFor collects the deduplicated, sorted union of album chains for a
// set of relative paths.
func ChainsFor(rels []string) []string {
	seen := make(map[string]struct{})
	for _, rel := range rels {
		for _, tag := range AlbumChain(rel) {
			seen[tag] = struct{}{}
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Invalidate purges the cache entries behind the given tags. Failures are
// logged and swallowed: a stale browse cache self-corrects on TTL, while a
// failed indexing commit would not.
func (inv *Invalidator) Invalidate(ctx context.Context, tags []string) {
	if len(tags) == 0 {
		return
	}
	if len(tags) > inv.FineCap {
		inv.coarsePurge(ctx, len(tags))
		return
	}

	keys := make([]string, len(tags))
	for i, tag := range tags {
		keys[i] = tagPrefix + tag
	}
	if err := inv.store.Delete(ctx, keys...); err != nil {
		logging.Debug("Tag invalidation failed for %d tags: %v", len(tags), err)
		return
	}
	metrics.CacheTagInvalidations.WithLabelValues("fine").Add(float64(len(tags)))
	logging.Debug("Invalidated %d album tags", len(tags))
}

// coarsePurge drops the whole browse cache by bumping its generation key.
// Readers include the generation in their cache keys, so a bump orphans
// every existing entry without enumerating them.
func (inv *Invalidator) coarsePurge(ctx context.Context, tagCount int) {
	if _, err := inv.store.Incr(ctx, browseKey); err != nil {
		logging.Debug("Coarse browse purge failed: %v", err)
		return
	}
	metrics.CacheTagInvalidations.WithLabelValues("coarse").Inc()
	logging.Info("Tag set of %d exceeded cap %d, purged browse cache wholesale", tagCount, inv.FineCap)
}

// Generation returns the current browse-cache generation, for readers
// composing cache keys.
func (inv *Invalidator) Generation(ctx context.Context) string {
	v, err := inv.store.Get(ctx, browseKey)
	if err != nil {
		return "0"
	}
	return v
}

// MarkViewed records an album view against a user, with a sliding TTL. The
// history store consumes these keys for the "recently viewed" rail.
func (inv *Invalidator) MarkViewed(ctx context.Context, userID, albumPath string) {
	key := "viewed:" + userID + ":albums"
	existing, _ := inv.store.Get(ctx, key)
	entries := strings.Split(existing, "\n")
	out := make([]string, 0, len(entries)+1)
	out = append(out, albumPath)
	for _, e := range entries {
		if e != "" && e != albumPath && len(out) < 20 {
			out = append(out, e)
		}
	}
	if err := inv.store.Set(ctx, key, strings.Join(out, "\n"), 30*24*time.Hour); err != nil {
		logging.Debug("Failed to record viewed album for %s: %v", userID, err)
	}
}

// ViewedAlbums returns the most recently viewed album paths for a user.
func (inv *Invalidator) ViewedAlbums(ctx context.Context, userID string) []string {
	v, err := inv.store.Get(ctx, "viewed:"+userID+":albums")
	if err != nil || v == "" {
		return nil
	}
	return strings.Split(v, "\n")
}
