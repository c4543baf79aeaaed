package cachetags

import (
	"context"
	"testing"

	"photovault/internal/kv"
)

func TestAlbumChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rel  string
		want []string
	}{
		{"photo.jpg", []string{"album:/"}},
		{"a/photo.jpg", []string{"album:/", "album:/a"}},
		{"a/b/c/photo.jpg", []string{"album:/", "album:/a", "album:/a/b", "album:/a/b/c"}},
	}
	for _, tt := range tests {
		got := AlbumChain(tt.rel)
		if len(got) != len(tt.want) {
			t.Errorf("AlbumChain(%q) = %v, want %v", tt.rel, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("AlbumChain(%q)[%d] = %q, want %q", tt.rel, i, got[i], tt.want[i])
			}
		}
	}
}

func TestChainsForDeduplicates(t *testing.T) {
	t.Parallel()

	tags := ChainsFor([]string{"a/1.jpg", "a/2.jpg", "a/b/3.jpg"})
	want := []string{"album:/", "album:/a", "album:/a/b"}
	if len(tags) != len(want) {
		t.Fatalf("ChainsFor = %v, want %v", tags, want)
	}
	for i := range tags {
		if tags[i] != want[i] {
			t.Errorf("ChainsFor[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestInvalidateFine(t *testing.T) {
	t.Parallel()
	store := kv.NewLocal()
	defer store.Close()
	ctx := context.Background()

	if err := store.Set(ctx, "tag:album:/a", "cached", 0); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, "tag:album:/b", "cached", 0); err != nil {
		t.Fatal(err)
	}

	inv := New(store)
	inv.Invalidate(ctx, []string{"album:/a"})

	if _, err := store.Get(ctx, "tag:album:/a"); err != kv.ErrNotFound {
		t.Error("invalidated tag still present")
	}
	if _, err := store.Get(ctx, "tag:album:/b"); err != nil {
		t.Error("untouched tag was purged")
	}
}

func TestInvalidateDegradesToCoarse(t *testing.T) {
	t.Parallel()
	store := kv.NewLocal()
	defer store.Close()
	ctx := context.Background()

	inv := New(store)
	inv.FineCap = 2

	genBefore := inv.Generation(ctx)
	inv.Invalidate(ctx, []string{"album:/a", "album:/b", "album:/c"})
	genAfter := inv.Generation(ctx)

	if genBefore == genAfter {
		t.Errorf("generation unchanged (%q) after coarse purge", genAfter)
	}
}

func TestViewedAlbums(t *testing.T) {
	t.Parallel()
	store := kv.NewLocal()
	defer store.Close()
	ctx := context.Background()

	inv := New(store)
	inv.MarkViewed(ctx, "u1", "trips")
	inv.MarkViewed(ctx, "u1", "family")
	inv.MarkViewed(ctx, "u1", "trips") // re-view moves to front, no dup

	got := inv.ViewedAlbums(ctx, "u1")
	if len(got) != 2 || got[0] != "trips" || got[1] != "family" {
		t.Errorf("ViewedAlbums = %v, want [trips family]", got)
	}
	if inv.ViewedAlbums(ctx, "u2") != nil {
		t.Error("unknown user should have no viewed albums")
	}
}
