package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsolidateRules(t *testing.T) {
	t.Parallel()

	p := "/photos/a.jpg"
	tests := []struct {
		name   string
		events []Change
		want   []Change
	}{
		{
			name: "add then unlink cancels",
			events: []Change{
				{Type: ChangeAdd, Path: p, Fingerprint: "f1"},
				{Type: ChangeUnlink, Path: p},
			},
			want: nil,
		},
		{
			name: "addDir then unlinkDir cancels",
			events: []Change{
				{Type: ChangeAddDir, Path: "/photos/d"},
				{Type: ChangeUnlinkDir, Path: "/photos/d"},
			},
			want: nil,
		},
		{
			name: "unlink then add becomes update",
			events: []Change{
				{Type: ChangeUnlink, Path: p},
				{Type: ChangeAdd, Path: p, Fingerprint: "f2"},
			},
			want: []Change{{Type: ChangeUpdate, Path: p, Fingerprint: "f2"}},
		},
		{
			name: "duplicate add equal fingerprint keeps one",
			events: []Change{
				{Type: ChangeAdd, Path: p, Fingerprint: "f1"},
				{Type: ChangeAdd, Path: p, Fingerprint: "f1"},
			},
			want: []Change{{Type: ChangeAdd, Path: p, Fingerprint: "f1"}},
		},
		{
			name: "duplicate add nil fingerprint keeps one",
			events: []Change{
				{Type: ChangeAdd, Path: p, Fingerprint: "f1"},
				{Type: ChangeAdd, Path: p},
			},
			want: []Change{{Type: ChangeAdd, Path: p, Fingerprint: "f1"}},
		},
		{
			name: "add with changed fingerprint becomes update",
			events: []Change{
				{Type: ChangeAdd, Path: p, Fingerprint: "f1"},
				{Type: ChangeAdd, Path: p, Fingerprint: "f2"},
			},
			want: []Change{{Type: ChangeUpdate, Path: p, Fingerprint: "f2"}},
		},
		{
			name: "triple sequence resolves in order",
			events: []Change{
				{Type: ChangeAdd, Path: p, Fingerprint: "f1"},
				{Type: ChangeUnlink, Path: p},
				{Type: ChangeAdd, Path: p, Fingerprint: "f2"},
			},
			// add+unlink cancels, the trailing add stands alone.
			want: []Change{{Type: ChangeAdd, Path: p, Fingerprint: "f2"}},
		},
		{
			name:   "single event unchanged",
			events: []Change{{Type: ChangeUnlink, Path: p}},
			want:   []Change{{Type: ChangeUnlink, Path: p}},
		},
		{
			name:   "empty",
			events: nil,
			want:   nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Consolidate(tt.events))
		})
	}
}

func TestConsolidateIdempotent(t *testing.T) {
	t.Parallel()

	sequences := [][]Change{
		{
			{Type: ChangeAdd, Path: "/p/a", Fingerprint: "x"},
			{Type: ChangeUnlink, Path: "/p/a"},
			{Type: ChangeAdd, Path: "/p/a", Fingerprint: "y"},
		},
		{
			{Type: ChangeUnlink, Path: "/p/b"},
			{Type: ChangeAdd, Path: "/p/b", Fingerprint: "z"},
		},
		{
			{Type: ChangeAdd, Path: "/p/c"},
			{Type: ChangeAdd, Path: "/p/c"},
			{Type: ChangeAdd, Path: "/p/c"},
		},
	}
	for _, s := range sequences {
		once := Consolidate(s)
		twice := Consolidate(once)
		assert.Equal(t, once, twice, "consolidate must be idempotent for %v", s)
	}
}

func TestConsolidateAll(t *testing.T) {
	t.Parallel()

	pending := map[string][]Change{
		"/p/gone.jpg": {
			{Type: ChangeAdd, Path: "/p/gone.jpg"},
			{Type: ChangeUnlink, Path: "/p/gone.jpg"},
		},
		"/p/kept.jpg": {
			{Type: ChangeAdd, Path: "/p/kept.jpg", Fingerprint: "f"},
		},
	}
	changes, eliminated := ConsolidateAll(pending)
	assert.Len(t, changes, 1)
	assert.Equal(t, "/p/kept.jpg", changes[0].Path)
	assert.Equal(t, 2, eliminated)
}
