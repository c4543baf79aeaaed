package indexer

import (
	"testing"

	"photovault/internal/mediatypes"
)

func TestTokenText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rel  string
		typ  mediatypes.ItemType
		want string
	}{
		{"photo basename", "summer/IMG_1234.jpg", mediatypes.ItemTypePhoto, "IMG 1234 photo"},
		{"video basename", "a/b/clip-01.mp4", mediatypes.ItemTypeVideo, "clip 01 video"},
		{"album keeps name", "summer", mediatypes.ItemTypeAlbum, "summer"},
		{"album dots become spaces", "trips/2024.holiday", mediatypes.ItemTypeAlbum, "2024 holiday"},
		{"compound separators collapse", "x/multi.part__name.png", mediatypes.ItemTypePhoto, "multi part name photo"},
		{"plus sign", "x/me+you.jpg", mediatypes.ItemTypePhoto, "me you photo"},
		{"non-ascii passes through", "семья/день_рождения.jpg", mediatypes.ItemTypePhoto, "день рождения photo"},
		{"extension only", "x/.jpg", mediatypes.ItemTypePhoto, "photo"},
		{"empty path", "", mediatypes.ItemTypeAlbum, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TokenText(tt.rel, tt.typ); got != tt.want {
				t.Errorf("TokenText(%q, %q) = %q, want %q", tt.rel, tt.typ, got, tt.want)
			}
		})
	}
}
