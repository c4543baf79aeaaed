package indexer

import (
	"path"
	"strings"

	"photovault/internal/mediatypes"
)

// TokenText derives the FTS text for an item, deterministically: the path
// basename minus its extension, with separators turned into spaces, plus a
// type label for media so "video" finds every clip. Unicode passes through
// untouched; the trigram tokenizer handles non-ASCII names.
func TokenText(rel string, itemType mediatypes.ItemType) string {
	base := path.Base(rel)
	if rel == "" {
		base = ""
	}
	if itemType == mediatypes.ItemTypePhoto || itemType == mediatypes.ItemTypeVideo {
		if ext := path.Ext(base); ext != "" {
			base = strings.TrimSuffix(base, ext)
		}
	}

	base = strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', '.', '+':
			return ' '
		}
		return r
	}, base)
	base = strings.Join(strings.Fields(base), " ")

	switch itemType {
	case mediatypes.ItemTypePhoto:
		return strings.TrimSpace(base + " photo")
	case mediatypes.ItemTypeVideo:
		return strings.TrimSpace(base + " video")
	default:
		return base
	}
}
