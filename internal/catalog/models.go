package catalog

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"photovault/internal/mediatypes"
)

// Item is a row in the items table: an album, photo, or video inside the
// photo root, keyed by its POSIX-normalized relative path.
type Item struct {
	ID              int64               `json:"id"`
	Path            string              `json:"path"`
	Name            string              `json:"name"`
	Type            mediatypes.ItemType `json:"type"`
	Mtime           int64               `json:"mtime"` // epoch milliseconds
	Width           int                 `json:"width,omitempty"`
	Height          int                 `json:"height,omitempty"`
	Status          string              `json:"status,omitempty"`
	ProcessingState string              `json:"processingState,omitempty"`
}

// IsMedia reports whether the item is a photo or video (not an album).
func (it *Item) IsMedia() bool {
	return it.Type == mediatypes.ItemTypePhoto || it.Type == mediatypes.ItemTypeVideo
}

// Thumb status lifecycle values.
const (
	ThumbPending         = "pending"
	ThumbProcessing      = "processing"
	ThumbExists          = "exists"
	ThumbMissing         = "missing"
	ThumbFailed          = "failed"
	ThumbPermanentFailed = "permanent_failed"
)

// ThumbStatus is a per-media thumbnail lifecycle row.
type ThumbStatus struct {
	Path        string `json:"path"`
	Mtime       int64  `json:"mtime"`
	Status      string `json:"status"`
	LastChecked int64  `json:"lastChecked"`
}

// AlbumCover is the precomputed representative media for an album.
type AlbumCover struct {
	AlbumPath string `json:"albumPath"`
	CoverPath string `json:"coverPath"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Mtime     int64  `json:"mtime"`
}

// Index status values.
const (
	IndexIdle     = "idle"
	IndexBuilding = "building"
	IndexComplete = "complete"
	IndexPending  = "pending"
)

// IndexStatus is the singleton row describing the catalog build state.
type IndexStatus struct {
	Status         string `json:"status"`
	ProcessedFiles int64  `json:"processedFiles"`
	TotalFiles     int64  `json:"totalFiles"`
	LastUpdated    int64  `json:"lastUpdated"`
}

// progress key for the full-rebuild resume cursor.
const ProgressKeyLastProcessedPath = "last_processed_path"

// NormalizePath converts an absolute path inside root into the catalog's
// canonical relative form: forward slashes, no leading separator, no "."
// or ".." segments. Paths escaping the root fail with ErrValidation.
func NormalizePath(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %q not relative to photo root: %v", ErrValidation, abs, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", nil
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %q escapes photo root", ErrValidation, abs)
	}
	return rel, nil
}

// ValidateRelPath checks an already-relative catalog path for traversal and
// absolute-path injection.
func ValidateRelPath(rel string) error {
	if rel == "" {
		return fmt.Errorf("%w: empty path", ErrValidation)
	}
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, "\\") {
		return fmt.Errorf("%w: %q has a leading separator", ErrValidation, rel)
	}
	clean := path.Clean(rel)
	if clean != rel || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q is not normalized", ErrValidation, rel)
	}
	return nil
}

// ParentAlbums returns every ancestor album path of a relative path, nearest
// first, ending with "" for the root.
func ParentAlbums(rel string) []string {
	var parents []string
	dir := path.Dir(rel)
	for dir != "." && dir != "/" {
		parents = append(parents, dir)
		dir = path.Dir(dir)
	}
	parents = append(parents, "")
	return parents
}
