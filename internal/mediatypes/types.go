package mediatypes

import (
	"path/filepath"
	"strings"
)

// ItemType represents the catalog type of an entry in the photo tree.
type ItemType string

const (
	// ItemTypeAlbum represents a directory treated as a media container.
	ItemTypeAlbum ItemType = "album"
	// ItemTypePhoto represents a supported image file.
	ItemTypePhoto ItemType = "photo"
	// ItemTypeVideo represents a supported video file.
	ItemTypeVideo ItemType = "video"
	// ItemTypeOther represents an unknown or unsupported file type.
	ItemTypeOther ItemType = "other"
)

// PhotoExtensions maps file extensions to whether they are supported image formats.
var PhotoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
	".heic": true,
	".heif": true,
	".avif": true,
}

// VideoExtensions maps file extensions to whether they are supported video formats.
//
// Note that .ts is deliberately absent: MPEG-TS segments are HLS transcoder
// output living under the photo tree and indexing them would make the
// watcher feed the pipeline with its own artifacts.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
	".mpeg": true,
	".mpg":  true,
	".3gp":  true,
}

// hlsExtensions are transcoder artifacts that must never enter the catalog.
var hlsExtensions = map[string]bool{
	".m3u8": true,
	".ts":   true,
}

// databaseExtensions are catalog/SQLite artifacts that must never enter the
// catalog; indexing them would self-trigger the watcher on every write.
var databaseExtensions = map[string]bool{
	".db":      true,
	".sqlite":  true,
	".sqlite3": true,
	".db-wal":  true,
	".db-shm":  true,
	".wal":     true,
	".shm":     true,
}

// systemDirNames are directory names skipped during walks and watching.
var systemDirNames = map[string]bool{
	"@eadir":     true,
	"lost+found": true,
	"#recycle":   true,
	".trash":     true,
}

// GetItemType returns the ItemType for a given file extension.
// The extension should be lowercase and include the leading dot (e.g., ".jpg").
// Returns ItemTypeOther if the extension is not recognized.
func GetItemType(ext string) ItemType {
	if PhotoExtensions[ext] {
		return ItemTypePhoto
	}
	if VideoExtensions[ext] {
		return ItemTypeVideo
	}
	return ItemTypeOther
}

// GetItemTypeForPath classifies a file path by its extension.
func GetItemTypeForPath(path string) ItemType {
	return GetItemType(strings.ToLower(filepath.Ext(path)))
}

// IsMediaFile returns true if the path's extension represents a supported
// media file.
func IsMediaFile(path string) bool {
	return GetItemTypeForPath(path) != ItemTypeOther
}

// IsExcludedFile returns true for files that must never be indexed or watched:
// hidden files, HLS artifacts, temp files, and database-like files. Accepts a
// bare name or a path; the hidden-file rule applies to the base name, so the
// verdict is the same whichever form a caller holds.
func IsExcludedFile(name string) bool {
	lower := strings.ToLower(filepath.Base(name))
	if strings.HasPrefix(lower, ".") {
		return true
	}
	if strings.HasSuffix(lower, ".tmp") || strings.HasSuffix(lower, ".part") {
		return true
	}
	ext := filepath.Ext(lower)
	if hlsExtensions[ext] || databaseExtensions[ext] {
		return true
	}
	// SQLite sidecar files carry compound suffixes (media.db-wal).
	for suffix := range databaseExtensions {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// IsExcludedDir returns true for hidden and system directories.
func IsExcludedDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return systemDirNames[strings.ToLower(name)]
}
