// Package mediatypes provides shared type definitions and extension
// classification for the photo tree.
//
// This package exists as a dependency-free foundation that can be imported by
// other packages without creating import cycles. It contains primitive types,
// constants, and pure utility functions with no external dependencies beyond
// the standard library.
//
// # Item Types
//
// The package defines an ItemType enum matching the catalog's items.type
// column:
//
//	mediatypes.ItemTypeAlbum // Directories (media containers)
//	mediatypes.ItemTypePhoto // Supported image formats (jpg, png, heic, etc.)
//	mediatypes.ItemTypeVideo // Supported video formats (mp4, mkv, mov, etc.)
//	mediatypes.ItemTypeOther // Unrecognized or unsupported files
//
// # Exclusion Rules
//
// IsExcludedFile and IsExcludedDir implement the indexing filter shared by
// the walker and the filesystem watcher: hidden entries, system directories,
// HLS transcoder artifacts (.m3u8, .ts), temp files, and SQLite database
// files are never indexed. The database exclusion prevents the watcher from
// re-triggering itself on catalog writes when the data directory lives under
// the photo root.
package mediatypes
