// Package catalog owns the four SQLite databases backing the library index:
// main (items, search, thumbnails, covers), settings, history, and index
// (build state and resume cursors). All SQL in the application goes through
// this package, which layers per-query timeouts, bounded busy retry, and
// single-writer transaction discipline over database/sql.
package catalog
