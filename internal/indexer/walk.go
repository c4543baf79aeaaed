package indexer

import (
	"io/fs"
	"path/filepath"
	"strings"

	"photovault/internal/catalog"
	"photovault/internal/filesystem"
	"photovault/internal/logging"
	"photovault/internal/mediatypes"
)

// walkEntry is one discovered catalog candidate.
type walkEntry struct {
	rel   string
	typ   mediatypes.ItemType
	mtime int64 // epoch ms
	abs   string
}

// walkTree streams the photo tree in deterministic lexical order, invoking
// yield per album and media file. Excluded directories are pruned; unreadable
// entries are logged and skipped. yield returning false stops the walk.
func (w *Worker) walkTree(yield func(walkEntry) (bool, error)) error {
	root := w.cfg.PhotosDir
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			logging.Warn("Walk error at %s: %v", p, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if mediatypes.IsExcludedDir(name) {
				return filepath.SkipDir
			}
		} else if !mediatypes.IsMediaFile(name) || mediatypes.IsExcludedFile(name) {
			return nil
		}

		rel, nerr := catalog.NormalizePath(root, p)
		if nerr != nil || rel == "" {
			return nil
		}

		info, serr := d.Info()
		if serr != nil {
			logging.Debug("Stat during walk of %s: %v", p, serr)
			return nil
		}

		typ := mediatypes.ItemTypeAlbum
		if !d.IsDir() {
			typ = mediatypes.GetItemTypeForPath(name)
		}

		cont, yerr := yield(walkEntry{
			rel:   rel,
			typ:   typ,
			mtime: info.ModTime().UnixMilli(),
			abs:   p,
		})
		if yerr != nil {
			return yerr
		}
		if !cont {
			return filepath.SkipAll
		}
		return nil
	})
}

// walkOrderKey maps a relative path onto a string whose byte order matches
// the walk order. WalkDir descends into a directory before visiting its
// later siblings, so "b/x.jpg" precedes "b.jpg" even though plain string
// order says otherwise ('.' sorts below '/'). Replacing the separator with a
// byte that sorts below everything makes comparisons agree with the walk.
func walkOrderKey(rel string) string {
	return strings.ReplaceAll(rel, "/", "\x00")
}

// prescan counts indexable entries without touching the database, for the
// total_files figure shown during a rebuild.
func (w *Worker) prescan() (int64, error) {
	var total int64
	err := w.walkTree(func(walkEntry) (bool, error) {
		total++
		return true, nil
	})
	return total, err
}

// statMtime returns the file's mtime in epoch ms, or 0 when it is gone.
func statMtime(abs string) int64 {
	info, err := filesystem.Stat(abs)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}
