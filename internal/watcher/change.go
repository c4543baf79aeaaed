package watcher

// ChangeType classifies a filesystem event.
type ChangeType string

const (
	ChangeAdd       ChangeType = "add"
	ChangeUnlink    ChangeType = "unlink"
	ChangeAddDir    ChangeType = "addDir"
	ChangeUnlinkDir ChangeType = "unlinkDir"
	ChangeUpdate    ChangeType = "update"
)

// Change is one classified event on one absolute path. Fingerprint is set
// only for file adds and may be empty when hashing failed.
type Change struct {
	Type        ChangeType
	Path        string
	Fingerprint string
}

// isDir reports whether the change concerns a directory.
func (t ChangeType) isDir() bool {
	return t == ChangeAddDir || t == ChangeUnlinkDir
}

// isAdd reports whether the change introduces the path.
func (t ChangeType) isAdd() bool {
	return t == ChangeAdd || t == ChangeAddDir
}

// isUnlink reports whether the change removes the path.
func (t ChangeType) isUnlink() bool {
	return t == ChangeUnlink || t == ChangeUnlinkDir
}
