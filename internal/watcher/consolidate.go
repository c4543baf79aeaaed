package watcher

// Consolidate reduces the ordered event list of a single path to at most one
// effective change. Pure and idempotent: consolidating an already
// consolidated list returns it unchanged.
//
// Rules, applied pairwise in order:
//  1. add then unlink of the same kind cancels out.
//  2. unlink then add becomes update.
//  3. two adds with equal fingerprints keep one; a missing fingerprint on
//     either side counts as equal, so hashing failures cannot starve a path.
//  4. any other second mutation becomes update.
func Consolidate(events []Change) []Change {
	if len(events) <= 1 {
		return events
	}

	var current *Change
	for i := range events {
		e := events[i]
		if current == nil {
			c := e
			current = &c
			continue
		}

		switch {
		case current.Type.isAdd() && e.Type.isUnlink() && current.Type.isDir() == e.Type.isDir():
			// Rule 1: created and removed within the window, never existed
			// as far as the catalog is concerned.
			current = nil

		case current.Type.isUnlink() && e.Type.isAdd() && current.Type.isDir() == e.Type.isDir():
			// Rule 2: replaced in place.
			current = &Change{Type: ChangeUpdate, Path: e.Path, Fingerprint: e.Fingerprint}

		case current.Type == ChangeAdd && e.Type == ChangeAdd &&
			(current.Fingerprint == "" || e.Fingerprint == "" || current.Fingerprint == e.Fingerprint):
			// Rule 3: duplicate add, keep the first.

		default:
			// Rule 4.
			current = &Change{Type: ChangeUpdate, Path: e.Path, Fingerprint: e.Fingerprint}
		}
	}

	if current == nil {
		return nil
	}
	return []Change{*current}
}

// ConsolidateAll applies Consolidate to every path's event list, returning
// the flattened effective change set and the number of events eliminated.
func ConsolidateAll(pending map[string][]Change) ([]Change, int) {
	var out []Change
	eliminated := 0
	for _, events := range pending {
		reduced := Consolidate(events)
		eliminated += len(events) - len(reduced)
		out = append(out, reduced...)
	}
	return out, eliminated
}
