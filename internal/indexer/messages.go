package indexer

import "photovault/internal/catalog"

// MessageKind is the semantic class of an outbound worker message.
type MessageKind string

const (
	KindResult MessageKind = "result"
	KindLog    MessageKind = "log"
	KindError  MessageKind = "error"
)

// Message is one outbound envelope from the worker. Payload carries one of
// the *Complete / *Result types below; its concrete type is the
// discriminator.
type Message struct {
	Kind    MessageKind
	TraceID string
	Payload any
}

// LogPayload forwards a worker-side log line to the main logging sink.
type LogPayload struct {
	Level string
	Text  string
}

// ErrorPayload reports an unrecoverable task failure.
type ErrorPayload struct {
	Task string
	Err  error
}

// RebuildComplete signals a finished full rebuild.
type RebuildComplete struct {
	Count int64
}

// ProcessChangesComplete signals a committed incremental batch. VideoPaths
// lists newly added videos for the postprocessing pipeline;
// NeedsMaintenance asks the caller to schedule a post-index backfill.
type ProcessChangesComplete struct {
	VideoPaths       []string
	NeedsMaintenance bool
}

// BackfillDimensionsComplete reports how many rows gained dimensions.
type BackfillDimensionsComplete struct {
	Updated int64
}

// BackfillMtimeComplete reports how many rows gained an mtime.
type BackfillMtimeComplete struct {
	Updated int64
}

// PostIndexBackfillComplete signals both backfills have run.
type PostIndexBackfillComplete struct{}

// AllMediaItemsResult carries the full media listing.
type AllMediaItemsResult struct {
	Items []catalog.Item
}

// Request is an inbound task for the worker.
type Request interface{ isRequest() }

// RebuildIndex asks for a full catalog rebuild.
type RebuildIndex struct {
	TraceID        string
	SyncThumbnails bool
}

// ProcessChanges applies a consolidated change set incrementally.
type ProcessChanges struct {
	TraceID string
	Changes []Change
}

// BackfillMissingDimensions fills rows with unknown dimensions.
type BackfillMissingDimensions struct{ TraceID string }

// BackfillMissingMtime fills rows with a zero mtime from disk.
type BackfillMissingMtime struct{ TraceID string }

// PostIndexBackfill runs the dimension then mtime backfills in sequence.
type PostIndexBackfill struct{ TraceID string }

// GetAllMediaItems requests the full media listing.
type GetAllMediaItems struct{ TraceID string }

func (RebuildIndex) isRequest()              {}
func (ProcessChanges) isRequest()            {}
func (BackfillMissingDimensions) isRequest() {}
func (BackfillMissingMtime) isRequest()      {}
func (PostIndexBackfill) isRequest()         {}
func (GetAllMediaItems) isRequest()          {}

// Change mirrors the watcher's consolidated change at the worker boundary,
// so the indexer does not import the watcher.
type Change struct {
	Type string // add, unlink, addDir, unlinkDir, update
	Path string // absolute
}

// Change type values.
const (
	ChangeAdd       = "add"
	ChangeUnlink    = "unlink"
	ChangeAddDir    = "addDir"
	ChangeUnlinkDir = "unlinkDir"
	ChangeUpdate    = "update"
)

func (c Change) isDelete() bool {
	return c.Type == ChangeUnlink || c.Type == ChangeUnlinkDir
}
