// Package videoq is the handoff contract between the indexer and the video
// postprocessing pipeline. The indexer reports newly added video paths after
// a commit; the pipeline (transcoder, poster generation) consumes them on
// its own schedule.
package videoq

import (
	"photovault/internal/catalog"
	"photovault/internal/logging"
)

// Batch is one handoff: validated video paths plus the thumbnail root the
// pipeline should write posters into.
type Batch struct {
	Paths    []string
	ThumbDir string
}

// Queue accepts batches of new video paths.
type Queue interface {
	Enqueue(paths []string, thumbDir string)
}

// ChannelQueue is a bounded, non-blocking Queue backed by a channel. When
// the consumer falls behind, batches are dropped with a warning; the next
// full rebuild or backfill reconciles anything missed.
type ChannelQueue struct {
	ch        chan Batch
	photosDir string
}

// NewChannelQueue builds a queue with the given buffer depth. photosDir
// bounds path validation.
func NewChannelQueue(photosDir string, depth int) *ChannelQueue {
	if depth <= 0 {
		depth = 16
	}
	return &ChannelQueue{
		ch:        make(chan Batch, depth),
		photosDir: photosDir,
	}
}

// Enqueue validates paths against the photo root and hands the batch off.
// Invalid paths are dropped individually.
func (q *ChannelQueue) Enqueue(paths []string, thumbDir string) {
	valid := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := catalog.NormalizePath(q.photosDir, p)
		if err != nil || rel == "" {
			logging.Warn("Rejecting video path outside photo root: %s", p)
			continue
		}
		valid = append(valid, rel)
	}
	if len(valid) == 0 {
		return
	}

	select {
	case q.ch <- Batch{Paths: valid, ThumbDir: thumbDir}:
		logging.Debug("Enqueued %d video paths for postprocessing", len(valid))
	default:
		logging.Warn("Video queue full, dropping batch of %d paths", len(valid))
	}
}

// Batches exposes the consumer side of the queue.
func (q *ChannelQueue) Batches() <-chan Batch { return q.ch }

// Discard is a Queue that drops everything; used when the video pipeline is
// disabled.
type Discard struct{}

func (Discard) Enqueue(paths []string, thumbDir string) {
	logging.Debug("Video pipeline disabled, discarding %d paths", len(paths))
}
