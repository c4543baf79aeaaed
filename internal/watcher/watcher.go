// Package watcher turns raw filesystem events on the photo root into
// consolidated change sets for incremental indexing. Events are filtered,
// buffered per path, reduced by the consolidation rules, and submitted after
// an adaptive debounce; oversized drains escalate to a full rebuild.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"photovault/internal/cachetags"
	"photovault/internal/catalog"
	"photovault/internal/logging"
	"photovault/internal/mediatypes"
	"photovault/internal/metrics"
)

// Config tunes the watcher.
type Config struct {
	PhotosDir           string
	BaseDebounce        time.Duration
	EscalationThreshold int
	HashSizeThreshold   int64
	HashSampleBytes     int64
	IdleStopAfter       time.Duration // 0 disables auto-stop

	// WatchDepth limits how many levels below the root are observed.
	// 0 watches the whole tree.
	WatchDepth int

	// UsePolling replaces inotify with periodic tree scans. Needed on
	// network mounts (NFS, SMB) that do not deliver change events.
	UsePolling   bool
	PollInterval time.Duration

	// StabilityThreshold holds back adds whose file mtime is this close to
	// now: the copy may still be in flight. 0 submits immediately.
	StabilityThreshold time.Duration
}

// Hooks are the watcher's outbound edges.
type Hooks struct {
	// SubmitChanges receives each drained, consolidated change set.
	SubmitChanges func(changes []Change)

	// EscalateRebuild is called instead of SubmitChanges when a drain
	// exceeds the escalation threshold.
	EscalateRebuild func()

	// IndexingInProgress suspends the watcher while a full rebuild runs.
	IndexingInProgress func() bool
}

// Watcher owns the pending-change buffer; nothing else mutates it.
type Watcher struct {
	cfg   Config
	hooks Hooks
	inv   *cachetags.Invalidator
	fsw   *fsnotify.Watcher // nil in polling mode

	mu          sync.Mutex
	pending     map[string][]Change
	watchedDirs map[string]struct{}
	lastEvent   time.Time
	timer       *time.Timer

	snapshot map[string]pollEntry // polling mode only
	drainCh  chan struct{}

	skipLog *logging.Sampler
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// pollEntry is one tree entry in the polling snapshot.
type pollEntry struct {
	mtime int64
	dir   bool
}

// New creates the watcher over the photo root. In the default mode it
// installs recursive inotify watches; in polling mode it primes a tree
// snapshot instead. Call Start to begin processing.
func New(cfg Config, inv *cachetags.Invalidator, hooks Hooks) (*Watcher, error) {
	w := &Watcher{
		cfg:         cfg,
		hooks:       hooks,
		inv:         inv,
		pending:     make(map[string][]Change),
		watchedDirs: make(map[string]struct{}),
		lastEvent:   time.Now(),
		drainCh:     make(chan struct{}, 1),
		skipLog:     logging.NewSampler(100),
		done:        make(chan struct{}),
	}

	if cfg.UsePolling {
		// Existing state belongs to the catalog; the first scan only
		// establishes the baseline to diff against.
		w.snapshot = w.scan()
		logging.Info("Watching %s by polling every %v (%d entries)",
			cfg.PhotosDir, w.pollInterval(), len(w.snapshot))
		return w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.fsw = fsw
	if err := w.watchRecursively(cfg.PhotosDir); err != nil {
		fsw.Close()
		return nil, err
	}
	logging.Info("Watching %s (%d directories)", cfg.PhotosDir, len(w.watchedDirs))
	return w, nil
}

func (w *Watcher) pollInterval() time.Duration {
	if w.cfg.PollInterval > 0 {
		return w.cfg.PollInterval
	}
	return 30 * time.Second
}

// Start launches the event loop. The watcher stops when ctx is cancelled,
// Stop is called, or the idle auto-stop fires.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
			<-w.done
		} else {
			// Never started; nothing is reading events.
			close(w.done)
		}
		if w.fsw != nil {
			if err := w.fsw.Close(); err != nil {
				logging.Debug("Watcher close: %v", err)
			}
		}
	})
}

// Done is closed when the event loop has exited, including via idle
// auto-stop.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// PendingCount reports buffered paths, for tests and the health surface.
func (w *Watcher) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var idleTick <-chan time.Time
	if w.cfg.IdleStopAfter > 0 {
		t := time.NewTicker(w.cfg.IdleStopAfter / 4)
		defer t.Stop()
		idleTick = t.C
	}

	// Nil channels block forever, so only the active mode's cases fire.
	var events chan fsnotify.Event
	var errs chan error
	var pollTick <-chan time.Time
	if w.fsw != nil {
		events = w.fsw.Events
		errs = w.fsw.Errors
	} else {
		t := time.NewTicker(w.pollInterval())
		defer t.Stop()
		pollTick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case <-pollTick:
			w.poll()

		case <-w.drainCh:
			w.drain()

		case <-idleTick:
			if w.shouldAutoStop() {
				logging.Info("Watcher idle for %v, stopping", w.cfg.IdleStopAfter)
				w.stopTimer()
				return
			}

		case err, ok := <-errs:
			if !ok {
				return
			}
			logging.Warn("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.hooks.IndexingInProgress != nil && w.hooks.IndexingInProgress() {
		metrics.WatcherEventsTotal.WithLabelValues("suspended").Inc()
		w.skipLog.Debugf("Skipping %s while rebuild in progress", event.Name)
		return
	}

	change, ok := w.classify(event)
	if !ok {
		metrics.WatcherEventsTotal.WithLabelValues("filtered").Inc()
		return
	}
	metrics.WatcherEventsTotal.WithLabelValues("accepted").Inc()

	// New directories get watches before anything else so files landing in
	// them are not missed.
	if change.Type == ChangeAddDir {
		if err := w.watchRecursively(change.Path); err != nil {
			logging.Warn("Failed to watch new directory %s: %v", change.Path, err)
		}
	}
	if change.Type == ChangeUnlinkDir {
		w.forgetDir(change.Path)
	}

	w.enqueue(change)
}

// enqueue buffers a change and rearms the debounce timer.
func (w *Watcher) enqueue(change Change) {
	w.mu.Lock()
	w.pending[change.Path] = append(w.pending[change.Path], change)
	w.lastEvent = time.Now()
	count := len(w.pending)
	w.mu.Unlock()
	metrics.WatcherPendingChanges.Set(float64(count))

	w.resetTimer(count)
}

// classify filters an fsnotify event and maps it onto a Change.
func (w *Watcher) classify(event fsnotify.Event) (Change, bool) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return Change{}, false
	}
	if w.pathExcluded(event.Name) {
		return Change{}, false
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		// The path is gone; whether it was a directory is only known from
		// the watch set.
		w.mu.Lock()
		_, wasDir := w.watchedDirs[event.Name]
		w.mu.Unlock()
		if wasDir {
			return Change{Type: ChangeUnlinkDir, Path: event.Name}, true
		}
		if !mediatypes.IsMediaFile(event.Name) || mediatypes.IsExcludedFile(event.Name) {
			return Change{}, false
		}
		return Change{Type: ChangeUnlink, Path: event.Name}, true
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		// Created and removed before we could look; the Remove event will
		// follow and consolidate to nothing.
		return Change{}, false
	}
	if info.IsDir() {
		if event.Op&fsnotify.Create == 0 {
			return Change{}, false
		}
		return Change{Type: ChangeAddDir, Path: event.Name}, true
	}

	if !mediatypes.IsMediaFile(event.Name) || mediatypes.IsExcludedFile(event.Name) {
		return Change{}, false
	}
	return Change{
		Type:        ChangeAdd,
		Path:        event.Name,
		Fingerprint: Fingerprint(event.Name, w.cfg.HashSizeThreshold, w.cfg.HashSampleBytes),
	}, true
}

func (w *Watcher) pathExcluded(absPath string) bool {
	rel, err := filepath.Rel(w.cfg.PhotosDir, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part != "" && part != "." && mediatypes.IsExcludedDir(part) {
			return true
		}
	}
	return false
}

// debounceFor scales the quiet period with backlog size: big copy jobs get
// long windows so the drain sees the whole batch at once.
func (w *Watcher) debounceFor(pendingCount int) time.Duration {
	switch {
	case pendingCount >= 10000:
		return 30 * time.Second
	case pendingCount >= 5000:
		return 20 * time.Second
	case pendingCount >= 1000:
		return 10 * time.Second
	default:
		return w.cfg.BaseDebounce
	}
}

func (w *Watcher) resetTimer(pendingCount int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceFor(pendingCount), func() {
		select {
		case w.drainCh <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// drain consolidates and submits the pending buffer.
func (w *Watcher) drain() {
	if w.hooks.IndexingInProgress != nil && w.hooks.IndexingInProgress() {
		// Keep the buffer; the post-rebuild restart will drain it.
		logging.Debug("Drain deferred: rebuild in progress")
		return
	}

	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string][]Change)
	w.mu.Unlock()
	metrics.WatcherPendingChanges.Set(0)

	if len(pending) == 0 {
		return
	}

	changes, eliminated := ConsolidateAll(pending)
	metrics.WatcherConsolidatedAway.Add(float64(eliminated))
	if len(changes) == 0 {
		logging.Debug("Drain consolidated %d paths to nothing", len(pending))
		return
	}

	changes = w.deferUnstable(changes)
	if len(changes) == 0 {
		return
	}

	if len(changes) > w.cfg.EscalationThreshold {
		logging.Info("Drain of %d changes exceeds threshold %d, escalating to full rebuild",
			len(changes), w.cfg.EscalationThreshold)
		metrics.WatcherEscalations.Inc()
		if w.hooks.EscalateRebuild != nil {
			w.hooks.EscalateRebuild()
		}
		return
	}

	rels := make([]string, 0, len(changes))
	for _, ch := range changes {
		if rel, err := catalog.NormalizePath(w.cfg.PhotosDir, ch.Path); err == nil {
			rels = append(rels, rel)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	w.inv.Invalidate(ctx, cachetags.ChainsFor(rels))
	cancel()

	logging.Info("Submitting %d consolidated changes for incremental indexing", len(changes))
	metrics.WatcherDrainsTotal.Inc()
	if w.hooks.SubmitChanges != nil {
		w.hooks.SubmitChanges(changes)
	}
}

// deferUnstable re-buffers adds whose file is still within the stability
// window: its mtime moved too recently, so the copy may not be finished.
// Deferred adds come back on the next drain with a fresh fingerprint.
func (w *Watcher) deferUnstable(changes []Change) []Change {
	if w.cfg.StabilityThreshold <= 0 {
		return changes
	}
	cutoff := time.Now().Add(-w.cfg.StabilityThreshold)
	stable := changes[:0]
	held := 0
	for _, ch := range changes {
		if ch.Type != ChangeAdd {
			stable = append(stable, ch)
			continue
		}
		info, err := os.Stat(ch.Path)
		if err != nil || !info.ModTime().After(cutoff) {
			stable = append(stable, ch)
			continue
		}
		held++
		w.mu.Lock()
		w.pending[ch.Path] = append(w.pending[ch.Path], Change{
			Type:        ChangeAdd,
			Path:        ch.Path,
			Fingerprint: Fingerprint(ch.Path, w.cfg.HashSizeThreshold, w.cfg.HashSampleBytes),
		})
		count := len(w.pending)
		w.mu.Unlock()
		w.resetTimer(count)
	}
	if held > 0 {
		logging.Debug("Held back %d changes still being written", held)
	}
	return stable
}

func (w *Watcher) shouldAutoStop() bool {
	if w.hooks.IndexingInProgress != nil && w.hooks.IndexingInProgress() {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) == 0 && time.Since(w.lastEvent) >= w.cfg.IdleStopAfter
}

func (w *Watcher) watchRecursively(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logging.Debug("Watcher walk error at %s: %v", path, err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && mediatypes.IsExcludedDir(info.Name()) {
			return filepath.SkipDir
		}
		if w.tooDeep(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			logging.Warn("Failed to watch %s: %v", path, err)
			return nil
		}
		w.mu.Lock()
		w.watchedDirs[path] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

// tooDeep reports whether a directory sits beyond the configured watch depth.
// Depth counts levels below the root: root itself is 0, its children 1.
func (w *Watcher) tooDeep(dirPath string) bool {
	if w.cfg.WatchDepth <= 0 {
		return false
	}
	rel, err := filepath.Rel(w.cfg.PhotosDir, dirPath)
	if err != nil || rel == "." {
		return false
	}
	depth := strings.Count(filepath.ToSlash(rel), "/") + 1
	return depth > w.cfg.WatchDepth
}

// scan walks the tree and returns the current snapshot, applying the same
// exclusion and depth rules as the inotify mode.
func (w *Watcher) scan() map[string]pollEntry {
	snap := make(map[string]pollEntry)
	root := w.cfg.PhotosDir
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logging.Debug("Watcher scan error at %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if mediatypes.IsExcludedDir(d.Name()) || w.tooDeep(path) {
				return filepath.SkipDir
			}
			snap[path] = pollEntry{dir: true}
			return nil
		}
		if !mediatypes.IsMediaFile(path) || mediatypes.IsExcludedFile(path) {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		snap[path] = pollEntry{mtime: info.ModTime().UnixNano()}
		return nil
	})
	if err != nil {
		logging.Warn("Watcher scan failed: %v", err)
	}
	return snap
}

// poll diffs a fresh scan against the last snapshot and enqueues the
// differences through the same pending buffer the inotify path uses.
func (w *Watcher) poll() {
	if w.hooks.IndexingInProgress != nil && w.hooks.IndexingInProgress() {
		// Skip without advancing the snapshot, so changes made during the
		// rebuild surface on the next poll.
		w.skipLog.Debugf("Skipping poll while rebuild in progress")
		return
	}

	next := w.scan()
	prev := w.snapshot
	w.snapshot = next

	for path, entry := range next {
		old, existed := prev[path]
		switch {
		case entry.dir:
			if !existed {
				w.enqueue(Change{Type: ChangeAddDir, Path: path})
			}
		case !existed || old.mtime != entry.mtime:
			w.enqueue(Change{
				Type:        ChangeAdd,
				Path:        path,
				Fingerprint: Fingerprint(path, w.cfg.HashSizeThreshold, w.cfg.HashSampleBytes),
			})
		}
	}
	for path, entry := range prev {
		if _, still := next[path]; still {
			continue
		}
		if entry.dir {
			w.enqueue(Change{Type: ChangeUnlinkDir, Path: path})
		} else {
			w.enqueue(Change{Type: ChangeUnlink, Path: path})
		}
	}
}

func (w *Watcher) forgetDir(absPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	prefix := absPath + string(filepath.Separator)
	for dir := range w.watchedDirs {
		if dir == absPath || strings.HasPrefix(dir, prefix) {
			delete(w.watchedDirs, dir)
		}
	}
}
