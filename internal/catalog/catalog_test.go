package catalog

import (
	"context"
	"testing"
	"time"

	"photovault/internal/mediatypes"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(context.Background(), Options{
		DataDir:      t.TempDir(),
		JournalMode:  "WAL",
		Synchronous:  "NORMAL",
		TempStore:    "MEMORY",
		CacheSize:    -8000,
		BusyTimeout:  5 * time.Second,
		QueryTimeout: 15 * time.Second,
		SlowQuery:    time.Second,
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return c
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		DataDir: dir, JournalMode: "WAL", Synchronous: "NORMAL",
		TempStore: "MEMORY", CacheSize: -8000,
		BusyTimeout: 5 * time.Second, QueryTimeout: 15 * time.Second,
	}
	c, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	c, err = Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer c.Close()

	st, err := c.GetIndexStatus(context.Background())
	if err != nil {
		t.Fatalf("GetIndexStatus() error: %v", err)
	}
	if st.Status != IndexIdle {
		t.Errorf("fresh status = %q, want %q", st.Status, IndexIdle)
	}
}

func TestSingleWriterGuard(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		DataDir: dir, JournalMode: "WAL", Synchronous: "NORMAL",
		TempStore: "MEMORY", CacheSize: -8000,
		BusyTimeout: 5 * time.Second, QueryTimeout: 15 * time.Second,
	}
	c, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer c.Close()

	if _, err := Open(context.Background(), opts); err == nil {
		t.Fatal("second Open() on the same data dir should fail")
	}
}

func TestUpsertAndGetItem(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	id, err := c.UpsertItem(ctx, Item{
		Path: "vacation/beach.jpg", Name: "beach.jpg",
		Type: mediatypes.ItemTypePhoto, Mtime: 1000,
	})
	if err != nil {
		t.Fatalf("UpsertItem() error: %v", err)
	}
	if id == 0 {
		t.Fatal("UpsertItem() returned zero id")
	}

	// Updating the same path must keep the row id.
	id2, err := c.UpsertItem(ctx, Item{
		Path: "vacation/beach.jpg", Name: "beach.jpg",
		Type: mediatypes.ItemTypePhoto, Mtime: 2000, Width: 640, Height: 480,
	})
	if err != nil {
		t.Fatalf("second UpsertItem() error: %v", err)
	}
	if id2 != id {
		t.Errorf("upsert changed id: %d -> %d", id, id2)
	}

	it, err := c.GetItem(ctx, "vacation/beach.jpg")
	if err != nil {
		t.Fatalf("GetItem() error: %v", err)
	}
	if it.Mtime != 2000 || it.Width != 640 {
		t.Errorf("GetItem() = %+v, want updated mtime/width", it)
	}

	if _, err := c.GetItem(ctx, "nope.jpg"); err != ErrNotFound {
		t.Errorf("GetItem(missing) error = %v, want ErrNotFound", err)
	}
}

func TestBatchUpsertAndSearch(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	items := []Item{
		{Path: "trips", Name: "trips", Type: mediatypes.ItemTypeAlbum, Mtime: 100},
		{Path: "trips/sunset.jpg", Name: "sunset.jpg", Type: mediatypes.ItemTypePhoto, Mtime: 200},
		{Path: "trips/surfing.mp4", Name: "surfing.mp4", Type: mediatypes.ItemTypeVideo, Mtime: 300},
	}
	fts := map[string]string{
		"trips":             "trips",
		"trips/sunset.jpg":  "sunset photo",
		"trips/surfing.mp4": "surfing video",
	}
	if err := c.BatchUpsertItems(ctx, items, fts); err != nil {
		t.Fatalf("BatchUpsertItems() error: %v", err)
	}

	n, err := c.CountItems(ctx, "")
	if err != nil {
		t.Fatalf("CountItems() error: %v", err)
	}
	if n != 3 {
		t.Errorf("CountItems() = %d, want 3", n)
	}

	got, err := c.SearchItems(ctx, "sunset", 10)
	if err != nil {
		t.Fatalf("SearchItems() error: %v", err)
	}
	if len(got) != 1 || got[0].Path != "trips/sunset.jpg" {
		t.Errorf("SearchItems(sunset) = %+v, want the sunset photo", got)
	}

	// Media rows get pending thumb entries; the album does not.
	counts, err := c.CountThumbStatuses(ctx)
	if err != nil {
		t.Fatalf("CountThumbStatuses() error: %v", err)
	}
	if counts[ThumbPending] != 2 {
		t.Errorf("pending thumbs = %d, want 2", counts[ThumbPending])
	}
}

func TestBatchUpsertIdempotent(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	items := []Item{
		{Path: "a.jpg", Name: "a.jpg", Type: mediatypes.ItemTypePhoto, Mtime: 1},
	}
	fts := map[string]string{"a.jpg": "a photo"}

	for i := 0; i < 3; i++ {
		if err := c.BatchUpsertItems(ctx, items, fts); err != nil {
			t.Fatalf("BatchUpsertItems() run %d error: %v", i, err)
		}
	}

	got, err := c.SearchItems(ctx, "photo", 10)
	if err != nil {
		t.Fatalf("SearchItems() error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("repeated batch produced %d search hits, want 1", len(got))
	}
}

func TestDeleteAlbumCascades(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	items := []Item{
		{Path: "old", Name: "old", Type: mediatypes.ItemTypeAlbum, Mtime: 1},
		{Path: "old/a.jpg", Name: "a.jpg", Type: mediatypes.ItemTypePhoto, Mtime: 2},
		{Path: "old/nested", Name: "nested", Type: mediatypes.ItemTypeAlbum, Mtime: 3},
		{Path: "old/nested/b.jpg", Name: "b.jpg", Type: mediatypes.ItemTypePhoto, Mtime: 4},
		{Path: "older.jpg", Name: "older.jpg", Type: mediatypes.ItemTypePhoto, Mtime: 5},
	}
	fts := make(map[string]string, len(items))
	for _, it := range items {
		fts[it.Path] = it.Name
	}
	if err := c.BatchUpsertItems(ctx, items, fts); err != nil {
		t.Fatalf("BatchUpsertItems() error: %v", err)
	}
	if err := c.UpsertAlbumCover(ctx, AlbumCover{AlbumPath: "old", CoverPath: "old/a.jpg"}); err != nil {
		t.Fatalf("UpsertAlbumCover() error: %v", err)
	}

	n, err := c.DeleteItemsByPaths(ctx, []string{"old"})
	if err != nil {
		t.Fatalf("DeleteItemsByPaths() error: %v", err)
	}
	if n != 4 {
		t.Errorf("deleted %d rows, want 4 (album + descendants)", n)
	}

	// "older.jpg" shares a prefix but not a path segment; it must survive.
	if _, err := c.GetItem(ctx, "older.jpg"); err != nil {
		t.Errorf("sibling with shared prefix was deleted: %v", err)
	}

	if _, err := c.GetAlbumCover(ctx, "old"); err != ErrNotFound {
		t.Errorf("cover for deleted album: err = %v, want ErrNotFound", err)
	}

	got, err := c.SearchItems(ctx, "nested", 10)
	if err != nil {
		t.Fatalf("SearchItems() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("FTS still matches deleted rows: %+v", got)
	}
}

func TestNestedTransactionsJoin(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	err := c.Main.WithTx(ctx, "outer", func(ctx context.Context) error {
		if _, err := c.UpsertItem(ctx, Item{
			Path: "x.jpg", Name: "x.jpg", Type: mediatypes.ItemTypePhoto, Mtime: 1,
		}); err != nil {
			return err
		}
		// Inner WithTx joins the outer transaction rather than deadlocking
		// on a second BEGIN.
		return c.Main.WithTx(ctx, "inner", func(ctx context.Context) error {
			_, err := c.UpsertItem(ctx, Item{
				Path: "y.jpg", Name: "y.jpg", Type: mediatypes.ItemTypePhoto, Mtime: 2,
			})
			return err
		})
	})
	if err != nil {
		t.Fatalf("nested WithTx error: %v", err)
	}

	n, err := c.CountItems(ctx, "")
	if err != nil {
		t.Fatalf("CountItems() error: %v", err)
	}
	if n != 2 {
		t.Errorf("CountItems() = %d, want 2", n)
	}
}

func TestProgressCursor(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	v, err := c.GetProgress(ctx, ProgressKeyLastProcessedPath)
	if err != nil {
		t.Fatalf("GetProgress() error: %v", err)
	}
	if v != "" {
		t.Errorf("fresh cursor = %q, want empty", v)
	}

	if err := c.SetProgress(ctx, ProgressKeyLastProcessedPath, "trips/sunset.jpg"); err != nil {
		t.Fatalf("SetProgress() error: %v", err)
	}
	v, err = c.GetProgress(ctx, ProgressKeyLastProcessedPath)
	if err != nil || v != "trips/sunset.jpg" {
		t.Errorf("GetProgress() = %q, %v", v, err)
	}

	if err := c.ClearProgress(ctx, ProgressKeyLastProcessedPath); err != nil {
		t.Fatalf("ClearProgress() error: %v", err)
	}
	v, _ = c.GetProgress(ctx, ProgressKeyLastProcessedPath)
	if v != "" {
		t.Errorf("cursor after clear = %q, want empty", v)
	}
}

func TestThumbStatusRecovery(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	for _, row := range []struct {
		path, status string
	}{
		{"a.jpg", ThumbProcessing},
		{"b.jpg", ThumbExists},
		{"c.jpg", ThumbProcessing},
	} {
		if _, err := c.Main.Run(ctx, "seed",
			"INSERT INTO thumb_status (path, mtime, status) VALUES (?, 1, ?)",
			row.path, row.status); err != nil {
			t.Fatalf("seed error: %v", err)
		}
	}

	n, err := c.RecoverThumbStatuses(ctx)
	if err != nil {
		t.Fatalf("RecoverThumbStatuses() error: %v", err)
	}
	if n != 2 {
		t.Errorf("recovered %d rows, want 2", n)
	}

	counts, err := c.CountThumbStatuses(ctx)
	if err != nil {
		t.Fatalf("CountThumbStatuses() error: %v", err)
	}
	if counts[ThumbProcessing] != 0 || counts[ThumbExists] != 1 || counts[ThumbPending] != 2 {
		t.Errorf("counts after recovery = %v", counts)
	}
}

func TestIndexStatusRoundTrip(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	if err := c.SetIndexStatus(ctx, IndexStatus{
		Status: IndexBuilding, ProcessedFiles: 10, TotalFiles: 100,
	}); err != nil {
		t.Fatalf("SetIndexStatus() error: %v", err)
	}
	st, err := c.GetIndexStatus(ctx)
	if err != nil {
		t.Fatalf("GetIndexStatus() error: %v", err)
	}
	if st.Status != IndexBuilding || st.ProcessedFiles != 10 || st.TotalFiles != 100 {
		t.Errorf("GetIndexStatus() = %+v", st)
	}

	if err := c.UpdateIndexProgressCount(ctx, 55); err != nil {
		t.Fatalf("UpdateIndexProgressCount() error: %v", err)
	}
	st, _ = c.GetIndexStatus(ctx)
	if st.ProcessedFiles != 55 || st.Status != IndexBuilding {
		t.Errorf("after progress update: %+v", st)
	}
}

func TestHealthIssuesClean(t *testing.T) {
	c := testCatalog(t)
	if issues := c.HealthIssues(context.Background()); len(issues) != 0 {
		t.Errorf("HealthIssues() = %v, want none", issues)
	}
}

func TestBumpAlbumMtimes(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	if _, err := c.UpsertItem(ctx, Item{
		Path: "trips", Name: "trips", Type: mediatypes.ItemTypeAlbum, Mtime: 100,
	}); err != nil {
		t.Fatalf("UpsertItem() error: %v", err)
	}

	// Root sentinel "" is skipped, not written as a row.
	if err := c.BumpAlbumMtimes(ctx, []string{"trips", ""}, 999); err != nil {
		t.Fatalf("BumpAlbumMtimes() error: %v", err)
	}

	it, err := c.GetItem(ctx, "trips")
	if err != nil {
		t.Fatalf("GetItem() error: %v", err)
	}
	if it.Mtime != 999 {
		t.Errorf("album mtime = %d, want 999", it.Mtime)
	}
}

func TestReadOutsideTransactionStaysOnPool(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	inTx := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Main.WithTx(ctx, "writer", func(txCtx context.Context) error {
			if _, err := c.UpsertItem(txCtx, Item{
				Path: "staged.jpg", Name: "staged.jpg",
				Type: mediatypes.ItemTypePhoto, Mtime: 1,
			}); err != nil {
				return err
			}
			close(inTx)
			<-release
			return nil
		})
	}()

	<-inTx
	// A context that never passed through WithTx must read from the pool,
	// not from the writer's open transaction.
	n, err := c.CountItems(ctx, "")
	if err != nil {
		t.Fatalf("CountItems() error: %v", err)
	}
	if n != 0 {
		t.Errorf("uncommitted row visible outside the transaction: count = %d", n)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("WithTx error: %v", err)
	}
	n, err = c.CountItems(ctx, "")
	if err != nil {
		t.Fatalf("CountItems() after commit error: %v", err)
	}
	if n != 1 {
		t.Errorf("count after commit = %d, want 1", n)
	}
}

func TestHealIndexStatus(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	// Fresh idle row: nothing to heal.
	healed, err := c.HealIndexStatus(ctx)
	if err != nil {
		t.Fatalf("HealIndexStatus() error: %v", err)
	}
	if healed {
		t.Error("healed an idle status")
	}

	// A crash mid-rebuild leaves 'building' behind.
	if err := c.SetIndexStatus(ctx, IndexStatus{
		Status: IndexBuilding, ProcessedFiles: 42, TotalFiles: 100,
	}); err != nil {
		t.Fatalf("SetIndexStatus() error: %v", err)
	}
	healed, err = c.HealIndexStatus(ctx)
	if err != nil {
		t.Fatalf("HealIndexStatus() error: %v", err)
	}
	if !healed {
		t.Fatal("stale building status was not healed")
	}

	st, err := c.GetIndexStatus(ctx)
	if err != nil {
		t.Fatalf("GetIndexStatus() error: %v", err)
	}
	if st.Status != IndexPending {
		t.Errorf("status after heal = %q, want %q", st.Status, IndexPending)
	}
	if st.ProcessedFiles != 42 || st.TotalFiles != 100 {
		t.Errorf("heal lost the counters: %+v", st)
	}
}

func TestItemsMissingDimensionsIncludesSentinel(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	items := []Item{
		{Path: "fresh.jpg", Name: "fresh.jpg", Type: mediatypes.ItemTypePhoto, Mtime: 1},
		{Path: "probed.jpg", Name: "probed.jpg", Type: mediatypes.ItemTypePhoto, Mtime: 2, Width: 1, Height: 1},
		{Path: "sized.jpg", Name: "sized.jpg", Type: mediatypes.ItemTypePhoto, Mtime: 3, Width: 640, Height: 480},
	}
	fts := make(map[string]string, len(items))
	for _, it := range items {
		fts[it.Path] = it.Name
	}
	if err := c.BatchUpsertItems(ctx, items, fts); err != nil {
		t.Fatalf("BatchUpsertItems() error: %v", err)
	}

	got, err := c.ItemsMissingDimensions(ctx, "", 10)
	if err != nil {
		t.Fatalf("ItemsMissingDimensions() error: %v", err)
	}
	paths := make([]string, len(got))
	for i, it := range got {
		paths[i] = it.Path
	}
	// The 1x1 row marks an earlier failed probe and must come back for retry.
	if len(got) != 2 || paths[0] != "fresh.jpg" || paths[1] != "probed.jpg" {
		t.Errorf("ItemsMissingDimensions() = %v, want [fresh.jpg probed.jpg]", paths)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	v, err := c.GetSetting(ctx, "app_version", "unset")
	if err != nil {
		t.Fatalf("GetSetting() error: %v", err)
	}
	if v != "unset" {
		t.Errorf("missing key = %q, want fallback", v)
	}

	if err := c.SetSetting(ctx, "app_version", "1.0.0"); err != nil {
		t.Fatalf("SetSetting() error: %v", err)
	}
	if err := c.SetSetting(ctx, "app_version", "1.1.0"); err != nil {
		t.Fatalf("SetSetting() upsert error: %v", err)
	}

	v, err = c.GetSetting(ctx, "app_version", "unset")
	if err != nil || v != "1.1.0" {
		t.Errorf("GetSetting() = %q, %v, want 1.1.0", v, err)
	}
}

func TestHistoryRecordAndPrune(t *testing.T) {
	c := testCatalog(t)
	ctx := context.Background()

	c.RecordHistory(ctx, "/", "rebuild", "3 entries")
	c.RecordHistory(ctx, "/", "process_changes", "1 upserts, 0 deletes")

	// Nothing is old enough yet.
	n, err := c.PruneHistory(ctx, time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error: %v", err)
	}
	if n != 0 {
		t.Errorf("pruned %d rows, want 0", n)
	}

	// A negative retention puts the cutoff in the future of both rows.
	n, err = c.PruneHistory(ctx, -time.Second)
	if err != nil {
		t.Fatalf("PruneHistory() error: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}
}
