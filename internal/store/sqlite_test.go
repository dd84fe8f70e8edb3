package store

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

// newTestStore creates an in-memory SQLite store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ============================================================================
// Store Lifecycle Tests
// ============================================================================

func TestNew(t *testing.T) {
	store, err := New(":memory:", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Expected db to be initialized")
	}

	if store.logger == nil {
		t.Error("Expected logger to be initialized")
	}
}

func TestNewNilLogger(t *testing.T) {
	store, err := New(":memory:", nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer store.Close()

	if store.logger == nil {
		t.Error("Expected default logger")
	}
}

func TestNewOnDiskReopen(t *testing.T) {
	path := t.TempDir() + "/history.db"

	store, err := New(path, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	run := &Run{Kind: KindRefresh, StartTime: time.Now()}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}
	store.Close()

	// Migrations must not re-run against an existing schema
	store, err = New(path, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	if _, err := store.GetRun(run.ID); err != nil {
		t.Fatalf("GetRun() after reopen failed: %v", err)
	}
}

func TestClose(t *testing.T) {
	store, err := New(":memory:", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = store.Close()
	if err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// Verify the connection is closed by trying to use it
	_, err = store.ListRuns(0)
	if err == nil {
		t.Error("Expected error when using closed store, but got nil")
	}
}

// ============================================================================
// Run Tests
// ============================================================================

func TestCreateRun(t *testing.T) {
	store := newTestStore(t)

	run := &Run{
		Kind:      KindAuto,
		StartTime: time.Now(),
		Total:     3,
	}

	err := store.CreateRun(run)
	if err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}

	if run.ID == "" {
		t.Error("Expected ID to be set after CreateRun")
	}
	if run.Status != StatusRunning {
		t.Errorf("Expected default status %q, got %q", StatusRunning, run.Status)
	}

	retrieved, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}

	if retrieved.Kind != KindAuto {
		t.Errorf("Kind mismatch: got %q, want %q", retrieved.Kind, KindAuto)
	}
	if retrieved.Total != 3 {
		t.Errorf("Total mismatch: got %d, want 3", retrieved.Total)
	}
	if !retrieved.StartTime.Equal(run.StartTime) {
		t.Errorf("StartTime mismatch: got %v, want %v", retrieved.StartTime, run.StartTime)
	}
}

func TestCreateRunKeepsGivenID(t *testing.T) {
	store := newTestStore(t)

	run := &Run{ID: "fixed-id", Kind: KindRefresh, StartTime: time.Now()}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}
	if run.ID != "fixed-id" {
		t.Errorf("ID was replaced: %q", run.ID)
	}

	if err := store.CreateRun(&Run{ID: "fixed-id", Kind: KindRefresh, StartTime: time.Now()}); err == nil {
		t.Error("Expected duplicate ID to fail")
	}
}

func TestUpdateRun(t *testing.T) {
	store := newTestStore(t)

	run := &Run{Kind: KindRefresh, StartTime: time.Now(), Total: 3}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}

	run.EndTime = run.StartTime.Add(time.Minute)
	run.Success = 2
	run.Failed = 1
	run.Status = StatusFor(run.Success, run.Failed)
	run.ErrorMessage = "1 workbook failed"

	if err := store.UpdateRun(run); err != nil {
		t.Fatalf("UpdateRun() failed: %v", err)
	}

	retrieved, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}

	if retrieved.Success != 2 || retrieved.Failed != 1 {
		t.Errorf("counts mismatch: got %d/%d, want 2/1", retrieved.Success, retrieved.Failed)
	}
	if retrieved.Status != StatusPartial {
		t.Errorf("Status mismatch: got %q, want %q", retrieved.Status, StatusPartial)
	}
	if retrieved.ErrorMessage != "1 workbook failed" {
		t.Errorf("ErrorMessage mismatch: got %q", retrieved.ErrorMessage)
	}
	if !retrieved.EndTime.Equal(run.EndTime) {
		t.Errorf("EndTime mismatch: got %v, want %v", retrieved.EndTime, run.EndTime)
	}
}

func TestUpdateRunNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateRun(&Run{ID: "missing", Kind: KindRefresh, StartTime: time.Now()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListRunsOrdering(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	times := []time.Time{
		now.Add(-2 * time.Hour),
		now,
		now.Add(-1 * time.Hour),
	}

	for _, startTime := range times {
		run := &Run{Kind: KindRefresh, StartTime: startTime}
		if err := store.CreateRun(run); err != nil {
			t.Fatalf("CreateRun() failed: %v", err)
		}
	}

	runs, err := store.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}

	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}

	for i := 1; i < len(runs); i++ {
		if runs[i-1].StartTime.Before(runs[i].StartTime) {
			t.Error("Expected runs to be ordered by start_time DESC")
		}
	}
}

func TestListRunsWithLimit(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		run := &Run{Kind: KindRefresh, StartTime: time.Now().Add(time.Duration(i) * time.Minute)}
		if err := store.CreateRun(run); err != nil {
			t.Fatalf("CreateRun() failed: %v", err)
		}
	}

	runs, err := store.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Expected 2 runs, got %d", len(runs))
	}
}

func TestListRunsEmpty(t *testing.T) {
	store := newTestStore(t)

	runs, err := store.ListRuns(0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if runs == nil || len(runs) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", runs)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		success, failed int
		want            string
	}{
		{0, 0, StatusSuccess},
		{3, 0, StatusSuccess},
		{0, 2, StatusFailed},
		{1, 1, StatusPartial},
	}

	for _, tt := range tests {
		if got := StatusFor(tt.success, tt.failed); got != tt.want {
			t.Errorf("StatusFor(%d, %d) = %q, want %q", tt.success, tt.failed, got, tt.want)
		}
	}
}

// ============================================================================
// FileResult Tests
// ============================================================================

func TestFileResults(t *testing.T) {
	store := newTestStore(t)

	run := &Run{Kind: KindRefresh, StartTime: time.Now(), Total: 2}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}

	results := []*FileResult{
		{
			RunID:       run.ID,
			Path:        "/data/sales.xlsx",
			Name:        "sales",
			Success:     true,
			Step:        "done",
			BackupPath:  "/backups/sales/20240305_142201_sales.xlsx",
			Connections: 2,
			Duration:    1500 * time.Millisecond,
		},
		{
			RunID:    run.ID,
			Path:     "/data/regions.xlsx",
			Name:     "regions",
			Step:     "refresh",
			Error:    "refresh timed out after 30 minutes",
			Duration: 30 * time.Minute,
		},
	}

	for _, res := range results {
		if err := store.AddFileResult(res); err != nil {
			t.Fatalf("AddFileResult() failed: %v", err)
		}
		if res.ID == 0 {
			t.Error("Expected ID to be set after AddFileResult")
		}
	}

	// A result for another run must not leak into the listing
	if err := store.AddFileResult(&FileResult{RunID: "other", Path: "/x.xlsx"}); err != nil {
		t.Fatalf("AddFileResult() failed: %v", err)
	}

	got, err := store.ListFileResults(run.ID)
	if err != nil {
		t.Fatalf("ListFileResults() failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(got))
	}
	if got[0].Path != "/data/sales.xlsx" || !got[0].Success || got[0].Connections != 2 {
		t.Errorf("first result mismatch: %+v", got[0])
	}
	if got[0].Duration != 1500*time.Millisecond {
		t.Errorf("Duration mismatch: got %v", got[0].Duration)
	}
	if got[1].Success || got[1].Step != "refresh" || got[1].Error == "" {
		t.Errorf("second result mismatch: %+v", got[1])
	}
	if got[1].FinishedAt.IsZero() {
		t.Error("Expected FinishedAt to default to now")
	}
}

// ============================================================================
// BackupEvent Tests
// ============================================================================

func TestBackupEvents(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	for i, src := range []string{"/data/a.xlsx", "/data/b.xlsx", "/data/c.xlsx"} {
		ev := &BackupEvent{
			Source:     src,
			BackupPath: "/backups/x/" + src,
			Size:       int64(100 * (i + 1)),
			Checksum:   "deadbeef",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := store.RecordBackup(ev); err != nil {
			t.Fatalf("RecordBackup() failed: %v", err)
		}
		if ev.ID == 0 {
			t.Error("Expected ID to be set after RecordBackup")
		}
	}

	events, err := store.ListBackupEvents(0)
	if err != nil {
		t.Fatalf("ListBackupEvents() failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[0].Source != "/data/c.xlsx" {
		t.Errorf("Expected newest first, got %q", events[0].Source)
	}
	if events[2].Size != 100 {
		t.Errorf("Size mismatch: got %d", events[2].Size)
	}

	limited, err := store.ListBackupEvents(1)
	if err != nil {
		t.Fatalf("ListBackupEvents() failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 event, got %d", len(limited))
	}
}
