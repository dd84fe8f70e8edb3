package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/BadgerOps/pqrefresh/internal/refresh"
	"github.com/BadgerOps/pqrefresh/internal/workbook"
)

func TestTrackerSnapshot(t *testing.T) {
	tr := NewTracker("refresh")
	tr.SetTotal(4)
	tr.FileStarted("/data/a.xlsx")

	if p := tr.Snapshot(); p.CurrentFile != "/data/a.xlsx" || p.Phase != PhaseVerifying {
		t.Errorf("unexpected snapshot: %+v", p)
	}

	tr.FileDone(refresh.Outcome{File: workbook.NewFile("/data/a.xlsx", ""), Success: true, Step: refresh.StepDone})
	tr.FileDone(refresh.Outcome{File: workbook.NewFile("/data/b.xlsx", ""), Step: refresh.StepSave, Error: "read-only"})

	p := tr.Snapshot()
	if p.CompletedFiles != 1 || p.FailedFiles != 1 {
		t.Errorf("Expected 1/1, got %d/%d", p.CompletedFiles, p.FailedFiles)
	}
	if p.Percent != 50 {
		t.Errorf("Expected 50%%, got %v", p.Percent)
	}
	if p.CurrentFile != "" {
		t.Errorf("Expected no current file, got %q", p.CurrentFile)
	}
	if len(p.RecentEvents) != 2 || p.RecentEvents[0].Path != "/data/b.xlsx" || p.RecentEvents[0].Status != "failed" {
		t.Errorf("unexpected recent events: %+v", p.RecentEvents)
	}
}

func TestTrackerRecentEventsCapped(t *testing.T) {
	tr := NewTracker("refresh")
	for i := 0; i < maxRecentEvents+5; i++ {
		tr.FileDone(refresh.Outcome{File: workbook.NewFile(fmt.Sprintf("/data/%d.xlsx", i), ""), Success: true})
	}

	p := tr.Snapshot()
	if len(p.RecentEvents) != maxRecentEvents {
		t.Errorf("Expected %d events, got %d", maxRecentEvents, len(p.RecentEvents))
	}
	if p.RecentEvents[0].Path != fmt.Sprintf("/data/%d.xlsx", maxRecentEvents+4) {
		t.Errorf("Expected newest first, got %q", p.RecentEvents[0].Path)
	}
}

func TestTrackerWaitSignals(t *testing.T) {
	tr := NewTracker("auto")
	ch := tr.Wait()

	select {
	case <-ch:
		t.Fatal("channel closed before any update")
	default:
	}

	go tr.SetPhase(PhaseRefreshing)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Wait channel was not closed by update")
	}

	if tr.Snapshot().Phase != PhaseRefreshing {
		t.Error("phase not updated")
	}
}
