package engine

import (
	"sync"
	"time"

	"github.com/BadgerOps/pqrefresh/internal/refresh"
)

// Phase is the stage an active batch or auto-run is in.
type Phase string

const (
	PhaseVerifying  Phase = "verifying"
	PhaseBackingUp  Phase = "backing_up"
	PhaseCleaning   Phase = "cleaning"
	PhaseRefreshing Phase = "refreshing"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// maxRecentEvents caps the rolling activity log.
const maxRecentEvents = 20

// FileEvent records a finished workbook for the recent activity log.
type FileEvent struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	Status string `json:"status"` // "completed", "failed"
	Step   string `json:"step"`
	Error  string `json:"error,omitempty"`
}

// Progress is a snapshot of the active run, safe for JSON serialization.
type Progress struct {
	RunID          string      `json:"run_id,omitempty"`
	Kind           string      `json:"kind"`
	Phase          Phase       `json:"phase"`
	TotalFiles     int         `json:"total_files"`
	CompletedFiles int         `json:"completed_files"`
	FailedFiles    int         `json:"failed_files"`
	Percent        float64     `json:"percent"`
	CurrentFile    string      `json:"current_file,omitempty"`
	RecentEvents   []FileEvent `json:"recent_events,omitempty"`
	StartTime      time.Time   `json:"start_time"`
	Elapsed        string      `json:"elapsed"`
	Message        string      `json:"message,omitempty"`
}

// Tracker accumulates progress for one run. Listeners call Wait to block
// until the next update.
type Tracker struct {
	mu sync.Mutex

	runID          string
	kind           string
	phase          Phase
	totalFiles     int
	completedFiles int
	failedFiles    int
	currentFile    string
	startTime      time.Time
	message        string
	recentEvents   []FileEvent

	// close-and-replace: every update closes notify and makes a new one
	notify chan struct{}
}

// NewTracker creates a tracker for a run of the given kind.
func NewTracker(kind string) *Tracker {
	return &Tracker{
		kind:      kind,
		phase:     PhaseVerifying,
		startTime: time.Now(),
		notify:    make(chan struct{}),
	}
}

// Snapshot returns a copy of the current progress state.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pct float64
	if t.totalFiles > 0 {
		pct = float64(t.completedFiles+t.failedFiles) / float64(t.totalFiles) * 100
	}

	recent := make([]FileEvent, len(t.recentEvents))
	copy(recent, t.recentEvents)

	return Progress{
		RunID:          t.runID,
		Kind:           t.kind,
		Phase:          t.phase,
		TotalFiles:     t.totalFiles,
		CompletedFiles: t.completedFiles,
		FailedFiles:    t.failedFiles,
		Percent:        pct,
		CurrentFile:    t.currentFile,
		RecentEvents:   recent,
		StartTime:      t.startTime,
		Elapsed:        time.Since(t.startTime).Truncate(time.Second).String(),
		Message:        t.message,
	}
}

// Wait returns a channel that is closed on the next update.
func (t *Tracker) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

// signal must be called with t.mu held.
func (t *Tracker) signal() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// SetRunID attaches the history run identifier.
func (t *Tracker) SetRunID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runID = id
	t.signal()
}

// SetPhase updates the current phase.
func (t *Tracker) SetPhase(phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
	t.signal()
}

// SetTotal sets the number of workbooks in the batch.
func (t *Tracker) SetTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalFiles = n
	t.signal()
}

// SetMessage sets a human-readable status message.
func (t *Tracker) SetMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
	t.signal()
}

// FileStarted records the workbook now being refreshed.
func (t *Tracker) FileStarted(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentFile = path
	t.signal()
}

// FileDone records a finished workbook.
func (t *Tracker) FileDone(out refresh.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev := FileEvent{
		Path:  out.File.Path,
		Name:  out.File.Name,
		Step:  string(out.Step),
		Error: out.Error,
	}
	if out.Success {
		t.completedFiles++
		ev.Status = "completed"
	} else {
		t.failedFiles++
		ev.Status = "failed"
	}
	if t.currentFile == out.File.Path {
		t.currentFile = ""
	}

	t.recentEvents = append([]FileEvent{ev}, t.recentEvents...)
	if len(t.recentEvents) > maxRecentEvents {
		t.recentEvents = t.recentEvents[:maxRecentEvents]
	}
	t.signal()
}
