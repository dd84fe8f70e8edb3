package store

import "time"

// Run statuses
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Run kinds
const (
	KindRefresh = "refresh"
	KindAuto    = "auto"
)

// Run records one batch refresh or auto-run
type Run struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Success      int       `json:"success"`
	Failed       int       `json:"failed"`
	Total        int       `json:"total"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// FileResult records the outcome of refreshing one workbook within a run
type FileResult struct {
	ID          int64         `json:"id"`
	RunID       string        `json:"run_id"`
	Path        string        `json:"path"`
	Name        string        `json:"name"`
	Success     bool          `json:"success"`
	Step        string        `json:"step"`
	Error       string        `json:"error,omitempty"`
	BackupPath  string        `json:"backup_path,omitempty"`
	Connections int           `json:"connections"`
	Duration    time.Duration `json:"duration"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// BackupEvent records a backup copy written by an explicit backup pass
type BackupEvent struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id,omitempty"` // empty for manual backups
	Source     string    `json:"source"`
	BackupPath string    `json:"backup_path"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"` // xxhash64, hex
	CreatedAt  time.Time `json:"created_at"`
}

// StatusFor derives a run status from its counters.
func StatusFor(success, failed int) string {
	switch {
	case failed == 0:
		return StatusSuccess
	case success == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}
