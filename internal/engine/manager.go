package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BadgerOps/pqrefresh/internal/backup"
	"github.com/BadgerOps/pqrefresh/internal/config"
	"github.com/BadgerOps/pqrefresh/internal/metrics"
	"github.com/BadgerOps/pqrefresh/internal/refresh"
	"github.com/BadgerOps/pqrefresh/internal/store"
	"github.com/BadgerOps/pqrefresh/internal/workbook"
)

// ErrBusy is returned when a batch or auto-run is already in progress.
var ErrBusy = errors.New("a refresh run is already in progress")

// LevelCritical is the severity used when an auto-run aborts.
const LevelCritical = slog.LevelError + 4

// BackupSummary is the result of an explicit backup pass.
type BackupSummary struct {
	Success     int      `json:"success"`
	Failed      int      `json:"failed"`
	BackupPaths []string `json:"backup_paths"`
}

// AutoSummary is the composite result of RunAuto.
type AutoSummary struct {
	RunID   string              `json:"run_id,omitempty"`
	Valid   int                 `json:"valid"`
	Invalid int                 `json:"invalid"`
	Backups BackupSummary       `json:"backups"`
	Purged  int                 `json:"purged"`
	Batch   refresh.BatchResult `json:"batch"`
	Error   string              `json:"error,omitempty"`
}

// Manager exposes the operations presentation shells call: verify,
// backup, cleanup, refresh and the automatic run that composes them.
type Manager struct {
	cfg       *config.Config
	validator *workbook.Validator
	backups   *backup.Store
	refresher *refresh.Refresher
	logger    *slog.Logger

	history         *store.Store
	metrics         *metrics.Metrics
	metricsTextfile string

	// running guards against two batches driving the application at once.
	running sync.Mutex

	// activeTracker is the tracker of the current or most recent run.
	trackerMu     sync.RWMutex
	activeTracker *Tracker
}

// NewManager creates a new Manager.
func NewManager(
	cfg *config.Config,
	validator *workbook.Validator,
	backups *backup.Store,
	refresher *refresh.Refresher,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		validator: validator,
		backups:   backups,
		refresher: refresher,
		logger:    logger,
	}
}

// SetHistory enables recording of refresh activity.
func (m *Manager) SetHistory(st *store.Store) {
	m.history = st
}

// SetMetrics enables metric collection. A non-empty textfile is rewritten
// after every batch.
func (m *Manager) SetMetrics(mt *metrics.Metrics, textfile string) {
	m.metrics = mt
	m.metricsTextfile = textfile
}

// Settings returns an immutable snapshot of the refresh settings.
func (m *Manager) Settings() refresh.Settings {
	s := m.cfg.Settings
	return refresh.Settings{
		AutoSave:              s.AutoSave,
		BackupBeforeRefresh:   s.BackupBeforeRefresh,
		LogRefreshActivity:    s.LogRefreshActivity,
		RefreshTimeoutMinutes: s.RefreshTimeoutMinutes,
	}
}

// RetentionDays returns the configured backup retention window.
func (m *Manager) RetentionDays() int {
	if m.cfg.Backup.RetentionDays <= 0 {
		return config.DefaultRetentionDays
	}
	return m.cfg.Backup.RetentionDays
}

// Files returns the configured workbooks in order, with display names
// derived where the config has none.
func (m *Manager) Files() []workbook.File {
	files := make([]workbook.File, 0, len(m.cfg.Files))
	for _, e := range m.cfg.Files {
		files = append(files, workbook.NewFile(e.Path, e.Name))
	}
	return files
}

// SelectFiles picks configured workbooks by 1-based index, path or display
// name. No selectors selects every workbook.
func (m *Manager) SelectFiles(selectors []string) ([]workbook.File, error) {
	all := m.Files()
	if len(selectors) == 0 {
		return all, nil
	}

	selected := make([]workbook.File, 0, len(selectors))
	for _, sel := range selectors {
		f, ok := matchFile(all, sel)
		if !ok {
			return nil, fmt.Errorf("no configured workbook matches %q", sel)
		}
		selected = append(selected, f)
	}
	return selected, nil
}

func matchFile(files []workbook.File, sel string) (workbook.File, bool) {
	sel = strings.TrimSpace(sel)
	if n, err := strconv.Atoi(sel); err == nil {
		if n >= 1 && n <= len(files) {
			return files[n-1], true
		}
		return workbook.File{}, false
	}
	for _, f := range files {
		if filepath.Clean(f.Path) == filepath.Clean(sel) {
			return f, true
		}
	}
	for _, f := range files {
		if strings.EqualFold(f.Name, sel) {
			return f, true
		}
	}
	return workbook.File{}, false
}

// Verify classifies the configured workbooks.
func (m *Manager) Verify() workbook.Verification {
	v := m.validator.Classify(m.Files())
	if v.TotalInvalid > 0 {
		m.logger.Warn("some configured workbooks are invalid", "valid", v.TotalValid, "invalid", v.TotalInvalid)
	}
	return v
}

// CreateBackups backs up each file. A file that yields no backup counts
// as failed.
func (m *Manager) CreateBackups(files []workbook.File) BackupSummary {
	return m.createBackups(files, "")
}

func (m *Manager) createBackups(files []workbook.File, runID string) BackupSummary {
	sum := BackupSummary{BackupPaths: []string{}}
	for _, f := range files {
		path, err := m.backups.Backup(f.Path, true)
		if err != nil || path == "" {
			if err == nil {
				m.logger.Warn("no backup produced", "file", f.Name, "path", f.Path)
			}
			sum.Failed++
			if m.metrics != nil {
				m.metrics.ObserveBackup(false, 0)
			}
			continue
		}
		sum.Success++
		sum.BackupPaths = append(sum.BackupPaths, path)
		m.recordBackup(runID, f, path)
	}

	m.logger.Info("backup pass finished", "success", sum.Success, "failed", sum.Failed)
	return sum
}

func (m *Manager) recordBackup(runID string, f workbook.File, path string) {
	rec, err := m.backups.Stat(path)
	if err != nil {
		m.logger.Warn("cannot stat new backup", "backup", path, "error", err)
	}
	if m.metrics != nil {
		m.metrics.ObserveBackup(true, rec.Size)
	}
	if !m.historyEnabled() {
		return
	}

	sum, err := m.backups.Checksum(path)
	if err != nil {
		m.logger.Warn("cannot checksum backup", "backup", path, "error", err)
	}
	ev := &store.BackupEvent{
		RunID:      runID,
		Source:     f.Path,
		BackupPath: path,
		Size:       rec.Size,
		Checksum:   sum,
	}
	if err := m.history.RecordBackup(ev); err != nil {
		m.logger.Warn("failed to record backup", "backup", path, "error", err)
	}
}

// ListBackups returns every backup, newest first.
func (m *Manager) ListBackups() ([]backup.Record, error) {
	return m.backups.List()
}

// BackupGroups summarizes backups per source workbook.
func (m *Manager) BackupGroups() ([]backup.Group, error) {
	return m.backups.Groups()
}

// CleanupBackups deletes backups older than days and returns how many
// were removed.
func (m *Manager) CleanupBackups(days int) int {
	n := m.backups.Purge(days)
	if m.metrics != nil {
		m.metrics.ObservePurge(n)
	}
	return n
}

// RefreshBatch refreshes files one at a time with the current settings.
// It fails only with ErrBusy; per-file failures are counted in the result.
// An empty selection returns a zero result without recording anything.
func (m *Manager) RefreshBatch(ctx context.Context, files []workbook.File) (refresh.BatchResult, error) {
	if len(files) == 0 {
		return refresh.BatchResult{}, nil
	}
	if !m.running.TryLock() {
		return refresh.BatchResult{}, ErrBusy
	}
	defer m.running.Unlock()

	settings := m.Settings()
	tracker := m.startTracker(store.KindRefresh)
	run := m.beginRun(store.KindRefresh, len(files), settings)
	if run != nil {
		tracker.SetRunID(run.ID)
	}

	res := m.runBatch(ctx, files, settings, tracker, run)
	m.finishRun(run, res, "")
	m.finishTracker(ctx, tracker, res)
	m.flushMetrics()
	return res, nil
}

// RunAuto verifies the configured workbooks, backs up the valid ones,
// purges backups past the retention window and refreshes every configured
// workbook. Invalid workbooks are refreshed too and fail validation there.
// The run is single-pass; nothing is retried. A panic anywhere in the
// sequence is logged at critical level and returned as an error.
func (m *Manager) RunAuto(ctx context.Context) (summary AutoSummary, err error) {
	if !m.running.TryLock() {
		return AutoSummary{}, ErrBusy
	}
	defer m.running.Unlock()

	settings := m.Settings()
	files := m.Files()
	tracker := m.startTracker(store.KindAuto)
	run := m.beginRun(store.KindAuto, len(files), settings)
	if run != nil {
		summary.RunID = run.ID
		tracker.SetRunID(run.ID)
	}

	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("%v", p)
			m.logger.Log(context.Background(), LevelCritical, "automatic run aborted", "error", msg)
			summary.Error = msg
			err = fmt.Errorf("automatic run aborted: %s", msg)
			tracker.SetMessage(msg)
			tracker.SetPhase(PhaseFailed)
			m.finishRun(run, summary.Batch, msg)
		}
	}()

	m.logger.Info("starting automatic run", "files", len(files))

	tracker.SetPhase(PhaseVerifying)
	v := m.validator.Classify(files)
	summary.Valid = v.TotalValid
	summary.Invalid = v.TotalInvalid
	if v.TotalInvalid > 0 {
		m.logger.Warn("invalid workbooks found, continuing", "invalid", v.TotalInvalid)
	}

	tracker.SetPhase(PhaseBackingUp)
	summary.Backups = m.createBackups(v.Valid, summary.RunID)

	tracker.SetPhase(PhaseCleaning)
	summary.Purged = m.CleanupBackups(m.RetentionDays())

	summary.Batch = m.runBatch(ctx, files, settings, tracker, run)
	m.finishRun(run, summary.Batch, "")
	m.finishTracker(ctx, tracker, summary.Batch)
	m.flushMetrics()

	m.logger.Info("automatic run finished",
		"valid", summary.Valid,
		"invalid", summary.Invalid,
		"backups", summary.Backups.Success,
		"purged", summary.Purged,
		"success", summary.Batch.Success,
		"failed", summary.Batch.Failed,
	)
	return summary, nil
}

func (m *Manager) runBatch(ctx context.Context, files []workbook.File, settings refresh.Settings, tracker *Tracker, run *store.Run) refresh.BatchResult {
	tracker.SetTotal(len(files))
	tracker.SetPhase(PhaseRefreshing)

	b := refresh.NewBatch(m.refresher, m.logger)
	b.OnFileStart = func(f workbook.File) {
		tracker.FileStarted(f.Path)
	}
	b.OnFileDone = func(out refresh.Outcome) {
		tracker.FileDone(out)
		if m.metrics != nil {
			m.metrics.ObserveFile(out)
		}
		m.recordFileResult(run, out)
	}

	res := b.Run(ctx, files, settings)
	if m.metrics != nil {
		m.metrics.ObserveBatch(res)
	}
	return res
}

// ActiveProgress returns the tracker of the current or last run, or nil.
func (m *Manager) ActiveProgress() *Tracker {
	m.trackerMu.RLock()
	defer m.trackerMu.RUnlock()
	return m.activeTracker
}

// startTracker installs a new tracker. It stays installed after the run
// ends so late readers still see the terminal snapshot.
func (m *Manager) startTracker(kind string) *Tracker {
	t := NewTracker(kind)
	m.trackerMu.Lock()
	m.activeTracker = t
	m.trackerMu.Unlock()
	return t
}

func (m *Manager) finishTracker(ctx context.Context, t *Tracker, res refresh.BatchResult) {
	t.SetMessage(fmt.Sprintf("%d of %d workbooks refreshed", res.Success, res.Total))
	if ctx.Err() != nil {
		t.SetPhase(PhaseCancelled)
		return
	}
	t.SetPhase(PhaseComplete)
}

// ============================================================================
// History
// ============================================================================

func (m *Manager) historyEnabled() bool {
	return m.history != nil && m.cfg.Settings.LogRefreshActivity
}

func (m *Manager) beginRun(kind string, total int, settings refresh.Settings) *store.Run {
	if m.history == nil || !settings.LogRefreshActivity {
		return nil
	}
	run := &store.Run{
		Kind:      kind,
		StartTime: time.Now(),
		Total:     total,
		Status:    store.StatusRunning,
	}
	if err := m.history.CreateRun(run); err != nil {
		m.logger.Warn("failed to record run, continuing without history", "error", err)
		return nil
	}
	return run
}

func (m *Manager) recordFileResult(run *store.Run, out refresh.Outcome) {
	if run == nil {
		return
	}
	res := &store.FileResult{
		RunID:       run.ID,
		Path:        out.File.Path,
		Name:        out.File.Name,
		Success:     out.Success,
		Step:        string(out.Step),
		Error:       out.Error,
		BackupPath:  out.BackupPath,
		Connections: out.Connections,
		Duration:    out.Duration,
	}
	if err := m.history.AddFileResult(res); err != nil {
		m.logger.Warn("failed to record file result", "file", out.File.Name, "error", err)
	}
}

func (m *Manager) finishRun(run *store.Run, res refresh.BatchResult, errMsg string) {
	if run == nil {
		return
	}
	run.EndTime = time.Now()
	run.Success = res.Success
	run.Failed = res.Failed
	run.Status = store.StatusFor(res.Success, res.Failed)
	if errMsg != "" {
		run.Status = store.StatusFailed
		run.ErrorMessage = errMsg
	}
	if err := m.history.UpdateRun(run); err != nil {
		m.logger.Warn("failed to finish run record", "run", run.ID, "error", err)
	}
}

// History returns recorded runs, newest first. Without a history store it
// returns an empty list.
func (m *Manager) History(limit int) ([]store.Run, error) {
	if m.history == nil {
		return []store.Run{}, nil
	}
	return m.history.ListRuns(limit)
}

// RunDetail returns one run and its per-file results.
func (m *Manager) RunDetail(id string) (*store.Run, []store.FileResult, error) {
	if m.history == nil {
		return nil, nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	run, err := m.history.GetRun(id)
	if err != nil {
		return nil, nil, err
	}
	results, err := m.history.ListFileResults(id)
	if err != nil {
		return nil, nil, err
	}
	return run, results, nil
}

// BackupHistory returns recorded backup events, newest first.
func (m *Manager) BackupHistory(limit int) ([]store.BackupEvent, error) {
	if m.history == nil {
		return []store.BackupEvent{}, nil
	}
	return m.history.ListBackupEvents(limit)
}

func (m *Manager) flushMetrics() {
	if m.metrics == nil || m.metricsTextfile == "" {
		return
	}
	if err := m.metrics.WriteTextfile(m.metricsTextfile); err != nil {
		m.logger.Warn("failed to write metrics textfile", "error", err)
	}
}
