package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BadgerOps/pqrefresh/internal/workbook"
)

// Step names a stage of a single workbook refresh.
type Step string

const (
	StepDependencyCheck Step = "dependency_check"
	StepValidate        Step = "validate"
	StepBackup          Step = "backup"
	StepOpenApplication Step = "open_application"
	StepOpenDocument    Step = "open_document"
	StepRefresh         Step = "refresh"
	StepSave            Step = "save"
	StepDone            Step = "done"
	StepCancelled       Step = "cancelled"
)

// DefaultPollInterval is how often connection state is checked while
// waiting for a refresh to finish.
const DefaultPollInterval = time.Second

// FileChecker validates a workbook path before the application is opened.
type FileChecker interface {
	Check(path string) error
}

// Backuper snapshots a workbook. A "" path with a nil error means no
// backup was taken.
type Backuper interface {
	Backup(src string, enabled bool) (string, error)
}

// Outcome records how one workbook refresh ended. Step is the last stage
// entered, so for a failure it names the stage that failed.
type Outcome struct {
	File        workbook.File `json:"file"`
	Success     bool          `json:"success"`
	Step        Step          `json:"step"`
	Error       string        `json:"error,omitempty"`
	BackupPath  string        `json:"backup_path,omitempty"`
	Connections int           `json:"connections"`
	Duration    time.Duration `json:"duration"`
}

// Refresher refreshes one workbook at a time. It holds no per-file state,
// so a failure on one workbook cannot leak into the next.
type Refresher struct {
	driver  Driver
	files   FileChecker
	backups Backuper
	logger  *slog.Logger

	// PollInterval is the wait between connection state checks.
	PollInterval time.Duration
	// Visible asks the driver to show the application window.
	Visible bool

	// minute scales RefreshTimeoutMinutes.
	minute time.Duration
}

// NewRefresher creates a Refresher.
func NewRefresher(driver Driver, files FileChecker, backups Backuper, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		driver:       driver,
		files:        files,
		backups:      backups,
		logger:       logger,
		PollInterval: DefaultPollInterval,
		minute:       time.Minute,
	}
}

// RefreshOne refreshes file and reports whether every required step
// succeeded.
func (r *Refresher) RefreshOne(ctx context.Context, file workbook.File, settings Settings) bool {
	return r.Refresh(ctx, file, settings).Success
}

// Refresh runs the full sequence for one workbook: dependency check,
// validation, optional backup, open application, open document, refresh
// every connection and wait, optional save. The application is always
// closed once opened. Failures, including panics raised by a driver, are
// logged and reported in the Outcome rather than returned.
func (r *Refresher) Refresh(ctx context.Context, file workbook.File, settings Settings) (out Outcome) {
	start := time.Now()
	out = Outcome{File: file, Step: StepDependencyCheck}

	defer func() {
		if p := recover(); p != nil {
			out.Success = false
			out.Error = fmt.Sprintf("unexpected failure: %v", p)
			r.logger.Error("refresh aborted by unexpected failure",
				"file", file.Name, "path", file.Path, "step", out.Step, "error", p)
		}
		out.Duration = time.Since(start)
	}()

	if err := r.driver.Available(); err != nil {
		return r.fail(out, err)
	}

	out.Step = StepValidate
	if err := r.files.Check(file.Path); err != nil {
		return r.fail(out, err)
	}

	r.logger.Info("refreshing workbook", "file", file.Name, "path", file.Path)

	out.Step = StepBackup
	if settings.BackupBeforeRefresh {
		backupPath, err := r.backups.Backup(file.Path, true)
		switch {
		case err != nil:
			r.logger.Warn("backup before refresh failed, continuing", "file", file.Name, "error", err)
		case backupPath != "":
			out.BackupPath = backupPath
			r.logger.Info("backup before refresh", "file", file.Name, "backup", backupPath)
		}
	}

	out.Step = StepOpenApplication
	app, err := r.driver.Open(ctx, r.Visible)
	if err != nil {
		return r.fail(out, fmt.Errorf("opening application: %w", err))
	}
	if app == nil {
		return r.fail(out, fmt.Errorf("opening application: driver returned no instance"))
	}
	r.logger.Debug("application opened", "visible", r.Visible)
	defer r.closeApplication(app, file)

	out.Step = StepOpenDocument
	doc, err := app.OpenDocument(ctx, file.Path)
	if err != nil {
		return r.fail(out, fmt.Errorf("opening document: %w", err))
	}
	r.logger.Info("document opened", "path", file.Path)

	out.Step = StepRefresh
	n, err := r.refreshConnections(ctx, doc, settings.timeoutMinutes())
	out.Connections = n
	if err != nil {
		return r.fail(out, err)
	}

	if settings.AutoSave {
		out.Step = StepSave
		if err := doc.Save(ctx); err != nil {
			return r.fail(out, fmt.Errorf("saving document: %w", err))
		}
		r.logger.Info("document saved", "path", file.Path)
	}

	out.Step = StepDone
	out.Success = true
	r.logger.Info("workbook refreshed", "file", file.Name, "connections", n)
	return out
}

func (r *Refresher) fail(out Outcome, err error) Outcome {
	out.Success = false
	out.Error = err.Error()
	r.logger.Error("refresh failed", "file", out.File.Name, "path", out.File.Path, "step", out.Step, "error", err)
	return out
}

func (r *Refresher) closeApplication(app Application, file workbook.File) {
	if err := app.Close(); err != nil {
		r.logger.Error("failed to close application", "file", file.Name, "error", err)
		return
	}
	r.logger.Debug("application closed", "file", file.Name)
}

// refreshConnections issues a refresh on every connection, then waits for
// all of them to settle. Every driver call shares one deadline of
// timeoutMinutes, so a helper that stops answering still fails the file.
// It returns the number of connections.
func (r *Refresher) refreshConnections(ctx context.Context, doc Document, timeoutMinutes int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMinutes)*r.minute)
	defer cancel()

	conns, err := doc.Connections(ctx)
	if err != nil {
		return 0, r.timedOut(ctx, fmt.Errorf("listing connections: %w", err), timeoutMinutes)
	}
	if len(conns) == 0 {
		r.logger.Info("no connections to refresh")
		return 0, nil
	}

	r.logger.Info("refreshing connections", "count", len(conns))
	for i, c := range conns {
		r.logger.Info("refreshing connection", "index", i+1, "count", len(conns), "connection", c.Name())
		if err := c.Refresh(ctx); err != nil {
			return len(conns), r.timedOut(ctx, fmt.Errorf("refreshing connection %q: %w", c.Name(), err), timeoutMinutes)
		}
	}

	return len(conns), r.waitForCompletion(ctx, conns, timeoutMinutes)
}

// waitForCompletion polls until no connection reports refreshing or ctx
// expires. A polling error ends the wait as a failure.
func (r *Refresher) waitForCompletion(ctx context.Context, conns []Connection, timeoutMinutes int) error {
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		busy, err := anyRefreshing(ctx, conns)
		if err != nil {
			return r.timedOut(ctx, fmt.Errorf("checking refresh state: %w", err), timeoutMinutes)
		}
		if !busy {
			r.logger.Info("connection refresh finished")
			return nil
		}

		select {
		case <-ctx.Done():
			return r.timedOut(ctx, ctx.Err(), timeoutMinutes)
		case <-ticker.C:
		}
	}
}

// timedOut replaces err with ErrRefreshTimeout once the refresh deadline
// has passed.
func (r *Refresher) timedOut(ctx context.Context, err error, timeoutMinutes int) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	r.logger.Error("connection refresh exceeded timeout", "minutes", timeoutMinutes, "error", err)
	return fmt.Errorf("%w after %d minutes", ErrRefreshTimeout, timeoutMinutes)
}

func anyRefreshing(ctx context.Context, conns []Connection) (bool, error) {
	for _, c := range conns {
		busy, err := c.Refreshing(ctx)
		if err != nil {
			return false, fmt.Errorf("connection %q: %w", c.Name(), err)
		}
		if busy {
			return true, nil
		}
	}
	return false, nil
}
