package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/pqrefresh/internal/backup"
	"github.com/BadgerOps/pqrefresh/internal/config"
	"github.com/BadgerOps/pqrefresh/internal/driver"
	"github.com/BadgerOps/pqrefresh/internal/engine"
	"github.com/BadgerOps/pqrefresh/internal/metrics"
	"github.com/BadgerOps/pqrefresh/internal/refresh"
	"github.com/BadgerOps/pqrefresh/internal/store"
	"github.com/BadgerOps/pqrefresh/internal/workbook"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger
	logFile   *os.File

	// Global components
	appFs           afero.Fs = afero.NewOsFs()
	globalStore     *store.Store
	globalEngine    *engine.Manager
	globalMetrics   *metrics.Metrics
	globalValidator *workbook.Validator
)

// initializeComponents wires the validator, backup store, refresh driver,
// history store and metrics into the engine.
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	globalValidator = workbook.NewValidator(appFs, logger)

	backups, err := backup.New(appFs, globalCfg.Backup.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize backup store: %w", err)
	}

	drv := driver.NewProcessDriver(globalCfg.Driver.Command, globalCfg.Driver.Args, logger)
	refresher := refresh.NewRefresher(drv, globalValidator, backups, logger)
	refresher.PollInterval = globalCfg.Driver.PollInterval
	refresher.Visible = globalCfg.Driver.Visible

	globalEngine = engine.NewManager(globalCfg, globalValidator, backups, refresher, logger)

	if dbPath := globalCfg.Store.DBPath; dbPath != "" {
		if dir := filepath.Dir(dbPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create store directory: %w", err)
			}
		}
		st, err := store.New(dbPath, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		globalStore = st
		globalEngine.SetHistory(st)
	}

	globalMetrics = metrics.New()
	globalEngine.SetMetrics(globalMetrics, globalCfg.Metrics.Textfile)

	logger.Debug("components initialized successfully")
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmd *cobra.Command) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
	}
	for c := cmd; c != nil; c = c.Parent() {
		if skipInitCmds[c.Name()] {
			return true
		}
	}
	return false
}

// closeGlobals closes the global store connection and the log file
func closeGlobals() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pqrefresh",
		Short: "Unattended refresh of spreadsheet data connections",
		Long: `pqrefresh keeps a configured list of spreadsheet workbooks up to date. It
verifies the workbooks exist, backs them up, opens each one through an
external refresh helper, refreshes every data connection, waits for the
refresh to finish and saves the result. Old backups are purged after a
retention window.`,
		Example: `  pqrefresh run
  pqrefresh verify
  pqrefresh refresh sales 2
  pqrefresh backup list --tree
  pqrefresh files add C:/reports/sales.xlsx
  pqrefresh serve --listen 127.0.0.1:8080`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				setupLogging("")
				return nil
			}

			var warnings []string
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if errors.Is(err, config.ErrNoConfig) {
					warnings = append(warnings, err.Error())
					cfgPath = "pqrefresh.yaml"
				}
			}

			var loadWarnings []string
			globalCfg, loadWarnings = config.LoadOrDefault(cfgPath)
			warnings = append(warnings, loadWarnings...)

			setupLogging(globalCfg.Log.Dir)
			for _, w := range warnings {
				logger.Warn(w)
			}
			logger.Debug("config loaded", "path", cfgPath, "files", len(globalCfg.Files))

			// Initialize components after config is loaded
			if !shouldSkipComponentInit(cmd) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeGlobals()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "only log errors")

	// Add subcommands
	cmd.AddCommand(
		newRunCmd(),
		newVerifyCmd(),
		newRefreshCmd(),
		newBackupCmd(),
		newFilesCmd(),
		newHistoryCmd(),
		newServeCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags. A non-empty
// logDir adds a daily log file next to stderr.
func setupLogging(logDir string) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet {
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	var fileErr error
	if logDir != "" {
		f, err := openDailyLog(logDir, time.Now())
		if err != nil {
			fileErr = err
		} else {
			if logFile != nil {
				logFile.Close()
			}
			logFile = f
			out = io.MultiWriter(os.Stderr, f)
		}
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevel}
	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)

	if fileErr != nil {
		logger.Warn("cannot open log file, logging to stderr only", "error", fileErr)
	}
}

// logFileName returns the daily log file name for t.
func logFileName(t time.Time) string {
	return "refresh_log_" + t.Format("20060102") + ".log"
}

func openDailyLog(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	path := filepath.Join(dir, logFileName(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// replaceLevel names the engine's critical level.
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= engine.LevelCritical {
		a.Value = slog.StringValue("CRITICAL")
	}
	return a
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":       true,
		"version":    true,
		"completion": true,
	}
	return skipConfigCmds[cmdName]
}

// requireEngine returns the engine or an error when components were not
// initialized.
func requireEngine() (*engine.Manager, error) {
	if globalCfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	if globalEngine == nil {
		return nil, fmt.Errorf("refresh engine not initialized")
	}
	return globalEngine, nil
}
