package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/pqrefresh/internal/store"
)

var (
	historyLimit   int
	historyBackups bool
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [RUN-ID]",
		Short: "Show recorded refresh runs",
		Long: `Show recorded refresh runs, newest first, or the per-workbook results of a
single run. History is kept in store.db_path while
settings.log_refresh_activity is true.`,
		Example: `  pqrefresh history
  pqrefresh history --limit 5
  pqrefresh history 3f0c2a4e-6d0b-4c55-9a57-0b1d2b8f1c11
  pqrefresh history --backups`,
		Args: cobra.MaximumNArgs(1),
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries to show (0 for all)")
	cmd.Flags().BoolVar(&historyBackups, "backups", false, "show recorded backups instead of runs")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	eng, err := requireEngine()
	if err != nil {
		return err
	}
	if globalStore == nil {
		return fmt.Errorf("history is disabled (store.db_path is empty)")
	}
	if historyLimit < 0 {
		return fmt.Errorf("--limit must not be negative, got %d", historyLimit)
	}

	if historyBackups {
		events, err := eng.BackupHistory(historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list backup history: %w", err)
		}
		return printBackupEvents(events)
	}

	if len(args) == 1 {
		run, results, err := eng.RunDetail(args[0])
		if err != nil {
			return fmt.Errorf("failed to load run: %w", err)
		}
		return printRunDetail(run, results)
	}

	runs, err := eng.History(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Run", "Kind", "Started", "Duration", "Success", "Failed", "Status")
	for _, r := range runs {
		row := []string{
			r.ID,
			r.Kind,
			humanize.Time(r.StartTime),
			runDuration(r),
			humanize.Comma(int64(r.Success)),
			humanize.Comma(int64(r.Failed)),
			r.Status,
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("building history table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering history table: %w", err)
	}
	return nil
}

func printRunDetail(run *store.Run, results []store.FileResult) error {
	fmt.Printf("Run:      %s (%s)\n", run.ID, run.Kind)
	fmt.Printf("Started:  %s\n", run.StartTime.Format(time.DateTime))
	fmt.Printf("Duration: %s\n", runDuration(*run))
	fmt.Printf("Status:   %s (%d succeeded, %d failed, %d total)\n", run.Status, run.Success, run.Failed, run.Total)
	if run.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", run.ErrorMessage)
	}
	fmt.Println("")

	if len(results) == 0 {
		fmt.Println("No workbook results recorded.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Workbook", "Result", "Step", "Connections", "Duration", "Error")
	for _, res := range results {
		result := "ok"
		if !res.Success {
			result = "FAILED"
		}
		row := []string{
			res.Name,
			result,
			res.Step,
			humanize.Comma(int64(res.Connections)),
			res.Duration.Round(time.Millisecond).String(),
			res.Error,
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("building run table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering run table: %w", err)
	}
	return nil
}

func printBackupEvents(events []store.BackupEvent) error {
	if len(events) == 0 {
		fmt.Println("No backups recorded.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Source", "Backup", "Size", "Checksum", "Created")
	for _, ev := range events {
		row := []string{
			ev.Source,
			ev.BackupPath,
			humanize.IBytes(uint64(ev.Size)),
			ev.Checksum,
			humanize.Time(ev.CreatedAt),
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("building backup history table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering backup history table: %w", err)
	}
	return nil
}

func runDuration(r store.Run) string {
	if r.EndTime.IsZero() {
		return "running"
	}
	return r.EndTime.Sub(r.StartTime).Round(time.Second).String()
}
