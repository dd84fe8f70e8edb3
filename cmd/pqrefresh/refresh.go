package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/pqrefresh/internal/refresh"
)

func newRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh [WORKBOOK...]",
		Short: "Refresh selected workbooks",
		Long: `Refresh the data connections of the selected workbooks one at a time.
Workbooks are selected by 1-based position in the file list, by path or by
name. Without arguments every configured workbook is refreshed.

Interrupting the command lets the current workbook finish and skips the
rest.`,
		Example: `  pqrefresh refresh
  pqrefresh refresh sales
  pqrefresh refresh 1 3`,
		RunE: refreshRun,
	}

	return cmd
}

func refreshRun(cmd *cobra.Command, args []string) error {
	eng, err := requireEngine()
	if err != nil {
		return err
	}

	files, err := eng.SelectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No workbooks configured.")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := eng.RefreshBatch(ctx, files)
	if err != nil {
		return err
	}

	if err := printBatch(res); err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d workbook(s) failed to refresh", res.Failed, res.Total)
	}
	return nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Verify, back up, purge and refresh every workbook",
		Long: `Run the full unattended sequence once: verify the configured workbooks,
back up the valid ones, delete backups older than backup.retention_days and
refresh every configured workbook. Intended for a scheduler such as cron or
Task Scheduler; nothing is retried.`,
		Example: `  pqrefresh run
  pqrefresh run --config /etc/pqrefresh/pqrefresh.yaml`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	eng, err := requireEngine()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := eng.RunAuto(ctx)
	if err != nil {
		return err
	}

	if summary.RunID != "" {
		fmt.Printf("Run %s\n", summary.RunID)
	}
	fmt.Printf("Verified: %d valid, %d invalid\n", summary.Valid, summary.Invalid)
	fmt.Printf("Backups:  %d created, %d failed\n", summary.Backups.Success, summary.Backups.Failed)
	fmt.Printf("Purged:   %d old backup(s)\n", summary.Purged)
	fmt.Println("")
	if err := printBatch(summary.Batch); err != nil {
		return err
	}

	if summary.Batch.Failed > 0 {
		return fmt.Errorf("%d of %d workbook(s) failed to refresh", summary.Batch.Failed, summary.Batch.Total)
	}
	return nil
}

// printBatch prints one row per workbook followed by the totals.
func printBatch(res refresh.BatchResult) error {
	if res.Total == 0 {
		fmt.Println("No workbooks refreshed.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Workbook", "Result", "Step", "Connections", "Duration", "Error")
	for _, out := range res.Files {
		result := "ok"
		if !out.Success {
			result = "FAILED"
		}
		row := []string{
			out.File.Name,
			result,
			string(out.Step),
			humanize.Comma(int64(out.Connections)),
			out.Duration.Round(time.Millisecond).String(),
			out.Error,
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("building refresh table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering refresh table: %w", err)
	}

	fmt.Printf("\n%d succeeded, %d failed, %d total\n", res.Success, res.Failed, res.Total)
	return nil
}
