package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	backupListTree bool
	backupDays     int
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and purge workbook backups",
		Long: `Manage timestamped workbook backups. Each workbook is copied into its own
directory under backup.dir as <YYYYMMDD_HHMMSS>_<file name>.`,
		Example: `  pqrefresh backup create
  pqrefresh backup list --tree
  pqrefresh backup cleanup --days 7`,
	}

	cmd.AddCommand(
		newBackupCreateCmd(),
		newBackupListCmd(),
		newBackupCleanupCmd(),
	)

	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [WORKBOOK...]",
		Short: "Back up selected workbooks",
		Long: `Back up the selected workbooks, or every configured workbook when none
are named. A workbook that does not exist counts as a failed backup.`,
		Example: `  pqrefresh backup create
  pqrefresh backup create sales 2`,
		RunE: backupCreateRun,
	}
}

func backupCreateRun(cmd *cobra.Command, args []string) error {
	eng, err := requireEngine()
	if err != nil {
		return err
	}

	files, err := eng.SelectFiles(args)
	if err != nil {
		return err
	}

	sum := eng.CreateBackups(files)
	for _, p := range sum.BackupPaths {
		fmt.Println(p)
	}
	fmt.Printf("\n%d backup(s) created, %d failed\n", sum.Success, sum.Failed)

	if sum.Failed > 0 {
		return fmt.Errorf("%d backup(s) failed", sum.Failed)
	}
	return nil
}

func newBackupListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Example: `  pqrefresh backup list
  pqrefresh backup list --tree`,
		Args: cobra.NoArgs,
		RunE: backupListRun,
	}

	cmd.Flags().BoolVar(&backupListTree, "tree", false, "summarize backups per workbook")

	return cmd
}

func backupListRun(cmd *cobra.Command, args []string) error {
	eng, err := requireEngine()
	if err != nil {
		return err
	}

	if backupListTree {
		groups, err := eng.BackupGroups()
		if err != nil {
			return fmt.Errorf("failed to list backups: %w", err)
		}
		if len(groups) == 0 {
			fmt.Println("No backups found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Workbook", "Backups", "Size", "Newest")
		for _, g := range groups {
			row := []string{
				g.Name,
				humanize.Comma(int64(g.Files)),
				humanize.IBytes(uint64(g.Size)),
				humanize.Time(g.Newest),
			}
			if err := table.Append(row); err != nil {
				return fmt.Errorf("building backup table: %w", err)
			}
		}
		if err := table.Render(); err != nil {
			return fmt.Errorf("rendering backup table: %w", err)
		}
		return nil
	}

	records, err := eng.ListBackups()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No backups found.")
		return nil
	}

	var total int64
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Backup", "Workbook", "Size", "Modified")
	for _, rec := range records {
		total += rec.Size
		row := []string{
			rec.Name,
			rec.Group,
			humanize.IBytes(uint64(rec.Size)),
			humanize.Time(rec.ModTime),
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("building backup table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering backup table: %w", err)
	}

	fmt.Printf("\n%d backup(s), %s\n", len(records), humanize.IBytes(uint64(total)))
	return nil
}

func newBackupCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete backups older than the retention window",
		Long: `Delete backups last modified more than --days days ago. Without --days the
configured backup.retention_days is used. --days 0 deletes every backup.`,
		Example: `  pqrefresh backup cleanup
  pqrefresh backup cleanup --days 7`,
		Args: cobra.NoArgs,
		RunE: backupCleanupRun,
	}

	cmd.Flags().IntVar(&backupDays, "days", -1, "retention in days (default: backup.retention_days)")

	return cmd
}

func backupCleanupRun(cmd *cobra.Command, args []string) error {
	eng, err := requireEngine()
	if err != nil {
		return err
	}

	days := eng.RetentionDays()
	if cmd != nil && cmd.Flags().Changed("days") {
		if backupDays < 0 {
			return fmt.Errorf("--days must not be negative, got %d", backupDays)
		}
		days = backupDays
	}

	deleted := eng.CleanupBackups(days)
	fmt.Printf("Deleted %d backup(s) older than %d day(s)\n", deleted, days)
	return nil
}
