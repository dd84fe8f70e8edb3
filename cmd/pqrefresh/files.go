package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/pqrefresh/internal/config"
	"github.com/BadgerOps/pqrefresh/internal/workbook"
)

var (
	filesAddName string
	filesScanAdd bool
)

func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage the list of workbooks to refresh",
		Long: `Manage the ordered list of workbooks kept in the config file. Changes are
written back to the config file immediately.`,
		Example: `  pqrefresh files list
  pqrefresh files add C:/reports/sales.xlsx --name sales
  pqrefresh files rename 1 "monthly sales"
  pqrefresh files remove sales
  pqrefresh files scan C:/reports --add`,
	}

	cmd.AddCommand(
		newFilesListCmd(),
		newFilesAddCmd(),
		newFilesRemoveCmd(),
		newFilesRenameCmd(),
		newFilesScanCmd(),
	)

	return cmd
}

func newFilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured workbooks",
		Args:  cobra.NoArgs,
		RunE:  filesListRun,
	}
}

func filesListRun(cmd *cobra.Command, args []string) error {
	eng, err := requireEngine()
	if err != nil {
		return err
	}

	files := eng.Files()
	if len(files) == 0 {
		fmt.Println("No workbooks configured.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Name", "Path", "Size", "Modified")
	for i, f := range files {
		size, modified := "-", "missing"
		if info, err := appFs.Stat(f.Path); err == nil {
			size = humanize.IBytes(uint64(info.Size()))
			modified = humanize.Time(info.ModTime())
		}
		if err := table.Append([]string{strconv.Itoa(i + 1), f.Name, f.Path, size, modified}); err != nil {
			return fmt.Errorf("building files table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering files table: %w", err)
	}
	return nil
}

func newFilesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add PATH",
		Short: "Add a workbook to the list",
		Long: `Add a workbook to the end of the list. The name defaults to the file name
without its extension. The file does not need to exist yet.`,
		Args: cobra.ExactArgs(1),
		RunE: filesAddRun,
	}

	cmd.Flags().StringVar(&filesAddName, "name", "", "display name (default: file name without extension)")

	return cmd
}

func filesAddRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving %s: %w", args[0], err)
	}
	if !workbook.IsSpreadsheet(path) {
		return fmt.Errorf("%s is not a spreadsheet (expected one of %v)", path, workbook.Extensions)
	}
	if configuredIndex(path) >= 0 {
		return fmt.Errorf("%s is already configured", path)
	}
	if globalValidator != nil && !globalValidator.Exists(path) {
		logger.Warn("workbook does not exist yet", "path", path)
	}

	globalCfg.AddFile(path, filesAddName)
	if err := globalCfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	f := workbook.NewFile(path, filesAddName)
	fmt.Printf("Added %s (%s)\n", f.Name, f.Path)
	return nil
}

func newFilesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove WORKBOOK",
		Short: "Remove a workbook from the list",
		Long:  `Remove a workbook selected by position, path or name. Its backups are kept.`,
		Args:  cobra.ExactArgs(1),
		RunE:  filesRemoveRun,
	}
}

func filesRemoveRun(cmd *cobra.Command, args []string) error {
	index, err := resolveIndex(args[0])
	if err != nil {
		return err
	}

	removed := globalCfg.Files[index]
	if err := globalCfg.RemoveFile(index); err != nil {
		return err
	}
	if err := globalCfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("Removed %s\n", removed.Path)
	return nil
}

func newFilesRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename WORKBOOK NAME",
		Short: "Change a workbook's display name",
		Long:  `Change the display name of a workbook. An empty name restores the default.`,
		Args:  cobra.ExactArgs(2),
		RunE:  filesRenameRun,
	}
}

func filesRenameRun(cmd *cobra.Command, args []string) error {
	index, err := resolveIndex(args[0])
	if err != nil {
		return err
	}

	entry := globalCfg.Files[index]
	entry.Name = args[1]
	if err := globalCfg.UpdateFile(index, entry); err != nil {
		return err
	}
	if err := globalCfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	f := workbook.NewFile(entry.Path, entry.Name)
	fmt.Printf("Renamed %s to %s\n", f.Path, f.Name)
	return nil
}

func newFilesScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan DIR",
		Short: "Find spreadsheets in a directory",
		Long: `List spreadsheet files directly inside DIR. With --add, every file not
already configured is appended to the list.`,
		Example: `  pqrefresh files scan C:/reports
  pqrefresh files scan ./reports --add`,
		Args: cobra.ExactArgs(1),
		RunE: filesScanRun,
	}

	cmd.Flags().BoolVar(&filesScanAdd, "add", false, "add discovered workbooks to the list")

	return cmd
}

func filesScanRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil || globalValidator == nil {
		return fmt.Errorf("refresh engine not initialized")
	}

	found, err := globalValidator.Discover(args[0])
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Printf("No spreadsheets found in %s\n", args[0])
		return nil
	}

	added := 0
	for _, path := range found {
		configured := configuredIndex(path) >= 0
		marker := " "
		switch {
		case configured:
			marker = "="
		case filesScanAdd:
			globalCfg.AddFile(path, "")
			added++
			marker = "+"
		}
		fmt.Printf("%s %s\n", marker, path)
	}

	if added > 0 {
		if err := globalCfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("\nAdded %d workbook(s)\n", added)
	}
	return nil
}

// resolveIndex maps a selector to its position in the configured file list.
func resolveIndex(sel string) (int, error) {
	eng, err := requireEngine()
	if err != nil {
		return -1, err
	}
	files, err := eng.SelectFiles([]string{sel})
	if err != nil {
		return -1, err
	}
	if i := configuredIndex(files[0].Path); i >= 0 {
		return i, nil
	}
	return -1, fmt.Errorf("no configured workbook matches %q", sel)
}

func configuredIndex(path string) int {
	return indexOf(globalCfg.Files, path)
}

func indexOf(entries []config.FileEntry, path string) int {
	for i, e := range entries {
		if filepath.Clean(e.Path) == filepath.Clean(path) {
			return i
		}
	}
	return -1
}
