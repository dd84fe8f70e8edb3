package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/pqrefresh/internal/workbook"
)

var verifyStrict bool

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every configured workbook exists",
		Long: `Check every configured workbook. A workbook is valid when the file exists
and carries a spreadsheet extension (.xlsx, .xlsm, .xls). Invalid workbooks
are listed but do not stop other commands from running.`,
		Example: `  pqrefresh verify
  pqrefresh verify --strict`,
		Args: cobra.NoArgs,
		RunE: verifyRun,
	}

	cmd.Flags().BoolVar(&verifyStrict, "strict", false, "exit non-zero when any workbook is invalid")

	return cmd
}

func verifyRun(cmd *cobra.Command, args []string) error {
	eng, err := requireEngine()
	if err != nil {
		return err
	}

	v := eng.Verify()
	if v.TotalValid+v.TotalInvalid == 0 {
		fmt.Println("No workbooks configured.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Name", "Path", "Status")
	n := 0
	for _, f := range eng.Files() {
		n++
		status := "ok"
		if !containsFile(v.Valid, f) {
			status = "invalid"
		}
		if err := table.Append([]string{strconv.Itoa(n), f.Name, f.Path, status}); err != nil {
			return fmt.Errorf("building verify table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering verify table: %w", err)
	}

	fmt.Printf("\n%d valid, %d invalid\n", v.TotalValid, v.TotalInvalid)

	if verifyStrict && v.TotalInvalid > 0 {
		return fmt.Errorf("%d workbook(s) failed verification", v.TotalInvalid)
	}
	return nil
}

func containsFile(files []workbook.File, f workbook.File) bool {
	for _, c := range files {
		if c == f {
			return true
		}
	}
	return false
}
