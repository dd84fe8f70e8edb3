package driver

import "github.com/BadgerOps/pqrefresh/internal/workbook"

type alwaysValid struct{}

func (alwaysValid) Check(string) error { return nil }

type noBackup struct{}

func (noBackup) Backup(string, bool) (string, error) { return "", nil }

func refreshFile(path string) workbook.File { return workbook.NewFile(path, "") }
