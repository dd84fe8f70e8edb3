package workbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFileDerivesName(t *testing.T) {
	assert.Equal(t, File{Path: "/r/sales.xlsx", Name: "sales"}, NewFile("/r/sales.xlsx", ""))
	assert.Equal(t, File{Path: "/r/sales.xlsx", Name: "Q1 Sales"}, NewFile("/r/sales.xlsx", "Q1 Sales"))
	assert.Equal(t, "archive.2024", DisplayName("/r/archive.2024.xls"))
	assert.Equal(t, "noext", DisplayName("noext"))
}

func TestIsSpreadsheet(t *testing.T) {
	tests := map[string]bool{
		"report.xlsx":      true,
		"REPORT.XLSX":      true,
		"macro.XlSm":       true,
		"legacy.xls":       true,
		"model.pbix":       false,
		"notes.txt":        false,
		"xlsx":             false,
		"archive.xlsx.bak": false,
	}
	for path, want := range tests {
		assert.Equal(t, want, IsSpreadsheet(path), path)
	}
}
