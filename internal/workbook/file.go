// Package workbook identifies the spreadsheet files a batch operates on and
// classifies them before any backup or refresh is attempted.
package workbook

import (
	"path/filepath"
	"strings"
)

// File describes one configured workbook. Path is its identity.
type File struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// NewFile builds a File, deriving the display name from path when name is
// blank.
func NewFile(path, name string) File {
	if strings.TrimSpace(name) == "" {
		name = DisplayName(path)
	}
	return File{Path: path, Name: name}
}

// DisplayName returns the base name of path without its extension.
func DisplayName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Extensions are the recognized spreadsheet extensions, lower case.
var Extensions = []string{".xlsx", ".xlsm", ".xls"}

// IsSpreadsheet reports whether path carries a recognized spreadsheet
// extension. The comparison is case-insensitive.
func IsSpreadsheet(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
