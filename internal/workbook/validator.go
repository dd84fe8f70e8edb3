package workbook

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/h2non/filetype"
	"github.com/spf13/afero"
)

var (
	// ErrNotFound means the path does not name an existing regular file.
	ErrNotFound = errors.New("file not found")
	// ErrNotSpreadsheet means the extension is not a recognized spreadsheet type.
	ErrNotSpreadsheet = errors.New("not a spreadsheet file")
)

// sniffHeaderSize is how much of a file is read for content detection.
const sniffHeaderSize = 8192

// Verification partitions a file list into valid and invalid entries.
// Both lists keep the relative input order.
type Verification struct {
	Valid        []File `json:"valid"`
	Invalid      []File `json:"invalid"`
	TotalValid   int    `json:"total_valid"`
	TotalInvalid int    `json:"total_invalid"`
}

// Validator checks candidate files against the filesystem.
type Validator struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewValidator creates a Validator over fs.
func NewValidator(fs afero.Fs, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{fs: fs, logger: logger}
}

// Exists reports whether path is an existing regular file.
func (v *Validator) Exists(path string) bool {
	info, err := v.fs.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// Check returns nil when path exists and has a spreadsheet extension.
func (v *Validator) Check(path string) error {
	if !v.Exists(path) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if !IsSpreadsheet(path) {
		return fmt.Errorf("%w: %s", ErrNotSpreadsheet, path)
	}
	return nil
}

// Classify splits files into valid and invalid. It never fails: a missing
// or wrong-type file is simply invalid. Results are not cached.
func (v *Validator) Classify(files []File) Verification {
	result := Verification{
		Valid:   []File{},
		Invalid: []File{},
	}

	for _, f := range files {
		if err := v.Check(f.Path); err != nil {
			result.Invalid = append(result.Invalid, f)
			v.logger.Error("invalid workbook", "file", f.Name, "path", f.Path, "error", err)
			continue
		}

		result.Valid = append(result.Valid, f)
		v.logger.Info("workbook ok", "file", f.Name, "path", f.Path)

		if mime, err := v.Sniff(f.Path); err == nil && mime != "" && mime != "application" {
			v.logger.Warn("workbook content does not look like a spreadsheet",
				"file", f.Name, "path", f.Path, "detected", mime)
		}
	}

	result.TotalValid = len(result.Valid)
	result.TotalInvalid = len(result.Invalid)

	v.logger.Info("verification finished", "valid", result.TotalValid, "invalid", result.TotalInvalid)
	return result
}

// Sniff detects the top-level MIME type of path from its header bytes.
// It returns "" when the content is not recognized.
func (v *Validator) Sniff(path string) (string, error) {
	f, err := v.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, sniffHeaderSize)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading header of %s: %w", path, err)
	}

	kind, err := filetype.Match(head[:n])
	if err != nil {
		return "", fmt.Errorf("detecting type of %s: %w", path, err)
	}
	if kind == filetype.Unknown {
		return "", nil
	}
	return kind.MIME.Type, nil
}

// Discover lists spreadsheet files directly inside dir as absolute paths,
// sorted. A missing dir yields an empty list.
func (v *Validator) Discover(dir string) ([]string, error) {
	exists, err := afero.DirExists(v.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", dir, err)
	}
	if !exists {
		return []string{}, nil
	}

	entries, err := afero.ReadDir(v.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	found := []string{}
	for _, e := range entries {
		if !e.Mode().IsRegular() || !IsSpreadsheet(e.Name()) {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", e.Name(), err)
		}
		found = append(found, abs)
	}
	sort.Strings(found)
	return found, nil
}
