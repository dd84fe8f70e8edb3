// Package backup keeps timestamped copies of workbooks under a backup root,
// one subdirectory per workbook, and purges copies past a retention window.
package backup

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/BadgerOps/pqrefresh/internal/safety"
)

// Store manages the backup root. The filesystem is the only source of
// truth; Store keeps no index.
type Store struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger

	// Now supplies the wall clock for backup names and purge cutoffs.
	Now func() time.Time
}

// New creates a Store rooted at root, creating the directory if missing.
func New(fs afero.Fs, root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup root %s: %w", root, err)
	}
	return &Store{
		fs:     fs,
		root:   root,
		logger: logger,
		Now:    time.Now,
	}, nil
}

// Root returns the backup root directory.
func (s *Store) Root() string {
	return s.root
}

// GroupName returns the backup group for a source path: its base name
// without extension.
func GroupName(src string) string {
	base := filepath.Base(src)
	if name := strings.TrimSuffix(base, filepath.Ext(base)); name != "" {
		return name
	}
	return base
}

// Backup copies src into its group directory as
// <YYYYMMDD_HHMMSS>_<base name>, keeping the source modification time.
//
// It returns "" with a nil error when enabled is false or src does not
// exist. Copy failures are logged and returned; callers treat them as a
// skipped backup rather than a reason to stop.
func (s *Store) Backup(src string, enabled bool) (string, error) {
	if !enabled {
		return "", nil
	}

	info, err := s.fs.Stat(src)
	if err != nil || !info.Mode().IsRegular() {
		s.logger.Debug("backup skipped, source not found", "path", src)
		return "", nil
	}

	dir, err := safety.JoinUnder(s.root, GroupName(src))
	if err != nil {
		s.logger.Error("backup failed", "path", src, "error", err)
		return "", fmt.Errorf("resolving backup group for %s: %w", src, err)
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		s.logger.Error("backup failed", "path", src, "error", err)
		return "", fmt.Errorf("creating backup group %s: %w", dir, err)
	}

	dst := filepath.Join(dir, s.Now().Format(TimestampLayout)+"_"+filepath.Base(src))
	if exists, _ := afero.Exists(s.fs, dst); exists {
		s.logger.Warn("backup name already taken this second, overwriting", "backup", dst)
	}

	if err := s.copyFile(src, dst, info); err != nil {
		_ = s.fs.Remove(dst)
		s.logger.Error("backup failed", "path", src, "backup", dst, "error", err)
		return "", fmt.Errorf("backing up %s: %w", src, err)
	}

	s.logger.Info("backup created", "path", src, "backup", dst, "size", info.Size())
	return dst, nil
}

func (s *Store) copyFile(src, dst string, info os.FileInfo) error {
	in, err := s.fs.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	out, err := s.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating backup file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying data: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing backup file: %w", err)
	}
	if err := s.fs.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("preserving modification time: %w", err)
	}
	return nil
}

// List returns every backup one level deep under the root, newest first.
// Loose files in the root belong to RootGroup. Equal modification times
// keep directory listing order.
func (s *Store) List() ([]Record, error) {
	records := []Record{}

	exists, err := afero.DirExists(s.fs, s.root)
	if err != nil {
		return nil, fmt.Errorf("checking backup root: %w", err)
	}
	if !exists {
		return records, nil
	}

	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, fmt.Errorf("reading backup root: %w", err)
	}

	for _, entry := range entries {
		entryPath := filepath.Join(s.root, entry.Name())

		if entry.Mode().IsRegular() {
			records = append(records, newRecord(entryPath, entry, RootGroup))
			continue
		}
		if !entry.IsDir() {
			continue
		}

		children, err := afero.ReadDir(s.fs, entryPath)
		if err != nil {
			s.logger.Warn("skipping unreadable backup group", "group", entry.Name(), "error", err)
			continue
		}
		for _, child := range children {
			if child.Mode().IsRegular() {
				records = append(records, newRecord(filepath.Join(entryPath, child.Name()), child, entry.Name()))
			}
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ModTime.After(records[j].ModTime)
	})
	return records, nil
}

func newRecord(path string, info os.FileInfo, group string) Record {
	return Record{
		Name:    info.Name(),
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Group:   group,
	}
}

// Stat describes one backup file. path must lie under the root.
func (s *Store) Stat(path string) (Record, error) {
	clean, err := safety.EnsureUnderRoot(s.root, path)
	if err != nil {
		return Record{}, err
	}
	info, err := s.fs.Stat(clean)
	if err != nil {
		return Record{}, fmt.Errorf("stat backup %s: %w", clean, err)
	}

	group := RootGroup
	if parent := filepath.Dir(clean); filepath.Clean(parent) != filepath.Clean(s.root) {
		group = filepath.Base(parent)
	}
	return newRecord(clean, info, group), nil
}

// Purge deletes backups modified strictly before now minus days and
// returns how many files were removed. A group directory left empty is
// removed too; that removal is best effort and not counted. Individual
// failures are logged and skipped.
func (s *Store) Purge(days int) int {
	if days < 0 {
		s.logger.Warn("refusing to purge with negative retention", "days", days)
		return 0
	}

	cutoff := s.Now().Add(-time.Duration(days) * 24 * time.Hour)

	records, err := s.List()
	if err != nil {
		s.logger.Error("cannot list backups for purge", "error", err)
		return 0
	}

	deleted := 0
	for _, rec := range records {
		if !rec.ModTime.Before(cutoff) {
			continue
		}

		if err := s.fs.Remove(rec.Path); err != nil {
			s.logger.Warn("failed to delete backup", "backup", rec.Name, "error", err)
			continue
		}
		deleted++
		s.logger.Debug("deleted backup", "backup", rec.Path, "modified", rec.ModTime)

		if rec.Group == RootGroup {
			continue
		}
		dir := filepath.Dir(rec.Path)
		if empty, err := afero.IsEmpty(s.fs, dir); err == nil && empty {
			if err := s.fs.Remove(dir); err != nil {
				s.logger.Debug("could not remove empty backup group", "group", rec.Group, "error", err)
			}
		}
	}

	s.logger.Info("purged old backups", "days", days, "deleted", deleted)
	return deleted
}

// Groups summarizes backups per group, sorted by group name.
func (s *Store) Groups() ([]Group, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}

	byName := map[string]*Group{}
	for _, rec := range records {
		g, ok := byName[rec.Group]
		if !ok {
			g = &Group{Name: rec.Group}
			byName[rec.Group] = g
		}
		g.Files++
		g.Size += rec.Size
		if rec.ModTime.After(g.Newest) {
			g.Newest = rec.ModTime
		}
	}

	groups := make([]Group, 0, len(byName))
	for _, g := range byName {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// Checksum returns the xxhash64 digest of a file as lower-case hex.
func (s *Store) Checksum(path string) (string, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}
