package backup

import "time"

// RootGroup tags backups stored directly in the backup root rather than in
// a per-workbook subdirectory.
const RootGroup = "root"

// TimestampLayout prefixes backup file names. It has one-second
// resolution, so two backups of one workbook within the same second share
// a name and the later one replaces the earlier.
const TimestampLayout = "20060102_150405"

// Record describes one backup file on disk. Records are computed from a
// directory listing; nothing else stores them.
type Record struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size_bytes"`
	ModTime time.Time `json:"modified_at"`
	Group   string    `json:"source_group"`
}

// Group summarizes the backups held for one workbook.
type Group struct {
	Name   string    `json:"name"`
	Files  int       `json:"files"`
	Size   int64     `json:"size_bytes"`
	Newest time.Time `json:"newest"`
}
