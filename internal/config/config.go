package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned by FindConfigFile when no candidate path exists.
var ErrNoConfig = errors.New("no config file found")

// ErrUnreadableConfig is returned by Save when the file at the config path
// exists but could not be loaded, so writing defaults would discard it.
var ErrUnreadableConfig = errors.New("existing config file could not be loaded")

// Config is the top-level configuration
type Config struct {
	Files    []FileEntry   `yaml:"files"`
	Settings Settings      `yaml:"settings"`
	Backup   BackupConfig  `yaml:"backup"`
	Log      LogConfig     `yaml:"log"`
	Store    StoreConfig   `yaml:"store"`
	Driver   DriverConfig  `yaml:"driver"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Server   ServerConfig  `yaml:"server"`

	// path is where the config was loaded from and where Save writes.
	path string
	// loadErr is set when path exists but failed to load; Save refuses to
	// overwrite it while set.
	loadErr error
}

// FileEntry is one configured workbook.
type FileEntry struct {
	Path string `yaml:"path"`
	Name string `yaml:"name,omitempty"`
}

// Settings holds the refresh behavior toggles.
type Settings struct {
	AutoSave              bool `yaml:"auto_save"`
	BackupBeforeRefresh   bool `yaml:"backup_before_refresh"`
	LogRefreshActivity    bool `yaml:"log_refresh_activity"`
	RefreshTimeoutMinutes int  `yaml:"refresh_timeout_minutes"`
}

// BackupConfig holds backup root and retention settings
type BackupConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// LogConfig holds the log file directory
type LogConfig struct {
	Dir string `yaml:"dir"`
}

// StoreConfig holds history database settings
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// DriverConfig describes the external refresh helper.
type DriverConfig struct {
	Command      string        `yaml:"command"`
	Args         []string      `yaml:"args"`
	Visible      bool          `yaml:"visible"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// MetricsConfig holds metrics export settings
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// ServerConfig holds HTTP shell settings
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

const (
	DefaultTimeoutMinutes = 30
	DefaultRetentionDays  = 30
	DefaultBackupDir      = "data/backups"
	DefaultLogDir         = "logs"
	DefaultPollInterval   = time.Second
)

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Files: []FileEntry{},
		Settings: Settings{
			AutoSave:              true,
			BackupBeforeRefresh:   true,
			LogRefreshActivity:    true,
			RefreshTimeoutMinutes: DefaultTimeoutMinutes,
		},
		Backup: BackupConfig{
			Dir:           DefaultBackupDir,
			RetentionDays: DefaultRetentionDays,
		},
		Log: LogConfig{
			Dir: DefaultLogDir,
		},
		Store: StoreConfig{
			DBPath: "data/pqrefresh.db",
		},
		Driver: DriverConfig{
			PollInterval: DefaultPollInterval,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.path = path

	return cfg, nil
}

// LoadOrDefault loads path and falls back to defaults when the file is
// missing or malformed. The returned warnings describe every fallback and
// repair; they are never fatal.
func LoadOrDefault(path string) (*Config, []string) {
	var warnings []string

	cfg, err := Load(path)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("using default configuration: %v", err))
		cfg = DefaultConfig()
		cfg.path = path
		if _, statErr := os.Stat(path); statErr == nil {
			cfg.loadErr = err
		}
	}

	warnings = append(warnings, cfg.Normalize()...)
	return cfg, warnings
}

// Normalize repairs out-of-range values in place and reports each repair.
func (c *Config) Normalize() []string {
	var warnings []string

	if c.Settings.RefreshTimeoutMinutes <= 0 {
		warnings = append(warnings, fmt.Sprintf("settings.refresh_timeout_minutes=%d is not positive, using %d",
			c.Settings.RefreshTimeoutMinutes, DefaultTimeoutMinutes))
		c.Settings.RefreshTimeoutMinutes = DefaultTimeoutMinutes
	}
	if c.Backup.RetentionDays <= 0 {
		warnings = append(warnings, fmt.Sprintf("backup.retention_days=%d is not positive, using %d",
			c.Backup.RetentionDays, DefaultRetentionDays))
		c.Backup.RetentionDays = DefaultRetentionDays
	}
	if strings.TrimSpace(c.Backup.Dir) == "" {
		warnings = append(warnings, "backup.dir is empty, using "+DefaultBackupDir)
		c.Backup.Dir = DefaultBackupDir
	}
	if strings.TrimSpace(c.Log.Dir) == "" {
		warnings = append(warnings, "log.dir is empty, using "+DefaultLogDir)
		c.Log.Dir = DefaultLogDir
	}
	if c.Driver.PollInterval <= 0 {
		c.Driver.PollInterval = DefaultPollInterval
	}

	kept := make([]FileEntry, 0, len(c.Files))
	for i, f := range c.Files {
		if strings.TrimSpace(f.Path) == "" {
			warnings = append(warnings, fmt.Sprintf("files[%d] has no path, ignoring it", i))
			continue
		}
		kept = append(kept, f)
	}
	c.Files = kept

	return warnings
}

// Path returns the file the config was loaded from, or will be saved to.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes the file Save writes to. Moving to a different path
// lifts the guard on an unreadable original.
func (c *Config) SetPath(path string) {
	if path != c.path {
		c.loadErr = nil
	}
	c.path = path
}

// Save writes the config back to its path.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no path to save to")
	}
	if c.loadErr != nil {
		return fmt.Errorf("refusing to overwrite %s (%v), fix or move it first: %w", c.path, c.loadErr, ErrUnreadableConfig)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".pqrefresh-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"pqrefresh.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "pqrefresh", "pqrefresh.yaml"),
		)
	}
	searchPaths = append(searchPaths, "/etc/pqrefresh/pqrefresh.yaml")

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, searchPaths)
}

// AddFile appends a workbook to the file list.
func (c *Config) AddFile(path, name string) {
	c.Files = append(c.Files, FileEntry{Path: path, Name: name})
}

// UpdateFile replaces the entry at index.
func (c *Config) UpdateFile(index int, entry FileEntry) error {
	if index < 0 || index >= len(c.Files) {
		return fmt.Errorf("file index %d out of range (have %d files)", index, len(c.Files))
	}
	c.Files[index] = entry
	return nil
}

// RemoveFile deletes the entry at index.
func (c *Config) RemoveFile(index int) error {
	if index < 0 || index >= len(c.Files) {
		return fmt.Errorf("file index %d out of range (have %d files)", index, len(c.Files))
	}
	c.Files = append(c.Files[:index], c.Files[index+1:]...)
	return nil
}
