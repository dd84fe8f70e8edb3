package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// setters maps dot-notation keys to typed assignments.
var setters = map[string]func(c *Config, v string) error{
	"settings.auto_save":               boolSetter(func(c *Config) *bool { return &c.Settings.AutoSave }),
	"settings.backup_before_refresh":   boolSetter(func(c *Config) *bool { return &c.Settings.BackupBeforeRefresh }),
	"settings.log_refresh_activity":    boolSetter(func(c *Config) *bool { return &c.Settings.LogRefreshActivity }),
	"settings.refresh_timeout_minutes": positiveIntSetter(func(c *Config) *int { return &c.Settings.RefreshTimeoutMinutes }),
	"backup.dir":                       stringSetter(func(c *Config) *string { return &c.Backup.Dir }),
	"backup.retention_days":            positiveIntSetter(func(c *Config) *int { return &c.Backup.RetentionDays }),
	"log.dir":                          stringSetter(func(c *Config) *string { return &c.Log.Dir }),
	"store.db_path":                    stringSetter(func(c *Config) *string { return &c.Store.DBPath }),
	"driver.command":                   stringSetter(func(c *Config) *string { return &c.Driver.Command }),
	"driver.visible":                   boolSetter(func(c *Config) *bool { return &c.Driver.Visible }),
	"driver.poll_interval": func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		if d <= 0 {
			return fmt.Errorf("duration must be positive: %s", v)
		}
		c.Driver.PollInterval = d
		return nil
	},
	"metrics.textfile": stringSetter(func(c *Config) *string { return &c.Metrics.Textfile }),
	"server.listen":    stringSetter(func(c *Config) *string { return &c.Server.Listen }),
}

// SetValue assigns value to the setting named by a dot-notation key,
// e.g. "settings.refresh_timeout_minutes". The config is not saved.
func (c *Config) SetValue(key, value string) error {
	set, ok := setters[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	if err := set(c, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys accepted by SetValue.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*field(c) = b
		return nil
	}
}

func positiveIntSetter(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		if n <= 0 {
			return fmt.Errorf("value must be positive: %d", n)
		}
		*field(c) = n
		return nil
	}
}

func stringSetter(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}
