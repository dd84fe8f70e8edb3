package refresh

// DefaultTimeoutMinutes bounds the wait for connections when settings
// carry no usable timeout.
const DefaultTimeoutMinutes = 30

// Settings is the immutable snapshot a batch runs with.
type Settings struct {
	AutoSave              bool `json:"auto_save"`
	BackupBeforeRefresh   bool `json:"backup_before_refresh"`
	LogRefreshActivity    bool `json:"log_refresh_activity"`
	RefreshTimeoutMinutes int  `json:"refresh_timeout_minutes"`
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		AutoSave:              true,
		BackupBeforeRefresh:   true,
		LogRefreshActivity:    true,
		RefreshTimeoutMinutes: DefaultTimeoutMinutes,
	}
}

func (s Settings) timeoutMinutes() int {
	if s.RefreshTimeoutMinutes <= 0 {
		return DefaultTimeoutMinutes
	}
	return s.RefreshTimeoutMinutes
}
