// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for gphotos-sync. Values follow a
// four-layer override chain: defaults -> config file -> environment -> CLI flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Remote  RemoteConfig  `toml:"remote"`
	Sync    SyncConfig    `toml:"sync"`
	Filter  FilterConfig  `toml:"filter"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// RemoteConfig identifies the OAuth2 application and the photo service
// endpoints. Everything here is deployment configuration, not code.
type RemoteConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	Scopes       []string `toml:"scopes"`
	RedirectPort int      `toml:"redirect_port"`
	APIURL       string   `toml:"api_url"`
	UploadURL    string   `toml:"upload_url"`
}

// SyncConfig controls the upload pipeline and the change watcher.
type SyncConfig struct {
	StateDir          string `toml:"state_dir"`
	BatchSize         int    `toml:"batch_size"`
	RefreshMargin     string `toml:"refresh_margin"`
	RestartBackoff    string `toml:"restart_backoff"`
	EventQueueSize    int    `toml:"event_queue_size"`
	ScanOnStart       bool   `toml:"scan_on_start"`
	RootCheckInterval string `toml:"root_check_interval"`
	SettleDelay       string `toml:"settle_delay"`
	BandwidthLimit    string `toml:"bandwidth_limit"`
}

// FilterConfig decides which files under the sync root are candidates.
// Include patterns are doublestar globs matched against the slash-separated
// path relative to the root.
type FilterConfig struct {
	Include      []string `toml:"include"`
	IgnoreFile   string   `toml:"ignore_file"`
	SkipDotfiles bool     `toml:"skip_dotfiles"`
	MaxFileSize  string   `toml:"max_file_size"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
	LogMaxSizeMB     int    `toml:"log_max_size_mb"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from an explicit zero value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	StateDir   *string // --state flag
}

// Durations returns the parsed duration fields of the sync section.
// Validate guarantees they parse, so errors here are programming mistakes
// and fall back to defaults.
func (s SyncConfig) Durations() (refreshMargin, restartBackoff, rootCheck, settle time.Duration) {
	return durationOr(s.RefreshMargin, defaultRefreshMargin),
		durationOr(s.RestartBackoff, defaultRestartBackoff),
		durationOr(s.RootCheckInterval, defaultRootCheckInterval),
		durationOr(s.SettleDelay, defaultSettleDelay)
}

// Timeouts returns the parsed connect and data timeouts.
func (n NetworkConfig) Timeouts() (connect, data time.Duration) {
	return durationOr(n.ConnectTimeout, defaultConnectTimeout),
		durationOr(n.DataTimeout, defaultDataTimeout)
}

func durationOr(s, fallback string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
