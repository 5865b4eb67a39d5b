package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Validation range constants.
const (
	minBatchSize         = 1
	maxBatchSize         = 50
	minEventQueueSize    = 1
	maxEventQueueSize    = 1024
	minRestartBackoff    = 1 * time.Second
	minRootCheckInterval = 1 * time.Second
	minLogRetention      = 1
	minLogMaxSizeMB      = 1
	minConnectTimeout    = 1 * time.Second
	minDataTimeout       = 5 * time.Second
	maxRedirectPort      = 65535
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateFilter(&cfg.Filter)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after the
// override chain (defaults -> file -> env -> CLI) has been applied.
func ValidateResolved(cfg *Config) error {
	var errs []error

	if cfg.Sync.StateDir == "" {
		errs = append(errs, errors.New("state_dir: could not determine a state directory"))
	} else if !filepath.IsAbs(cfg.Sync.StateDir) {
		errs = append(errs, fmt.Errorf("state_dir: must be absolute, got %q", cfg.Sync.StateDir))
	}

	return errors.Join(errs...)
}

// RequireClient checks that an OAuth2 client is configured. It is separate
// from Validate because commands like status work without one.
func RequireClient(r *RemoteConfig) error {
	if r.ClientID == "" {
		return fmt.Errorf("client_id: not configured; set [remote] client_id or %s", EnvClientID)
	}

	return nil
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	for _, f := range []struct{ name, value string }{
		{"auth_url", r.AuthURL},
		{"token_url", r.TokenURL},
		{"api_url", r.APIURL},
		{"upload_url", r.UploadURL},
	} {
		errs = append(errs, validateURL(f.name, f.value)...)
	}

	if len(r.Scopes) == 0 {
		errs = append(errs, errors.New("scopes: must list at least one scope"))
	}

	if r.RedirectPort < 0 || r.RedirectPort > maxRedirectPort {
		errs = append(errs, fmt.Errorf("redirect_port: must be between 0 and %d, got %d",
			maxRedirectPort, r.RedirectPort))
	}

	return errs
}

func validateURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, value, err)}
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return []error{fmt.Errorf("%s: must be an http(s) URL, got %q", field, value)}
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.BatchSize < minBatchSize || s.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("batch_size: must be between %d and %d, got %d",
			minBatchSize, maxBatchSize, s.BatchSize))
	}

	if s.EventQueueSize < minEventQueueSize || s.EventQueueSize > maxEventQueueSize {
		errs = append(errs, fmt.Errorf("event_queue_size: must be between %d and %d, got %d",
			minEventQueueSize, maxEventQueueSize, s.EventQueueSize))
	}

	if s.StateDir != "" && !filepath.IsAbs(s.StateDir) {
		errs = append(errs, fmt.Errorf("state_dir: must be absolute, got %q", s.StateDir))
	}

	errs = append(errs, validateDurationNonNeg("refresh_margin", s.RefreshMargin)...)
	errs = append(errs, validateDurationMin("restart_backoff", s.RestartBackoff, minRestartBackoff)...)
	errs = append(errs, validateDurationMin("root_check_interval", s.RootCheckInterval, minRootCheckInterval)...)
	errs = append(errs, validateDurationNonNeg("settle_delay", s.SettleDelay)...)

	if _, err := ParseSize(strings.TrimSuffix(s.BandwidthLimit, "/s")); err != nil {
		errs = append(errs, fmt.Errorf("bandwidth_limit: %w", err))
	}

	return errs
}

func validateFilter(f *FilterConfig) []error {
	var errs []error

	if len(f.Include) == 0 {
		errs = append(errs, errors.New("include: must list at least one pattern"))
	}

	for _, p := range f.Include {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("include: invalid pattern %q", p))
		}
	}

	if strings.ContainsRune(f.IgnoreFile, filepath.Separator) {
		errs = append(errs, fmt.Errorf("ignore_file: must be a file name, got %q", f.IgnoreFile))
	}

	if _, err := ParseSize(f.MaxFileSize); err != nil {
		errs = append(errs, fmt.Errorf("max_file_size: %w", err))
	}

	return errs
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	return validateDurationMin(field, value, 0)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	if l.LogMaxSizeMB < minLogMaxSizeMB {
		errs = append(errs, fmt.Errorf("log_max_size_mb: must be >= %d, got %d",
			minLogMaxSizeMB, l.LogMaxSizeMB))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	if n.UserAgent == "" {
		errs = append(errs, errors.New("user_agent: must not be empty"))
	}

	return errs
}
