package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[remote]
client_id = "abc.apps.example.com"
client_secret = "secret"
scopes = ["scope-a", "scope-b"]
redirect_port = 3000

[sync]
state_dir = "/var/lib/gphotos"
batch_size = 20
refresh_margin = "2m"
restart_backoff = "30s"
event_queue_size = 8
scan_on_start = false
root_check_interval = "1m"
settle_delay = "5s"
bandwidth_limit = "5MB/s"

[filter]
include = ["**/*.jpg"]
ignore_file = ".noupload"
skip_dotfiles = false
max_file_size = "2GiB"

[logging]
log_level = "debug"
log_file = "/tmp/gphotos.log"
log_format = "json"
log_retention_days = 7
log_max_size_mb = 10

[network]
connect_timeout = "5s"
data_timeout = "30s"
user_agent = "custom/1.0"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "abc.apps.example.com", cfg.Remote.ClientID)
	assert.Equal(t, []string{"scope-a", "scope-b"}, cfg.Remote.Scopes)
	assert.Equal(t, 3000, cfg.Remote.RedirectPort)
	assert.Equal(t, defaultAPIURL, cfg.Remote.APIURL, "unset keys keep defaults")
	assert.Equal(t, 20, cfg.Sync.BatchSize)
	assert.Equal(t, 8, cfg.Sync.EventQueueSize)
	assert.False(t, cfg.Sync.ScanOnStart)
	assert.Equal(t, "5s", cfg.Sync.SettleDelay)
	assert.Equal(t, "5MB/s", cfg.Sync.BandwidthLimit)
	assert.Equal(t, []string{"**/*.jpg"}, cfg.Filter.Include)
	assert.Equal(t, ".noupload", cfg.Filter.IgnoreFile)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, "custom/1.0", cfg.Network.UserAgent)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[sync\nbatch_size = ")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
batch_size = 51

[logging]
log_level = "verbose"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Precedence(t *testing.T) {
	path := writeTestConfig(t, `
[remote]
client_id = "from-file"

[sync]
state_dir = "/from/file"
`)

	cfg, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Remote.ClientID)
	assert.Equal(t, "/from/file", cfg.Sync.StateDir)

	cfg, err = Resolve(EnvOverrides{ConfigPath: path, ClientID: "from-env", StateDir: "/from/env"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Remote.ClientID)
	assert.Equal(t, "/from/env", cfg.Sync.StateDir)

	cliDir := "/from/cli"
	cfg, err = Resolve(EnvOverrides{StateDir: "/from/env"}, CLIOverrides{ConfigPath: path, StateDir: &cliDir})
	require.NoError(t, err)
	assert.Equal(t, "/from/cli", cfg.Sync.StateDir)
}

func TestResolve_DefaultStateDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	cfg, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "absent.toml")})
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Sync.StateDir)
}

func TestResolve_RelativeStateDirRejected(t *testing.T) {
	rel := "relative/state"

	_, err := Resolve(EnvOverrides{}, CLIOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "absent.toml"),
		StateDir:   &rel,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state_dir")
}
