package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_AllFieldsPopulated(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	// Remote defaults
	assert.Empty(t, cfg.Remote.ClientID)
	assert.Equal(t, "https://accounts.google.com/o/oauth2/v2/auth", cfg.Remote.AuthURL)
	assert.Equal(t, "https://www.googleapis.com/oauth2/v4/token", cfg.Remote.TokenURL)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/photoslibrary.appendonly"}, cfg.Remote.Scopes)
	assert.Equal(t, "https://photoslibrary.googleapis.com/v1/uploads", cfg.Remote.UploadURL)

	// Sync defaults
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 5, cfg.Sync.EventQueueSize)
	assert.Equal(t, "60s", cfg.Sync.RefreshMargin)
	assert.Equal(t, "10s", cfg.Sync.RestartBackoff)
	assert.Equal(t, "2s", cfg.Sync.SettleDelay)
	assert.True(t, cfg.Sync.ScanOnStart)
	assert.Equal(t, "0", cfg.Sync.BandwidthLimit)

	// Filter defaults
	assert.Equal(t, DefaultMediaPatterns, cfg.Filter.Include)
	assert.Equal(t, ".gphotosignore", cfg.Filter.IgnoreFile)
	assert.True(t, cfg.Filter.SkipDotfiles)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "auto", cfg.Logging.LogFormat)
	assert.Equal(t, 30, cfg.Logging.LogRetentionDays)
}

func TestDefaultConfig_IncludeIsCopy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filter.Include[0] = "changed"

	assert.NotEqual(t, "changed", DefaultMediaPatterns[0])
}

func TestSyncConfig_Durations(t *testing.T) {
	s := SyncConfig{RefreshMargin: "2m", RestartBackoff: "bogus", RootCheckInterval: "5s", SettleDelay: "0s"}

	margin, backoff, check, settle := s.Durations()
	assert.Equal(t, 2*time.Minute, margin)
	assert.Equal(t, 10*time.Second, backoff, "unparsable value falls back to default")
	assert.Equal(t, 5*time.Second, check)
	assert.Zero(t, settle, "zero disables settling")
}

func TestNetworkConfig_Timeouts(t *testing.T) {
	connect, data := DefaultConfig().Network.Timeouts()
	assert.Equal(t, 10*time.Second, connect)
	assert.Equal(t, 120*time.Second, data)
}
