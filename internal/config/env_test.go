package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvStateDir, "/custom/state")
	t.Setenv(EnvClientID, "id-123")
	t.Setenv(EnvClientSecret, "shh")

	overrides := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", overrides.ConfigPath)
	assert.Equal(t, "/custom/state", overrides.StateDir)
	assert.Equal(t, "id-123", overrides.ClientID)
	assert.Equal(t, "shh", overrides.ClientSecret)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvStateDir, "")
	t.Setenv(EnvClientID, "")
	t.Setenv(EnvClientSecret, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides())
}

func TestEnvVarConstants(t *testing.T) {
	assert.Equal(t, "GPHOTOS_SYNC_CONFIG", EnvConfig)
	assert.Equal(t, "GPHOTOS_SYNC_STATE_DIR", EnvStateDir)
}
