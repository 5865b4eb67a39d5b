package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "GPHOTOS_SYNC_CONFIG"
	EnvStateDir     = "GPHOTOS_SYNC_STATE_DIR"
	EnvClientID     = "GPHOTOS_SYNC_CLIENT_ID"
	EnvClientSecret = "GPHOTOS_SYNC_CLIENT_SECRET"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // GPHOTOS_SYNC_CONFIG: override config file path
	StateDir     string // GPHOTOS_SYNC_STATE_DIR: state database directory
	ClientID     string // GPHOTOS_SYNC_CLIENT_ID
	ClientSecret string // GPHOTOS_SYNC_CLIENT_SECRET
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		StateDir:     os.Getenv(EnvStateDir),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
	}
}
