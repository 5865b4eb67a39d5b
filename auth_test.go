package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gphotos-sync/internal/config"
)

// executeRoot runs the CLI with args against a missing config file so only
// defaults, the environment and flags apply.
func executeRoot(t *testing.T, args ...string) error {
	t.Helper()

	resetFlags(t)
	t.Setenv(config.EnvConfig, filepath.Join(t.TempDir(), "missing.toml"))

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	return cmd.Execute()
}

func TestAuthenticate_RequiresClientID(t *testing.T) {
	t.Setenv(config.EnvClientID, "")

	err := executeRoot(t, "authenticate", t.TempDir(), "--state", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}

func TestAuthenticate_RefusesWhenAlreadyAuthenticated(t *testing.T) {
	t.Setenv(config.EnvClientID, "client-id")

	stateDir := t.TempDir()
	root := photoRoot(t)

	cfg := config.DefaultConfig()
	cfg.Sync.StateDir = stateDir
	authenticateRoot(t, root, cfg)

	err := executeRoot(t, "authenticate", root, "--state", stateDir, "--quiet")
	require.ErrorIs(t, err, errAlreadyAuthenticated)
}

func TestAuthenticate_MissingDirectory(t *testing.T) {
	t.Setenv(config.EnvClientID, "client-id")

	err := executeRoot(t, "authenticate", filepath.Join(t.TempDir(), "nope"), "--state", t.TempDir())
	require.Error(t, err)
}

func TestStatusCmd_JSON(t *testing.T) {
	root := photoRoot(t)

	err := executeRoot(t, "status", root, "--state", t.TempDir(), "--json")
	require.NoError(t, err)
}
