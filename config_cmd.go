package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/gphotos-sync/internal/config"
)

const redacted = "<redacted>"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return showConfig(os.Stdout, resolvedCfg)
		},
	}
}

// showConfig writes cfg as TOML, or JSON with --json. The client secret is
// never printed.
func showConfig(w io.Writer, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("no configuration loaded")
	}

	shown := *cfg
	if shown.Remote.ClientSecret != "" {
		shown.Remote.ClientSecret = redacted
	}

	if flagJSON {
		return writeJSON(w, shown)
	}

	if err := toml.NewEncoder(w).Encode(shown); err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}

	return nil
}
