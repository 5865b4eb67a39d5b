package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/gphotos-sync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagStateDir   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gphotos-sync",
		Short:   "Continuously back up a photo folder to Google Photos",
		Long:    "Uploads new photos and videos from a local folder to Google Photos, never uploading the same content twice.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagStateDir, "state", "", "directory holding per-root sync state")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newAuthenticateCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result in resolvedCfg for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	if cmd.Flags().Changed("state") {
		cli.StateDir = &flagStateDir
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// logLevel returns the effective level. Config provides the baseline;
// --verbose and --quiet override it because CLI flags always win.
func logLevel(cfg *config.LoggingConfig) slog.Level {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return level
}

// buildLogger creates the process logger. With a log_file the output goes
// to a rotated file; otherwise to stderr, colorized when stderr is a
// terminal and log_format is "auto". The returned func closes the file.
func buildLogger(cfg *config.LoggingConfig, stderr io.Writer) (*slog.Logger, func() error) {
	opts := &slog.HandlerOptions{Level: logLevel(cfg)}
	closer := func() error { return nil }

	format := "auto"
	if cfg != nil {
		format = cfg.LogFormat
	}

	out := stderr

	if cfg != nil && cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxSize:  cfg.LogMaxSizeMB,
			MaxAge:   cfg.LogRetentionDays,
			Compress: true,
		}
		out = lj
		closer = lj.Close

		if format == "auto" {
			format = "text"
		}
	}

	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		if isTerminal(out) {
			handler = tint.NewHandler(out, &tint.Options{Level: opts.Level, TimeFormat: time.TimeOnly})
		} else {
			handler = slog.NewTextHandler(out, opts)
		}
	}

	return slog.New(handler), closer
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// cliLogger builds the logger for a subcommand from the resolved config.
func cliLogger() (*slog.Logger, func() error) {
	if resolvedCfg == nil {
		return buildLogger(nil, os.Stderr)
	}

	return buildLogger(&resolvedCfg.Logging, os.Stderr)
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
