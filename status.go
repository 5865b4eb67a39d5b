package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/gphotos-sync/internal/config"
	"github.com/tonimelisma/gphotos-sync/internal/sync"
	"github.com/tonimelisma/gphotos-sync/internal/watch"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <dir>",
		Short: "Show what has been uploaded from the folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
}

// rootStatus is the status of one sync root.
type rootStatus struct {
	Root          string    `json:"root"`
	StatePath     string    `json:"state_path"`
	Authenticated bool      `json:"authenticated"`
	TokenExpiry   time.Time `json:"token_expiry,omitzero"`
	Uploaded      int       `json:"uploaded"`
	UploadedBytes int64     `json:"uploaded_bytes"`
	LastUpload    time.Time `json:"last_upload,omitzero"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger, closeLog := cliLogger()
	defer closeLog()

	st, err := loadStatus(cmd.Context(), args[0], resolvedCfg, logger)
	if err != nil {
		return err
	}

	logger.Debug("status loaded", slog.String("root", st.Root), slog.Int("entries", st.Uploaded))

	if flagJSON {
		return writeJSON(os.Stdout, st)
	}

	printStatus(os.Stdout, st)

	return nil
}

// loadStatus reads the root's state without touching the network. It takes
// the state lock, so it fails with sync.ErrStateLocked while a watch or
// upload runs on the same root.
func loadStatus(ctx context.Context, dir string, cfg *config.Config, logger *slog.Logger) (*rootStatus, error) {
	root, _, err := watch.Canonicalize(dir)
	if err != nil {
		return nil, err
	}

	store, err := sync.OpenStore(ctx, config.StatePath(cfg.Sync.StateDir, root), logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	state, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	return &rootStatus{
		Root:          root,
		StatePath:     store.Path(),
		Authenticated: state.RequireCredentials() == nil,
		TokenExpiry:   state.Credentials.Expiry,
		Uploaded:      stats.Entries,
		UploadedBytes: stats.Bytes,
		LastUpload:    stats.LastCommitted,
	}, nil
}

func printStatus(w io.Writer, st *rootStatus) {
	auth := "no (run 'gphotos-sync authenticate')"
	if st.Authenticated {
		auth = "yes, access token expires " + humanize.Time(st.TokenExpiry)
	}

	fmt.Fprintf(w, "Root:          %s\n", st.Root)
	fmt.Fprintf(w, "State:         %s\n", st.StatePath)
	fmt.Fprintf(w, "Authenticated: %s\n", auth)
	fmt.Fprintf(w, "Uploaded:      %s files, %s\n", humanize.Comma(int64(st.Uploaded)), formatSize(st.UploadedBytes))
	fmt.Fprintf(w, "Last upload:   %s\n", formatTime(st.LastUpload))
}
