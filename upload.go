package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/gphotos-sync/internal/config"
	"github.com/tonimelisma/gphotos-sync/internal/sync"
)

// errPassFailures makes the exit status non-zero when some files could not
// be uploaded. The summary has already been printed.
var errPassFailures = errors.New("some files were not uploaded")

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <dir>",
		Short: "Upload every new photo and video under the folder once",
		Long: `Walks the folder, hashes every candidate file, and uploads the content that
has not been uploaded before. Files already uploaded are skipped by content,
so renamed or copied files are never uploaded twice.`,
		Args: cobra.ExactArgs(1),
		RunE: runUpload,
	}
}

func runUpload(cmd *cobra.Command, args []string) error {
	logger, closeLog := cliLogger()
	defer closeLog()

	if err := config.RequireClient(&resolvedCfg.Remote); err != nil {
		return err
	}

	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	session, err := openRootSession(ctx, args[0], resolvedCfg, logger)
	if err != nil {
		return err
	}

	report, err := uploadOnce(ctx, session, afero.NewOsFs(), resolvedCfg)
	if closeErr := session.Close(ctx); closeErr != nil {
		logger.Error("closing sync state", slog.String("error", closeErr.Error()))
	}

	if err != nil {
		return err
	}

	return emitReport(os.Stdout, report)
}

// uploadOnce runs a full walk of the root followed by one upload pass.
// Unreadable entries found by the walk are folded into the report.
func uploadOnce(ctx context.Context, session *RootSession, fsys afero.Fs, cfg *config.Config) (*sync.Report, error) {
	if err := session.State.RequireCredentials(); err != nil {
		return nil, err
	}

	scanner, err := session.newScanner(fsys, cfg)
	if err != nil {
		return nil, err
	}

	uploader, err := session.newUploader(fsys, cfg)
	if err != nil {
		return nil, err
	}

	candidates, walkFailures, err := scanner.Walk(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", session.Root, err)
	}

	report, err := uploader.Run(ctx, candidates)
	if report != nil {
		report.AddFailures(walkFailures)
	}

	return report, err
}

// emitReport prints the report in the format selected by --json and turns
// per-file failures into a non-zero exit.
func emitReport(w io.Writer, report *sync.Report) error {
	if flagJSON {
		if err := printReportJSON(w, report); err != nil {
			return err
		}
	} else if !flagQuiet || len(report.Failed) > 0 {
		printReport(w, report)
	}

	if len(report.Failed) > 0 {
		return fmt.Errorf("%w: %d failed", errPassFailures, len(report.Failed))
	}

	return nil
}
