package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/gphotos-sync/internal/config"
	"github.com/tonimelisma/gphotos-sync/internal/sync"
	"github.com/tonimelisma/gphotos-sync/internal/watch"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Upload new photos and videos as they appear in the folder",
		Long: `Watches the folder and uploads files as they are created or changed. If the
folder or one of its parents is moved or unmounted, watching resumes once the
path is a directory again. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, closeLog := cliLogger()
	defer closeLog()

	if err := config.RequireClient(&resolvedCfg.Remote); err != nil {
		return err
	}

	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	_, backoff, rootCheck, settle := resolvedCfg.Sync.Durations()

	handler := &watchHandler{
		cfg:    resolvedCfg,
		fs:     afero.NewOsFs(),
		out:    os.Stdout,
		logger: logger,
	}
	defer handler.Close(ctx)

	w := watch.New(watch.Config{
		Root:              args[0],
		RestartBackoff:    backoff,
		QueueSize:         resolvedCfg.Sync.EventQueueSize,
		RootCheckInterval: rootCheck,
		SettleDelay:       settle,
	}, watch.OSSubscriber{Logger: logger}, handler, nil, logger)

	statusf(flagQuiet, "Watching %s. Press Ctrl-C to stop.\n", args[0])

	if err := w.Run(ctx); err != nil {
		return err
	}

	logger.Info("watch stopped")

	return nil
}

// watchHandler connects the watcher to the upload pipeline. The session is
// opened on the first Begin and kept while the root resolves to the same
// canonical path, with its state reloaded on every later Begin; a root that
// comes back somewhere else gets its own state.
type watchHandler struct {
	cfg    *config.Config
	fs     afero.Fs
	out    io.Writer
	logger *slog.Logger

	session  *RootSession
	filter   *sync.Filter
	scanner  *sync.Scanner
	uploader *sync.Uploader
}

// Begin implements watch.Handler. It runs the catch-up walk so files that
// arrived while the root was not watched are uploaded too.
func (h *watchHandler) Begin(ctx context.Context, root string) error {
	if err := h.open(ctx, root); err != nil {
		return err
	}

	if !h.cfg.Sync.ScanOnStart {
		return nil
	}

	h.filter.Invalidate()

	candidates, failures, err := h.scanner.Walk(ctx)
	if err != nil {
		return fmt.Errorf("catch-up scan of %s: %w", root, err)
	}

	return h.pass(ctx, candidates, failures)
}

// Handle implements watch.Handler.
func (h *watchHandler) Handle(ctx context.Context, paths []string) error {
	ignoreName := h.cfg.Filter.IgnoreFile

	for _, p := range paths {
		if ignoreName != "" && filepath.Base(p) == ignoreName {
			h.filter.Invalidate()
			break
		}
	}

	candidates, failures := h.scanner.Expand(ctx, paths)
	if len(candidates) == 0 && len(failures) == 0 {
		return ctx.Err()
	}

	return h.pass(ctx, candidates, failures)
}

func (h *watchHandler) pass(ctx context.Context, candidates []sync.Candidate, failures []sync.FileFailure) error {
	report, err := h.uploader.Run(ctx, candidates)
	if err != nil {
		return err
	}

	report.AddFailures(failures)

	if report.Uploaded == 0 && report.Duplicates == 0 && len(report.Failed) == 0 {
		return nil
	}

	if flagJSON {
		return printReportJSON(h.out, report)
	}

	if !flagQuiet || len(report.Failed) > 0 {
		printReport(h.out, report)
	}

	return nil
}

// open makes sure the session matches root, holds freshly loaded state and
// is authenticated.
func (h *watchHandler) open(ctx context.Context, root string) error {
	if h.session != nil && h.session.Root == root {
		return h.session.Reload(ctx)
	}

	if err := h.Close(ctx); err != nil {
		h.logger.Warn("closing previous sync state", slog.String("error", err.Error()))
	}

	session, err := openRootSession(ctx, root, h.cfg, h.logger)
	if err != nil {
		return err
	}

	if err := session.State.RequireCredentials(); err != nil {
		return errors.Join(err, session.Close(ctx))
	}

	filter, err := sync.NewFilter(h.fs, session.Root, h.cfg.Filter, h.logger)
	if err != nil {
		return errors.Join(err, session.Close(ctx))
	}

	uploader, err := session.newUploader(h.fs, h.cfg)
	if err != nil {
		return errors.Join(err, session.Close(ctx))
	}

	h.session = session
	h.filter = filter
	h.scanner = sync.NewScanner(h.fs, session.Root, filter, h.logger)
	h.uploader = uploader

	return nil
}

// Close releases the current session, if any.
func (h *watchHandler) Close(ctx context.Context) error {
	if h.session == nil {
		return nil
	}

	err := h.session.Close(ctx)
	h.session, h.filter, h.scanner, h.uploader = nil, nil, nil, nil

	return err
}
