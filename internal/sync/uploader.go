package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/tonimelisma/gphotos-sync/internal/auth"
	"github.com/tonimelisma/gphotos-sync/internal/gphotos"
)

// ErrChangedDuringUpload means the bytes sent for a file no longer match the
// hash taken before staging. The staged upload is never finalized.
var ErrChangedDuringUpload = errors.New("sync: file changed while uploading")

// RemoteClient is the subset of the photo service used by the pipeline.
// Satisfied by *gphotos.Client.
type RemoteClient interface {
	StageUpload(ctx context.Context, accessToken string, body io.ReadSeeker, size int64, filename string) (string, error)
	BatchFinalize(ctx context.Context, accessToken string, items []gphotos.NewMediaItem) ([]gphotos.ItemResult, error)
}

// CredentialSource hands out an access token that is fresh right now.
// Satisfied by *auth.Manager.
type CredentialSource interface {
	EnsureFresh(ctx context.Context) (auth.Credentials, error)
	Current() auth.Credentials
}

// StateSaver persists sync state. Satisfied by *Store.
type StateSaver interface {
	Save(ctx context.Context, st *State) error
}

// UploaderConfig wires an Uploader. FS, Remote, Credentials, Store and State
// are required.
type UploaderConfig struct {
	FS          afero.Fs
	Hasher      *Hasher
	Remote      RemoteClient
	Credentials CredentialSource
	Store       StateSaver
	State       *State
	BatchSize   int               // 0 means gphotos.MaxBatchSize
	Limiter     *BandwidthLimiter // nil means unlimited
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

// Uploader runs upload passes for one sync root. Passes must not overlap:
// the ledger is only ever mutated by the pass that is running.
type Uploader struct {
	fs        afero.Fs
	hasher    *Hasher
	remote    RemoteClient
	creds     CredentialSource
	store     StateSaver
	state     *State
	batchSize int
	limiter   *BandwidthLimiter
	clock     clockwork.Clock
	logger    *slog.Logger
}

// staged is one entry of the pending batch.
type staged struct {
	hash  ContentHash
	size  int64
	path  string
	token string
}

// NewUploader validates cfg and returns an Uploader.
func NewUploader(cfg UploaderConfig) (*Uploader, error) {
	if cfg.FS == nil || cfg.Remote == nil || cfg.Credentials == nil || cfg.Store == nil || cfg.State == nil {
		return nil, errors.New("sync: uploader requires filesystem, remote, credentials, store and state")
	}

	if cfg.State.Ledger == nil {
		cfg.State.Ledger = NewLedger()
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = gphotos.MaxBatchSize
	}

	if batchSize < 1 || batchSize > gphotos.MaxBatchSize {
		return nil, fmt.Errorf("sync: batch size %d out of range 1-%d", batchSize, gphotos.MaxBatchSize)
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = NewHasher(cfg.FS, 0)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Uploader{
		fs:        cfg.FS,
		hasher:    hasher,
		remote:    cfg.Remote,
		creds:     cfg.Credentials,
		store:     cfg.Store,
		state:     cfg.State,
		batchSize: batchSize,
		limiter:   cfg.Limiter,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Run uploads candidates in order. Per-file problems land in the report;
// an error return means the pass was aborted (credentials, persistence,
// cancellation) and the report covers only what happened before that.
// Staged items not yet finalized at an abort are abandoned and their
// content is offered again on the next pass.
func (u *Uploader) Run(ctx context.Context, candidates []Candidate) (*Report, error) {
	start := u.clock.Now()
	report := &Report{PassID: uuid.NewString(), Candidates: len(candidates)}

	logger := u.logger.With(slog.String("pass", report.PassID))
	logger.Info("upload pass starting", slog.Int("candidates", len(candidates)))

	u.hasher.Reset()

	inFlight := mapset.NewThreadUnsafeSet[ContentHash]()
	batch := make([]staged, 0, u.batchSize)

	finish := func(err error) (*Report, error) {
		report.Elapsed = u.clock.Since(start)

		if err != nil {
			logger.Error("upload pass aborted",
				slog.String("error", err.Error()),
				slog.Int("abandoned", len(batch)),
			)
		} else {
			logger.Info("upload pass complete",
				slog.Int("uploaded", report.Uploaded),
				slog.Int("skipped", report.Skipped),
				slog.Int("duplicates", report.Duplicates),
				slog.Int("failed", len(report.Failed)),
				slog.Int("batches", report.Batches),
				slog.Duration("elapsed", report.Elapsed),
			)
		}

		return report, err
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		sum, size, err := u.hasher.HashFile(c.Path)
		if err != nil {
			logger.Warn("cannot hash file", slog.String("path", c.Path), slog.String("error", err.Error()))
			report.fail(c.Path, StageHash, err)

			continue
		}

		if !u.state.Ledger.ShouldUpload(sum) || inFlight.Contains(sum) {
			logger.Debug("already uploaded", slog.String("path", c.Path), slog.String("hash", sum.String()))
			report.skip(size)

			continue
		}

		creds, err := u.creds.EnsureFresh(ctx)
		if err != nil {
			return finish(fmt.Errorf("sync: credentials before staging %s: %w", c.Path, err))
		}

		token, err := u.stage(ctx, creds.AccessToken, c.Path, size, sum)
		if err != nil {
			if fatal := abortCause(ctx, err); fatal != nil {
				return finish(fatal)
			}

			if errors.Is(err, gphotos.ErrDuplicate) {
				logger.Info("service already has this content", slog.String("path", c.Path))
				report.Duplicates++

				continue
			}

			logger.Warn("staging failed", slog.String("path", c.Path), slog.String("error", err.Error()))
			report.fail(c.Path, StageStage, err)

			continue
		}

		inFlight.Add(sum)
		batch = append(batch, staged{hash: sum, size: size, path: c.Path, token: token})

		if len(batch) == u.batchSize {
			if err := u.flush(ctx, logger, report, batch, inFlight); err != nil {
				return finish(err)
			}

			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := u.flush(ctx, logger, report, batch, inFlight); err != nil {
			return finish(err)
		}

		batch = batch[:0]
	}

	return finish(nil)
}

// stage uploads one file's bytes. Exactly size bytes are sent, and they
// are hashed on the way out: a file rewritten since it was hashed is
// reported instead of being committed under the old hash.
func (u *Uploader) stage(ctx context.Context, accessToken, path string, size int64, want ContentHash) (string, error) {
	f, err := u.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("sync: opening %s: %w", path, err)
	}
	defer f.Close()

	digest := newDigestReader(io.NewSectionReader(f, 0, size))
	body := u.limiter.WrapReadSeeker(ctx, digest)

	token, err := u.remote.StageUpload(ctx, accessToken, body, size, path)
	if err != nil {
		return "", err
	}

	if got, ok := digest.Sum(); !ok || got != want {
		return "", fmt.Errorf("%w: %s", ErrChangedDuringUpload, path)
	}

	return token, nil
}

// flush finalizes batch, commits confirmed items to the ledger and
// persists the state. Items the service rejected stay uncommitted.
func (u *Uploader) flush(
	ctx context.Context, logger *slog.Logger, report *Report, batch []staged, inFlight mapset.Set[ContentHash],
) error {
	report.Batches++

	creds, err := u.creds.EnsureFresh(ctx)
	if err != nil {
		return fmt.Errorf("sync: credentials before finalize: %w", err)
	}

	items := make([]gphotos.NewMediaItem, len(batch))
	for i, s := range batch {
		items[i] = gphotos.NewMediaItem{UploadToken: s.token, FileName: gphotos.FileNameHint(s.path)}
	}

	results, err := u.remote.BatchFinalize(ctx, creds.AccessToken, items)
	if err != nil {
		if fatal := abortCause(ctx, err); fatal != nil {
			return fatal
		}

		logger.Warn("batch finalize failed", slog.Int("items", len(batch)), slog.String("error", err.Error()))

		for _, s := range batch {
			report.fail(s.path, StageFinalize, err)
			inFlight.Remove(s.hash)
		}
	} else {
		now := u.clock.Now()

		for i, s := range batch {
			if i < len(results) && results[i].OK {
				u.state.Ledger.Commit(LedgerEntry{
					Hash:        s.hash,
					Size:        s.size,
					Path:        s.path,
					PassID:      report.PassID,
					CommittedAt: now,
				})
				report.Uploaded++
				report.UploadedBytes += s.size

				continue
			}

			itemErr := &ItemError{Code: -1, Message: "no result returned"}
			if i < len(results) {
				itemErr = &ItemError{Code: results[i].Code, Message: results[i].Message}
			}

			logger.Warn("item rejected", slog.String("path", s.path), slog.String("error", itemErr.Error()))
			report.fail(s.path, StageFinalize, itemErr)
			inFlight.Remove(s.hash)
		}
	}

	u.state.Credentials = u.creds.Current()

	// A flush that reached the service must land on disk even when
	// shutdown was requested meanwhile.
	if err := u.store.Save(context.WithoutCancel(ctx), u.state); err != nil {
		return err
	}

	logger.Debug("batch flushed", slog.Int("items", len(batch)), slog.Int("ledger_entries", u.state.Ledger.Len()))

	return nil
}

// abortCause returns the error that should abort the pass, or nil if err
// only concerns the current item. Cancellation and a rejected access token
// end the pass: the token will not work for the next item either.
func abortCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if errors.Is(err, gphotos.ErrUnauthorized) {
		return fmt.Errorf("sync: access token rejected: %w", err)
	}

	return nil
}
