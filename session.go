package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/spf13/afero"

	"github.com/tonimelisma/gphotos-sync/internal/auth"
	"github.com/tonimelisma/gphotos-sync/internal/config"
	"github.com/tonimelisma/gphotos-sync/internal/gphotos"
	"github.com/tonimelisma/gphotos-sync/internal/sync"
	"github.com/tonimelisma/gphotos-sync/internal/watch"
)

// RootSession holds everything a command needs to work on one sync root:
// the locked state store, the loaded state, and the remote clients.
type RootSession struct {
	Root        string // canonical absolute path
	Store       *sync.Store
	State       *sync.State
	OAuth       *gphotos.OAuth
	Client      *gphotos.Client
	Credentials *auth.Manager

	logger *slog.Logger
}

// openRootSession canonicalizes dir, takes the root's state lock, and loads
// its state. The caller must Close the session.
func openRootSession(ctx context.Context, dir string, cfg *config.Config, logger *slog.Logger) (*RootSession, error) {
	root, _, err := watch.Canonicalize(dir)
	if err != nil {
		return nil, err
	}

	store, err := sync.OpenStore(ctx, config.StatePath(cfg.Sync.StateDir, root), logger)
	if err != nil {
		return nil, err
	}

	state, err := store.Load(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}

	httpClient := newHTTPClient(cfg.Network)

	oauth := gphotos.NewOAuth(gphotos.OAuthConfig{
		ClientID:     cfg.Remote.ClientID,
		ClientSecret: cfg.Remote.ClientSecret,
		AuthURL:      cfg.Remote.AuthURL,
		TokenURL:     cfg.Remote.TokenURL,
		Scopes:       cfg.Remote.Scopes,
	}, httpClient, logger)

	margin, _, _, _ := cfg.Sync.Durations()

	logger.Debug("opened sync root",
		slog.String("root", root),
		slog.String("state", store.Path()),
	)

	return &RootSession{
		Root:        root,
		Store:       store,
		State:       state,
		OAuth:       oauth,
		Client:      gphotos.NewClient(cfg.Remote.APIURL, cfg.Remote.UploadURL, httpClient, logger, cfg.Network.UserAgent),
		Credentials: auth.NewManager(state.Credentials, oauth, margin, nil, logger),
		logger:      logger,
	}, nil
}

// newHTTPClient bounds connection setup and the wait for response headers.
// There is no overall request timeout: a large video upload may legitimately
// take longer than any fixed limit.
func newHTTPClient(n config.NetworkConfig) *http.Client {
	connect, data := n.Timeouts()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect}).DialContext
	transport.TLSHandshakeTimeout = connect
	transport.ResponseHeaderTimeout = data

	return &http.Client{Transport: transport}
}

// newUploader builds the upload pipeline for the session's root.
func (s *RootSession) newUploader(fsys afero.Fs, cfg *config.Config) (*sync.Uploader, error) {
	limiter, err := sync.NewBandwidthLimiter(cfg.Sync.BandwidthLimit, s.logger)
	if err != nil {
		return nil, err
	}

	return sync.NewUploader(sync.UploaderConfig{
		FS:          fsys,
		Hasher:      sync.NewHasher(fsys, 0),
		Remote:      s.Client,
		Credentials: s.Credentials,
		Store:       s.Store,
		State:       s.State,
		BatchSize:   cfg.Sync.BatchSize,
		Limiter:     limiter,
		Logger:      s.logger,
	})
}

// newScanner builds the candidate scanner for the session's root.
func (s *RootSession) newScanner(fsys afero.Fs, cfg *config.Config) (*sync.Scanner, error) {
	filter, err := sync.NewFilter(fsys, s.Root, cfg.Filter, s.logger)
	if err != nil {
		return nil, err
	}

	return sync.NewScanner(fsys, s.Root, filter, s.logger), nil
}

// Reload replaces the in-memory state with the stored one, first writing
// whatever an aborted pass committed but could not persist. The State
// pointer is kept, so an uploader built on it sees the reloaded ledger.
func (s *RootSession) Reload(ctx context.Context) error {
	if creds := s.Credentials.Current(); !creds.IsZero() {
		s.State.Credentials = creds
	}

	if err := s.Store.Save(ctx, s.State); err != nil {
		return err
	}

	st, err := s.Store.Load(ctx)
	if err != nil {
		return err
	}

	*s.State = *st

	return s.State.RequireCredentials()
}

// Close writes back any credentials refreshed since the last save and
// releases the root lock. It runs on shutdown, so it ignores cancellation.
func (s *RootSession) Close(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var saveErr error

	if creds := s.Credentials.Current(); !creds.IsZero() && creds != s.State.Credentials {
		saveErr = s.Store.SaveCredentials(ctx, creds)
		if saveErr == nil {
			s.State.Credentials = creds
		}
	}

	if err := s.Store.Close(); err != nil {
		return fmt.Errorf("closing state for %s: %w", s.Root, err)
	}

	return saveErr
}
