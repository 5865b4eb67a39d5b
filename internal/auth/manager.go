package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// DefaultMargin is how long before expiry a token is considered stale.
const DefaultMargin = 60 * time.Second

// refreshKey is the only singleflight key: there is one credential pair.
const refreshKey = "refresh"

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Grant, error)
}

// Manager holds the credentials of one sync root and refreshes them on
// demand. It is safe for concurrent use; concurrent callers that all see a
// stale token share a single refresh.
type Manager struct {
	refresher Refresher
	clock     clockwork.Clock
	margin    time.Duration
	logger    *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	creds Credentials
}

// NewManager creates a Manager seeded with stored credentials. A nil clock
// uses the real clock.
func NewManager(
	creds Credentials, refresher Refresher, margin time.Duration, clock clockwork.Clock, logger *slog.Logger,
) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		refresher: refresher,
		clock:     clock,
		margin:    margin,
		logger:    logger,
		creds:     creds,
	}
}

// Current returns the credentials as they are now, without refreshing.
func (m *Manager) Current() Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.creds
}

// EnsureFresh returns credentials whose access token stays valid for at
// least the margin, refreshing first if needed. Any refresh failure is
// returned wrapped in ErrRefreshFailed and leaves the stored pair unchanged.
func (m *Manager) EnsureFresh(ctx context.Context) (Credentials, error) {
	if creds := m.Current(); !creds.NeedsRefresh(m.clock.Now(), m.margin) {
		return creds, nil
	}

	ch := m.group.DoChan(refreshKey, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Credentials{}, res.Err
		}

		return res.Val.(Credentials), nil
	case <-ctx.Done():
		return Credentials{}, fmt.Errorf("auth: waiting for refresh: %w", ctx.Err())
	}
}

// refresh runs inside the single flight. It re-checks staleness because a
// flight that finished just before this one may already have refreshed.
func (m *Manager) refresh(ctx context.Context) (Credentials, error) {
	creds := m.Current()
	if !creds.NeedsRefresh(m.clock.Now(), m.margin) {
		return creds, nil
	}

	if creds.RefreshToken == "" {
		return Credentials{}, ErrNoRefreshToken
	}

	m.logger.Debug("refreshing access token",
		slog.Time("expiry", creds.Expiry),
		slog.Duration("margin", m.margin),
	)

	grant, err := m.refresher.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		m.logger.Warn("token refresh failed", slog.String("error", err.Error()))
		return Credentials{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if grant.AccessToken == "" {
		return Credentials{}, fmt.Errorf("%w: token endpoint returned no access token", ErrRefreshFailed)
	}

	m.mu.Lock()
	m.creds.AccessToken = grant.AccessToken
	m.creds.Expiry = grant.ExpiryAt(m.clock.Now())
	updated := m.creds
	m.mu.Unlock()

	m.logger.Info("access token refreshed", slog.Time("expiry", updated.Expiry))

	return updated, nil
}
