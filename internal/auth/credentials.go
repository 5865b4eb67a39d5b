// Package auth owns the OAuth2 credential pair used for every remote call and
// refreshes the access token just before it would expire.
package auth

import (
	"errors"
	"time"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrRefreshFailed wraps any failure of the token endpoint during a
	// refresh. It is fatal for the current pass.
	ErrRefreshFailed = errors.New("auth: token refresh failed")

	// ErrNoRefreshToken means the stored credentials cannot be refreshed and
	// the operator must authenticate again.
	ErrNoRefreshToken = errors.New("auth: no refresh token; run authenticate")
)

// Credentials is an access/refresh token pair. The access token is usable
// only while now < Expiry. RefreshToken is replaced only by a fresh
// authorization, never by a refresh.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// IsZero reports whether no credentials have been stored.
func (c Credentials) IsZero() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// NeedsRefresh reports whether the access token is missing or expires
// within margin of now.
func (c Credentials) NeedsRefresh(now time.Time, margin time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}

	return !now.Before(c.Expiry.Add(-margin))
}

// DefaultTokenLifetime is assumed for a grant whose response carried no
// expires_in.
const DefaultTokenLifetime = time.Hour

// Grant is what the token endpoint returns. RefreshToken is only meaningful
// for an authorization code exchange. Expiry is zero when the endpoint did
// not say.
type Grant struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// ExpiryAt returns when the granted access token expires, taking
// DefaultTokenLifetime from now when the grant has no expiry.
func (g Grant) ExpiryAt(now time.Time) time.Time {
	if g.Expiry.IsZero() {
		return now.Add(DefaultTokenLifetime)
	}

	return g.Expiry
}
