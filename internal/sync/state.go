package sync

import (
	"errors"

	"github.com/tonimelisma/gphotos-sync/internal/auth"
)

// ErrNotAuthenticated means the sync root has no stored credentials.
var ErrNotAuthenticated = errors.New("sync: not authenticated; run authenticate first")

// State is everything persisted for one sync root: the credential pair and
// the dedup ledger. It is owned by one sync loop at a time.
type State struct {
	Credentials auth.Credentials
	Ledger      *Ledger
}

// RequireCredentials returns ErrNotAuthenticated when no credentials are stored.
func (s *State) RequireCredentials() error {
	if s.Credentials.RefreshToken == "" {
		return ErrNotAuthenticated
	}

	return nil
}
