package sync

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// LedgerEntry records one piece of content the remote service accepted.
// Only Hash takes part in dedup; the rest is kept for status reporting.
type LedgerEntry struct {
	Hash        ContentHash
	Size        int64
	Path        string
	PassID      string
	CommittedAt time.Time
}

// Ledger is the append-only set of content hashes already accepted by the
// remote service. Presence means durably accepted; a hash is only added
// after the service confirmed the item. Entries committed since the last
// save are tracked so a save writes only new rows.
//
// A Ledger is owned by a single sync loop and is not safe for concurrent
// mutation.
type Ledger struct {
	hashes  mapset.Set[ContentHash]
	pending []LedgerEntry
}

// NewLedger creates a ledger holding the given persisted hashes.
func NewLedger(persisted ...ContentHash) *Ledger {
	return &Ledger{hashes: mapset.NewThreadUnsafeSet(persisted...)}
}

// ShouldUpload reports whether content with this hash still needs uploading.
func (l *Ledger) ShouldUpload(h ContentHash) bool {
	return !l.hashes.Contains(h)
}

// Commit records e as accepted. Committing a hash already present is a no-op.
func (l *Ledger) Commit(e LedgerEntry) {
	if !l.hashes.Add(e.Hash) {
		return
	}

	l.pending = append(l.pending, e)
}

// Len returns the number of distinct hashes in the ledger.
func (l *Ledger) Len() int {
	return l.hashes.Cardinality()
}

// Pending returns the entries committed since the last MarkPersisted.
func (l *Ledger) Pending() []LedgerEntry {
	return l.pending
}

// MarkPersisted forgets the first n pending entries once they are on disk.
func (l *Ledger) MarkPersisted(n int) {
	if n >= len(l.pending) {
		l.pending = nil
		return
	}

	l.pending = append([]LedgerEntry(nil), l.pending[n:]...)
}
