package sync

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/tonimelisma/gphotos-sync/internal/auth"
)

// Sentinel errors for state persistence.
var (
	// ErrStateLocked means another process is syncing the same root.
	ErrStateLocked = errors.New("sync: state is locked by another process")

	// ErrPersist wraps a failure to write sync state. It aborts the pass.
	ErrPersist = errors.New("sync: persisting state failed")
)

// stateDirPerms restricts the state directory: it holds OAuth credentials.
const stateDirPerms = 0o700

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists SyncState for one sync root in a SQLite database. The
// database file is held under an exclusive advisory lock for the lifetime
// of the Store so only one process syncs a root at a time.
type Store struct {
	db      *sql.DB
	lock    *flock.Flock
	path    string
	logger  *slog.Logger
	nowFunc func() time.Time
}

// StoreStats summarizes the ledger for the status command.
type StoreStats struct {
	Entries       int
	Bytes         int64
	LastCommitted time.Time
}

// OpenStore opens (creating if needed) the state database at path, takes
// the per-root lock, and brings the schema up to date.
func OpenStore(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerms); err != nil {
		return nil, fmt.Errorf("sync: creating state directory: %w", err)
	}

	lock := flock.New(path + ".lock")

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("sync: locking %s: %w", path, err)
	}

	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrStateLocked, path)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("sync: opening state database %s: %w", path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		_ = lock.Unlock()

		return nil, err
	}

	logger.Debug("state store opened", slog.String("path", path))

	return &Store{
		db:      db,
		lock:    lock,
		path:    path,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// migrate applies the embedded goose migrations.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sync: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("sync: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("sync: migrating state schema: %w", err)
	}

	for _, r := range results {
		logger.Info("applied state migration",
			slog.String("source", r.Source.Path),
			slog.Int64("version", r.Source.Version),
		)
	}

	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted credentials and ledger. A root that was never
// authenticated loads with zero credentials.
func (s *Store) Load(ctx context.Context) (*State, error) {
	creds, err := s.loadCredentials(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT hash FROM ledger`)
	if err != nil {
		return nil, fmt.Errorf("sync: querying ledger: %w", err)
	}
	defer rows.Close()

	var hashes []ContentHash

	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, fmt.Errorf("sync: scanning ledger row: %w", err)
		}

		h, err := ParseContentHash(hex)
		if err != nil {
			return nil, err
		}

		hashes = append(hashes, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating ledger: %w", err)
	}

	s.logger.Info("loaded sync state",
		slog.Int("ledger_entries", len(hashes)),
		slog.Bool("authenticated", !creds.IsZero()),
	)

	return &State{Credentials: creds, Ledger: NewLedger(hashes...)}, nil
}

func (s *Store) loadCredentials(ctx context.Context) (auth.Credentials, error) {
	var (
		creds  auth.Credentials
		expiry int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expiry FROM credentials WHERE id = 1`,
	).Scan(&creds.AccessToken, &creds.RefreshToken, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Credentials{}, nil
	}

	if err != nil {
		return auth.Credentials{}, fmt.Errorf("sync: loading credentials: %w", err)
	}

	if expiry != 0 {
		creds.Expiry = time.Unix(0, expiry)
	}

	return creds, nil
}

// Save writes the credentials and every ledger entry committed since the
// last save in one transaction. Failures wrap ErrPersist.
func (s *Store) Save(ctx context.Context, st *State) error {
	pending := st.Ledger.Pending()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", ErrPersist, err)
	}
	defer tx.Rollback()

	now := s.nowFunc()

	if !st.Credentials.IsZero() {
		if err := upsertCredentials(ctx, tx, st.Credentials, now); err != nil {
			return err
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO ledger (hash, size, path, pass_id, committed_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: preparing ledger insert: %w", ErrPersist, err)
	}
	defer stmt.Close()

	for _, e := range pending {
		committed := e.CommittedAt
		if committed.IsZero() {
			committed = now
		}

		if _, err := stmt.ExecContext(ctx, e.Hash.String(), e.Size, e.Path, e.PassID, committed.UnixNano()); err != nil {
			return fmt.Errorf("%w: inserting ledger entry %s: %w", ErrPersist, e.Hash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %w", ErrPersist, err)
	}

	st.Ledger.MarkPersisted(len(pending))

	s.logger.Debug("sync state saved",
		slog.Int("new_entries", len(pending)),
		slog.Int("ledger_entries", st.Ledger.Len()),
	)

	return nil
}

// SaveCredentials replaces the stored credentials without touching the ledger.
func (s *Store) SaveCredentials(ctx context.Context, creds auth.Credentials) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", ErrPersist, err)
	}
	defer tx.Rollback()

	if err := upsertCredentials(ctx, tx, creds, s.nowFunc()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing credentials: %w", ErrPersist, err)
	}

	return nil
}

func upsertCredentials(ctx context.Context, tx *sql.Tx, creds auth.Credentials, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO credentials (id, access_token, refresh_token, expiry, updated_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   expiry = excluded.expiry,
		   updated_at = excluded.updated_at`,
		creds.AccessToken, creds.RefreshToken, expiryNanos(creds.Expiry), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: writing credentials: %w", ErrPersist, err)
	}

	return nil
}

// Stats summarizes the persisted ledger.
func (s *Store) Stats(ctx context.Context) (StoreStats, error) {
	var (
		stats StoreStats
		last  sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0), MAX(committed_at) FROM ledger`,
	).Scan(&stats.Entries, &stats.Bytes, &last)
	if err != nil {
		return StoreStats{}, fmt.Errorf("sync: reading ledger stats: %w", err)
	}

	if last.Valid {
		stats.LastCommitted = time.Unix(0, last.Int64)
	}

	return stats, nil
}

// Close closes the database and releases the root lock.
func (s *Store) Close() error {
	dbErr := s.db.Close()
	lockErr := s.lock.Unlock()

	return errors.Join(dbErr, lockErr)
}

// expiryNanos stores the zero time as 0. UnixNano of the zero time is out
// of int64 range.
func expiryNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}
