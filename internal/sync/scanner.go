package sync

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Candidate is a regular file under the sync root that passed the filter.
type Candidate struct {
	Path string // absolute path
	Rel  string // path relative to the root, OS separators
	Size int64
}

// Scanner turns the sync root, or a set of changed paths under it, into an
// ordered list of upload candidates. Symlinks are never followed.
type Scanner struct {
	fs     afero.Fs
	root   string
	filter *Filter
	logger *slog.Logger
}

// NewScanner creates a Scanner for the canonical root.
func NewScanner(fsys afero.Fs, root string, filter *Filter, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Scanner{fs: fsys, root: root, filter: filter, logger: logger}
}

// Walk lists every candidate under the root in lexical order. Unreadable
// entries are reported as failures and skipped; only cancellation or an
// unreadable root aborts the walk.
func (s *Scanner) Walk(ctx context.Context) ([]Candidate, []FileFailure, error) {
	var (
		out      []Candidate
		failures []FileFailure
	)

	err := s.walk(ctx, s.root, &out, &failures)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("scan complete",
		slog.String("root", s.root),
		slog.Int("candidates", len(out)),
		slog.Int("unreadable", len(failures)),
	)

	return out, failures, nil
}

// Expand resolves paths reported by the change watcher into candidates,
// preserving arrival order. Directories (a folder moved in, say) expand to
// their contents; paths that no longer exist are dropped; repeats collapse.
func (s *Scanner) Expand(ctx context.Context, paths []string) ([]Candidate, []FileFailure) {
	var (
		out      []Candidate
		failures []FileFailure
	)

	seen := make(map[string]bool, len(paths))

	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}

		rel, ok := s.relative(p)
		if !ok || seen[p] {
			continue
		}

		seen[p] = true

		info, err := lstat(s.fs, p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			failures = append(failures, FileFailure{Path: p, Stage: StageScan, Err: err})
			continue
		}

		if info.IsDir() {
			if !s.dirAllowed(rel) {
				continue
			}

			var sub []Candidate
			if walkErr := s.walk(ctx, p, &sub, &failures); walkErr != nil {
				failures = append(failures, FileFailure{Path: p, Stage: StageScan, Err: walkErr})
				continue
			}

			for _, c := range sub {
				if !seen[c.Path] {
					seen[c.Path] = true
					out = append(out, c)
				}
			}

			continue
		}

		if c, ok := s.candidate(p, rel, info); ok && s.dirAllowed(filepath.Dir(rel)) {
			out = append(out, c)
		}
	}

	return out, failures
}

func (s *Scanner) walk(ctx context.Context, start string, out *[]Candidate, failures *[]FileFailure) error {
	return afero.Walk(s.fs, start, func(p string, info fs.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if p == start {
				return err
			}

			*failures = append(*failures, FileFailure{Path: p, Stage: StageScan, Err: err})

			return nil
		}

		if p == s.root {
			return nil
		}

		rel, ok := s.relative(p)
		if !ok {
			return nil
		}

		if info.IsDir() {
			if p == start {
				return nil
			}

			if r := s.filter.ShouldSync(rel, true, 0); !r.Included {
				s.logger.Debug("skipping directory", slog.String("path", rel), slog.String("reason", r.Reason))
				return filepath.SkipDir
			}

			return nil
		}

		if c, ok := s.candidate(p, rel, info); ok {
			*out = append(*out, c)
		}

		return nil
	})
}

// candidate applies the file-level filter to a regular file.
func (s *Scanner) candidate(p, rel string, info fs.FileInfo) (Candidate, bool) {
	if !info.Mode().IsRegular() {
		return Candidate{}, false
	}

	if r := s.filter.ShouldSync(rel, false, info.Size()); !r.Included {
		s.logger.Debug("skipping file", slog.String("path", rel), slog.String("reason", r.Reason))
		return Candidate{}, false
	}

	return Candidate{Path: p, Rel: rel, Size: info.Size()}, true
}

// dirAllowed reports whether every directory from the root down to rel is
// admitted by the filter, so watch events inside an excluded directory are
// treated the same as a walk would.
func (s *Scanner) dirAllowed(rel string) bool {
	if rel == "." || rel == "" {
		return true
	}

	parts := strings.Split(rel, string(filepath.Separator))
	for i := range parts {
		if !s.filter.ShouldSync(filepath.Join(parts[:i+1]...), true, 0).Included {
			return false
		}
	}

	return true
}

// relative returns p relative to the root, and false for paths outside it.
func (s *Scanner) relative(p string) (string, bool) {
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	return rel, true
}

// lstat uses Lstat when the filesystem supports it so symlinks are seen as
// links rather than their targets.
func lstat(fsys afero.Fs, p string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(p)
		return info, err
	}

	return fsys.Stat(p)
}
