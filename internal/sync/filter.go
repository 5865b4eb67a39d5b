package sync

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	gosync "sync"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"

	"github.com/tonimelisma/gphotos-sync/internal/config"
)

// alwaysExcludedSuffixes mark files that are still being written by some
// other program. They are never candidates regardless of configuration.
var alwaysExcludedSuffixes = []string{
	".partial", ".tmp", ".swp", ".crdownload", ".part", ".download",
}

// alwaysExcludedPrefixes mark editor and office lock files.
var alwaysExcludedPrefixes = []string{"~", ".~"}

// FilterResult is the verdict for one path.
type FilterResult struct {
	Included bool
	Reason   string // empty when included, explanation when excluded
}

// Filter decides which paths under the sync root are upload candidates:
// always-excluded temporaries, dotfiles, the per-directory ignore file,
// a size ceiling, and finally the include globs.
type Filter struct {
	fs           afero.Fs
	root         string
	include      []string
	ignoreFile   string
	skipDotfiles bool
	maxSize      int64
	logger       *slog.Logger

	// ignoreCache stores parsed ignore files per relative directory.
	// A nil entry means the directory has none.
	ignoreCache map[string]*ignore.GitIgnore
	mu          gosync.RWMutex
}

// NewFilter builds a Filter for root from the [filter] config section.
func NewFilter(fsys afero.Fs, root string, cfg config.FilterConfig, logger *slog.Logger) (*Filter, error) {
	maxSize, err := config.ParseSize(cfg.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("sync: invalid max_file_size %q: %w", cfg.MaxFileSize, err)
	}

	for _, p := range cfg.Include {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("sync: invalid include pattern %q", p)
		}
	}

	logger.Debug("filter initialized",
		slog.String("root", root),
		slog.Any("include", cfg.Include),
		slog.String("ignore_file", cfg.IgnoreFile),
		slog.Bool("skip_dotfiles", cfg.SkipDotfiles),
		slog.Int64("max_file_size", maxSize),
	)

	return &Filter{
		fs:           fsys,
		root:         root,
		include:      cfg.Include,
		ignoreFile:   cfg.IgnoreFile,
		skipDotfiles: cfg.SkipDotfiles,
		maxSize:      maxSize,
		logger:       logger,
		ignoreCache:  make(map[string]*ignore.GitIgnore),
	}, nil
}

// ShouldSync evaluates rel, a path relative to the sync root. For
// directories it answers whether the walk should descend.
func (f *Filter) ShouldSync(rel string, isDir bool, size int64) FilterResult {
	name := filepath.Base(rel)

	if !isDir {
		if r := checkAlwaysExcluded(name); !r.Included {
			return r
		}
	}

	if f.skipDotfiles && strings.HasPrefix(name, ".") {
		return FilterResult{Reason: "dotfile"}
	}

	if r := f.checkIgnoreFiles(rel, isDir); !r.Included {
		return r
	}

	if isDir {
		return FilterResult{Included: true}
	}

	if f.ignoreFile != "" && name == f.ignoreFile {
		return FilterResult{Reason: "ignore file"}
	}

	if f.maxSize > 0 && size > f.maxSize {
		return FilterResult{Reason: fmt.Sprintf("larger than max_file_size (%d bytes)", f.maxSize)}
	}

	if !f.matchesInclude(rel) {
		return FilterResult{Reason: "not a media file"}
	}

	return FilterResult{Included: true}
}

func checkAlwaysExcluded(name string) FilterResult {
	lower := strings.ToLower(name)

	for _, sfx := range alwaysExcludedSuffixes {
		if strings.HasSuffix(lower, sfx) {
			return FilterResult{Reason: "temporary file (" + sfx + ")"}
		}
	}

	for _, pfx := range alwaysExcludedPrefixes {
		if strings.HasPrefix(name, pfx) {
			return FilterResult{Reason: "lock file"}
		}
	}

	return FilterResult{Included: true}
}

// matchesInclude reports whether rel matches any include glob. Patterns
// are validated in NewFilter, so match errors cannot occur.
func (f *Filter) matchesInclude(rel string) bool {
	slashed := filepath.ToSlash(rel)

	for _, p := range f.include {
		if ok, _ := doublestar.Match(p, slashed); ok {
			return true
		}
	}

	return false
}

// checkIgnoreFiles applies the ignore file of every directory from the
// root down to rel's parent. Patterns are relative to the directory that
// holds the ignore file, as with .gitignore.
func (f *Filter) checkIgnoreFiles(rel string, isDir bool) FilterResult {
	if f.ignoreFile == "" {
		return FilterResult{Included: true}
	}

	slashed := filepath.ToSlash(rel)
	dir := path.Dir(slashed)

	for {
		if gi := f.loadIgnoreFile(dir); gi != nil {
			sub := slashed
			if dir != "." {
				sub = strings.TrimPrefix(slashed, dir+"/")
			}

			if isDir {
				sub += "/"
			}

			if gi.MatchesPath(sub) {
				f.logger.Debug("path excluded by ignore file", slog.String("path", rel), slog.String("dir", dir))
				return FilterResult{Reason: "excluded by " + path.Join(dir, f.ignoreFile)}
			}
		}

		if dir == "." {
			return FilterResult{Included: true}
		}

		dir = path.Dir(dir)
	}
}

// loadIgnoreFile loads and caches the ignore file of a relative directory.
func (f *Filter) loadIgnoreFile(dir string) *ignore.GitIgnore {
	f.mu.RLock()
	gi, cached := f.ignoreCache[dir]
	f.mu.RUnlock()

	if cached {
		return gi
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if gi, cached = f.ignoreCache[dir]; cached {
		return gi
	}

	p := filepath.Join(f.root, filepath.FromSlash(dir), f.ignoreFile)

	data, err := afero.ReadFile(f.fs, p)
	if err != nil {
		f.ignoreCache[dir] = nil
		return nil
	}

	parsed := ignore.CompileIgnoreLines(strings.Split(string(data), "\n")...)
	f.logger.Debug("loaded ignore file", slog.String("path", p))
	f.ignoreCache[dir] = parsed

	return parsed
}

// Invalidate drops cached ignore files, e.g. after one was edited.
func (f *Filter) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ignoreCache = make(map[string]*ignore.GitIgnore)
}
