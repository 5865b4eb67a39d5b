package watch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors.
var (
	// ErrStopped is returned by Run once the watcher reaches Stopped.
	ErrStopped = errors.New("watch: stopped")

	// ErrNotDirectory means the root exists but is not a directory.
	ErrNotDirectory = errors.New("watch: sync root is not a directory")

	// ErrOverflow is reported by a subscription that lost events.
	ErrOverflow = errors.New("watch: event queue overflow")
)

// Op is a bit set of raw filesystem operations.
type Op uint8

// Raw operations reported by a subscription backend.
const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

// Has reports whether o includes every bit of other.
func (o Op) Has(other Op) bool {
	return o&other == other
}

func (o Op) String() string {
	var parts []string

	for _, b := range []struct {
		op   Op
		name string
	}{{OpCreate, "create"}, {OpWrite, "write"}, {OpRemove, "remove"}, {OpRename, "rename"}} {
		if o.Has(b.op) {
			parts = append(parts, b.name)
		}
	}

	if len(parts) == 0 {
		return "none"
	}

	return strings.Join(parts, "|")
}

// RawEvent is an unclassified notification from a subscription backend.
type RawEvent struct {
	Path string
	Op   Op
}

// Kind is the class of a classified event.
type Kind int

// Event kinds.
const (
	Ignored Kind = iota
	FileModified
	PathMoved
)

func (k Kind) String() string {
	switch k {
	case FileModified:
		return "file modified"
	case PathMoved:
		return "path moved"
	default:
		return "ignored"
	}
}

// Event is a classified notification.
type Event struct {
	Kind Kind
	Path string
}

// Input maps the event onto the state machine.
func (e Event) Input() Input {
	switch e.Kind {
	case FileModified:
		return InputFileModified
	case PathMoved:
		return InputPathMoved
	default:
		return InputIgnored
	}
}

// Classify decides what a raw event means for root, a canonical path, given
// its ancestors. A rename or removal of the root or any ancestor is
// PathMoved. A create, write or rename strictly under the root is
// FileModified. Everything else, including removals under the root, is
// ignored: nothing is ever deleted remotely.
func Classify(root string, ancestors []string, raw RawEvent) Event {
	p := filepath.Clean(raw.Path)

	if raw.Op.Has(OpRename) || raw.Op.Has(OpRemove) {
		if p == root {
			return Event{Kind: PathMoved, Path: p}
		}

		for _, a := range ancestors {
			if p == a {
				return Event{Kind: PathMoved, Path: p}
			}
		}
	}

	if !within(root, p) {
		return Event{Kind: Ignored, Path: p}
	}

	if raw.Op.Has(OpCreate) || raw.Op.Has(OpWrite) || raw.Op.Has(OpRename) {
		return Event{Kind: FileModified, Path: p}
	}

	return Event{Kind: Ignored, Path: p}
}

// within reports whether p is strictly below dir.
func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == "." {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Ancestors lists every directory above the canonical root, nearest first.
// The filesystem root has none.
func Ancestors(root string) []string {
	var out []string

	for dir := filepath.Dir(root); dir != root; dir = filepath.Dir(dir) {
		out = append(out, dir)
		root = dir
	}

	return out
}

// Canonicalize resolves root to an absolute, symlink-free directory path.
// A root that does not exist yet is a recoverable error; a root that is
// empty or not a directory wraps ErrNotDirectory.
func Canonicalize(root string) (string, os.FileInfo, error) {
	if strings.TrimSpace(root) == "" {
		return "", nil, fmt.Errorf("%w: empty path", ErrNotDirectory)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", nil, fmt.Errorf("watch: resolving %s: %w", root, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", nil, fmt.Errorf("watch: resolving %s: %w", abs, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", nil, fmt.Errorf("watch: stat %s: %w", resolved, err)
	}

	if !info.IsDir() {
		return "", nil, fmt.Errorf("%w: %s", ErrNotDirectory, resolved)
	}

	return resolved, info, nil
}
