package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// liveTree is a real directory layout: base/parent/root with the
// subscription open on root.
type liveTree struct {
	base      string
	parent    string
	root      string
	ancestors []string
	sub       Subscription
}

func subscribeLive(t *testing.T) *liveTree {
	t.Helper()

	base := canonicalTempDir(t)
	parent := filepath.Join(base, "parent")
	root := filepath.Join(parent, "root")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2024"), 0o755))

	ancestors := Ancestors(root)

	sub, err := OSSubscriber{Logger: testLogger(t)}.Subscribe(root, ancestors)
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, sub.Close()) })

	return &liveTree{base: base, parent: parent, root: root, ancestors: ancestors, sub: sub}
}

// next classifies raw events until one matches kind and path, returning
// every relevant event seen before it.
func (lt *liveTree) next(t *testing.T, kind Kind, path string) []Event {
	t.Helper()

	var seen []Event

	deadline := time.After(testTimeout)

	for {
		select {
		case raw, ok := <-lt.sub.Events():
			require.True(t, ok, "events closed")

			ev := Classify(lt.root, lt.ancestors, raw)
			if ev.Kind == kind && ev.Path == path {
				return seen
			}

			if ev.Kind != Ignored {
				seen = append(seen, ev)
			}

		case err := <-lt.sub.Errors():
			t.Fatalf("subscription error: %v", err)

		case <-deadline:
			t.Fatalf("no %s event for %s", kind, path)
		}
	}
}

func TestOSSubscriber_WriteUnderRootIsFileModified(t *testing.T) {
	lt := subscribeLive(t)

	photo := filepath.Join(lt.root, "2024", "IMG_0001.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpeg"), 0o644))

	lt.next(t, FileModified, photo)
}

func TestOSSubscriber_ParentRenameIsPathMoved(t *testing.T) {
	lt := subscribeLive(t)

	require.NoError(t, os.Rename(lt.parent, filepath.Join(lt.base, "parent-renamed")))

	lt.next(t, PathMoved, lt.parent)
}

func TestOSSubscriber_SiblingOfRootIgnored(t *testing.T) {
	lt := subscribeLive(t)

	require.NoError(t, os.WriteFile(filepath.Join(lt.parent, "notes.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(lt.parent, "other"), 0o755))

	marker := filepath.Join(lt.root, "marker.jpg")
	require.NoError(t, os.WriteFile(marker, []byte("m"), 0o644))

	for _, ev := range lt.next(t, FileModified, marker) {
		assert.Equal(t, FileModified, ev.Kind, "unexpected %s for %s", ev.Kind, ev.Path)
		assert.True(t, within(lt.root, ev.Path), "event outside root: %s", ev.Path)
	}
}

func TestOSSubscriber_CloseClosesChannels(t *testing.T) {
	base := canonicalTempDir(t)

	sub, err := OSSubscriber{Logger: testLogger(t)}.Subscribe(base, Ancestors(base))
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	_, ok := <-sub.Events()
	assert.False(t, ok)

	_, ok = <-sub.Errors()
	assert.False(t, ok)

	require.NoError(t, sub.Close(), "second close is a no-op")
}
