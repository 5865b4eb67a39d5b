package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gphotos-sync/internal/auth"
	"github.com/tonimelisma/gphotos-sync/internal/gphotos"
)

// fakeRemote stands in for the photo service. Behavior is keyed by file
// base name.
type fakeRemote struct {
	stageErr    map[string]error
	reject      map[string]bool
	finalizeErr []error // consumed one per BatchFinalize call
	onStage     func(name string)

	stagedNames  []string
	batches      [][]gphotos.NewMediaItem
	accessTokens []string
	tokenNames   map[string]string
	bodies       map[string]string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		stageErr:   map[string]error{},
		reject:     map[string]bool{},
		tokenNames: map[string]string{},
		bodies:     map[string]string{},
	}
}

func (r *fakeRemote) StageUpload(
	_ context.Context, accessToken string, body io.ReadSeeker, size int64, filename string,
) (string, error) {
	r.accessTokens = append(r.accessTokens, accessToken)
	name := filepath.Base(filename)

	if r.onStage != nil {
		r.onStage(name)
	}

	if err := r.stageErr[name]; err != nil {
		return "", err
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	if int64(len(data)) != size {
		return "", fmt.Errorf("body has %d bytes, declared %d", len(data), size)
	}

	token := fmt.Sprintf("tok-%d", len(r.stagedNames))
	r.stagedNames = append(r.stagedNames, name)
	r.tokenNames[token] = name
	r.bodies[name] = string(data)

	return token, nil
}

func (r *fakeRemote) BatchFinalize(
	_ context.Context, accessToken string, items []gphotos.NewMediaItem,
) ([]gphotos.ItemResult, error) {
	r.accessTokens = append(r.accessTokens, accessToken)
	r.batches = append(r.batches, append([]gphotos.NewMediaItem(nil), items...))

	if len(r.finalizeErr) > 0 {
		err := r.finalizeErr[0]
		r.finalizeErr = r.finalizeErr[1:]

		if err != nil {
			return nil, err
		}
	}

	results := make([]gphotos.ItemResult, len(items))
	for i, it := range items {
		if r.reject[r.tokenNames[it.UploadToken]] {
			results[i] = gphotos.ItemResult{UploadToken: it.UploadToken, Code: 3, Message: "Failed: media type not supported"}
			continue
		}

		results[i] = gphotos.ItemResult{UploadToken: it.UploadToken, OK: true, MediaItemID: "m-" + it.UploadToken}
	}

	return results, nil
}

func (r *fakeRemote) batchSizes() []int {
	sizes := make([]int, len(r.batches))
	for i, b := range r.batches {
		sizes[i] = len(b)
	}

	return sizes
}

// fakeCreds counts EnsureFresh calls.
type fakeCreds struct {
	creds auth.Credentials
	err   error
	calls int
}

func (c *fakeCreds) EnsureFresh(context.Context) (auth.Credentials, error) {
	c.calls++
	if c.err != nil {
		return auth.Credentials{}, c.err
	}

	return c.creds, nil
}

func (c *fakeCreds) Current() auth.Credentials { return c.creds }

// memSaver records saves without touching disk.
type memSaver struct {
	saves        int
	ledgerAtSave []int
	err          error
}

func (s *memSaver) Save(_ context.Context, st *State) error {
	if s.err != nil {
		return fmt.Errorf("%w: disk full", ErrPersist)
	}

	s.saves++
	s.ledgerAtSave = append(s.ledgerAtSave, st.Ledger.Len())
	st.Ledger.MarkPersisted(len(st.Ledger.Pending()))

	return nil
}

type uploaderFixture struct {
	fs     afero.Fs
	remote *fakeRemote
	creds  *fakeCreds
	saver  *memSaver
	state  *State
}

func newFixture() *uploaderFixture {
	return &uploaderFixture{
		fs:     afero.NewMemMapFs(),
		remote: newFakeRemote(),
		creds:  &fakeCreds{creds: auth.Credentials{AccessToken: "at", RefreshToken: "rt"}},
		saver:  &memSaver{},
		state:  &State{Ledger: NewLedger()},
	}
}

func (f *uploaderFixture) uploader(t *testing.T, batchSize int) *Uploader {
	t.Helper()

	u, err := NewUploader(UploaderConfig{
		FS:          f.fs,
		Remote:      f.remote,
		Credentials: f.creds,
		Store:       f.saver,
		State:       f.state,
		BatchSize:   batchSize,
		Clock:       clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		Logger:      testLogger(t),
	})
	require.NoError(t, err)

	return u
}

// files writes name=content pairs under /photos and returns candidates in
// the given order.
func (f *uploaderFixture) files(t *testing.T, pairs ...string) []Candidate {
	t.Helper()

	var cs []Candidate

	for i := 0; i < len(pairs); i += 2 {
		p := "/photos/" + pairs[i]
		writeFile(t, f.fs, p, pairs[i+1])
		cs = append(cs, Candidate{Path: p, Rel: pairs[i], Size: int64(len(pairs[i+1]))})
	}

	return cs
}

func distinctFiles(t *testing.T, f *uploaderFixture, n int) []Candidate {
	t.Helper()

	pairs := make([]string, 0, 2*n)
	for i := range n {
		pairs = append(pairs, fmt.Sprintf("img%03d.jpg", i), fmt.Sprintf("content %d", i))
	}

	return f.files(t, pairs...)
}

func failureStages(r *Report) map[string]string {
	out := map[string]string{}
	for _, ff := range r.Failed {
		out[filepath.Base(ff.Path)] = ff.Stage
	}

	return out
}

func TestUploader_DuplicateContentStagedOnce(t *testing.T) {
	f := newFixture()
	cs := f.files(t, "a.jpg", "X", "b.jpg", "X", "c.jpg", "Y")

	report, err := f.uploader(t, 0).Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.jpg", "c.jpg"}, f.remote.stagedNames)
	assert.Equal(t, []int{2}, f.remote.batchSizes())
	assert.Equal(t, 2, f.state.Ledger.Len())
	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, int64(2), report.UploadedBytes)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, int64(1), report.SkippedBytes)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 1, report.Batches)
	assert.NotEmpty(t, report.PassID)
}

func TestUploader_SecondPassUploadsNothing(t *testing.T) {
	f := newFixture()
	cs := f.files(t, "a.jpg", "X", "b.jpg", "X", "c.jpg", "Y")

	u := f.uploader(t, 0)

	_, err := u.Run(t.Context(), cs)
	require.NoError(t, err)

	stagedBefore := len(f.remote.stagedNames)

	report, err := u.Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Zero(t, report.Uploaded)
	assert.Equal(t, 3, report.Skipped)
	assert.Zero(t, report.Batches)
	assert.Len(t, f.remote.stagedNames, stagedBefore)
	assert.Equal(t, 1, f.saver.saves, "nothing to flush, nothing to save")
}

func TestUploader_BatchSizing(t *testing.T) {
	tests := []struct {
		name      string
		files     int
		batchSize int
		want      []int
	}{
		{"single file", 1, 50, []int{1}},
		{"exactly full", 50, 50, []int{50}},
		{"one over", 51, 50, []int{50, 1}},
		{"several batches", 120, 50, []int{50, 50, 20}},
		{"small batches", 7, 3, []int{3, 3, 1}},
		{"batch of one", 3, 1, []int{1, 1, 1}},
		{"default size", 60, 0, []int{50, 10}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			cs := distinctFiles(t, f, tc.files)

			report, err := f.uploader(t, tc.batchSize).Run(t.Context(), cs)
			require.NoError(t, err)

			assert.Equal(t, tc.want, f.remote.batchSizes())
			assert.Equal(t, len(tc.want), report.Batches)
			assert.Equal(t, len(tc.want), f.saver.saves, "state is saved after every flush")
			assert.Equal(t, tc.files, report.Uploaded)
		})
	}
}

func TestUploader_SavesAfterEachFlush(t *testing.T) {
	f := newFixture()
	cs := distinctFiles(t, f, 5)

	_, err := f.uploader(t, 2).Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 4, 5}, f.saver.ledgerAtSave)
}

func TestUploader_CommitOnlyConfirmedItems(t *testing.T) {
	f := newFixture()
	cs := f.files(t, "a.jpg", "A", "b.jpg", "B", "c.jpg", "C")
	f.remote.reject["b.jpg"] = true

	u := f.uploader(t, 0)

	report, err := u.Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Uploaded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, StageFinalize, report.Failed[0].Stage)

	var itemErr *ItemError
	require.ErrorAs(t, report.Failed[0].Err, &itemErr)
	assert.Equal(t, 3, itemErr.Code)

	assert.False(t, f.state.Ledger.ShouldUpload(hashOf("A")))
	assert.True(t, f.state.Ledger.ShouldUpload(hashOf("B")))
	assert.False(t, f.state.Ledger.ShouldUpload(hashOf("C")))

	// The rejected file is offered again on the next pass.
	f.remote.reject = map[string]bool{}
	f.remote.stagedNames = nil

	report, err = u.Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, []string{"b.jpg"}, f.remote.stagedNames)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 3, f.state.Ledger.Len())
}

func TestUploader_RejectedItemRetriedBySameContentLaterInPass(t *testing.T) {
	f := newFixture()
	cs := f.files(t, "a.jpg", "X", "b.jpg", "X")
	f.remote.reject["a.jpg"] = true

	report, err := f.uploader(t, 1).Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.jpg", "b.jpg"}, f.remote.stagedNames)
	assert.Equal(t, 1, report.Uploaded)
	assert.Len(t, report.Failed, 1)
	assert.False(t, f.state.Ledger.ShouldUpload(hashOf("X")))
}

func TestUploader_WholeFinalizeFailureContinuesPass(t *testing.T) {
	f := newFixture()
	cs := distinctFiles(t, f, 4)
	f.remote.finalizeErr = []error{fmt.Errorf("gphotos: finalizing batch of 2: %w", gphotos.ErrServerError)}

	report, err := f.uploader(t, 2).Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2}, f.remote.batchSizes())
	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, map[string]string{"img000.jpg": StageFinalize, "img001.jpg": StageFinalize}, failureStages(report))
	assert.Equal(t, 2, f.state.Ledger.Len())
	assert.True(t, f.state.Ledger.ShouldUpload(hashOf("content 0")))
	assert.Equal(t, 2, f.saver.saves)
}

func TestUploader_PerFileFailuresDoNotAbort(t *testing.T) {
	f := newFixture()
	cs := f.files(t, "a.jpg", "A", "b.jpg", "B", "c.jpg", "C")
	cs = append(cs[:1], append([]Candidate{{Path: "/photos/vanished.jpg", Size: 3}}, cs[1:]...)...)
	f.remote.stageErr["b.jpg"] = fmt.Errorf("gphotos: staging b.jpg: %w", gphotos.ErrTooLarge)

	report, err := f.uploader(t, 0).Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.jpg", "c.jpg"}, f.remote.stagedNames)
	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, map[string]string{"vanished.jpg": StageHash, "b.jpg": StageStage}, failureStages(report))
	assert.True(t, f.state.Ledger.ShouldUpload(hashOf("B")))
}

func TestUploader_RemoteDuplicateIsSkipNotCommit(t *testing.T) {
	f := newFixture()
	cs := f.files(t, "a.jpg", "A", "b.jpg", "B")
	f.remote.stageErr["a.jpg"] = fmt.Errorf("gphotos: staging a.jpg: %w", gphotos.ErrDuplicate)

	report, err := f.uploader(t, 0).Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.Uploaded)
	assert.Empty(t, report.Failed)
	assert.True(t, f.state.Ledger.ShouldUpload(hashOf("A")))
}

func TestUploader_FreshCredentialsBeforeEveryCall(t *testing.T) {
	f := newFixture()
	cs := distinctFiles(t, f, 5)

	_, err := f.uploader(t, 2).Run(t.Context(), cs)
	require.NoError(t, err)

	// Five stage calls and three finalize calls.
	assert.Equal(t, 8, f.creds.calls)
	assert.Len(t, f.remote.accessTokens, 8)
}

func TestUploader_RefreshFailureAbortsPass(t *testing.T) {
	f := newFixture()
	cs := distinctFiles(t, f, 3)
	f.creds.err = fmt.Errorf("%w: invalid_grant", auth.ErrRefreshFailed)

	report, err := f.uploader(t, 0).Run(t.Context(), cs)
	require.ErrorIs(t, err, auth.ErrRefreshFailed)

	require.NotNil(t, report)
	assert.Empty(t, f.remote.stagedNames)
	assert.Zero(t, f.saver.saves)
}

func TestUploader_RejectedTokenAbortsPass(t *testing.T) {
	f := newFixture()
	cs := distinctFiles(t, f, 3)
	f.remote.stageErr["img000.jpg"] = fmt.Errorf("gphotos: staging: %w", gphotos.ErrUnauthorized)

	_, err := f.uploader(t, 0).Run(t.Context(), cs)
	require.ErrorIs(t, err, gphotos.ErrUnauthorized)
	assert.Empty(t, f.remote.batches)
}

func TestUploader_PersistFailureAbortsPass(t *testing.T) {
	f := newFixture()
	cs := distinctFiles(t, f, 4)
	f.saver.err = errors.New("disk full")

	report, err := f.uploader(t, 2).Run(t.Context(), cs)
	require.ErrorIs(t, err, ErrPersist)

	assert.Equal(t, []int{2}, f.remote.batchSizes(), "no further batches after a failed save")
	assert.Equal(t, 2, report.Uploaded)
}

func TestUploader_CrashBetweenFlushesResumes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	f := newFixture()
	cs := f.files(t, "a.jpg", "A", "b.jpg", "B", "c.jpg", "C", "d.jpg", "D")

	store, err := OpenStore(t.Context(), path, testLogger(t))
	require.NoError(t, err)

	st, err := store.Load(t.Context())
	require.NoError(t, err)

	ctx, crash := context.WithCancel(t.Context())
	defer crash()

	f.remote.onStage = func(name string) {
		if name == "c.jpg" {
			crash()
		}
	}

	u, err := NewUploader(UploaderConfig{
		FS: f.fs, Remote: f.remote, Credentials: f.creds, Store: store, State: st,
		BatchSize: 2, Logger: testLogger(t),
	})
	require.NoError(t, err)

	_, err = u.Run(ctx, cs)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{2}, f.remote.batchSizes(), "c was staged but never finalized")
	require.NoError(t, store.Close())

	// Restart from disk.
	store = openTestStore(t, path)

	st, err = store.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Ledger.Len())

	f.remote = newFakeRemote()

	u, err = NewUploader(UploaderConfig{
		FS: f.fs, Remote: f.remote, Credentials: f.creds, Store: store, State: st,
		BatchSize: 2, Logger: testLogger(t),
	})
	require.NoError(t, err)

	report, err := u.Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, []string{"c.jpg", "d.jpg"}, f.remote.stagedNames)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 2, report.Uploaded)
	assert.Equal(t, 4, st.Ledger.Len())
}

func TestUploader_StagesExactBytes(t *testing.T) {
	f := newFixture()
	cs := f.files(t, "a.jpg", "hello")

	_, err := f.uploader(t, 0).Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, "hello", f.remote.bodies["a.jpg"])
	require.Len(t, f.remote.batches, 1)
	assert.Equal(t, "a.jpg", f.remote.batches[0][0].FileName)
}

func TestUploader_SameSizeRewriteUploadedOnNextPass(t *testing.T) {
	f := newFixture()
	cs := f.files(t, "a.jpg", "AAAA")

	info, err := f.fs.Stat("/photos/a.jpg")
	require.NoError(t, err)

	u := f.uploader(t, 0)

	_, err = u.Run(t.Context(), cs)
	require.NoError(t, err)

	// A rewrite within the mtime resolution of FAT leaves size and mtime as
	// they were.
	writeFile(t, f.fs, "/photos/a.jpg", "BBBB")
	require.NoError(t, f.fs.Chtimes("/photos/a.jpg", info.ModTime(), info.ModTime()))

	report, err := u.Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Uploaded)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, "BBBB", f.remote.bodies["a.jpg"])
	assert.False(t, f.state.Ledger.ShouldUpload(hashOf("BBBB")))
	assert.Equal(t, 2, f.state.Ledger.Len())
}

func TestUploader_RewriteDuringStagingNotCommitted(t *testing.T) {
	f := newFixture()
	cs := f.files(t, "a.jpg", "AAAA", "b.jpg", "B")

	f.remote.onStage = func(name string) {
		if name == "a.jpg" {
			writeFile(t, f.fs, "/photos/a.jpg", "ZZZZ")
		}
	}

	report, err := f.uploader(t, 0).Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"a.jpg": StageStage}, failureStages(report))
	require.ErrorIs(t, report.Failed[0].Err, ErrChangedDuringUpload)
	assert.Equal(t, 1, report.Uploaded)

	require.Len(t, f.remote.batches, 1)
	assert.Len(t, f.remote.batches[0], 1, "the mismatched token is never finalized")
	assert.True(t, f.state.Ledger.ShouldUpload(hashOf("AAAA")))
	assert.True(t, f.state.Ledger.ShouldUpload(hashOf("ZZZZ")))

	// The next pass hashes and uploads what is on disk now.
	f.remote.onStage = nil

	report, err = f.uploader(t, 0).Run(t.Context(), cs)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Uploaded)
	assert.False(t, f.state.Ledger.ShouldUpload(hashOf("ZZZZ")))
}

func TestNewUploader_Validation(t *testing.T) {
	f := newFixture()

	_, err := NewUploader(UploaderConfig{FS: f.fs})
	require.Error(t, err)

	_, err = NewUploader(UploaderConfig{
		FS: f.fs, Remote: f.remote, Credentials: f.creds, Store: f.saver, State: f.state, BatchSize: 51,
	})
	require.Error(t, err)
}
