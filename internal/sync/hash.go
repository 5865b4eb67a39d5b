package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
)

// hashBufferSize is the fixed read buffer for content hashing. Memory use
// per file is bounded by it regardless of file size.
const hashBufferSize = 64 << 10

// defaultMemoSize is how many (path, size, mtime) -> hash results are kept.
const defaultMemoSize = 4096

// ContentHash is the SHA-256 digest of a file's full byte stream.
type ContentHash [sha256.Size]byte

// String returns the lowercase hex form used as the persisted key.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseContentHash parses the hex form produced by String.
func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash

	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("sync: decoding content hash %q: %w", s, err)
	}

	if len(b) != len(h) {
		return h, fmt.Errorf("sync: content hash %q has %d bytes, want %d", s, len(b), len(h))
	}

	copy(h[:], b)

	return h, nil
}

// memoKey identifies one version of a file well enough to reuse its hash
// within one pass. Across passes it does not: a same-size rewrite inside
// the filesystem's timestamp resolution keeps both size and mtime.
type memoKey struct {
	path  string
	size  int64
	mtime int64
}

// Hasher computes content hashes by streaming files through a fixed buffer.
type Hasher struct {
	fs   afero.Fs
	memo *lru.Cache[memoKey, ContentHash]
}

// NewHasher creates a Hasher over fsys. memoSize <= 0 uses the default.
func NewHasher(fsys afero.Fs, memoSize int) *Hasher {
	if memoSize <= 0 {
		memoSize = defaultMemoSize
	}

	memo, err := lru.New[memoKey, ContentHash](memoSize)
	if err != nil {
		// Only returned for a non-positive size, ruled out above.
		panic(err)
	}

	return &Hasher{fs: fsys, memo: memo}
}

// Reset forgets every memoized hash. Call it at the start of each pass.
func (h *Hasher) Reset() {
	h.memo.Purge()
}

// HashFile returns the content hash and size of the file at path.
func (h *Hasher) HashFile(path string) (ContentHash, int64, error) {
	info, err := h.fs.Stat(path)
	if err != nil {
		return ContentHash{}, 0, fmt.Errorf("sync: stat %s: %w", path, err)
	}

	if info.IsDir() {
		return ContentHash{}, 0, fmt.Errorf("sync: %s is a directory", path)
	}

	key := memoKey{path: path, size: info.Size(), mtime: info.ModTime().UnixNano()}
	if sum, ok := h.memo.Get(key); ok {
		return sum, info.Size(), nil
	}

	f, err := h.fs.Open(path)
	if err != nil {
		return ContentHash{}, 0, fmt.Errorf("sync: opening %s: %w", path, err)
	}
	defer f.Close()

	sum, n, err := hashReader(f)
	if err != nil {
		return ContentHash{}, 0, fmt.Errorf("sync: reading %s: %w", path, err)
	}

	// The file may have grown or shrunk since Stat; memoize only what was
	// actually read so a later call with the new size re-hashes.
	h.memo.Add(memoKey{path: path, size: n, mtime: key.mtime}, sum)

	return sum, n, nil
}

// hashReader streams r through SHA-256 with a hashBufferSize buffer.
func hashReader(r io.Reader) (ContentHash, int64, error) {
	var sum ContentHash

	hw := sha256.New()
	buf := make([]byte, hashBufferSize)

	// Hide any WriterTo on r so the copy goes through buf.
	n, err := io.CopyBuffer(hw, struct{ io.Reader }{r}, buf)
	if err != nil {
		return sum, n, err
	}

	copy(sum[:], hw.Sum(nil))

	return sum, n, nil
}

// digestReader hashes the bytes read through it. Seeking back to the
// start restarts the digest, so a body rewound for a retry is hashed once.
type digestReader struct {
	rs  io.ReadSeeker
	h   hash.Hash
	pos int64
	gap bool
}

func newDigestReader(rs io.ReadSeeker) *digestReader {
	return &digestReader{rs: rs, h: sha256.New()}
}

func (d *digestReader) Read(p []byte) (int, error) {
	n, err := d.rs.Read(p)
	d.h.Write(p[:n])
	d.pos += int64(n)

	return n, err
}

func (d *digestReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := d.rs.Seek(offset, whence)
	if err != nil {
		return pos, err
	}

	switch {
	case pos == 0:
		d.h.Reset()
		d.gap = false
	case pos != d.pos:
		d.gap = true
	}

	d.pos = pos

	return pos, nil
}

// Sum returns the digest of everything read since the last rewind. ok is
// false when a seek skipped bytes.
func (d *digestReader) Sum() (sum ContentHash, ok bool) {
	if d.gap {
		return sum, false
	}

	copy(sum[:], d.h.Sum(nil))

	return sum, true
}
