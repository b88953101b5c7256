package recordio

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/hupe1980/bucketdb/fs"
	"github.com/hupe1980/bucketdb/ledger"
)

// Writer appends framed records to a temp file while computing the rolling
// content hash over the exact byte sequence. Finish seals the file; the
// caller publishes it (rename) or discards it (Abort).
type Writer struct {
	fsys    fs.FileSystem
	f       fs.File
	w       io.Writer
	h       hash.Hash
	path    string
	size    int64
	count   int64
	doFsync bool
	scratch []byte
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithFsync enables fsync on Finish.
func WithFsync(enabled bool) WriterOption {
	return func(w *Writer) { w.doFsync = enabled }
}

// WithWriteWrapper interposes a writer transform (e.g. rate limiting) on
// the file writes. The hash is computed before the transform, so it always
// covers the logical byte sequence.
func WithWriteWrapper(wrap func(io.Writer) io.Writer) WriterOption {
	return func(w *Writer) { w.w = wrap(w.w) }
}

// NewWriter creates a record writer on a fresh file at path.
func NewWriter(fsys fs.FileSystem, path string, opts ...WriterOption) (*Writer, error) {
	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		fsys: fsys,
		f:    f,
		w:    f,
		h:    sha256.New(),
		path: path,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Put appends one record payload as a frame.
func (w *Writer) Put(payload []byte) error {
	w.scratch = w.scratch[:0]
	w.scratch = binary.LittleEndian.AppendUint32(w.scratch, uint32(len(payload)))
	w.scratch = append(w.scratch, payload...)

	// Hash first: the hash is defined over the logical bytes even if the
	// write fails partway and the temp file is discarded.
	w.h.Write(w.scratch)
	if _, err := w.w.Write(w.scratch); err != nil {
		return fmt.Errorf("recordio: write frame: %w", err)
	}
	w.size += int64(len(w.scratch))
	w.count++
	return nil
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 { return w.size }

// Count returns the number of records written so far.
func (w *Writer) Count() int64 { return w.count }

// Path returns the temp file path.
func (w *Writer) Path() string { return w.path }

// Finish flushes, optionally syncs, and closes the file, returning the
// content hash of the written byte sequence.
func (w *Writer) Finish() (ledger.Hash, error) {
	var h ledger.Hash
	if w.doFsync {
		if err := w.f.Sync(); err != nil {
			return h, fmt.Errorf("recordio: sync %s: %w", w.path, err)
		}
	}
	if err := w.f.Close(); err != nil {
		return h, fmt.Errorf("recordio: close %s: %w", w.path, err)
	}
	copy(h[:], w.h.Sum(nil))
	return h, nil
}

// Abort closes and removes the temp file. Safe to call after a failed
// Finish.
func (w *Writer) Abort() {
	_ = w.f.Close()
	_ = w.fsys.Remove(w.path)
}
