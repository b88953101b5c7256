// Package recordio implements the framed record streams backing bucket
// files: a positioned reader with page search and a hashing writer for the
// temp file that a caller later publishes by rename.
//
// A bucket file is a concatenation of frames, each `[u32 length][payload]`
// little-endian, with the payload encoded by the codec package. The content
// hash of a bucket is the SHA-256 of exactly these file bytes.
package recordio

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/bucketdb/codec"
	"github.com/hupe1980/bucketdb/fs"
	"github.com/hupe1980/bucketdb/ledger"
)

// maxRecordSize bounds a single frame; larger lengths indicate corruption.
const maxRecordSize = 32 << 20

// Reader is a positioned record stream over a bucket file. It is a
// single-threaded cursor; concurrent use requires external synchronization
// or separate readers.
type Reader struct {
	f    fs.File
	size int64
	pos  int64
	buf  []byte
}

// Open opens a record stream over the file at path.
func Open(fsys fs.FileSystem, path string) (*Reader, error) {
	f, err := fsys.OpenFile(path, 0, 0) // O_RDONLY
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Reader{f: f, size: info.Size()}, nil
}

// AdviseSequential hints the kernel that the stream will be read front to
// back.
func (r *Reader) AdviseSequential() {
	fs.AdviseSequential(r.f)
}

// Pos returns the offset of the next record.
func (r *Reader) Pos() int64 { return r.pos }

// Size returns the file length in bytes.
func (r *Reader) Size() int64 { return r.size }

// EOF reports whether the cursor is at end of file.
func (r *Reader) EOF() bool { return r.pos >= r.size }

// Seek repositions the cursor to a record boundary previously obtained from
// Pos or from an index.
func (r *Reader) Seek(off int64) {
	r.pos = off
}

// ReadAt reads raw file bytes, independent of the cursor.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	return r.f.ReadAt(p, off)
}

// ReadOne reads the next record, advancing the cursor. It returns false at
// a clean end of file.
func (r *Reader) ReadOne(out *ledger.BucketEntry) (bool, error) {
	if r.pos >= r.size {
		return false, nil
	}

	var hdr [4]byte
	if _, err := r.f.ReadAt(hdr[:], r.pos); err != nil {
		return false, fmt.Errorf("recordio: read frame header at %d: %w", r.pos, err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > maxRecordSize {
		return false, fmt.Errorf("recordio: frame length %d at %d exceeds limit", n, r.pos)
	}
	if r.pos+4+int64(n) > r.size {
		return false, fmt.Errorf("recordio: truncated frame at %d", r.pos)
	}

	if cap(r.buf) < int(n) {
		r.buf = make([]byte, n)
	}
	buf := r.buf[:n]
	if _, err := r.f.ReadAt(buf, r.pos+4); err != nil {
		return false, fmt.Errorf("recordio: read frame payload at %d: %w", r.pos, err)
	}

	e, err := codec.UnmarshalEntry(buf)
	if err != nil {
		return false, fmt.Errorf("recordio: record at %d: %w", r.pos, err)
	}
	*out = e
	r.pos += 4 + int64(n)
	return true, nil
}

// ReadPage scans the records starting within pageSize bytes of the current
// position for one whose key equals key. It returns false when the page is
// exhausted without a match; the cursor ends past the scanned records
// either way.
func (r *Reader) ReadPage(out *ledger.BucketEntry, key ledger.LedgerKey, pageSize int64) (bool, error) {
	pageEnd := r.pos + pageSize
	var e ledger.BucketEntry
	for r.pos < pageEnd {
		ok, err := r.ReadOne(&e)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if e.Type == ledger.BucketEntryTypeMeta {
			continue
		}
		if ledger.KeysEqual(e.Key(), key) {
			*out = e
			return true, nil
		}
	}
	return false, nil
}

// ReadPageImage reads the complete frames of the page at off: every record
// that starts within pageSize bytes of off, including any tail extending
// past the page boundary. The returned image is safe for ParsePage.
func (r *Reader) ReadPageImage(off, pageSize int64) ([]byte, error) {
	if off >= r.size {
		return nil, nil
	}
	limit := min(pageSize, r.size-off)
	buf := make([]byte, limit)
	if _, err := r.f.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, err
	}

	pos := 0
	for int64(pos) < pageSize && off+int64(pos) < r.size {
		if off+int64(pos)+4 > r.size {
			return nil, fmt.Errorf("recordio: truncated frame at %d", off+int64(pos))
		}
		var err error
		if buf, err = r.extendImage(buf, off, pos+4); err != nil {
			return nil, err
		}
		n := int(binary.LittleEndian.Uint32(buf[pos:]))
		if n > maxRecordSize {
			return nil, fmt.Errorf("recordio: frame length %d at %d exceeds limit", n, off+int64(pos))
		}
		end := pos + 4 + n
		if off+int64(end) > r.size {
			return nil, fmt.Errorf("recordio: truncated frame at %d", off+int64(pos))
		}
		if buf, err = r.extendImage(buf, off, end); err != nil {
			return nil, err
		}
		pos = end
	}
	return buf[:pos], nil
}

// extendImage grows buf to need bytes, reading the extension from the file.
func (r *Reader) extendImage(buf []byte, off int64, need int) ([]byte, error) {
	if need <= len(buf) {
		return buf, nil
	}
	grown := make([]byte, need)
	copy(grown, buf)
	if _, err := r.f.ReadAt(grown[len(buf):], off+int64(len(buf))); err != nil && err != io.EOF {
		return nil, err
	}
	return grown, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// ParsePage scans an in-memory page image for a record whose key equals
// key. It mirrors ReadPage over a cached copy of the page bytes; a page
// image may end mid-frame, which terminates the scan without error.
func ParsePage(page []byte, key ledger.LedgerKey) (ledger.BucketEntry, bool, error) {
	off := 0
	for off+4 <= len(page) {
		n := int(binary.LittleEndian.Uint32(page[off:]))
		if n > maxRecordSize {
			return ledger.BucketEntry{}, false, fmt.Errorf("recordio: frame length %d in page exceeds limit", n)
		}
		if off+4+n > len(page) {
			break
		}
		e, err := codec.UnmarshalEntry(page[off+4 : off+4+n])
		if err != nil {
			return ledger.BucketEntry{}, false, err
		}
		if e.Type != ledger.BucketEntryTypeMeta && ledger.KeysEqual(e.Key(), key) {
			return e, true, nil
		}
		off += 4 + n
	}
	return ledger.BucketEntry{}, false, nil
}

var _ io.ReaderAt = (*Reader)(nil)
