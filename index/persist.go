package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/bucketdb/fs"
	"github.com/hupe1980/bucketdb/ledger"
)

// On-disk index format, zstd-framed:
//
//	[magic u32][version u32][pageSize i64]
//	[entryCount u32] { [keyLen u32][key bytes][off i64] }*
//	[bloomK u32][bloomLen u32][bloom bytes]
//	[tempLen u32][roaring bytes]
//	[rangeCount u32] { [account 32][begin i64][end i64] }*

const (
	indexMagic   = 0x58444942 // "BIDX"
	indexVersion = 1
)

// SaveFile writes the index to path, zstd-compressed.
func (idx *RangeIndex) SaveFile(fsys fs.FileSystem, path string) (err error) {
	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	if err := idx.encode(zw); err != nil {
		_ = zw.Close()
		return fmt.Errorf("index: save %s: %w", path, err)
	}
	return zw.Close()
}

// LoadFile reads an index previously written by SaveFile.
func LoadFile(fsys fs.FileSystem, path string) (*RangeIndex, error) {
	f, err := fsys.OpenFile(path, 0, 0)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	idx, err := decode(bufio.NewReader(zr))
	if err != nil {
		return nil, fmt.Errorf("index: load %s: %w", path, err)
	}
	return idx, nil
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeI64(w io.Writer, v int64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	_, err := w.Write(b[:])
	return err
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeU32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func (idx *RangeIndex) encode(w io.Writer) error {
	if err := writeU32(w, indexMagic); err != nil {
		return err
	}
	if err := writeU32(w, indexVersion); err != nil {
		return err
	}
	if err := writeI64(w, idx.pageSize); err != nil {
		return err
	}

	if err := writeU32(w, uint32(len(idx.entries))); err != nil {
		return err
	}
	for _, e := range idx.entries {
		if err := writeBytes(w, ledger.EncodeKey(e.Key)); err != nil {
			return err
		}
		if err := writeI64(w, e.Off); err != nil {
			return err
		}
	}

	if err := writeU32(w, idx.bloom.k); err != nil {
		return err
	}
	bloomBytes, err := idx.bloom.bits.MarshalBinary()
	if err != nil {
		return err
	}
	if err := writeBytes(w, bloomBytes); err != nil {
		return err
	}

	tempBytes, err := idx.tempPages.ToBytes()
	if err != nil {
		return err
	}
	if err := writeBytes(w, tempBytes); err != nil {
		return err
	}

	if err := writeU32(w, uint32(len(idx.trustRanges))); err != nil {
		return err
	}
	for acc, rng := range idx.trustRanges {
		if _, err := w.Write(acc[:]); err != nil {
			return err
		}
		if err := writeI64(w, rng.Begin); err != nil {
			return err
		}
		if err := writeI64(w, rng.End); err != nil {
			return err
		}
	}
	return nil
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readI64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func decode(r io.Reader) (*RangeIndex, error) {
	magic, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if magic != indexMagic {
		return nil, fmt.Errorf("bad magic 0x%x", magic)
	}
	version, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if version != indexVersion {
		return nil, fmt.Errorf("unsupported version %d", version)
	}

	idx := &RangeIndex{
		trustRanges: make(map[ledger.AccountID]Range),
	}
	if idx.pageSize, err = readI64(r); err != nil {
		return nil, err
	}

	entryCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	idx.entries = make([]entry, 0, entryCount)
	for i := uint32(0); i < entryCount; i++ {
		keyBytes, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		key, n, err := ledger.DecodeKey(keyBytes)
		if err != nil {
			return nil, err
		}
		if n != len(keyBytes) {
			return nil, fmt.Errorf("trailing bytes in key %d", i)
		}
		off, err := readI64(r)
		if err != nil {
			return nil, err
		}
		idx.entries = append(idx.entries, entry{Key: key, Off: off})
	}

	bloomK, err := readU32(r)
	if err != nil {
		return nil, err
	}
	bloomBytes, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	idx.bloom = &bloomFilter{k: bloomK, bits: &bitset.BitSet{}}
	if err := idx.bloom.bits.UnmarshalBinary(bloomBytes); err != nil {
		return nil, err
	}

	tempBytes, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	idx.tempPages = roaring.New()
	if err := idx.tempPages.UnmarshalBinary(tempBytes); err != nil {
		return nil, err
	}

	rangeCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < rangeCount; i++ {
		var acc ledger.AccountID
		if _, err := io.ReadFull(r, acc[:]); err != nil {
			return nil, err
		}
		begin, err := readI64(r)
		if err != nil {
			return nil, err
		}
		end, err := readI64(r)
		if err != nil {
			return nil, err
		}
		idx.trustRanges[acc] = Range{Begin: begin, End: end}
	}
	return idx, nil
}
