// Package volume reads the zip archives of a backup repository.
//
// A Volume is a handle to one archive. Opening a volume parses the zip
// central directory once; cloning a volume opens a fresh descriptor that
// shares the parsed directory, so many workers can stream entries from
// the same archive without serialising on a single file position.
package volume

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/klauspost/compress/flate"
)

// Buffered-read capacities shared by all clones of an archive.
//
// Indexing touches only the archive tail, so a large buffer just rereads
// bytes; bulk entry reads after indexing want the opposite.
const (
	DefaultIndexBufferSize int64 = 1 << 10
	RestoreBufferSize      int64 = 32 << 10
)

// Sentinel errors.
var (
	// ErrCorrupt is returned when an archive's structure cannot be parsed.
	ErrCorrupt = errors.New("volume: corrupt archive")

	// ErrUnsupportedMethod is returned for compression methods other than
	// store and deflate.
	ErrUnsupportedMethod = errors.New("volume: unsupported compression method")
)

// Volume is one read handle to an archive.
//
// A Volume is not safe for concurrent use; call Clone to get an
// independent handle over the same shared directory for each worker.
type Volume struct {
	dir *directory
	f   *os.File
	br  *bufio.Reader
	fr  io.ReadCloser // reusable inflater, created on first deflated entry
}

// Open parses the archive's central directory and returns a handle.
func Open(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dir, err := readDirectory(path, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read directory of %s: %w", path, err)
	}
	return &Volume{dir: dir, f: f}, nil
}

// Clone opens a fresh descriptor for the same archive, reusing the parsed
// directory. The clone is independent of v and of every other clone.
func (v *Volume) Clone() (*Volume, error) {
	f, err := os.Open(v.dir.path)
	if err != nil {
		return nil, err
	}
	return &Volume{dir: v.dir, f: f}, nil
}

// Close releases the handle's descriptor. The shared directory stays
// valid for other clones.
func (v *Volume) Close() error {
	if v.f == nil {
		return nil
	}
	err := v.f.Close()
	v.f = nil
	return err
}

// Path returns the archive's path.
func (v *Volume) Path() string {
	return v.dir.path
}

// Len returns the number of entries in the archive.
func (v *Volume) Len() int {
	return len(v.dir.entries)
}

// EntryIndex returns the directory index of the named entry. The name is
// taken as bytes so probing lookups stay allocation-free.
func (v *Volume) EntryIndex(name []byte) (uint32, bool) {
	idx, ok := v.dir.byName[string(name)]
	return idx, ok
}

// Contains reports whether the archive has an entry with this name.
func (v *Volume) Contains(name []byte) bool {
	_, ok := v.dir.byName[string(name)]
	return ok
}

// Names iterates (index, name) pairs in central-directory order. Used
// during indexing; the index values are the ones EntryIndex returns.
func (v *Volume) Names() iter.Seq2[uint32, string] {
	return func(yield func(uint32, string) bool) {
		for i := range v.dir.entries {
			if !yield(uint32(i), v.dir.entries[i].name) {
				return
			}
		}
	}
}

// SetBufferSize changes the buffered-read capacity for this archive and
// all of its clones. Each handle picks the new size up on its next read.
func (v *Volume) SetBufferSize(n int64) {
	v.dir.bufSize.Store(n)
}

// ReadEntry streams the named entry, appending its bytes to dst, and
// returns the extended slice.
func (v *Volume) ReadEntry(name []byte, dst []byte) ([]byte, error) {
	idx, ok := v.dir.byName[string(name)]
	if !ok {
		return dst, fmt.Errorf("volume %s: no entry %q", v.dir.path, name)
	}
	return v.ReadEntryAt(idx, dst)
}

// ReadEntryAt streams the entry at the given directory index, appending
// its bytes to dst, and returns the extended slice.
func (v *Volume) ReadEntryAt(idx uint32, dst []byte) ([]byte, error) {
	if int(idx) >= len(v.dir.entries) {
		return dst, fmt.Errorf("volume %s: entry index %d out of range", v.dir.path, idx)
	}
	e := &v.dir.entries[idx]

	body, err := v.openBody(e)
	if err != nil {
		return dst, fmt.Errorf("volume %s: entry %s: %w", v.dir.path, e.name, err)
	}

	// The directory already knows the uncompressed size, so grow dst once
	// and fill it in place instead of copying through a scratch buffer.
	n := len(dst)
	total := n + int(e.uncompressedSize)
	if cap(dst) < total {
		grown := make([]byte, total)
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:total]
	if _, err := io.ReadFull(body, dst[n:]); err != nil {
		return dst[:n], fmt.Errorf("volume %s: entry %s: %w", v.dir.path, e.name, err)
	}
	return dst, nil
}

// openBody positions the handle at the entry's data and returns a reader
// over the decompressed bytes.
func (v *Volume) openBody(e *entry) (io.Reader, error) {
	if _, err := v.f.Seek(e.headerOffset, io.SeekStart); err != nil {
		return nil, err
	}
	v.resetBuffer()

	var hdr [localHeaderLen]byte
	if _, err := io.ReadFull(v.br, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: local header: %w", ErrCorrupt, err)
	}
	if binary.LittleEndian.Uint32(hdr[:]) != sigLocalHeader {
		return nil, fmt.Errorf("%w: bad local-header signature", ErrCorrupt)
	}
	skip := int64(binary.LittleEndian.Uint16(hdr[26:])) + int64(binary.LittleEndian.Uint16(hdr[28:]))
	if _, err := io.CopyN(io.Discard, v.br, skip); err != nil {
		return nil, fmt.Errorf("%w: local header: %w", ErrCorrupt, err)
	}

	raw := io.LimitReader(v.br, e.compressedSize)
	switch e.method {
	case methodStore:
		return raw, nil
	case methodDeflate:
		if v.fr == nil {
			v.fr = flate.NewReader(raw)
			return v.fr, nil
		}
		if err := v.fr.(flate.Resetter).Reset(raw, nil); err != nil {
			return nil, err
		}
		return v.fr, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMethod, e.method)
	}
}

// resetBuffer rebinds the handle's buffered reader to the current file
// position, re-sizing it if the shared capacity changed since last read.
func (v *Volume) resetBuffer() {
	want := int(v.dir.bufSize.Load())
	if v.br == nil || v.br.Size() != want {
		v.br = bufio.NewReaderSize(v.f, want)
		return
	}
	v.br.Reset(v.f)
}
