package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// Zip record signatures.
const (
	sigEOCD        = 0x06054b50
	sigEOCD64      = 0x06064b50
	sigEOCD64Loc   = 0x07064b50
	sigCentralDir  = 0x02014b50
	sigLocalHeader = 0x04034b50
)

// Fixed record lengths.
const (
	eocdLen        = 22
	eocd64Len      = 56
	eocd64LocLen   = 20
	centralDirLen  = 46
	localHeaderLen = 30
)

// Compression methods stored per entry.
const (
	methodStore   = 0
	methodDeflate = 8
)

const maxCommentLen = 0xFFFF

// entry is one central-directory row. Offsets and sizes come from the
// central directory, never from local headers (local headers may carry
// zeros when bit 3 of the flags is set).
type entry struct {
	name             string
	headerOffset     int64
	compressedSize   int64
	uncompressedSize int64
	method           uint16
}

// directory is the parsed central directory of one archive, shared
// read-only by every handle cloned from the same Open call.
type directory struct {
	path    string
	entries []entry
	byName  map[string]uint32

	// bufSize is the buffered-read capacity for all handles of this
	// archive. Small while indexing (directory reads touch only the
	// tail), grown once indexing completes and bulk entry reads begin.
	bufSize atomic.Int64
}

// readDirectory parses the central directory of the zip at f.
func readDirectory(path string, f *os.File) (*directory, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size < eocdLen {
		return nil, fmt.Errorf("%w: %d byte file", ErrCorrupt, size)
	}

	cdOffset, cdSize, count, err := findEOCD(f, size)
	if err != nil {
		return nil, err
	}

	d := &directory{
		path:    path,
		entries: make([]entry, 0, count),
		byName:  make(map[string]uint32, count),
	}
	d.bufSize.Store(DefaultIndexBufferSize)

	if err := d.readEntries(io.NewSectionReader(f, cdOffset, cdSize), count); err != nil {
		return nil, err
	}
	return d, nil
}

// findEOCD locates the end-of-central-directory record by scanning the
// file tail backwards, following the zip64 locator when the 32-bit
// fields are saturated.
func findEOCD(f *os.File, size int64) (cdOffset, cdSize int64, count uint64, err error) {
	tailLen := int64(eocdLen + maxCommentLen)
	if tailLen > size {
		tailLen = size
	}
	tail := make([]byte, tailLen)
	tailStart := size - tailLen
	if _, err := f.ReadAt(tail, tailStart); err != nil {
		return 0, 0, 0, err
	}

	eocdAt := -1
	for i := len(tail) - eocdLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(tail[i:]) == sigEOCD {
			eocdAt = i
			break
		}
	}
	if eocdAt < 0 {
		return 0, 0, 0, fmt.Errorf("%w: no end-of-central-directory record", ErrCorrupt)
	}
	rec := tail[eocdAt:]
	count = uint64(binary.LittleEndian.Uint16(rec[10:]))
	cdSize = int64(binary.LittleEndian.Uint32(rec[12:]))
	cdOffset = int64(binary.LittleEndian.Uint32(rec[16:]))

	if count != 0xFFFF && uint32(cdOffset) != 0xFFFFFFFF && uint32(cdSize) != 0xFFFFFFFF {
		return cdOffset, cdSize, count, nil
	}

	// Zip64: the locator sits immediately before the EOCD record.
	locAt := tailStart + int64(eocdAt) - eocd64LocLen
	if locAt < 0 {
		return 0, 0, 0, fmt.Errorf("%w: zip64 sizes without locator", ErrCorrupt)
	}
	var loc [eocd64LocLen]byte
	if _, err := f.ReadAt(loc[:], locAt); err != nil {
		return 0, 0, 0, err
	}
	if binary.LittleEndian.Uint32(loc[:]) != sigEOCD64Loc {
		return 0, 0, 0, fmt.Errorf("%w: zip64 sizes without locator", ErrCorrupt)
	}
	eocd64At := int64(binary.LittleEndian.Uint64(loc[8:]))

	var rec64 [eocd64Len]byte
	if _, err := f.ReadAt(rec64[:], eocd64At); err != nil {
		return 0, 0, 0, err
	}
	if binary.LittleEndian.Uint32(rec64[:]) != sigEOCD64 {
		return 0, 0, 0, fmt.Errorf("%w: bad zip64 end-of-central-directory record", ErrCorrupt)
	}
	count = binary.LittleEndian.Uint64(rec64[32:])
	cdSize = int64(binary.LittleEndian.Uint64(rec64[40:]))
	cdOffset = int64(binary.LittleEndian.Uint64(rec64[48:]))
	return cdOffset, cdSize, count, nil
}

// readEntries parses count central-directory file headers from r.
func (d *directory) readEntries(r io.Reader, count uint64) error {
	var fixed [centralDirLen]byte
	var nameBuf []byte
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(r, fixed[:]); err != nil {
			return fmt.Errorf("%w: central directory truncated: %w", ErrCorrupt, err)
		}
		if binary.LittleEndian.Uint32(fixed[:]) != sigCentralDir {
			return fmt.Errorf("%w: bad central-directory signature", ErrCorrupt)
		}
		method := binary.LittleEndian.Uint16(fixed[10:])
		csize := uint64(binary.LittleEndian.Uint32(fixed[20:]))
		usize := uint64(binary.LittleEndian.Uint32(fixed[24:]))
		nameLen := int(binary.LittleEndian.Uint16(fixed[28:]))
		extraLen := int(binary.LittleEndian.Uint16(fixed[30:]))
		commentLen := int(binary.LittleEndian.Uint16(fixed[32:]))
		headerOffset := uint64(binary.LittleEndian.Uint32(fixed[42:]))

		if cap(nameBuf) < nameLen {
			nameBuf = make([]byte, nameLen)
		}
		nameBuf = nameBuf[:nameLen]
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return fmt.Errorf("%w: entry name truncated: %w", ErrCorrupt, err)
		}
		name := string(nameBuf)

		extra := make([]byte, extraLen)
		if _, err := io.ReadFull(r, extra); err != nil {
			return fmt.Errorf("%w: extra field truncated: %w", ErrCorrupt, err)
		}
		if err := applyZip64Extra(extra, &usize, &csize, &headerOffset); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
		}
		if commentLen > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(commentLen)); err != nil {
				return fmt.Errorf("%w: entry comment truncated: %w", ErrCorrupt, err)
			}
		}

		idx := uint32(len(d.entries))
		d.entries = append(d.entries, entry{
			name:             name,
			headerOffset:     int64(headerOffset),
			compressedSize:   int64(csize),
			uncompressedSize: int64(usize),
			method:           method,
		})
		d.byName[name] = idx
	}
	return nil
}

// applyZip64Extra overwrites the saturated 32-bit fields from the zip64
// extended-information extra field, if present. The field carries only
// the values that are 0xFFFFFFFF in the fixed header, in a fixed order.
func applyZip64Extra(extra []byte, usize, csize, headerOffset *uint64) error {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		n := int(binary.LittleEndian.Uint16(extra[2:]))
		if len(extra[4:]) < n {
			return errors.New("short extra field")
		}
		body := extra[4 : 4+n]
		extra = extra[4+n:]
		if id != 0x0001 {
			continue
		}
		for _, field := range []*uint64{usize, csize, headerOffset} {
			if uint32(*field) != 0xFFFFFFFF {
				continue
			}
			if len(body) < 8 {
				return errors.New("short zip64 extra field")
			}
			*field = binary.LittleEndian.Uint64(body)
			body = body[8:]
		}
	}
	return nil
}
