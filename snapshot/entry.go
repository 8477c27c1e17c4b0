package snapshot

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/meigma/duprestore/digest"
)

// Kind classifies a filelist entry.
type Kind int

// Entry kinds. Unknown type strings map to KindSymlink, which restores
// to nothing.
const (
	KindFile Kind = iota
	KindFolder
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "File"
	case KindFolder:
		return "Folder"
	default:
		return "Symlink"
	}
}

// Entry is one row of the snapshot: a file, folder, or symlink to
// materialise.
type Entry struct {
	// Path is the original absolute path, possibly with a drive letter
	// and backslashes when the backup was taken on Windows.
	Path string
	Kind Kind

	// Hash is the digest of the whole file (files only). For files no
	// larger than one block it directly addresses the content block.
	Hash digest.Digest
	// Size is the original file length in bytes (files only).
	Size int64
	// Time is the recorded modification time. It is carried verbatim and
	// not applied to restored files.
	Time string

	// MetaBlockHash names the folder's metadata block (folders only).
	// Opaque to the restore path.
	MetaBlockHash string

	// Blocklists holds, in order, the digests of the block-list blocks
	// of a multi-block file. Empty for files that fit in one block.
	Blocklists []digest.Digest

	// Metahash and Metasize describe the entry's metadata stream.
	// Carried but unused.
	Metahash string
	Metasize int64
}

// IsFile reports whether the entry restores file content.
func (e *Entry) IsFile() bool { return e.Kind == KindFile }

// IsFolder reports whether the entry is a directory.
func (e *Entry) IsFolder() bool { return e.Kind == KindFolder }

// PredictedCost is a rough on-disk cost of restoring the entry: directory
// overhead plus path length plus, for files, content size.
func (e *Entry) PredictedCost() int64 {
	cost := 4<<10 + int64(len(e.Path))
	if e.Kind == KindFile {
		cost += e.Size
	}
	return cost
}

// Compare orders entries by path, then kind. It is the tie-break of the
// locality sort, keeping it deterministic.
func (e *Entry) Compare(o *Entry) int {
	if c := strings.Compare(e.Path, o.Path); c != 0 {
		return c
	}
	return int(e.Kind) - int(o.Kind)
}

// rawEntry is the filelist JSON shape. Unknown fields are tolerated.
type rawEntry struct {
	Type          string   `json:"type"`
	Path          string   `json:"path"`
	Hash          *string  `json:"hash"`
	Size          *int64   `json:"size"`
	Time          *string  `json:"time"`
	MetaBlockHash *string  `json:"metablockhash"`
	Metahash      string   `json:"metahash"`
	Metasize      int64    `json:"metasize"`
	Blocklists    []string `json:"blocklists"`
}

// The filelist can run to many megabytes; jsoniter decodes it several
// times faster than encoding/json with the same tag semantics.
var filelistJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseFilelist decodes a filelist document into entries, stripping a
// UTF-8 BOM first. It fails hard on malformed JSON, on File entries
// missing hash, size, or time, and on Folder entries missing
// metablockhash.
func ParseFilelist(data []byte) ([]*Entry, error) {
	var raw []rawEntry
	if err := filelistJSON.Unmarshal(StripBOM(data), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFilelist, err)
	}

	entries := make([]*Entry, 0, len(raw))
	for i := range raw {
		e, err := fromRaw(&raw[i])
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d (%s): %w", ErrFilelist, i, raw[i].Path, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func fromRaw(r *rawEntry) (*Entry, error) {
	e := &Entry{
		Path:     r.Path,
		Metahash: r.Metahash,
		Metasize: r.Metasize,
	}

	for _, b := range r.Blocklists {
		d, err := digest.DecodeStd(b)
		if err != nil {
			return nil, fmt.Errorf("blocklists: %w", err)
		}
		e.Blocklists = append(e.Blocklists, d)
	}

	switch r.Type {
	case "File":
		e.Kind = KindFile
		if r.Hash == nil {
			return nil, fmt.Errorf("file missing hash")
		}
		h, err := digest.DecodeStd(*r.Hash)
		if err != nil {
			return nil, fmt.Errorf("hash: %w", err)
		}
		e.Hash = h
		if r.Size == nil {
			return nil, fmt.Errorf("file missing size")
		}
		e.Size = *r.Size
		if r.Time == nil {
			return nil, fmt.Errorf("file missing time")
		}
		e.Time = *r.Time
	case "Folder":
		e.Kind = KindFolder
		if r.MetaBlockHash == nil {
			return nil, fmt.Errorf("folder missing metablockhash")
		}
		e.MetaBlockHash = *r.MetaBlockHash
	default:
		e.Kind = KindSymlink
	}
	return e, nil
}
