// Package snapshot parses the contents of a list archive: the manifest
// describing the repository's parameters and the filelist describing one
// backed-up file tree.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/meigma/duprestore/digest"
)

// Sentinel errors.
var (
	// ErrManifest is returned when the manifest is missing required
	// fields or malformed.
	ErrManifest = errors.New("snapshot: invalid manifest")

	// ErrFilelist is returned when the filelist is malformed or an entry
	// misses a required field.
	ErrFilelist = errors.New("snapshot: invalid filelist")
)

// BlockHashSHA256 is the only block hash algorithm supported.
const BlockHashSHA256 = "SHA-256"

// Manifest is the repository metadata stored in every list archive.
//
// Blocksize defines the stride of offset writes during reassembly, so it
// must be read before any file assembly starts. Unknown fields are
// ignored.
type Manifest struct {
	Version    int    `json:"Version"`
	Created    string `json:"Created"`
	Encoding   string `json:"Encoding"`
	Blocksize  int    `json:"Blocksize"`
	BlockHash  string `json:"BlockHash"`
	FileHash   string `json:"FileHash"`
	AppVersion string `json:"AppVersion"`
}

// ParseManifest decodes a manifest document, stripping a UTF-8 BOM first.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(StripBOM(data), &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}
	if m.Blocksize <= 0 {
		return nil, fmt.Errorf("%w: Blocksize %d", ErrManifest, m.Blocksize)
	}
	if m.BlockHash != BlockHashSHA256 {
		return nil, fmt.Errorf("%w: BlockHash %q", ErrManifest, m.BlockHash)
	}
	return &m, nil
}

// HashesPerBlock is how many raw digests fit in one full block, which is
// also how many content blocks one block-list block covers.
func (m *Manifest) HashesPerBlock() int {
	return m.Blocksize / digest.Size
}

// OffsetStride is the span of original file bytes covered by one
// block-list block.
func (m *Manifest) OffsetStride() int64 {
	return int64(m.HashesPerBlock()) * int64(m.Blocksize)
}
