// Package digest implements the 32-byte content digest used to address
// blocks in a deduplicated backup repository.
//
// Digests appear textually in two places with two alphabets: data-archive
// entry names use URL-safe base64, snapshot JSON uses standard base64.
// Both decode to the same 32 raw bytes; equality, ordering, and hashing
// are always over the raw bytes.
package digest

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the length of a raw digest in bytes (SHA-256).
const Size = 32

// EncodedLen is the length of a base64-encoded digest. Scratch buffers
// passed to the Append methods should have at least this much capacity to
// avoid growing.
const EncodedLen = 44 // base64 of 32 bytes, padded

// ErrLength is returned when decoded input is not exactly Size bytes.
var ErrLength = errors.New("digest: not 32 bytes")

// Digest is a raw 32-byte content digest.
//
// It is a value type: copy it freely, compare it with ==, use it as a map
// key. The zero value is a valid (if meaningless) digest of all zeros.
type Digest [Size]byte

var (
	stdEnc = base64.StdEncoding
	urlEnc = base64.URLEncoding
)

// FromBytes constructs a Digest from raw bytes.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return d, fmt.Errorf("%w: got %d", ErrLength, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// DecodeStd decodes a standard-base64 digest, as found in snapshot JSON.
func DecodeStd(s string) (Digest, error) {
	return decode(stdEnc, s)
}

// DecodeURL decodes a URL-safe-base64 digest, as used for archive entry
// names.
func DecodeURL(s string) (Digest, error) {
	return decode(urlEnc, s)
}

func decode(enc *base64.Encoding, s string) (Digest, error) {
	var d Digest
	// Reject anything that cannot be exactly 32 bytes before decoding so
	// the scratch array below cannot overflow.
	if enc.DecodedLen(len(s)) < Size || len(s) > EncodedLen {
		return d, fmt.Errorf("%w: %q", ErrLength, s)
	}
	var scratch [EncodedLen]byte
	n, err := enc.Decode(scratch[:], []byte(s))
	if err != nil {
		return d, fmt.Errorf("digest: decode %q: %w", s, err)
	}
	if n != Size {
		return d, fmt.Errorf("%w: got %d", ErrLength, n)
	}
	copy(d[:], scratch[:Size])
	return d, nil
}

// AppendStd appends the standard-base64 encoding of d to dst and returns
// the extended slice. With a caller-owned scratch of capacity EncodedLen
// or more this does not allocate.
func (d Digest) AppendStd(dst []byte) []byte {
	return stdEnc.AppendEncode(dst, d[:])
}

// AppendURL appends the URL-safe-base64 encoding of d to dst.
func (d Digest) AppendURL(dst []byte) []byte {
	return urlEnc.AppendEncode(dst, d[:])
}

// EncodeStd returns the standard-base64 encoding of d.
func (d Digest) EncodeStd() string {
	return stdEnc.EncodeToString(d[:])
}

// EncodeURL returns the URL-safe-base64 encoding of d.
func (d Digest) EncodeURL() string {
	return urlEnc.EncodeToString(d[:])
}

// Hex returns the lowercase hex encoding, for diagnostics.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer as lowercase hex.
func (d Digest) String() string {
	return d.Hex()
}

// Compare orders digests byte-wise, like bytes.Compare.
func (d Digest) Compare(o Digest) int {
	return bytes.Compare(d[:], o[:])
}
