package snapshot

import "bytes"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// StripBOM removes a leading UTF-8 byte-order mark, if present. Applying
// it to input without a BOM is a no-op, so it is safe to call twice.
func StripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, utf8BOM)
}
