// Package testutil builds throwaway backup-repository fixtures for
// tests.
package testutil

import (
	"archive/zip"
	"crypto/sha256"
	"io"
	"os"
	"testing"

	"github.com/klauspost/compress/flate"
)

// ZipEntry is one entry to write into a fixture archive. Entries keep
// their slice order, so tests can rely on directory indexes.
type ZipEntry struct {
	Name   string
	Data   []byte
	Stored bool // write uncompressed instead of deflated
}

// WriteZip writes a zip file with the given entries at path. Deflated
// entries go through the same flate implementation the reader uses.
func WriteZip(tb testing.TB, path string, entries []ZipEntry) {
	tb.Helper()

	f, err := os.Create(path)
	if err != nil {
		tb.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		if e.Stored {
			hdr.Method = zip.Store
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			tb.Fatal(err)
		}
		if _, err := w.Write(e.Data); err != nil {
			tb.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatal(err)
	}
	if err := f.Close(); err != nil {
		tb.Fatal(err)
	}
}

// Sum returns the SHA-256 of data as raw bytes.
func Sum(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}
