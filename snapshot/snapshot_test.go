package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/duprestore/digest"
)

func TestStripBOM(t *testing.T) {
	t.Parallel()

	with := []byte{0xEF, 0xBB, 0xBF, '{', '}'}
	assert.Equal(t, []byte("{}"), StripBOM(with))

	// Idempotent: stripping input without a BOM is a no-op.
	without := []byte("{}")
	assert.Equal(t, without, StripBOM(without))
	assert.Equal(t, []byte("{}"), StripBOM(StripBOM(with)))

	assert.Empty(t, StripBOM([]byte{0xEF, 0xBB, 0xBF}))
	assert.Equal(t, []byte{0xEF, 0xBB}, StripBOM([]byte{0xEF, 0xBB}))
}

const validManifest = `{
	"Version": 2,
	"Created": "20240101T000000Z",
	"Encoding": "utf8",
	"Blocksize": 102400,
	"BlockHash": "SHA-256",
	"FileHash": "SHA-256",
	"AppVersion": "2.0.0.1"
}`

func TestParseManifest(t *testing.T) {
	t.Parallel()

	m, err := ParseManifest([]byte(validManifest))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Version)
	assert.Equal(t, 102400, m.Blocksize)
	assert.Equal(t, "SHA-256", m.BlockHash)
	assert.Equal(t, 3200, m.HashesPerBlock())
	assert.Equal(t, int64(3200)*102400, m.OffsetStride())
}

func TestParseManifestWithBOM(t *testing.T) {
	t.Parallel()

	m, err := ParseManifest(append([]byte{0xEF, 0xBB, 0xBF}, validManifest...))
	require.NoError(t, err)
	assert.Equal(t, 102400, m.Blocksize)
}

func TestParseManifestInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{"Blocksize": `},
		{"zero blocksize", `{"Blocksize": 0, "BlockHash": "SHA-256"}`},
		{"negative blocksize", `{"Blocksize": -1, "BlockHash": "SHA-256"}`},
		{"wrong hash", `{"Blocksize": 1024, "BlockHash": "MD5"}`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data))
			assert.ErrorIs(t, err, ErrManifest)
		})
	}
}

func b64(b []byte) string {
	d, err := digest.FromBytes(b)
	if err != nil {
		panic(err)
	}
	return d.EncodeStd()
}

func pattern(fill byte) []byte {
	b := make([]byte, digest.Size)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestParseFilelist(t *testing.T) {
	t.Parallel()

	doc := `[
		{"type": "File", "path": "C:\\Users\\x\\a.bin", "hash": "` + b64(pattern(1)) + `",
		 "size": 15, "time": "20240101T000000Z", "metahash": "mh", "metasize": 10},
		{"type": "Folder", "path": "C:\\Users\\x", "metablockhash": "` + b64(pattern(2)) + `",
		 "metahash": "mh", "metasize": 10},
		{"type": "File", "path": "/big.bin", "hash": "` + b64(pattern(3)) + `",
		 "size": 300000, "time": "t", "metahash": "mh", "metasize": 10,
		 "blocklists": ["` + b64(pattern(4)) + `", "` + b64(pattern(5)) + `"]},
		{"type": "SymLink", "path": "/link", "metahash": "mh", "metasize": 10},
		{"type": "AlternateStream", "path": "/weird", "metahash": "mh", "metasize": 10}
	]`

	entries, err := ParseFilelist([]byte(doc))
	require.NoError(t, err)
	require.Len(t, entries, 5)

	f := entries[0]
	assert.Equal(t, KindFile, f.Kind)
	assert.Equal(t, `C:\Users\x\a.bin`, f.Path)
	assert.Equal(t, int64(15), f.Size)
	assert.Equal(t, "20240101T000000Z", f.Time)
	assert.Empty(t, f.Blocklists)
	want, _ := digest.DecodeStd(b64(pattern(1)))
	assert.Equal(t, want, f.Hash)
	assert.True(t, f.IsFile())

	dir := entries[1]
	assert.Equal(t, KindFolder, dir.Kind)
	assert.True(t, dir.IsFolder())
	assert.NotEmpty(t, dir.MetaBlockHash)

	big := entries[2]
	require.Len(t, big.Blocklists, 2)
	bl0, _ := digest.DecodeStd(b64(pattern(4)))
	assert.Equal(t, bl0, big.Blocklists[0])

	// Both explicit symlinks and unknown types map to KindSymlink.
	assert.Equal(t, KindSymlink, entries[3].Kind)
	assert.Equal(t, KindSymlink, entries[4].Kind)
}

func TestParseFilelistWithBOM(t *testing.T) {
	t.Parallel()

	doc := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`[]`)...)
	entries, err := ParseFilelist(doc)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseFilelistInvalid(t *testing.T) {
	t.Parallel()

	h := b64(pattern(9))
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", `[{`},
		{"file missing hash", `[{"type": "File", "path": "/a", "size": 1, "time": "t", "metahash": "m", "metasize": 0}]`},
		{"file missing size", `[{"type": "File", "path": "/a", "hash": "` + h + `", "time": "t", "metahash": "m", "metasize": 0}]`},
		{"file missing time", `[{"type": "File", "path": "/a", "hash": "` + h + `", "size": 1, "metahash": "m", "metasize": 0}]`},
		{"folder missing metablockhash", `[{"type": "Folder", "path": "/d", "metahash": "m", "metasize": 0}]`},
		{"bad hash encoding", `[{"type": "File", "path": "/a", "hash": "notbase64!", "size": 1, "time": "t", "metahash": "m", "metasize": 0}]`},
		{"bad blocklist digest", `[{"type": "File", "path": "/a", "hash": "` + h + `", "size": 1, "time": "t", "metahash": "m", "metasize": 0, "blocklists": ["c2hvcnQ="]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFilelist([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrFilelist)
		})
	}
}

func TestPredictedCost(t *testing.T) {
	t.Parallel()

	file := &Entry{Path: "/a", Kind: KindFile, Size: 100}
	assert.Equal(t, int64(4<<10)+2+100, file.PredictedCost())

	dir := &Entry{Path: "/dir", Kind: KindFolder}
	assert.Equal(t, int64(4<<10)+4, dir.PredictedCost())
}

func TestEntryCompare(t *testing.T) {
	t.Parallel()

	a := &Entry{Path: "/a", Kind: KindFile}
	b := &Entry{Path: "/b", Kind: KindFile}
	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Zero(t, a.Compare(a))
}
