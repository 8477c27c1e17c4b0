package restore_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/duprestore/blockmap"
	"github.com/meigma/duprestore/digest"
	"github.com/meigma/duprestore/internal/testutil"
	"github.com/meigma/duprestore/restore"
	"github.com/meigma/duprestore/snapshot"
	"github.com/meigma/duprestore/volume"
)

func testManifest(blocksize int) *snapshot.Manifest {
	return &snapshot.Manifest{
		Version:   2,
		Blocksize: blocksize,
		BlockHash: snapshot.BlockHashSHA256,
		FileHash:  snapshot.BlockHashSHA256,
	}
}

// indexWithBlocks writes one dblock archive holding every block and
// returns a frozen index over it.
func indexWithBlocks(t *testing.T, blocks [][]byte) *blockmap.Index {
	t.Helper()

	var entries []testutil.ZipEntry
	for _, data := range blocks {
		sum := testutil.Sum(data)
		d, err := digest.FromBytes(sum[:])
		require.NoError(t, err)
		entries = append(entries, testutil.ZipEntry{Name: d.EncodeURL(), Data: data})
	}
	path := filepath.Join(t.TempDir(), "blocks-dblock.zip")
	testutil.WriteZip(t, path, entries)

	v, err := volume.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })

	ix := blockmap.New(true)
	require.NoError(t, ix.Add(v))
	ix.Freeze()
	return ix
}

func sumOf(t *testing.T, data []byte) digest.Digest {
	t.Helper()
	sum := testutil.Sum(data)
	d, err := digest.FromBytes(sum[:])
	require.NoError(t, err)
	return d
}

func TestRestoreAllSingleBlockFiles(t *testing.T) {
	t.Parallel()

	payload1 := []byte("first file content")
	payload2 := []byte("second file content")
	ix := indexWithBlocks(t, [][]byte{payload1, payload2})

	root := t.TempDir()
	en := restore.NewEngine(ix, testManifest(1024),
		restore.WithRoot(root),
		restore.WithReplaceBackslash(true),
		restore.WithWorkers(2),
	)

	entries := []*snapshot.Entry{
		{Path: "/dir", Kind: snapshot.KindFolder},
		{Path: "/dir/one.txt", Kind: snapshot.KindFile, Hash: sumOf(t, payload1), Size: int64(len(payload1))},
		{Path: "/dir/two.txt", Kind: snapshot.KindFile, Hash: sumOf(t, payload2), Size: int64(len(payload2))},
		{Path: "/dir/link", Kind: snapshot.KindSymlink},
	}
	stats, err := en.RestoreAll(context.Background(), entries)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Files)
	assert.Equal(t, int64(1), stats.Folders)
	assert.Equal(t, int64(1), stats.Symlinks)
	assert.Equal(t, int64(len(payload1)+len(payload2)), stats.Bytes)

	got, err := os.ReadFile(filepath.Join(root, "dir", "one.txt"))
	require.NoError(t, err)
	assert.Equal(t, payload1, got)
	got, err = os.ReadFile(filepath.Join(root, "dir", "two.txt"))
	require.NoError(t, err)
	assert.Equal(t, payload2, got)

	// Symlink entries restore to nothing.
	_, err = os.Lstat(filepath.Join(root, "dir", "link"))
	assert.True(t, os.IsNotExist(err))
}

func TestRestoreAllVerifyOnly(t *testing.T) {
	t.Parallel()

	payload := []byte("verified, never written")
	ix := indexWithBlocks(t, [][]byte{payload})

	en := restore.NewEngine(ix, testManifest(1024), restore.WithReplaceBackslash(true))
	require.True(t, en.VerifyOnly())

	entries := []*snapshot.Entry{
		{Path: "/d", Kind: snapshot.KindFolder},
		{Path: "/d/f.bin", Kind: snapshot.KindFile, Hash: sumOf(t, payload), Size: int64(len(payload))},
	}
	stats, err := en.RestoreAll(context.Background(), entries)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Files)
	assert.Equal(t, int64(len(payload)), stats.Bytes)
}

func TestRestoreAllVerifyOnlyCatchesCorruption(t *testing.T) {
	t.Parallel()

	payload := []byte("original content here")
	corrupted := append([]byte{}, payload...)
	corrupted[0] ^= 0xFF

	// The archive stores corrupted bytes under the pristine payload's
	// digest name.
	h := sumOf(t, payload)
	path := filepath.Join(t.TempDir(), "bad-dblock.zip")
	testutil.WriteZip(t, path, []testutil.ZipEntry{
		{Name: h.EncodeURL(), Data: corrupted},
	})
	v, err := volume.Open(path)
	require.NoError(t, err)
	defer v.Close()
	ix := blockmap.New(true)
	require.NoError(t, ix.Add(v))
	ix.Freeze()

	en := restore.NewEngine(ix, testManifest(1024), restore.WithReplaceBackslash(true))

	entries := []*snapshot.Entry{
		{Path: "/f.bin", Kind: snapshot.KindFile, Hash: h, Size: int64(len(payload))},
	}
	_, err = en.RestoreAll(context.Background(), entries)
	assert.ErrorIs(t, err, restore.ErrHashMismatch)
}

func TestRestoreAllMissingBlock(t *testing.T) {
	t.Parallel()

	ix := indexWithBlocks(t, [][]byte{[]byte("unrelated")})
	en := restore.NewEngine(ix, testManifest(1024),
		restore.WithRoot(t.TempDir()),
		restore.WithReplaceBackslash(true),
	)

	entries := []*snapshot.Entry{
		{Path: "/gone.bin", Kind: snapshot.KindFile, Hash: sumOf(t, []byte("never stored")), Size: 12},
	}
	_, err := en.RestoreAll(context.Background(), entries)
	assert.ErrorIs(t, err, restore.ErrMissingBlock)
}

func TestRestoreEntryDispatch(t *testing.T) {
	t.Parallel()

	payload := []byte("dispatched")
	ix := indexWithBlocks(t, [][]byte{payload})
	root := t.TempDir()
	en := restore.NewEngine(ix, testManifest(1024),
		restore.WithRoot(root),
		restore.WithReplaceBackslash(true),
	)

	rc := restore.NewContext()
	defer rc.Close()
	ctx := context.Background()

	require.NoError(t, en.RestoreEntry(ctx, &snapshot.Entry{Path: "/sub", Kind: snapshot.KindFolder}, rc))
	info, err := os.Stat(filepath.Join(root, "sub"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, en.RestoreEntry(ctx, &snapshot.Entry{
		Path: "/sub/f.bin", Kind: snapshot.KindFile,
		Hash: sumOf(t, payload), Size: int64(len(payload)),
	}, rc))
	got, err := os.ReadFile(filepath.Join(root, "sub", "f.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, en.RestoreEntry(ctx, &snapshot.Entry{Path: "/sub/link", Kind: snapshot.KindSymlink}, rc))
}

func TestEngineProgress(t *testing.T) {
	t.Parallel()

	payload := []byte("tracked")
	ix := indexWithBlocks(t, [][]byte{payload})

	var mu lockedPaths
	en := restore.NewEngine(ix, testManifest(1024),
		restore.WithRoot(t.TempDir()),
		restore.WithReplaceBackslash(true),
		restore.WithProgress(mu.add),
	)

	entries := []*snapshot.Entry{
		{Path: "/d", Kind: snapshot.KindFolder},
		{Path: "/d/f", Kind: snapshot.KindFile, Hash: sumOf(t, payload), Size: int64(len(payload))},
	}
	_, err := en.RestoreAll(context.Background(), entries)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/d", "/d/f"}, mu.paths())
}

type lockedPaths struct {
	mu sync.Mutex
	ps []string
}

func (l *lockedPaths) add(e *snapshot.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ps = append(l.ps, e.Path)
}

func (l *lockedPaths) paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ps...)
}
