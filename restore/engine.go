// Package restore assembles files from a block index and writes them to
// disk, or verifies them without writing.
//
// The engine runs two passes: a folder pass that creates every directory
// and a file pass that restores every file on a bounded worker pool.
// Each file is owned by exactly one task; within a file, writes proceed
// in block order at absolute offsets.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	ocidigest "github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/duprestore/blockmap"
	"github.com/meigma/duprestore/digest"
	"github.com/meigma/duprestore/snapshot"
)

// DefaultWorkers is the file-pass pool size. Kept small: larger pools
// regress spinning-disk throughput through seek thrashing, which is also
// why the locality sort exists.
const DefaultWorkers = 4

// Sentinel errors for the assembly path.
var (
	// ErrMissingBlock is returned when a referenced content block is
	// absent from every archive.
	ErrMissingBlock = errors.New("restore: missing block")

	// ErrMissingBlocklist is returned when a referenced block-list block
	// is absent.
	ErrMissingBlocklist = errors.New("restore: missing blocklist")

	// ErrShortBlock is returned when a non-final content block is not
	// exactly the manifest block size, which would corrupt every later
	// offset.
	ErrShortBlock = errors.New("restore: short non-final block")

	// ErrHashMismatch is returned when the reassembled file does not
	// hash to the snapshot's declared digest.
	ErrHashMismatch = errors.New("restore: hash mismatch")
)

// Stats summarises a completed run.
type Stats struct {
	Files    int64
	Folders  int64
	Symlinks int64 // skipped, by design
	Bytes    int64
}

// Engine restores snapshot entries using blocks located through an
// index.
type Engine struct {
	ix       *blockmap.Index
	man      *snapshot.Manifest
	root     string // empty = verify-only
	slashfix bool
	workers  int
	logger   *slog.Logger
	progress func(*snapshot.Entry)
}

// Option configures an Engine.
type Option func(*Engine)

// WithRoot sets the restore root. Without it the engine runs in
// verify-only mode: no directories are created and no files are written,
// but every block fetch and hash check still runs.
func WithRoot(dir string) Option {
	return func(en *Engine) { en.root = dir }
}

// WithReplaceBackslash controls whether backslashes in snapshot paths
// become slashes. Set it when restoring a Windows backup elsewhere.
func WithReplaceBackslash(v bool) Option {
	return func(en *Engine) { en.slashfix = v }
}

// WithWorkers sets the worker pool size. Values < 1 keep the default.
func WithWorkers(n int) Option {
	return func(en *Engine) {
		if n >= 1 {
			en.workers = n
		}
	}
}

// WithLogger sets the logger. If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(en *Engine) { en.logger = logger }
}

// WithProgress sets a callback invoked once per completed entry. It may
// be called from multiple workers at once.
func WithProgress(fn func(*snapshot.Entry)) Option {
	return func(en *Engine) { en.progress = fn }
}

// NewEngine creates an engine over an index and the repository manifest.
func NewEngine(ix *blockmap.Index, man *snapshot.Manifest, opts ...Option) *Engine {
	en := &Engine{
		ix:      ix,
		man:     man,
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(en)
	}
	return en
}

// VerifyOnly reports whether the engine writes nothing to disk.
func (en *Engine) VerifyOnly() bool {
	return en.root == ""
}

func (en *Engine) log() *slog.Logger {
	if en.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return en.logger
}

// Target returns the on-disk path an entry restores to.
func (en *Engine) Target(e *snapshot.Entry) string {
	return filepath.Join(en.root, filepath.FromSlash(MapPath(e.Path, en.slashfix)))
}

// RestoreAll runs the folder pass, then the file pass.
//
// Folders are created concurrently (order is irrelevant); files are then
// restored in slice order, so sort entries by locality first. The first
// error stops the run: no new work starts, in-flight multi-block files
// stop at their next block-list block, and other in-flight entries run
// to completion. There are no retries; a missing
// block means a damaged repository, not a transient fault.
func (en *Engine) RestoreAll(ctx context.Context, entries []*snapshot.Entry) (*Stats, error) {
	var stats struct {
		files, folders, symlinks, bytes atomic.Int64
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(en.workers)
	for _, e := range entries {
		if !e.IsFolder() {
			continue
		}
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := en.restoreFolder(e); err != nil {
				return err
			}
			stats.folders.Add(1)
			en.notify(e)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	eg, gctx = errgroup.WithContext(ctx)
	jobs := make(chan *snapshot.Entry)
	eg.Go(func() error {
		defer close(jobs)
		for _, e := range entries {
			if !e.IsFile() {
				if e.Kind == snapshot.KindSymlink {
					stats.symlinks.Add(1)
					en.notify(e)
				}
				continue
			}
			select {
			case jobs <- e:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for range en.workers {
		eg.Go(func() error {
			rc := NewContext()
			defer rc.Close()
			for e := range jobs {
				n, err := en.restoreFile(gctx, e, rc)
				if err != nil {
					return fmt.Errorf("restore %s: %w", e.Path, err)
				}
				stats.files.Add(1)
				stats.bytes.Add(n)
				en.notify(e)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &Stats{
		Files:    stats.files.Load(),
		Folders:  stats.folders.Load(),
		Symlinks: stats.symlinks.Load(),
		Bytes:    stats.bytes.Load(),
	}, nil
}

// RestoreEntry restores one entry, dispatching on its kind. Symlinks are
// skipped without error.
func (en *Engine) RestoreEntry(ctx context.Context, e *snapshot.Entry, rc *Context) error {
	switch e.Kind {
	case snapshot.KindFolder:
		return en.restoreFolder(e)
	case snapshot.KindFile:
		_, err := en.restoreFile(ctx, e, rc)
		if err != nil {
			return fmt.Errorf("restore %s: %w", e.Path, err)
		}
		return nil
	default:
		return nil
	}
}

func (en *Engine) restoreFolder(e *snapshot.Entry) error {
	if en.VerifyOnly() {
		return nil
	}
	return os.MkdirAll(en.Target(e), 0o755)
}

// restoreFile assembles one file and verifies its digest, returning the
// number of content bytes observed.
func (en *Engine) restoreFile(ctx context.Context, e *snapshot.Entry, rc *Context) (int64, error) {
	var out *os.File
	if !en.VerifyOnly() {
		target := en.Target(e)
		// The snapshot usually carries the folder entries, but not
		// always (drive roots, filtered backups), so the parent may not
		// exist yet.
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return 0, err
		}
		f, err := os.Create(target)
		if err != nil {
			return 0, err
		}
		out = f
		defer out.Close()
	}

	verifier := ocidigest.NewDigestFromBytes(ocidigest.SHA256, e.Hash[:]).Verifier()

	var n int64
	var err error
	if len(e.Blocklists) == 0 {
		n, err = en.assembleSingle(e, rc, out, verifier)
	} else {
		n, err = en.assembleBlocklists(ctx, e, rc, out, verifier)
	}
	if errors.Is(err, errEmptyUnverified) {
		if out != nil {
			return 0, out.Close()
		}
		return 0, nil
	}
	if err != nil {
		return n, err
	}
	if !verifier.Verified() {
		return n, fmt.Errorf("%w: want %s", ErrHashMismatch, e.Hash)
	}
	if out != nil {
		if err := out.Close(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// errEmptyUnverified marks the empty-file case: the block is absent and
// the declared size is zero, which succeeds without a hash check.
var errEmptyUnverified = errors.New("empty file, nothing to verify")

// assembleSingle restores a file whose content is one block addressed
// directly by the file digest.
func (en *Engine) assembleSingle(e *snapshot.Entry, rc *Context, out *os.File, verifier ocidigest.Verifier) (int64, error) {
	en.log().Debug("restoring file", "path", e.Path, "blocks", 1)

	rc.block = rc.block[:0]
	block, found, err := en.fetchBlock(rc, e.Hash, rc.block)
	rc.block = block
	if err != nil {
		return 0, err
	}
	if !found {
		if e.Size == 0 {
			return 0, errEmptyUnverified
		}
		return 0, fmt.Errorf("%w: %s", ErrMissingBlock, e.Hash)
	}
	if out != nil {
		if _, err := out.Write(block); err != nil {
			return 0, err
		}
	}
	if _, err := verifier.Write(block); err != nil {
		return 0, err
	}
	return int64(len(block)), nil
}

// assembleBlocklists restores a file through the two-level indirection:
// each blocklist digest names a block whose payload is a concatenation
// of raw digests naming the content blocks.
func (en *Engine) assembleBlocklists(ctx context.Context, e *snapshot.Entry, rc *Context, out *os.File, verifier ocidigest.Verifier) (int64, error) {
	en.log().Debug("restoring file", "path", e.Path, "blocklists", len(e.Blocklists))

	blockSize := int64(en.man.Blocksize)
	stride := en.man.OffsetStride()

	var total int64
	prevLen := int64(-1)
	for j, blh := range e.Blocklists {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		rc.hashes = rc.hashes[:0]
		hashes, found, err := en.fetchBlock(rc, blh, rc.hashes)
		rc.hashes = hashes
		if err != nil {
			return total, err
		}
		if !found {
			return total, fmt.Errorf("%w: %s", ErrMissingBlocklist, blh)
		}
		if len(hashes)%digest.Size != 0 {
			return total, fmt.Errorf("blocklist %s: %d bytes is not a whole number of digests", blh, len(hashes))
		}

		for i := 0; i*digest.Size < len(hashes); i++ {
			d, err := digest.FromBytes(hashes[i*digest.Size : (i+1)*digest.Size])
			if err != nil {
				return total, err
			}

			rc.block = rc.block[:0]
			block, found, err := en.fetchBlock(rc, d, rc.block)
			rc.block = block
			if err != nil {
				return total, err
			}
			if !found {
				return total, fmt.Errorf("%w: %s (blocklist %d, block %d)", ErrMissingBlock, d, j, i)
			}

			// Every content block before the one now in hand must have
			// been full, or the offsets written so far are wrong. Only
			// the final block of the final blocklist may be short.
			if prevLen >= 0 && prevLen != blockSize {
				return total, fmt.Errorf("%w: got %d bytes, block size is %d", ErrShortBlock, prevLen, blockSize)
			}
			prevLen = int64(len(block))

			if out != nil {
				off := int64(j)*stride + int64(i)*blockSize
				if _, err := out.WriteAt(block, off); err != nil {
					return total, err
				}
			}
			if _, err := verifier.Write(block); err != nil {
				return total, err
			}
			total += int64(len(block))
		}
	}
	return total, nil
}

// fetchBlock reads the block for a digest through the worker's private
// archive clone, appending to dst. The second result reports whether any
// archive holds the block.
func (en *Engine) fetchBlock(rc *Context, d digest.Digest, dst []byte) ([]byte, bool, error) {
	vol := en.ix.FindVolume(d)
	if vol == nil {
		return dst, false, nil
	}
	cl, err := rc.clone(vol)
	if err != nil {
		return dst, false, err
	}
	var scratch [digest.EncodedLen]byte
	out, err := cl.ReadEntry(d.AppendURL(scratch[:0]), dst)
	if err != nil {
		return dst, true, fmt.Errorf("block %s: %w", d, err)
	}
	return out, true, nil
}

func (en *Engine) notify(e *snapshot.Entry) {
	if en.progress != nil {
		en.progress(e)
	}
}
