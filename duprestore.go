package duprestore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/duprestore/blockmap"
	"github.com/meigma/duprestore/restore"
	"github.com/meigma/duprestore/snapshot"
	"github.com/meigma/duprestore/volume"
)

// Archive name suffixes in a backup directory. List archive filenames
// encode their timestamp, so the lexicographically greatest is the most
// recent snapshot.
const (
	listSuffix = "dlist.zip"
	dataSuffix = "dblock.zip"
)

// Entry names inside a list archive.
const (
	manifestEntry = "manifest"
	filelistEntry = "filelist.json"
)

// Restore reads the newest snapshot in backupDir and materialises it
// under the configured restore root, or verifies it with WithVerifyOnly.
//
// The block index and the snapshot are built concurrently; files are
// then restored in block-location order on a bounded worker pool.
func Restore(ctx context.Context, backupDir string, opts ...Option) (*Stats, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.restoreRoot == "" && !cfg.verifyOnly {
		return nil, ErrNoRestoreRoot
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	listPath, err := newestList(backupDir)
	if err != nil {
		return nil, err
	}
	logger.Info("using newest list archive", "path", listPath)

	listVol, err := volume.Open(listPath)
	if err != nil {
		return nil, fmt.Errorf("open list archive: %w", err)
	}
	defer listVol.Close()

	man, err := readManifest(listVol)
	if err != nil {
		return nil, err
	}
	logger.Info("manifest parsed", "blocksize", man.Blocksize, "created", man.Created)

	dataPaths, err := findArchives(backupDir, dataSuffix)
	if err != nil {
		return nil, err
	}
	logger.Info("found data archives", "count", len(dataPaths))

	// Build the block index and parse the snapshot concurrently: the
	// index is I/O over many archives, the snapshot is one big JSON
	// document.
	ix := blockmap.New(cfg.hashToPath)
	var entries []*snapshot.Entry

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return buildIndex(gctx, ix, dataPaths, &cfg)
	})
	eg.Go(func() error {
		data, err := listVol.ReadEntry([]byte(filelistEntry), nil)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSnapshotInvalid, err)
		}
		entries, err = snapshot.ParseFilelist(data)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	ix.Freeze()
	// Indexing only touched archive tails; bulk entry reads ahead want
	// bigger buffers. No reader is active at this instant.
	for _, v := range ix.Volumes() {
		v.SetBufferSize(volume.RestoreBufferSize)
	}
	logger.Info("index ready", "archives", len(ix.Volumes()), "blocks", ix.Blocks(), "entries", len(entries))

	restore.SortByLocation(entries, ix)

	engineOpts := []restore.Option{
		restore.WithReplaceBackslash(cfg.replaceBackslash),
		restore.WithWorkers(cfg.threads),
		restore.WithLogger(cfg.logger),
	}
	if !cfg.verifyOnly {
		engineOpts = append(engineOpts, restore.WithRoot(cfg.restoreRoot))
	}
	if cfg.progress != nil {
		engineOpts = append(engineOpts, restore.WithProgress(entryProgress(entries, &cfg)))
	}

	en := restore.NewEngine(ix, man, engineOpts...)
	stats, err := en.RestoreAll(ctx, entries)
	if err != nil {
		return nil, err
	}
	logger.Info("restore complete",
		"files", stats.Files, "folders", stats.Folders,
		"symlinks_skipped", stats.Symlinks, "bytes", stats.Bytes)
	return stats, nil
}

// newestList picks the lexicographically greatest list archive.
func newestList(backupDir string) (string, error) {
	lists, err := findArchives(backupDir, listSuffix)
	if err != nil {
		return "", err
	}
	if len(lists) == 0 {
		return "", fmt.Errorf("%w in %s", ErrRepoNotFound, backupDir)
	}
	return lists[len(lists)-1], nil
}

// findArchives lists backupDir entries with the given suffix, sorted by
// name.
func findArchives(backupDir, suffix string) ([]string, error) {
	dirents, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}
	var paths []string
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), suffix) {
			continue
		}
		paths = append(paths, filepath.Join(backupDir, de.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// readManifest extracts and parses the manifest entry of a list archive.
func readManifest(listVol *volume.Volume) (*snapshot.Manifest, error) {
	data, err := listVol.ReadEntry([]byte(manifestEntry), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestInvalid, err)
	}
	return snapshot.ParseManifest(data)
}

// buildIndex opens every data archive and registers it with the index,
// one task per archive.
func buildIndex(ctx context.Context, ix *blockmap.Index, paths []string, cfg *config) error {
	var done atomic.Int64
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(cfg.threads)
	for _, path := range paths {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := volume.Open(path)
			if err != nil {
				return fmt.Errorf("open data archive %s: %w", path, err)
			}
			if err := ix.Add(v); err != nil {
				return err
			}
			if cfg.progress != nil {
				cfg.progress(ProgressEvent{
					Stage: StageIndex,
					Done:  int(done.Add(1)),
					Total: len(paths),
				})
			}
			return nil
		})
	}
	return eg.Wait()
}

// entryProgress adapts the engine's per-entry callback to stage events.
func entryProgress(entries []*snapshot.Entry, cfg *config) func(*snapshot.Entry) {
	var folders, files int
	for _, e := range entries {
		switch {
		case e.IsFolder():
			folders++
		default:
			// Symlinks report through the file stage; they are part of
			// the file pass.
			files++
		}
	}
	var doneFolders, doneFiles atomic.Int64
	return func(e *snapshot.Entry) {
		ev := ProgressEvent{Entry: e}
		if e.IsFolder() {
			ev.Stage = StageFolders
			ev.Done = int(doneFolders.Add(1))
			ev.Total = folders
		} else {
			ev.Stage = StageFiles
			ev.Done = int(doneFiles.Add(1))
			ev.Total = files
		}
		cfg.progress(ev)
	}
}
