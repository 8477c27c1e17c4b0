package duprestore

import (
	"log/slog"
	"runtime"

	"github.com/meigma/duprestore/restore"
	"github.com/meigma/duprestore/snapshot"
)

// Stage identifies which phase of a run a progress event belongs to.
type Stage int

// Run phases, in order.
const (
	StageIndex Stage = iota
	StageFolders
	StageFiles
)

// ProgressEvent reports one unit of completed work: an archive indexed,
// a folder created, or a file restored. Events for the same stage share
// a Total; Done is cumulative. Entry is set for folder and file events.
type ProgressEvent struct {
	Stage Stage
	Done  int
	Total int
	Entry *snapshot.Entry
}

// Stats summarises a completed run.
type Stats = restore.Stats

type config struct {
	restoreRoot      string
	verifyOnly       bool
	threads          int
	hashToPath       bool
	replaceBackslash bool
	logger           *slog.Logger
	progress         func(ProgressEvent)
}

func defaultConfig() config {
	return config{
		threads:          restore.DefaultWorkers,
		replaceBackslash: runtime.GOOS != "windows",
	}
}

// Option configures a Restore run.
type Option func(*config)

// WithRestoreRoot sets the directory the tree is materialised under.
// Required unless WithVerifyOnly is given.
func WithRestoreRoot(dir string) Option {
	return func(c *config) { c.restoreRoot = dir }
}

// WithVerifyOnly fetches and hash-checks every block without creating
// directories or writing files.
func WithVerifyOnly() Option {
	return func(c *config) { c.verifyOnly = true }
}

// WithThreads sets the worker pool size for indexing and restoring.
// Values < 1 keep the default of 4.
func WithThreads(n int) Option {
	return func(c *config) {
		if n >= 1 {
			c.threads = n
		}
	}
}

// WithHashToPath keeps a global digest→location map instead of probing
// each archive per lookup. Faster, but memory grows with the total
// block count.
func WithHashToPath(v bool) Option {
	return func(c *config) { c.hashToPath = v }
}

// WithReplaceBackslash controls rewriting backslashes in snapshot paths
// to slashes. The default is true everywhere but Windows.
func WithReplaceBackslash(v bool) Option {
	return func(c *config) { c.replaceBackslash = v }
}

// WithLogger sets the logger. If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithProgress sets a callback for progress events. It may be called
// from multiple workers at once.
func WithProgress(fn func(ProgressEvent)) Option {
	return func(c *config) { c.progress = fn }
}
