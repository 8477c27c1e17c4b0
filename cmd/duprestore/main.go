// Command duprestore restores the newest snapshot of a Duplicati-style
// backup repository to a directory, or verifies it without writing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/meigma/duprestore"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-interrupt:
			fmt.Fprintln(os.Stderr, "interrupted")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:  "duprestore",
		Usage: "restore a deduplicated backup repository to a directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "backup-dir",
				Aliases:  []string{"b"},
				Usage:    "the location of the backup",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "restore-dir",
				Aliases: []string{"r"},
				Usage:   "a location to restore to",
			},
			&cli.IntFlag{
				Name:    "threads-rayon",
				Aliases: []string{"t"},
				Usage:   "worker pool size; 1 reads and writes sequentially",
				Value:   4,
			},
			&cli.BoolFlag{
				Name:    "progress-bar",
				Aliases: []string{"p"},
				Usage:   "display progress bars",
			},
			&cli.BoolFlag{
				Name:  "hash-to-path",
				Usage: "keep an in-memory hash lookup map; faster, uses more memory",
			},
			&cli.BoolFlag{
				Name:  "replace-backslash-to-slash",
				Usage: "rewrite Windows path separators; defaults to true everywhere but Windows",
				Value: runtime.GOOS != "windows",
			},
			&cli.BoolFlag{
				Name:  "verify-only",
				Usage: "verify every block and hash without writing files",
			},
		},
		Action: run,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "err: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	opts := []duprestore.Option{
		duprestore.WithThreads(c.Int("threads-rayon")),
		duprestore.WithHashToPath(c.Bool("hash-to-path")),
		duprestore.WithReplaceBackslash(c.Bool("replace-backslash-to-slash")),
		duprestore.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))),
	}
	if c.Bool("verify-only") {
		opts = append(opts, duprestore.WithVerifyOnly())
	} else {
		if c.String("restore-dir") == "" {
			return fmt.Errorf("--restore-dir is required unless --verify-only is set")
		}
		opts = append(opts, duprestore.WithRestoreRoot(c.String("restore-dir")))
	}
	if c.Bool("progress-bar") {
		opts = append(opts, duprestore.WithProgress(newBars().update))
	}

	stats, err := duprestore.Restore(c.Context, c.String("backup-dir"), opts...)
	if err != nil {
		return err
	}

	fmt.Printf("restored %d files in %d folders (%s), %d symlinks skipped\n",
		stats.Files, stats.Folders, humanize.Bytes(uint64(stats.Bytes)), stats.Symlinks)
	return nil
}

// bars renders one progress bar per stage, created lazily on the first
// event of each stage.
type bars struct {
	mu      sync.Mutex
	stage   duprestore.Stage
	current *progressbar.ProgressBar
}

func newBars() *bars {
	return &bars{stage: -1}
}

func (b *bars) update(ev duprestore.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil || b.stage != ev.Stage {
		if b.current != nil {
			_ = b.current.Finish()
		}
		b.stage = ev.Stage
		b.current = progressbar.NewOptions(ev.Total,
			progressbar.OptionSetDescription(stageName(ev.Stage)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = b.current.Set(ev.Done)
}

func stageName(s duprestore.Stage) string {
	switch s {
	case duprestore.StageIndex:
		return "indexing dblocks"
	case duprestore.StageFolders:
		return "restoring folders"
	default:
		return "restoring files"
	}
}
