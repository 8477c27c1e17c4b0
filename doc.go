// Package duprestore reconstructs a file tree from a content-addressed,
// deduplicated backup repository: a directory of list archives
// (*-dlist.zip, snapshots) and data archives (*-dblock.zip, content
// blocks keyed by digest).
//
// The top-level entry point is [Restore], which reads the most recent
// snapshot and materialises it at a target directory, or verifies every
// file without writing:
//
//	stats, err := duprestore.Restore(ctx, "/backups/photos",
//	    duprestore.WithRestoreRoot("/restore/photos"),
//	    duprestore.WithThreads(4),
//	)
//
// The subpackages are usable on their own: digest (block digests),
// volume (archive read handles), blockmap (block location index),
// snapshot (manifest and filelist parsing), restore (the assembly
// engine).
package duprestore
