package duprestore

import (
	"errors"

	"github.com/meigma/duprestore/restore"
	"github.com/meigma/duprestore/snapshot"
	"github.com/meigma/duprestore/volume"
)

// Sentinel errors specific to the orchestrator.
var (
	// ErrRepoNotFound is returned when the backup directory holds no
	// list archive.
	ErrRepoNotFound = errors.New("duprestore: no list archive found")

	// ErrNoRestoreRoot is returned when neither a restore root nor
	// verify-only mode was requested.
	ErrNoRestoreRoot = errors.New("duprestore: restore root required unless verifying only")
)

// Errors re-exported from snapshot.
var (
	// ErrManifestInvalid is returned when the manifest is missing or
	// malformed.
	ErrManifestInvalid = snapshot.ErrManifest

	// ErrSnapshotInvalid is returned when the filelist is malformed or
	// a required field is missing.
	ErrSnapshotInvalid = snapshot.ErrFilelist
)

// Errors re-exported from volume.
var (
	// ErrVolumeCorrupt is returned when a data archive's directory
	// cannot be parsed.
	ErrVolumeCorrupt = volume.ErrCorrupt
)

// Errors re-exported from restore.
var (
	// ErrMissingBlock is returned when a referenced content block is
	// absent from every archive.
	ErrMissingBlock = restore.ErrMissingBlock

	// ErrMissingBlocklist is returned when a referenced block-list
	// block is absent.
	ErrMissingBlocklist = restore.ErrMissingBlocklist

	// ErrShortBlock is returned when a non-final content block is not
	// exactly the manifest block size.
	ErrShortBlock = restore.ErrShortBlock

	// ErrHashMismatch is returned when a restored file does not hash to
	// its declared digest.
	ErrHashMismatch = restore.ErrHashMismatch
)
