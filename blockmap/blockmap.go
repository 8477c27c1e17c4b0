// Package blockmap locates content blocks across the data archives of a
// backup repository.
//
// The index runs in one of two modes, chosen before any archive is
// registered. Indexed mode keeps a global digest→location map: lookups
// are O(1) but memory grows with the total block count (tens of millions
// in large repositories). Probing mode keeps only the per-archive entry
// directories and resolves a digest by asking each archive whether it
// contains the re-encoded name. Callers commit to one mode per run; the
// two are never mixed.
package blockmap

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/hashmap"

	"github.com/meigma/duprestore/digest"
	"github.com/meigma/duprestore/volume"
)

// Ref identifies one data archive by path. One Ref is created per
// archive and shared by reference from every Location in it.
type Ref struct {
	Path string
}

// Location is the position of a block: which archive, which entry.
//
// The (archive path, entry index) order is the block's physical position
// in the repository; sorting reads by it turns random access into
// sequential scans.
type Location struct {
	Ref   *Ref
	Entry uint32
}

// Compare orders locations by (archive path, entry index).
func (l Location) Compare(o Location) int {
	if c := strings.Compare(l.Ref.Path, o.Ref.Path); c != 0 {
		return c
	}
	switch {
	case l.Entry < o.Entry:
		return -1
	case l.Entry > o.Entry:
		return 1
	}
	return 0
}

// archive pairs a Ref with its registered handle, in registration order.
type archive struct {
	ref *Ref
	vol *volume.Volume
}

// Index maps block digests to the archives holding them.
//
// Add calls from distinct goroutines may run concurrently; the shared
// state is guarded by a single mutex, which is fine because each archive
// contributes one bulk write phase. Freeze after the last Add; reads
// after Freeze skip the lock entirely.
type Index struct {
	mu       sync.Mutex
	archives []archive
	byPath   map[string]*volume.Volume
	blocks   *hashmap.Map[digest.Digest, Location] // nil in probing mode
	frozen   bool
}

// New creates an index. With hashToPath set it runs in indexed mode,
// otherwise in probing mode.
func New(hashToPath bool) *Index {
	ix := &Index{
		byPath: make(map[string]*volume.Volume),
	}
	if hashToPath {
		ix.blocks = hashmap.New[digest.Digest, Location](1 << 16)
	}
	return ix
}

// Indexed reports whether the index keeps the digest→location map.
func (ix *Index) Indexed() bool {
	return ix.blocks != nil
}

// Add registers an archive handle and, in indexed mode, enters every one
// of its block digests. Entry names that do not decode to a digest (a
// stray manifest, say) are skipped.
func (ix *Index) Add(v *volume.Volume) error {
	ref := &Ref{Path: v.Path()}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.frozen {
		return fmt.Errorf("blockmap: add %s after freeze", v.Path())
	}
	if _, ok := ix.byPath[v.Path()]; ok {
		return fmt.Errorf("blockmap: %s registered twice", v.Path())
	}
	ix.byPath[v.Path()] = v
	ix.archives = append(ix.archives, archive{ref: ref, vol: v})

	if ix.blocks == nil {
		return nil
	}
	for idx, name := range v.Names() {
		d, err := digest.DecodeURL(name)
		if err != nil {
			continue
		}
		ix.blocks.Set(d, Location{Ref: ref, Entry: idx})
	}
	return nil
}

// Freeze marks the build complete. After Freeze the index is read-only
// and lookups are lock-free.
func (ix *Index) Freeze() {
	ix.mu.Lock()
	ix.frozen = true
	ix.mu.Unlock()
}

// Lookup returns the location of a block. Indexed mode answers with one
// map probe; probing mode re-encodes the digest and asks each archive's
// directory in turn.
func (ix *Index) Lookup(d digest.Digest) (Location, bool) {
	if ix.blocks != nil {
		defer ix.lockUnlessFrozen()()
		return ix.blocks.Get(d)
	}

	var scratch [digest.EncodedLen]byte
	name := d.AppendURL(scratch[:0])
	defer ix.lockUnlessFrozen()()
	for _, a := range ix.archives {
		if idx, ok := a.vol.EntryIndex(name); ok {
			return Location{Ref: a.ref, Entry: idx}, true
		}
	}
	return Location{}, false
}

// FindVolume returns the registered handle of the archive holding the
// block, or nil if no archive has it.
func (ix *Index) FindVolume(d digest.Digest) *volume.Volume {
	if ix.blocks != nil {
		loc, ok := ix.Lookup(d)
		if !ok {
			return nil
		}
		return ix.Volume(loc.Ref.Path)
	}

	var scratch [digest.EncodedLen]byte
	name := d.AppendURL(scratch[:0])
	defer ix.lockUnlessFrozen()()
	for _, a := range ix.archives {
		if a.vol.Contains(name) {
			return a.vol
		}
	}
	return nil
}

// Volume returns the registered handle for an archive path.
func (ix *Index) Volume(path string) *volume.Volume {
	defer ix.lockUnlessFrozen()()
	return ix.byPath[path]
}

// Volumes returns every registered handle, in registration order.
func (ix *Index) Volumes() []*volume.Volume {
	defer ix.lockUnlessFrozen()()
	vols := make([]*volume.Volume, len(ix.archives))
	for i, a := range ix.archives {
		vols[i] = a.vol
	}
	return vols
}

// Blocks returns the number of indexed blocks (zero in probing mode).
func (ix *Index) Blocks() int {
	if ix.blocks == nil {
		return 0
	}
	defer ix.lockUnlessFrozen()()
	return ix.blocks.Len()
}

// lockUnlessFrozen takes the mutex during the build phase and returns the
// matching unlock; after Freeze it is a no-op, making reads lock-free.
func (ix *Index) lockUnlessFrozen() func() {
	if ix.frozen {
		return func() {}
	}
	ix.mu.Lock()
	return ix.mu.Unlock
}
