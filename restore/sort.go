package restore

import (
	"slices"

	"github.com/meigma/duprestore/blockmap"
	"github.com/meigma/duprestore/snapshot"
)

// SortByLocation orders entries by the physical location of each file's
// first byte-bearing block, so the file pass reads archives front to
// back instead of seeking at random. Folders, symlinks, and files whose
// first block cannot be located sort after every located entry; ties
// break on the entry ordering so the result is deterministic.
//
// The sort is advisory: correctness never depends on it.
func SortByLocation(entries []*snapshot.Entry, ix *blockmap.Index) {
	type keyed struct {
		entry   *snapshot.Entry
		loc     blockmap.Location
		located bool
	}

	// Resolve each location once up front; in probing mode a lookup
	// walks every archive directory, far too slow to run per comparison.
	keys := make([]keyed, len(entries))
	for i, e := range entries {
		k := keyed{entry: e}
		if e.IsFile() {
			if len(e.Blocklists) > 0 {
				k.loc, k.located = ix.Lookup(e.Blocklists[0])
			} else {
				k.loc, k.located = ix.Lookup(e.Hash)
			}
		}
		keys[i] = k
	}

	slices.SortStableFunc(keys, func(a, b keyed) int {
		switch {
		case a.located && !b.located:
			return -1
		case !a.located && b.located:
			return 1
		case a.located && b.located:
			if c := a.loc.Compare(b.loc); c != 0 {
				return c
			}
		}
		return a.entry.Compare(b.entry)
	})

	for i := range keys {
		entries[i] = keys[i].entry
	}
}
