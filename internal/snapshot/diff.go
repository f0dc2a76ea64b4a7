package snapshot

import (
	"sort"
)

// LocalEntry is one file or directory of the local tree. Hash is set for
// files.
type LocalEntry struct {
	Kind UpdateKind // KindFile or KindDir
	Path string
	Hash string
}

// Diff computes the update list that turns tree into the local listing.
// Local entries are visited in path order; deletions follow, also in path
// order. An empty result means nothing changed.
func Diff(local []LocalEntry, tree Tree) []UpdateEntry {
	remaining := tree.Clone()

	sorted := append([]LocalEntry(nil), local...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var updates []UpdateEntry
	for _, l := range sorted {
		prev, exists := remaining[l.Path]
		switch l.Kind {
		case KindDir:
			if !exists || prev.Kind != KindDir {
				updates = append(updates, DirEntry(l.Path))
			}
		case KindFile:
			if !exists || prev.Kind != KindFile || prev.Hash != l.Hash {
				updates = append(updates, FileEntry(l.Path, l.Hash))
			}
		}
		delete(remaining, l.Path)
	}

	for _, p := range remaining.Paths() {
		updates = append(updates, DelEntry(p))
	}
	return updates
}
