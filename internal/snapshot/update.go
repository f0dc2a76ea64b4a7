package snapshot

import (
	"sort"
)

// UpdateKind classifies an update entry.
type UpdateKind string

const (
	KindFile UpdateKind = "file"
	KindDir  UpdateKind = "dir"
	KindDel  UpdateKind = "del"
)

// UpdateEntry records one change in a snapshot. Hash is set for files only.
type UpdateEntry struct {
	Kind UpdateKind
	Path string // relative, slash separated
	Hash string
}

// FileEntry returns a file update.
func FileEntry(path, hash string) UpdateEntry {
	return UpdateEntry{Kind: KindFile, Path: path, Hash: hash}
}

// DirEntry returns a directory update.
func DirEntry(path string) UpdateEntry {
	return UpdateEntry{Kind: KindDir, Path: path}
}

// DelEntry returns a deletion.
func DelEntry(path string) UpdateEntry {
	return UpdateEntry{Kind: KindDel, Path: path}
}

// Tree is the virtual remote tree: every live path with its latest entry.
type Tree map[string]UpdateEntry

// Apply replays one update list onto the tree.
func (t Tree) Apply(updates []UpdateEntry) {
	for _, u := range updates {
		switch u.Kind {
		case KindFile, KindDir:
			t[u.Path] = u
		case KindDel:
			delete(t, u.Path)
		}
	}
}

// Clone returns a copy of the tree.
func (t Tree) Clone() Tree {
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Paths returns the tree's paths sorted.
func (t Tree) Paths() []string {
	out := make([]string, 0, len(t))
	for p := range t {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Replay builds a tree from update lists given in timestamp order.
func Replay(lists ...[]UpdateEntry) Tree {
	t := make(Tree)
	for _, l := range lists {
		t.Apply(l)
	}
	return t
}

// Owned is an entry together with the snapshot that last wrote it.
type Owned struct {
	UUID  string
	Entry UpdateEntry
}

// OwnedTree maps each live path to the snapshot holding its content.
type OwnedTree map[string]Owned

// Apply replays the update list of snapshot uuid.
func (t OwnedTree) Apply(uuid string, updates []UpdateEntry) {
	for _, u := range updates {
		switch u.Kind {
		case KindFile, KindDir:
			t[u.Path] = Owned{UUID: uuid, Entry: u}
		case KindDel:
			delete(t, u.Path)
		}
	}
}

// Owners returns the sorted uuids whose archives hold at least one live file.
// Directories need no archive.
func (t OwnedTree) Owners() []string {
	seen := make(map[string]struct{})
	for _, o := range t {
		if o.Entry.Kind == KindFile {
			seen[o.UUID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Paths returns the tree's paths sorted, so parents precede children.
func (t OwnedTree) Paths() []string {
	out := make([]string, 0, len(t))
	for p := range t {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
