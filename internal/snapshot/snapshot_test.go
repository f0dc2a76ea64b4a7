package snapshot

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/imedwei/file-backup/internal/codec"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name  string
		local []LocalEntry
		tree  Tree
		want  []UpdateEntry
	}{
		{
			name:  "no changes",
			local: []LocalEntry{{KindDir, "d", ""}, {KindFile, "d/a.txt", "h1"}},
			tree:  Replay([]UpdateEntry{DirEntry("d"), FileEntry("d/a.txt", "h1")}),
			want:  nil,
		},
		{
			name:  "addition",
			local: []LocalEntry{{KindFile, "a.txt", "H1"}},
			tree:  Tree{},
			want:  []UpdateEntry{FileEntry("a.txt", "H1")},
		},
		{
			name:  "deletion",
			local: []LocalEntry{{KindFile, "keep.txt", "k"}},
			tree:  Replay([]UpdateEntry{FileEntry("keep.txt", "k"), FileEntry("old.txt", "o")}),
			want:  []UpdateEntry{DelEntry("old.txt")},
		},
		{
			name:  "modification",
			local: []LocalEntry{{KindFile, "a.txt", "new"}},
			tree:  Replay([]UpdateEntry{FileEntry("a.txt", "old")}),
			want:  []UpdateEntry{FileEntry("a.txt", "new")},
		},
		{
			name:  "new directory and removed subtree",
			local: []LocalEntry{{KindDir, "b", ""}},
			tree:  Replay([]UpdateEntry{DirEntry("a"), FileEntry("a/x", "1"), FileEntry("a/y", "2")}),
			want:  []UpdateEntry{DirEntry("b"), DelEntry("a"), DelEntry("a/x"), DelEntry("a/y")},
		},
		{
			name:  "file replaced by directory",
			local: []LocalEntry{{KindDir, "p", ""}},
			tree:  Replay([]UpdateEntry{FileEntry("p", "h")}),
			want:  []UpdateEntry{DirEntry("p")},
		},
		{
			name:  "directory replaced by file",
			local: []LocalEntry{{KindFile, "p", "h"}},
			tree:  Replay([]UpdateEntry{DirEntry("p")}),
			want:  []UpdateEntry{FileEntry("p", "h")},
		},
		{
			name:  "unsorted input",
			local: []LocalEntry{{KindFile, "z", "1"}, {KindFile, "a", "2"}},
			tree:  Tree{},
			want:  []UpdateEntry{FileEntry("a", "2"), FileEntry("z", "1")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.tree.Clone()
			got := Diff(tt.local, tt.tree)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Diff() = %v, want %v", got, tt.want)
			}
			if !reflect.DeepEqual(tt.tree, before) {
				t.Error("Diff() modified the input tree")
			}
		})
	}
}

// TestReplayMatchesLocalHistory diffs a sequence of local states against the
// replayed chain and checks the replayed tree tracks every state.
func TestReplayMatchesLocalHistory(t *testing.T) {
	states := [][]LocalEntry{
		{{KindFile, "a", "1"}, {KindDir, "d", ""}, {KindFile, "d/b", "2"}},
		{{KindFile, "a", "1b"}, {KindDir, "d", ""}},
		{{KindFile, "a", "1b"}, {KindFile, "c", "3"}},
		{},
		{{KindDir, "d", ""}, {KindFile, "d/b", "2"}},
	}

	var lists [][]UpdateEntry
	for i, state := range states {
		tree := Replay(lists...)
		updates := Diff(state, tree)
		lists = append(lists, updates)

		got := Replay(lists...)
		want := make(Tree)
		for _, l := range state {
			want[l.Path] = UpdateEntry{Kind: l.Kind, Path: l.Path, Hash: l.Hash}
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("state %d: replayed tree = %v, want %v", i, got, want)
		}

		// Diffing the same state again is a no-op.
		if again := Diff(state, got); len(again) != 0 {
			t.Errorf("state %d: second Diff() = %v, want empty", i, again)
		}
	}
}

func TestOwnedTree(t *testing.T) {
	owned := make(OwnedTree)
	owned.Apply("u1", []UpdateEntry{DirEntry("d"), FileEntry("d/a", "1"), FileEntry("b", "2")})
	owned.Apply("u2", []UpdateEntry{FileEntry("d/a", "1b"), DelEntry("b")})
	owned.Apply("u3", []UpdateEntry{DirEntry("e")})

	want := OwnedTree{
		"d":   {UUID: "u1", Entry: DirEntry("d")},
		"d/a": {UUID: "u2", Entry: FileEntry("d/a", "1b")},
		"e":   {UUID: "u3", Entry: DirEntry("e")},
	}
	if !reflect.DeepEqual(owned, want) {
		t.Errorf("OwnedTree = %v, want %v", owned, want)
	}
	if got := owned.Owners(); !reflect.DeepEqual(got, []string{"u2"}) {
		t.Errorf("Owners() = %v, want [u2]", got)
	}
	if got := owned.Paths(); !reflect.DeepEqual(got, []string{"d", "d/a", "e"}) {
		t.Errorf("Paths() = %v", got)
	}
}

func TestChain(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var c Chain
	c = c.Append(NewRecord("b", base.Add(2*time.Second)))
	c = c.Append(NewRecord("a", base))
	c = c.Append(NewRecord("c", base.Add(4*time.Second)))

	var order []string
	for _, r := range c {
		order = append(order, r.UUID)
	}
	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Errorf("chain order = %v", order)
	}

	if !c.Has("b") || c.Has("z") {
		t.Error("Has() mismatch")
	}
	b, ok := c.Find("b")
	if !ok || !b.Time().Equal(base.Add(2*time.Second)) {
		t.Errorf("Find(b) = %v, %v", b, ok)
	}
	if got := c.Until(b.Timestamp); len(got) != 2 {
		t.Errorf("Until() = %v, want 2 records", got)
	}
	last, ok := c.Last()
	if !ok || last.UUID != "c" {
		t.Errorf("Last() = %v, %v", last, ok)
	}
	if _, ok := Chain(nil).Last(); ok {
		t.Error("Last() of empty chain should be false")
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	c := NewCodec(codec.NewObfuscator("key"))
	ts := time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC)

	chain := Chain{NewRecord("u1", ts), NewRecord("u2", ts.Add(time.Minute))}
	data, err := c.EncodeChain(chain)
	if err != nil {
		t.Fatalf("EncodeChain() error = %v", err)
	}
	gotChain, err := c.DecodeChain(data)
	if err != nil {
		t.Fatalf("DecodeChain() error = %v", err)
	}
	if !reflect.DeepEqual(gotChain, chain) {
		t.Errorf("DecodeChain() = %v, want %v", gotChain, chain)
	}

	updates := []UpdateEntry{DirEntry("dir"), FileEntry("dir/é.txt", "abc"), DelEntry("gone")}
	data, err = c.EncodeUpdates(updates)
	if err != nil {
		t.Fatalf("EncodeUpdates() error = %v", err)
	}
	gotUpdates, err := c.DecodeUpdates(data)
	if err != nil {
		t.Fatalf("DecodeUpdates() error = %v", err)
	}
	if !reflect.DeepEqual(gotUpdates, updates) {
		t.Errorf("DecodeUpdates() = %v, want %v", gotUpdates, updates)
	}

	volumes := []string{"x.tar.lz4.001", "x.tar.lz4.002"}
	data, err = c.EncodeManifest(volumes)
	if err != nil {
		t.Fatalf("EncodeManifest() error = %v", err)
	}
	gotVolumes, err := c.DecodeManifest(data)
	if err != nil {
		t.Fatalf("DecodeManifest() error = %v", err)
	}
	if !reflect.DeepEqual(gotVolumes, volumes) {
		t.Errorf("DecodeManifest() = %v, want %v", gotVolumes, volumes)
	}
}

func TestCodec_EmptyLists(t *testing.T) {
	c := NewCodec(codec.NewObfuscator("key"))

	data, err := c.EncodeChain(nil)
	if err != nil {
		t.Fatal(err)
	}
	chain, err := c.DecodeChain(data)
	if err != nil || len(chain) != 0 {
		t.Errorf("DecodeChain(empty) = %v, %v", chain, err)
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	c := NewCodec(codec.NewObfuscator("key"))
	other := NewCodec(codec.NewObfuscator("other"))

	updates, err := c.EncodeUpdates([]UpdateEntry{FileEntry("a", "h")})
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := c.EncodeManifest([]string{"v.001"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		decode func() error
	}{
		{"chain from updates", func() error { _, err := c.DecodeChain(updates); return err }},
		{"updates from manifest", func() error { _, err := c.DecodeUpdates(manifest); return err }},
		{"manifest from updates", func() error { _, err := c.DecodeManifest(updates); return err }},
		{"wrong key", func() error { _, err := other.DecodeUpdates(updates); return err }},
		{"garbage", func() error { _, err := c.DecodeChain([]byte("not encoded at all")); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode()
			var cerr *codec.Error
			if !errors.As(err, &cerr) {
				t.Errorf("decode error = %v, want *codec.Error", err)
			}
		})
	}
}

func TestLayout(t *testing.T) {
	l := NewLayout("documents")
	if len(l.Root) != 32 {
		t.Errorf("Root length = %d, want 32", len(l.Root))
	}
	if l.Root != RemoteRoot("documents") || l.Root == RemoteRoot("photos") {
		t.Error("RemoteRoot() is not a stable per-name key")
	}

	tests := []struct {
		got  string
		want string
	}{
		{l.Chain(), l.Root + "/chain"},
		{l.Dir("u"), l.Root + "/u"},
		{l.Updates("u"), l.Root + "/u/updates"},
		{l.Manifest("u"), l.Root + "/u/manifest"},
		{l.Volume("u", "v.001"), l.Root + "/u/v.001"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("path = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPassword(t *testing.T) {
	if Password("u1") != Password("u1") {
		t.Error("Password() is not deterministic")
	}
	if Password("u1") == Password("u2") {
		t.Error("Password() collides for different uuids")
	}
	if len(Password("u1")) != 64 {
		t.Errorf("Password() length = %d, want 64", len(Password("u1")))
	}
}
