package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newLocalBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "remote")
	driver, err := NewLocalDriver(root)
	if err != nil {
		t.Fatalf("NewLocalDriver() error = %v", err)
	}
	return NewBackend(driver, string(ModeLocal), fastRetry(1), testLogger()), driver.Root()
}

func TestLocalDriver_FileRoundTrip(t *testing.T) {
	b, root := newLocalBackend(t)
	ctx := context.Background()

	src := writeTemp(t, "hello")
	if err := b.PutFile(ctx, src, "x/y/file.txt"); err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "x", "y", "file.txt")); err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "nested", "out.txt")
	if err := b.GetFile(ctx, dst, "x/y/file.txt"); err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("GetFile() content = %q, want %q", data, "hello")
	}

	// No temporary siblings are left behind.
	entries, err := b.ListDir(ctx, "x/y")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0] != (Entry{Kind: KindFile, Name: "file.txt"}) {
		t.Errorf("ListDir() = %v, want only file.txt", entries)
	}
}

func TestLocalDriver_Missing(t *testing.T) {
	b, _ := newLocalBackend(t)
	ctx := context.Background()

	err := b.GetFile(ctx, filepath.Join(t.TempDir(), "out"), "nope")
	if !errors.Is(err, ErrNotExist) {
		t.Errorf("GetFile() error = %v, want ErrNotExist", err)
	}

	entries, err := b.ListDir(ctx, "nope")
	if err != nil {
		t.Errorf("ListDir() of missing dir error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ListDir() of missing dir = %v, want empty", entries)
	}

	if err := b.Rmdir(ctx, "nope"); err != nil {
		t.Errorf("Rmdir() of missing dir error = %v", err)
	}
}

func TestLocalDriver_RmdirRoot(t *testing.T) {
	b, root := newLocalBackend(t)

	if err := b.Rmdir(context.Background(), "/"); err == nil {
		t.Error("Rmdir() of root should fail")
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root removed: %v", err)
	}
}

func TestLocalDriver_PathEscape(t *testing.T) {
	b, root := newLocalBackend(t)

	if err := b.PutFile(context.Background(), writeTemp(t, "x"), "../../escape"); err != nil {
		t.Fatalf("PutFile() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape")); err != nil {
		t.Errorf("escaping path was not confined to root: %v", err)
	}
}

func TestBackend_TreeRoundTrip(t *testing.T) {
	b, _ := newLocalBackend(t)
	ctx := context.Background()

	src := t.TempDir()
	files := map[string]string{
		"a.txt":         "a",
		"sub/b.txt":     "b",
		"sub/deep/c.md": "c",
	}
	for name, content := range files {
		p := filepath.Join(src, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(src, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := b.PutTree(ctx, src, "tree"); err != nil {
		t.Fatalf("PutTree() error = %v", err)
	}

	dst := filepath.Join(t.TempDir(), "restored")
	if err := b.GetTree(ctx, dst, "tree"); err != nil {
		t.Fatalf("GetTree() error = %v", err)
	}

	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("missing %s: %v", name, err)
			continue
		}
		if string(data) != content {
			t.Errorf("%s = %q, want %q", name, data, content)
		}
	}
	if info, err := os.Stat(filepath.Join(dst, "empty")); err != nil || !info.IsDir() {
		t.Errorf("empty directory not restored: %v", err)
	}
}

func TestLocalDriver_Cancelled(t *testing.T) {
	b, _ := newLocalBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Mkdir(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Mkdir() error = %v, want context.Canceled", err)
	}
}
