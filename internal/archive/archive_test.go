package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pierrec/lz4/v4"

	"github.com/imedwei/file-backup/internal/utils"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeTree creates files (relative slash path -> content) and empty dirs under root.
func writeTree(t *testing.T, root string, files map[string][]byte, dirs ...string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(d)), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

// readTree returns every file and directory under root keyed by slash path.
// Directories map to nil.
func readTree(t *testing.T, root string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || p == root {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			out[rel+"/"] = nil
			return nil
		}
		data, err := os.ReadFile(p)
		out[rel] = data
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestVolumeArchiver_RoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		files       map[string][]byte
		dirs        []string
		volumeSize  int64
		wantVolumes int // 0 means more than one
	}{
		{
			name:        "single volume",
			files:       map[string][]byte{"a.txt": []byte("alpha"), "sub/b.txt": []byte("beta")},
			dirs:        []string{"empty"},
			volumeSize:  0,
			wantVolumes: 1,
		},
		{
			name: "multiple volumes",
			files: map[string][]byte{
				"big.bin":        randomBytes(20000, 1),
				"nested/x/y.bin": randomBytes(5000, 2),
				"unicode-é.txt":  []byte("héllo"),
			},
			volumeSize: 4096,
		},
		{
			name:        "empty directory",
			files:       map[string][]byte{},
			wantVolumes: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := t.TempDir()
			writeTree(t, src, tt.files, tt.dirs...)
			out := t.TempDir()

			a := NewVolumeArchiver(testLogger())
			vols, err := a.Pack(context.Background(), src, out, "snap", "pw", tt.volumeSize)
			if err != nil {
				t.Fatalf("Pack() error = %v", err)
			}
			if tt.wantVolumes > 0 && len(vols) != tt.wantVolumes {
				t.Errorf("Pack() volumes = %d, want %d", len(vols), tt.wantVolumes)
			}
			if tt.wantVolumes == 0 && len(vols) < 2 {
				t.Errorf("Pack() volumes = %d, want several", len(vols))
			}
			for i, v := range vols {
				if filepath.Base(v) != utils.VolumeName("snap", i+1) {
					t.Errorf("volume %d = %s", i, filepath.Base(v))
				}
				if tt.volumeSize > 0 {
					info, err := os.Stat(v)
					if err != nil {
						t.Fatal(err)
					}
					if info.Size() > tt.volumeSize {
						t.Errorf("volume %s size %d exceeds %d", v, info.Size(), tt.volumeSize)
					}
				}
			}

			dest := filepath.Join(t.TempDir(), "restored")
			if err := a.Unpack(context.Background(), vols[0], dest, "pw"); err != nil {
				t.Fatalf("Unpack() error = %v", err)
			}

			want := readTree(t, src)
			got := readTree(t, dest)
			if len(got) != len(want) {
				t.Errorf("Unpack() entries = %v, want %v", keys(got), keys(want))
			}
			for name, content := range want {
				gotContent, ok := got[name]
				if !ok {
					t.Errorf("missing %s", name)
					continue
				}
				if !bytes.Equal(gotContent, content) {
					t.Errorf("%s content differs", name)
				}
			}
		})
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestVolumeArchiver_WrongPassword(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"a": []byte("secret")})

	a := NewVolumeArchiver(testLogger())
	vols, err := a.Pack(context.Background(), src, t.TempDir(), "snap", "right", 0)
	if err != nil {
		t.Fatal(err)
	}

	err = a.Unpack(context.Background(), vols[0], t.TempDir(), "wrong")
	if !errors.Is(err, ErrBadPassword) {
		t.Errorf("Unpack() error = %v, want ErrBadPassword", err)
	}
	var aerr *Error
	if !errors.As(err, &aerr) {
		t.Errorf("Unpack() error type = %T, want *Error", err)
	}
}

func TestVolumeArchiver_Corrupt(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"a.bin": randomBytes(10000, 3)})

	a := NewVolumeArchiver(testLogger())
	vols, err := a.Pack(context.Background(), src, t.TempDir(), "snap", "pw", 0)
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(vols[0])
	if err != nil {
		t.Fatal(err)
	}
	for i := headerSize + 100; i < len(data) && i < headerSize+200; i++ {
		data[i] ^= 0xff
	}
	if err := os.WriteFile(vols[0], data, 0o644); err != nil {
		t.Fatal(err)
	}

	err = a.Unpack(context.Background(), vols[0], t.TempDir(), "pw")
	var aerr *Error
	if !errors.As(err, &aerr) {
		t.Errorf("Unpack() error = %v, want *Error", err)
	}
}

func TestVolumeArchiver_MissingVolume(t *testing.T) {
	a := NewVolumeArchiver(testLogger())
	err := a.Unpack(context.Background(), filepath.Join(t.TempDir(), utils.VolumeName("snap", 1)), t.TempDir(), "pw")
	var aerr *Error
	if !errors.As(err, &aerr) {
		t.Errorf("Unpack() error = %v, want *Error", err)
	}
}

func TestVolumeArchiver_PackNotDirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := NewVolumeArchiver(testLogger())
	if _, err := a.Pack(context.Background(), f, t.TempDir(), "snap", "pw", 0); err == nil {
		t.Error("Pack() of a file should fail")
	}
}

func TestVolumeArchiver_Cancelled(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"a": []byte("x"), "b": []byte("y")})
	out := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewVolumeArchiver(testLogger())
	if _, err := a.Pack(ctx, src, out, "snap", "pw", 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Pack() error = %v, want context.Canceled", err)
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("cancelled Pack() left %d volumes behind", len(entries))
	}
}

func TestVolumeArchiver_RejectsEscapingEntries(t *testing.T) {
	out := t.TempDir()
	vol := filepath.Join(out, utils.VolumeName("evil", 1))

	f, err := os.Create(vol)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := newEncryptWriter(f, "pw")
	if err != nil {
		t.Fatal(err)
	}
	zw := lz4.NewWriter(enc)
	tw := tar.NewWriter(zw)
	content := []byte("owned")
	if err := tw.WriteHeader(&tar.Header{Name: "../escape.txt", Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "dest")
	a := NewVolumeArchiver(testLogger())
	err = a.Unpack(context.Background(), vol, dest, "pw")
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Unpack() error = %v, want ErrCorrupt", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt")); err == nil {
		t.Error("escaping entry was written")
	}
}

func TestEntryPath(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"a.txt", false},
		{"dir/", false},
		{"a/b/c", false},
		{"", true},
		{"/etc/passwd", true},
		{"../x", true},
		{"a/../../x", true},
	}
	for _, tt := range tests {
		_, err := entryPath("/dest", tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("entryPath(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}
