package backup

import (
	"context"
	"errors"
	"testing"

	"github.com/imedwei/file-backup/internal/catalog"
)

func TestCheckVolumeNames(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		wantErr error
	}{
		{name: "valid", names: []string{"x.tar.lz4.001", "x.tar.lz4.002"}},
		{name: "empty", names: nil, wantErr: ErrSnapshotNotFound},
		{name: "parent", names: []string{"x.tar.lz4.001", ".."}},
		{name: "dot", names: []string{"."}},
		{name: "nested", names: []string{"sub/x.tar.lz4.001"}},
		{name: "escaping", names: []string{"../x.tar.lz4.001"}},
		{name: "blank", names: []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkVolumeNames("u1", tt.names)
			if tt.name == "valid" {
				if err != nil {
					t.Errorf("checkVolumeNames() error = %v", err)
				}
				return
			}
			if !IsStopped(err) {
				t.Fatalf("checkVolumeNames() error = %v, want StopOperation", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("checkVolumeNames() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAttempt_DownloadChecksManifestBeforeTransfers(t *testing.T) {
	te := newTestEnv(t, "")
	ctx := context.Background()

	a := newAttempt(te.env.withDefaults(), newTestConfig(t, catalog.ModeCompress))
	defer a.Release()
	if err := a.prepare(ctx, accessWrite); err != nil {
		t.Fatalf("prepare() error = %v", err)
	}

	data, err := te.env.Codec.EncodeManifest([]string{"u1.tar.lz4.001", "../u1.tar.lz4.002"})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.putBlob(ctx, a.Layout.Manifest("u1"), data); err != nil {
		t.Fatal(err)
	}

	before := te.gets.Load()
	err = a.Download(ctx, "u1", t.TempDir())
	if !IsStopped(err) {
		t.Fatalf("Download() error = %v, want StopOperation", err)
	}
	if got := te.gets.Load() - before; got != 1 {
		t.Errorf("Download() made %d downloads, want only the manifest", got)
	}
}
