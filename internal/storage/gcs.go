package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSDriver stores files as objects in a Google Cloud Storage bucket.
type GCSDriver struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds GCS-specific configuration.
type GCSConfig struct {
	Bucket             string
	ProjectID          string
	ServiceAccountJSON string
	Prefix             string // Optional prefix for all keys
}

// NewGCSDriver creates a new GCS storage provider.
func NewGCSDriver(ctx context.Context, cfg GCSConfig) (*GCSDriver, error) {
	var opts []option.ClientOption
	if cfg.ServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSDriver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Probe implements Driver.
func (g *GCSDriver) Probe(ctx context.Context) error {
	if _, err := g.client.Bucket(g.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("failed to access bucket %s: %w", g.bucket, err)
	}
	return nil
}

// Mkdir implements Driver. Prefixes need no creation.
func (g *GCSDriver) Mkdir(ctx context.Context, remote string) error {
	return ctx.Err()
}

// Rmdir implements Driver.
func (g *GCSDriver) Rmdir(ctx context.Context, remote string) error {
	if remote == "" {
		return fmt.Errorf("refusing to remove backend root")
	}

	bucket := g.client.Bucket(g.bucket)
	it := bucket.Objects(ctx, &storage.Query{Prefix: g.dirPrefix(remote)})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list GCS objects: %w", err)
		}
		err = bucket.Object(attrs.Name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("failed to delete from GCS: %w", err)
		}
	}
	return nil
}

// ListDir implements Driver.
func (g *GCSDriver) ListDir(ctx context.Context, remote string) ([]Entry, error) {
	dir := g.dirPrefix(remote)

	var entries []Entry
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: dir, Delimiter: "/"})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}

		// Synthetic prefix entries carry only Prefix.
		if attrs.Prefix != "" {
			name := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, dir), "/")
			if name != "" {
				entries = append(entries, Entry{Kind: KindDir, Name: name})
			}
			continue
		}
		if name := strings.TrimPrefix(attrs.Name, dir); name != "" {
			entries = append(entries, Entry{Kind: KindFile, Name: name})
		}
	}
	return entries, nil
}

// GetFile implements Driver.
func (g *GCSDriver) GetFile(ctx context.Context, local, remote string) error {
	r, err := g.client.Bucket(g.bucket).Object(g.fullKey(remote)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", ErrNotExist, remote)
	}
	if err != nil {
		return fmt.Errorf("failed to read from GCS: %w", err)
	}
	defer r.Close()

	return copyToFile(ctx, local, r)
}

// PutFile implements Driver.
func (g *GCSDriver) PutFile(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	w := g.client.Bucket(g.bucket).Object(g.fullKey(remote)).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload to GCS: %w", err)
	}

	// Close writer to complete upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS upload: %w", err)
	}
	return nil
}

// Close implements Driver.
func (g *GCSDriver) Close() error {
	return g.client.Close()
}

func (g *GCSDriver) fullKey(remote string) string {
	if g.prefix == "" {
		return remote
	}
	return path.Join(g.prefix, remote)
}

func (g *GCSDriver) dirPrefix(remote string) string {
	key := g.fullKey(remote)
	if key == "" {
		return ""
	}
	return key + "/"
}

// ValidateServiceAccountJSON validates the service account JSON string.
func ValidateServiceAccountJSON(jsonStr string) error {
	var sa struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal([]byte(jsonStr), &sa); err != nil {
		return fmt.Errorf("invalid service account JSON: %w", err)
	}

	if sa.Type != "service_account" {
		return fmt.Errorf("invalid service account type: %s", sa.Type)
	}

	return nil
}
