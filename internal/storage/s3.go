package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Driver stores files as objects in an S3 bucket. Directories are implicit
// key prefixes.
type S3Driver struct {
	client      *s3.Client
	downloader  *manager.Downloader
	bucket      string
	prefix      string
	partSize    int64
	concurrency int
}

// S3Config holds S3-specific configuration.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Endpoint        string // Optional custom endpoint
	Prefix          string // Optional prefix for all keys
	UsePathStyle    bool   // For S3-compatible services
	PartSize        int64  // Multipart threshold and part size, default 16MB
	Concurrency     int    // Parallel parts per upload
}

// NewS3Driver creates a new S3 storage provider.
func NewS3Driver(ctx context.Context, cfg S3Config) (*S3Driver, error) {
	// Create AWS config
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.UsePathStyle
		},
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	client := s3.NewFromConfig(awsCfg, clientOpts...)

	partSize := cfg.PartSize
	if partSize < minPartSize {
		partSize = 16 * 1024 * 1024
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &S3Driver{
		client: client,
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.PartSize = partSize
			d.Concurrency = concurrency
		}),
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		partSize:    partSize,
		concurrency: concurrency,
	}, nil
}

// Probe implements Driver.
func (s *S3Driver) Probe(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("failed to access bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Mkdir implements Driver. Prefixes need no creation.
func (s *S3Driver) Mkdir(ctx context.Context, remote string) error {
	return ctx.Err()
}

// Rmdir implements Driver.
func (s *S3Driver) Rmdir(ctx context.Context, remote string) error {
	if remote == "" {
		return fmt.Errorf("refusing to remove backend root")
	}
	dir := s.dirPrefix(remote)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(dir),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list S3 objects: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete from S3: %w", err)
		}
	}
	return nil
}

// ListDir implements Driver.
func (s *S3Driver) ListDir(ctx context.Context, remote string) ([]Entry, error) {
	dir := s.dirPrefix(remote)

	var entries []Entry
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(dir),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		for _, p := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), dir), "/")
			if name != "" {
				entries = append(entries, Entry{Kind: KindDir, Name: name})
			}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), dir)
			if name != "" {
				entries = append(entries, Entry{Kind: KindFile, Name: name})
			}
		}
	}
	return entries, nil
}

// GetFile implements Driver.
func (s *S3Driver) GetFile(ctx context.Context, local, remote string) error {
	f, err := os.Create(local)
	if err != nil {
		return err
	}

	_, err = s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(remote)),
	})
	closeErr := f.Close()
	if err != nil {
		var noKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noKey) || errors.As(err, &notFound) {
			return fmt.Errorf("%w: %s", ErrNotExist, remote)
		}
		return fmt.Errorf("failed to download from S3: %w", err)
	}
	return closeErr
}

// PutFile implements Driver. Files larger than one part use a multipart upload.
func (s *S3Driver) PutFile(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	key := s.fullKey(remote)
	if info.Size() > s.partSize {
		uploader := NewMultipartUploader(s.client, s.bucket, key)
		return uploader.UploadFile(ctx, f, info.Size(), s.partSize, s.concurrency)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// Close implements Driver.
func (s *S3Driver) Close() error {
	return nil
}

// fullKey returns the object key with prefix.
func (s *S3Driver) fullKey(remote string) string {
	if s.prefix == "" {
		return remote
	}
	return path.Join(s.prefix, remote)
}

// dirPrefix returns the listing prefix for a directory.
func (s *S3Driver) dirPrefix(remote string) string {
	key := s.fullKey(remote)
	if key == "" {
		return ""
	}
	return key + "/"
}
