package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

// minPartSize is the smallest part S3 accepts, except for the last one.
const minPartSize = 5 * 1024 * 1024

// MultipartUploader handles multipart uploads for S3.
type MultipartUploader struct {
	client   *s3.Client
	bucket   string
	key      string
	uploadID string
	parts    []types.CompletedPart
	mu       sync.Mutex
}

// NewMultipartUploader creates a new multipart uploader.
func NewMultipartUploader(client *s3.Client, bucket, key string) *MultipartUploader {
	return &MultipartUploader{
		client: client,
		bucket: bucket,
		key:    key,
	}
}

// Start initiates a multipart upload.
func (m *MultipartUploader) Start(ctx context.Context) error {
	output, err := m.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}

	m.uploadID = aws.ToString(output.UploadId)
	return nil
}

// UploadPart uploads one numbered part. Parts may be uploaded concurrently.
func (m *MultipartUploader) UploadPart(ctx context.Context, partNumber int32, reader io.Reader, size int64) error {
	output, err := m.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(m.key),
		UploadId:      aws.String(m.uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          reader,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}

	m.mu.Lock()
	m.parts = append(m.parts, types.CompletedPart{
		ETag:       output.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	m.mu.Unlock()

	return nil
}

// Complete finalizes the multipart upload.
func (m *MultipartUploader) Complete(ctx context.Context) error {
	m.mu.Lock()
	parts := append([]types.CompletedPart(nil), m.parts...)
	m.mu.Unlock()

	// S3 requires ascending part numbers.
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	_, err := m.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(m.bucket),
		Key:             aws.String(m.key),
		UploadId:        aws.String(m.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	return nil
}

// Abort cancels the multipart upload.
func (m *MultipartUploader) Abort(ctx context.Context) error {
	if m.uploadID == "" {
		return nil
	}

	_, err := m.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(m.bucket),
		Key:      aws.String(m.key),
		UploadId: aws.String(m.uploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}

	return nil
}

// UploadFile uploads size bytes from src in parts of partSize, at most
// concurrency parts at a time. A failed upload is aborted.
func (m *MultipartUploader) UploadFile(ctx context.Context, src io.ReaderAt, size, partSize int64, concurrency int) (err error) {
	if err := m.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = m.Abort(context.WithoutCancel(ctx))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, p := range PlanParts(size, partSize) {
		g.Go(func() error {
			section := io.NewSectionReader(src, p.Offset, p.Size)
			return m.UploadPart(gctx, p.Number, section, p.Size)
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}

	return m.Complete(ctx)
}

// Part is one slice of a multipart upload.
type Part struct {
	Number int32
	Offset int64
	Size   int64
}

// PlanParts splits size bytes into parts of at most partSize.
func PlanParts(size, partSize int64) []Part {
	if partSize <= 0 {
		partSize = minPartSize
	}
	var parts []Part
	for off, n := int64(0), int32(1); off < size; off, n = off+partSize, n+1 {
		parts = append(parts, Part{Number: n, Offset: off, Size: min(partSize, size-off)})
	}
	return parts
}
