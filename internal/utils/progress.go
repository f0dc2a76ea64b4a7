package utils

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// ContextReader fails reads once its context is done, so long copies stop
// at the next buffer boundary after cancellation.
type ContextReader struct {
	ctx    context.Context
	reader io.Reader
}

// NewContextReader wraps reader with ctx.
func NewContextReader(ctx context.Context, reader io.Reader) *ContextReader {
	return &ContextReader{ctx: ctx, reader: reader}
}

// Read implements io.Reader.
func (cr *ContextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.reader.Read(p)
}

// ProgressReader wraps an io.Reader and tracks bytes read.
type ProgressReader struct {
	reader      io.Reader
	bytesRead   atomic.Int64
	startTime   time.Time
	updateFunc  func(bytesRead int64, elapsed time.Duration)
	updateEvery int64
}

// NewProgressReader creates a new progress tracking reader. updateFunc is
// called roughly every updateEvery bytes; zero means every 10MB.
func NewProgressReader(reader io.Reader, updateEvery int64, updateFunc func(bytesRead int64, elapsed time.Duration)) *ProgressReader {
	if updateEvery <= 0 {
		updateEvery = 10 * 1024 * 1024
	}
	return &ProgressReader{
		reader:      reader,
		startTime:   time.Now(),
		updateFunc:  updateFunc,
		updateEvery: updateEvery,
	}
}

// Read implements io.Reader interface with progress tracking.
func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		newTotal := pr.bytesRead.Add(int64(n))

		// Report each time the total crosses a multiple of updateEvery.
		if pr.updateFunc != nil && newTotal/pr.updateEvery != (newTotal-int64(n))/pr.updateEvery {
			pr.updateFunc(newTotal, time.Since(pr.startTime))
		}
	}
	return n, err
}

// BytesRead returns the total number of bytes read.
func (pr *ProgressReader) BytesRead() int64 {
	return pr.bytesRead.Load()
}

// FormatBytes formats bytes in human-readable format.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatRate formats transfer rate in human-readable format.
func FormatRate(bytesPerSecond float64) string {
	return fmt.Sprintf("%s/s", FormatBytes(int64(bytesPerSecond)))
}
