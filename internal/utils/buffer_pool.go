// Package utils provides small I/O helpers shared by the backup packages.
package utils

import (
	"context"
	"io"
	"sync"
)

// CopyBufferSize is the length of DefaultBufferPool buffers.
const CopyBufferSize = 32 * 1024

// BufferPool hands out fixed-length byte slices for streaming copies.
type BufferPool struct {
	length int
	pool   sync.Pool
}

// NewBufferPool creates a pool of length-byte buffers.
func NewBufferPool(length int) *BufferPool {
	p := &BufferPool{length: length}
	p.pool.New = func() any {
		b := make([]byte, length)
		return &b
	}
	return p
}

// Get borrows a buffer. Return it with Put.
func (p *BufferPool) Get() []byte {
	return (*p.pool.Get().(*[]byte))[:p.length]
}

// Put returns buf to the pool. Slices of another capacity are dropped.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.length {
		return
	}
	buf = buf[:p.length]
	p.pool.Put(&buf)
}

// Copy streams src to dst through a pooled buffer and stops early when ctx
// is cancelled.
func (p *BufferPool) Copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := p.Get()
	defer p.Put(buf)
	return io.CopyBuffer(dst, NewContextReader(ctx, src), buf)
}

// DefaultBufferPool is shared by file copies, hashing and archiving.
var DefaultBufferPool = NewBufferPool(CopyBufferSize)
