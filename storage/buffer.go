package storage

import (
	"bytes"
	"io"
	"sync"
)

// Buffer is an in-memory staging area for encoded files before upload.
type Buffer struct {
	buf  *bytes.Buffer
	size int64
	mu   sync.Mutex
}

func NewBuffer() *Buffer {
	return &Buffer{
		buf: bytes.NewBuffer(nil),
	}
}

func (b *Buffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, err = b.buf.Write(p)
	b.size += int64(n)
	return
}

func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
	b.size = 0
}

// Reader returns a reader over the bytes written so far. Later writes are
// not visible to it.
func (b *Buffer) Reader() io.ReadSeeker {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.NewReader(b.buf.Bytes())
}
