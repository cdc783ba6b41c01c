package storage

import (
	"context"
	"io"
)

// Storage holds snapshot files under slash-separated paths.
type Storage interface {
	Write(ctx context.Context, filepath string, data io.Reader) error
	Read(ctx context.Context, filepath string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Bucketer lists the buckets visible to the storage credentials.
type Bucketer interface {
	Buckets(ctx context.Context) ([]string, error)
	Bucket() string
}
