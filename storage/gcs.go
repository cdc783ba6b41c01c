package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GCSStorage struct {
	client  *gcs.Client
	project string
	bucket  string
	prefix  string
}

var (
	_ Storage  = (*GCSStorage)(nil)
	_ Bucketer = (*GCSStorage)(nil)
)

// NewGCSStorage stores files in bucket under prefix. project scopes Buckets.
func NewGCSStorage(client *gcs.Client, project, bucket, prefix string) *GCSStorage {
	return &GCSStorage{
		client:  client,
		project: project,
		bucket:  bucket,
		prefix:  prefix,
	}
}

// DialGCS builds a Cloud Storage client from credentialsFile, or from
// application default credentials when it is empty.
func DialGCS(ctx context.Context, credentialsFile string) (*gcs.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return client, nil
}

func (s *GCSStorage) Bucket() string {
	return s.bucket
}

func (s *GCSStorage) object(filepath string) *gcs.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path.Join(s.prefix, filepath))
}

func (s *GCSStorage) Write(ctx context.Context, filepath string, data io.Reader) error {
	w := s.object(filepath).NewWriter(ctx)
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	return nil
}

func (s *GCSStorage) Read(ctx context.Context, filepath string) (io.ReadCloser, error) {
	r, err := s.object(filepath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting object: %w", err)
	}
	return r, nil
}

func (s *GCSStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var files []string

	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: s.listPrefix(prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		files = append(files, s.relative(attrs.Name))
	}

	return files, nil
}

// listPrefix joins prefix under the storage prefix, keeping a trailing slash
// so "snapshots/a/" does not match "snapshots/ab".
func (s *GCSStorage) listPrefix(prefix string) string {
	full := path.Join(s.prefix, prefix)
	if full == "." {
		return ""
	}
	if strings.HasSuffix(prefix, "/") {
		full += "/"
	}
	return full
}

func (s *GCSStorage) relative(name string) string {
	if s.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, strings.TrimSuffix(s.prefix, "/")+"/")
}

func (s *GCSStorage) Buckets(ctx context.Context) ([]string, error) {
	if s.project == "" {
		return nil, errors.New("listing buckets: no project configured")
	}

	var names []string
	it := s.client.Buckets(ctx, s.project)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing buckets: %w", err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (s *GCSStorage) Close() error {
	return s.client.Close()
}
