package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"taxifare-data/config"
)

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "taxifare-snapshots")
	s := NewLocalStorage(root)

	t.Run("a missing root has no buckets", func(t *testing.T) {
		buckets, err := s.Buckets(ctx)
		require.NoError(t, err)
		require.Empty(t, buckets)
	})

	t.Run("it reads back what it wrote", func(t *testing.T) {
		require.NoError(t, s.Write(ctx, "snapshots/train_10k/a/data/00000.parquet", strings.NewReader("rows")))
		require.NoError(t, s.Write(ctx, "snapshots/train_10k/a/manifest.json", strings.NewReader("{}")))
		require.NoError(t, s.Write(ctx, "snapshots/val_10k/b/manifest.json", strings.NewReader("{}")))

		r, err := s.Read(ctx, "snapshots/train_10k/a/manifest.json")
		require.NoError(t, err)
		defer r.Close()
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Equal(t, "{}", string(data))
	})

	t.Run("it lists files under a prefix", func(t *testing.T) {
		files, err := s.List(ctx, "snapshots/train_10k/")
		require.NoError(t, err)
		require.Equal(t, []string{
			"snapshots/train_10k/a/data/00000.parquet",
			"snapshots/train_10k/a/manifest.json",
		}, files)
	})

	t.Run("the root directory is the bucket", func(t *testing.T) {
		buckets, err := s.Buckets(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"taxifare-snapshots"}, buckets)
	})

	t.Run("overwriting replaces the whole file", func(t *testing.T) {
		require.NoError(t, s.Write(ctx, "f", strings.NewReader("longer content")))
		require.NoError(t, s.Write(ctx, "f", strings.NewReader("short")))

		r, err := s.Read(ctx, "f")
		require.NoError(t, err)
		defer r.Close()
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Equal(t, "short", string(data))
	})

	t.Run("reading a missing file fails", func(t *testing.T) {
		_, err := s.Read(ctx, "nope")
		require.Error(t, err)
	})
}

func TestBuffer(t *testing.T) {
	b := NewBuffer()
	_, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	require.EqualValues(t, 3, b.Size())

	data, err := io.ReadAll(b.Reader())
	require.NoError(t, err)
	require.Equal(t, "abc", string(data))

	b.Reset()
	require.Zero(t, b.Size())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("local storage needs a path", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Storage.Driver = config.StorageLocal
		_, err := Open(ctx, cfg)
		require.ErrorContains(t, err, "storage.path")

		cfg.Storage.Path = t.TempDir()
		s, err := Open(ctx, cfg)
		require.NoError(t, err)
		require.IsType(t, &LocalStorage{}, s)
	})

	t.Run("s3 storage needs a bucket", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Storage.Driver = config.StorageS3
		_, err := Open(ctx, cfg)
		require.ErrorContains(t, err, "storage.bucket")
	})

	t.Run("gcs storage needs a bucket", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Storage.Driver = config.StorageGCS
		_, err := Open(ctx, cfg)
		require.ErrorContains(t, err, "storage.bucket is required for gcs storage")
	})

	t.Run("gcs storage dials with the warehouse credentials", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Storage.Driver = config.StorageGCS
		cfg.Storage.Bucket = "taxifare-snapshots"
		cfg.Warehouse.BigQuery.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")
		_, err := Open(ctx, cfg)
		require.ErrorContains(t, err, "creating storage client")
	})

	t.Run("unknown drivers are refused", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Storage.Driver = "ftp"
		_, err := Open(ctx, cfg)
		require.ErrorContains(t, err, "ftp")
	})
}

func TestGCSStorage(t *testing.T) {
	t.Run("list prefixes sit under the storage prefix", func(t *testing.T) {
		s := NewGCSStorage(nil, "proj", "taxifare-snapshots", "exports")
		require.Equal(t, "exports/snapshots/train_10k/", s.listPrefix("snapshots/train_10k/"))
		require.Equal(t, "exports/snapshots/train_10k", s.listPrefix("snapshots/train_10k"))
		require.Equal(t, "snapshots/train_10k/a/manifest.json", s.relative("exports/snapshots/train_10k/a/manifest.json"))
	})

	t.Run("an empty prefix lists the whole bucket", func(t *testing.T) {
		s := NewGCSStorage(nil, "proj", "taxifare-snapshots", "")
		require.Equal(t, "", s.listPrefix(""))
		require.Equal(t, "snapshots/", s.listPrefix("snapshots/"))
		require.Equal(t, "snapshots/a", s.relative("snapshots/a"))
	})

	t.Run("buckets need a project", func(t *testing.T) {
		s := NewGCSStorage(nil, "", "taxifare-snapshots", "")
		_, err := s.Buckets(context.Background())
		require.ErrorContains(t, err, "no project configured")
		require.Equal(t, "taxifare-snapshots", s.Bucket())
	})
}
