package storage

import (
	"context"
	"fmt"

	"taxifare-data/config"
)

// Open builds the storage backend selected by cfg.
func Open(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch cfg.Storage.Driver {
	case config.StorageLocal:
		if cfg.Storage.Path == "" {
			return nil, fmt.Errorf("storage.path is required for local storage")
		}
		return NewLocalStorage(cfg.Storage.Path), nil
	case config.StorageGCS:
		if cfg.Storage.Bucket == "" {
			return nil, fmt.Errorf("storage.bucket is required for gcs storage")
		}
		bq := cfg.Warehouse.BigQuery
		client, err := DialGCS(ctx, bq.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return NewGCSStorage(client, bq.Project, cfg.Storage.Bucket, cfg.Storage.Prefix), nil
	case config.StorageS3:
		if cfg.Storage.Bucket == "" {
			return nil, fmt.Errorf("storage.bucket is required for s3 storage")
		}
		client, err := DialS3(ctx, cfg.Storage.Region, cfg.Storage.Endpoint)
		if err != nil {
			return nil, err
		}
		return NewS3Storage(client, cfg.Storage.Bucket, cfg.Storage.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
