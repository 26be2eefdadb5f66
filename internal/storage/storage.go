package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/config"
)

// ContentType is the content type recorded for stored report blobs.
const ContentType = "application/octet-stream"

// New creates the Store selected by the storage configuration.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Type {
	case config.StorageTypeGCS:
		store, err = NewGCSStorage(ctx, cfg.GCSBucket)
	case config.StorageTypeMinio:
		store, err = NewMinIOStorage(ctx, MinIOConfig{
			Endpoint:        cfg.MinIOEndpoint,
			AccessKeyID:     cfg.MinIOAccessKey,
			SecretAccessKey: cfg.MinIOSecretKey,
			UseSSL:          cfg.MinIOUseSSL,
			Bucket:          cfg.MinIOBucket,
		})
	case config.StorageTypeS3:
		store, err = NewS3Storage(ctx, S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
	case config.StorageTypeLocal:
		if cfg.LocalPath == "" {
			return nil, errors.New("local path is required")
		}
		store = NewLocalStorage(afero.NewBasePathFs(afero.NewOsFs(), cfg.LocalPath))
	default:
		return nil, fmt.Errorf("invalid storage type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage: %w", cfg.Type, err)
	}

	return store, nil
}

// validateKey validates that an object key is usable by every backend.
func validateKey(key string) error {
	if key == "" {
		return errors.New("key is required")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("key must be relative: %s", key)
	}
	return nil
}
