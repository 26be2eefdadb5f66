package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStorage implements the Store interface using MinIO (S3-compatible storage).
type MinIOStorage struct {
	client *minio.Client
	bucket string
}

// MinIOConfig holds the configuration for MinIO client initialization.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
}

// NewMinIOStorage creates a new MinIO storage client and creates the bucket
// if it does not exist yet.
func NewMinIOStorage(ctx context.Context, config MinIOConfig) (*MinIOStorage, error) {
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if config.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if config.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", config.Bucket, err)
		}
	}

	return &MinIOStorage{
		client: client,
		bucket: config.Bucket,
	}, nil
}

// Put stores data at key.
func (m *MinIOStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: ContentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to MinIO object %s: %w", key, err)
	}

	return nil
}

// Get retrieves the object stored at key.
// Returns nil if the object does not exist.
func (m *MinIOStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get MinIO object %s: %w", key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only shows up on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read MinIO object %s: %w", key, err)
	}

	return data, nil
}

// Exists reports whether an object is stored at key.
func (m *MinIOStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat MinIO object %s: %w", key, err)
	}

	return true, nil
}

// List returns the names of all objects under prefix.
func (m *MinIOStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	objectCh := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		keys = append(keys, object.Key)
	}

	return keys, nil
}

// Close releases resources held by the storage client.
// The MinIO client holds no resources that need explicit cleanup.
func (m *MinIOStorage) Close() error {
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
