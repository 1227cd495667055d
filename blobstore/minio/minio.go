// Package minio stores model artifacts in a MinIO (S3-compatible) bucket
// using the native MinIO client.
package minio

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/lingvec/blobstore"
)

// Store implements blobstore.Store over a MinIO bucket.
type Store struct {
	client     *minio.Client
	bucket     string
	rootPrefix string
}

// NewStore wraps an existing MinIO client.
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{client: client, bucket: bucket, rootPrefix: rootPrefix}
}

func (s *Store) key(key string) string {
	if s.rootPrefix == "" {
		return key
	}

	return path.Join(s.rootPrefix, key)
}

// Put streams the artifact to the bucket.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(key), r, -1, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("minio put %s: %w", key, err)
	}

	return nil
}

// Get opens the artifact for reading.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get %s: %w", key, err)
	}
	// GetObject is lazy; surface missing keys now.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}

		return nil, fmt.Errorf("minio get %s: %w", key, err)
	}

	return obj, nil
}

// Exists reports whether the artifact is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(key), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}

		return false, fmt.Errorf("minio stat %s: %w", key, err)
	}

	return true, nil
}
