// Package s3 stores model artifacts in Amazon S3 (or any S3-compatible
// endpoint reachable through the AWS SDK).
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/lingvec/blobstore"
)

// Store implements blobstore.Store over an S3 bucket.
type Store struct {
	client     *awss3.Client
	uploader   *manager.Uploader
	bucket     string
	rootPrefix string
}

// NewStore wraps an existing S3 client.
func NewStore(client *awss3.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client:     client,
		uploader:   manager.NewUploader(client),
		bucket:     bucket,
		rootPrefix: rootPrefix,
	}
}

// NewStoreFromDefaultConfig builds a client from the ambient AWS
// configuration (env, shared config, instance role).
func NewStoreFromDefaultConfig(ctx context.Context, bucket, rootPrefix string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3 store: %w", err)
	}

	return NewStore(awss3.NewFromConfig(cfg), bucket, rootPrefix), nil
}

func (s *Store) key(key string) string {
	if s.rootPrefix == "" {
		return key
	}

	return path.Join(s.rootPrefix, key)
}

// Put uploads the artifact with the SDK's multipart uploader.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}

	return nil
}

// Get opens the artifact for reading.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
		}

		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}

	return out.Body, nil
}

// Exists reports whether the artifact is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}

		return false, fmt.Errorf("s3 head %s: %w", key, err)
	}

	return true, nil
}
