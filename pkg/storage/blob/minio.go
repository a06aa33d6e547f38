package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"plaindex/pkg/common"
)

// MinioStore keeps blobs in a MinIO (or other S3-compatible) bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinioStore(client *minio.Client, bucket, prefix string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, prefix: prefix}
}

// NewMinioStoreFromEnv connects with credentials from the AWS or MinIO
// environment variables.
func NewMinioStoreFromEnv(endpoint, bucket, prefix string, secure bool) (*MinioStore, error) {
	if endpoint == "" || bucket == "" {
		return nil, fmt.Errorf("%w: minio store needs an endpoint and a bucket", common.ErrInvalidInput)
	}
	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
	})
	client, err := minio.New(endpoint, &minio.Options{Creds: creds, Secure: secure})
	if err != nil {
		return nil, fmt.Errorf("blob: minio client: %w", err)
	}
	return NewMinioStore(client, bucket, prefix), nil
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioStore) Put(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(s.prefix, name),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("blob: minio put %s: %w", name, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(s.prefix, name), minio.GetObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("blob: minio get %s: %w", name, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		// GetObject is lazy; a missing key surfaces on the first read
		if isMinioNotFound(err) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("blob: minio get %s: %w", name, err)
	}
	return data, nil
}

func (s *MinioStore) Delete(ctx context.Context, name string) error {
	key := objectKey(s.prefix, name)
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isMinioNotFound(err) {
			return notFound(name)
		}
		return fmt.Errorf("blob: minio stat %s: %w", name, err)
	}
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    objectKey(s.prefix, prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := relativeName(s.prefix, obj.Key); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
