// Package blob publishes boundaries and dataset files to local or object
// storage.
package blob

import (
	"context"
	"fmt"
	"strings"

	"plaindex/pkg/common"
)

// ErrNotFound is returned, wrapped, for missing blobs.
var ErrNotFound = common.ErrNotFound

// Store holds immutable named blobs. Put replaces an existing blob.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	// List returns the sorted names that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Options selects and configures a store for Open.
type Options struct {
	Kind     string // local, memory, s3 or minio
	Root     string // local directory
	Bucket   string
	Prefix   string
	Endpoint string // custom S3 endpoint or minio host:port
	Secure   bool
}

// Open builds the store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Kind) {
	case "", "local":
		return NewLocalStore(opts.Root)
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3StoreFromEnv(ctx, opts.Bucket, opts.Prefix, opts.Endpoint)
	case "minio":
		return NewMinioStoreFromEnv(opts.Endpoint, opts.Bucket, opts.Prefix, opts.Secure)
	}
	return nil, fmt.Errorf("%w: unknown blob store %q", common.ErrInvalidInput, opts.Kind)
}

func validName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
		return fmt.Errorf("%w: invalid blob name %q", common.ErrInvalidInput, name)
	}
	return nil
}

func notFound(name string) error {
	return fmt.Errorf("blob %s: %w", name, ErrNotFound)
}

// objectKey joins the store prefix and a blob name.
func objectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}

// relativeName strips the store prefix from an object key.
func relativeName(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, strings.TrimSuffix(prefix, "/")), "/")
}
