package blob

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plaindex/pkg/common"
)

// fakeS3 serves the single-part upload path and the read calls from a map.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	panic("multipart upload not expected")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	panic("multipart upload not expected")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	panic("multipart upload not expected")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	panic("multipart upload not expected")
}

func stores(t *testing.T) map[string]Store {
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"local":  local,
		"memory": NewMemoryStore(),
		"s3":     NewS3Store(newFakeS3(), "bucket", "indexes"),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "books/eps4.plaf", []byte("one")))
			require.NoError(t, s.Put(ctx, "books/eps8.plaf", []byte("two")))
			require.NoError(t, s.Put(ctx, "users.bin", []byte("three")))

			data, err := s.Get(ctx, "books/eps4.plaf")
			require.NoError(t, err)
			assert.Equal(t, []byte("one"), data)

			require.NoError(t, s.Put(ctx, "books/eps4.plaf", []byte("replaced")))
			data, err = s.Get(ctx, "books/eps4.plaf")
			require.NoError(t, err)
			assert.Equal(t, []byte("replaced"), data)

			names, err := s.List(ctx, "books/")
			require.NoError(t, err)
			assert.Equal(t, []string{"books/eps4.plaf", "books/eps8.plaf"}, names)

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			require.NoError(t, s.Delete(ctx, "users.bin"))
			_, err = s.Get(ctx, "users.bin")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "users.bin"), ErrNotFound)
		})
	}
}

func TestStoreRejectsBadNames(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, bad := range []string{"", "/abs", "../escape", "a/../../b"} {
				assert.ErrorIs(t, s.Put(ctx, bad, []byte("x")), common.ErrInvalidInput, bad)
			}
		})
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", buf))
	buf[0] = 'z'
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'z'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestLocalStoreLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewLocalStore(root)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "nested/dir/file.bin", []byte("payload")))

	entries, err := os.ReadDir(filepath.Join(root, "nested", "dir"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file.bin", entries[0].Name())
}

func TestObjectKeys(t *testing.T) {
	assert.Equal(t, "a.bin", objectKey("", "a.bin"))
	assert.Equal(t, "pre/a.bin", objectKey("pre", "a.bin"))
	assert.Equal(t, "pre/a.bin", objectKey("pre/", "a.bin"))
	assert.Equal(t, "a.bin", relativeName("pre", "pre/a.bin"))
	assert.Equal(t, "a.bin", relativeName("pre/", "pre/a.bin"))
	assert.Equal(t, "x/a.bin", relativeName("", "x/a.bin"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Kind: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Options{Kind: "local", Root: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = Open(ctx, Options{Kind: "s3"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = Open(ctx, Options{Kind: "minio", Bucket: "b"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = Open(ctx, Options{Kind: "ftp"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
