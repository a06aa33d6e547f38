package format

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plaindex/pkg/common"
)

func TestDatasetRoundTrip(t *testing.T) {
	keys := []common.KeyType{2, 2, 5, 8, 8, 8, 13, 21, 34}
	for _, f := range []DatasetFormat{FormatCounted, FormatRaw} {
		t.Run(f.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "keys.bin")
			require.NoError(t, WriteDatasetFile(path, keys, f))

			ds, err := ReadDataset(path, f)
			require.NoError(t, err)
			assert.Equal(t, keys, ds.Keys())

			mapped, err := OpenDataset(path, f)
			require.NoError(t, err)
			assert.Equal(t, keys, mapped.Keys())
			assert.Equal(t, ds.Fingerprint(), mapped.Fingerprint())
			require.NoError(t, mapped.Close())
			assert.True(t, mapped.Closed())
		})
	}
}

func TestCountedLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDataset(&buf, []common.KeyType{1, 0x01020304}, FormatCounted))
	assert.Equal(t, []byte{
		2, 0, 0, 0, 0, 0, 0, 0,
		1, 0, 0, 0,
		4, 3, 2, 1,
	}, buf.Bytes())
}

func TestDatasetCorrupt(t *testing.T) {
	// header claims three keys, two present
	data := []byte{3, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0}
	_, err := DecodeDataset(data, FormatCounted)
	require.ErrorIs(t, err, common.ErrCorruptFormat)
	var fe *common.FormatError
	require.True(t, errors.As(err, &fe))
	assert.EqualValues(t, 12, fe.Expected)
	assert.EqualValues(t, 8, fe.Size)

	_, err = DecodeDataset([]byte{1, 2, 3}, FormatCounted)
	assert.ErrorIs(t, err, common.ErrCorruptFormat)

	_, err = DecodeDataset([]byte{1, 0, 0, 0, 2}, FormatRaw)
	assert.ErrorIs(t, err, common.ErrCorruptFormat)
}

func TestReadDatasetRejectsUnsorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.bin")
	require.NoError(t, WriteDatasetFile(path, []common.KeyType{5, 1}, FormatRaw))
	_, err := ReadDataset(path, FormatRaw)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = OpenDataset(path, FormatRaw)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	empty := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = OpenDataset(empty, FormatRaw)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestParseDatasetFormat(t *testing.T) {
	f, err := ParseDatasetFormat("raw")
	require.NoError(t, err)
	assert.Equal(t, FormatRaw, f)
	_, err = ParseDatasetFormat("csv")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
