// Package format reads and writes dataset and boundaries files.
package format

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"unsafe"

	"plaindex/pkg/common"
	"plaindex/pkg/dataset"
	"plaindex/pkg/storage/mmap"
)

// DatasetFormat is the on-disk layout of a key file.
type DatasetFormat int

const (
	// FormatCounted is a u64 key count followed by that many u32 keys, all
	// little-endian.
	FormatCounted DatasetFormat = iota
	// FormatRaw is u32 little-endian keys with no header.
	FormatRaw
)

const countHeaderSize = 8

func (f DatasetFormat) String() string {
	switch f {
	case FormatCounted:
		return "counted"
	case FormatRaw:
		return "raw"
	}
	return fmt.Sprintf("dataset_format(%d)", int(f))
}

func ParseDatasetFormat(s string) (DatasetFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "counted":
		return FormatCounted, nil
	case "raw":
		return FormatRaw, nil
	}
	return 0, fmt.Errorf("%w: unknown dataset format %q", common.ErrInvalidInput, s)
}

// keyPayload returns the key bytes of a dataset file after checking its
// header and alignment.
func keyPayload(data []byte, f DatasetFormat) ([]byte, error) {
	switch f {
	case FormatCounted:
		if len(data) < countHeaderSize {
			return nil, &common.FormatError{Format: "counted dataset", Width: countHeaderSize, Size: int64(len(data)), Expected: countHeaderSize}
		}
		count := binary.LittleEndian.Uint64(data)
		payload := data[countHeaderSize:]
		if count > uint64(len(payload))/4 || uint64(len(payload)) != count*4 {
			return nil, &common.FormatError{Format: "counted dataset", Width: 4, Size: int64(len(payload)), Expected: int64(count * 4)}
		}
		return payload, nil
	case FormatRaw:
		if len(data)%4 != 0 {
			return nil, &common.FormatError{Format: "raw dataset", Width: 4, Size: int64(len(data))}
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: unknown dataset format %d", common.ErrInvalidInput, int(f))
}

// DecodeDataset copies the keys out of a dataset file image. Ordering is not
// checked here.
func DecodeDataset(data []byte, f DatasetFormat) ([]common.KeyType, error) {
	payload, err := keyPayload(data, f)
	if err != nil {
		return nil, err
	}
	keys := make([]common.KeyType, len(payload)/4)
	for i := range keys {
		keys[i] = common.KeyType(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return keys, nil
}

// ReadDataset loads a dataset file into memory.
func ReadDataset(path string, f DatasetFormat) (*dataset.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("format: read dataset %s: %w", path, err)
	}
	keys, err := DecodeDataset(data, f)
	if err != nil {
		return nil, fmt.Errorf("format: read dataset %s: %w", path, err)
	}
	return dataset.Borrow(keys, nil)
}

// OpenDataset maps a dataset file and serves keys straight from the
// mapping on little-endian hosts. Closing the dataset unmaps the file.
func OpenDataset(path string, f DatasetFormat) (*dataset.Dataset, error) {
	if !littleEndian() {
		return ReadDataset(path, f)
	}
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("format: open dataset %s: %w", path, err)
	}
	payload, err := keyPayload(m.Data, f)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("format: open dataset %s: %w", path, err)
	}
	var keys []common.KeyType
	if len(payload) > 0 {
		// mappings are page aligned and the header is 8 bytes, so the
		// payload is 4-byte aligned.
		keys = unsafe.Slice((*common.KeyType)(unsafe.Pointer(&payload[0])), len(payload)/4)
	}
	ds, err := dataset.Borrow(keys, m)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("format: open dataset %s: %w", path, err)
	}
	return ds, nil
}

func littleEndian() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}

// WriteDataset encodes keys in format f.
func WriteDataset(w io.Writer, keys []common.KeyType, f DatasetFormat) error {
	bw := bufio.NewWriter(w)
	var buf [8]byte
	switch f {
	case FormatCounted:
		binary.LittleEndian.PutUint64(buf[:], uint64(len(keys)))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	case FormatRaw:
	default:
		return fmt.Errorf("%w: unknown dataset format %d", common.ErrInvalidInput, int(f))
	}
	for _, k := range keys {
		binary.LittleEndian.PutUint32(buf[:4], uint32(k))
		if _, err := bw.Write(buf[:4]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteDatasetFile writes keys to path atomically.
func WriteDatasetFile(path string, keys []common.KeyType, f DatasetFormat) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		return WriteDataset(w, keys, f)
	})
}
