// Package dataset holds the immutable sorted key sequence an index is built
// over.
package dataset

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"plaindex/pkg/common"
)

// Dataset is a read-only, ascending sequence of keys. Duplicates are allowed.
type Dataset struct {
	keys   []common.KeyType
	closed atomic.Bool
	closer io.Closer

	fpOnce sync.Once
	fp     uint64
}

// New validates keys and returns a Dataset over a private copy.
func New(keys []common.KeyType) (*Dataset, error) {
	if err := Validate(keys); err != nil {
		return nil, err
	}
	own := make([]common.KeyType, len(keys))
	copy(own, keys)
	return &Dataset{keys: own}, nil
}

// Borrow validates keys and wraps them without copying. The caller must not
// modify keys afterwards; closer, if non-nil, runs on Close.
func Borrow(keys []common.KeyType, closer io.Closer) (*Dataset, error) {
	if err := Validate(keys); err != nil {
		return nil, err
	}
	return &Dataset{keys: keys, closer: closer}, nil
}

// Validate checks that keys are non-empty and ascending.
func Validate(keys []common.KeyType) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty dataset", common.ErrInvalidInput)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] < keys[i-1] {
			return fmt.Errorf("%w: dataset not sorted at index %d (%d after %d)",
				common.ErrInvalidInput, i, keys[i], keys[i-1])
		}
	}
	return nil
}

func (d *Dataset) Len() int { return len(d.keys) }

func (d *Dataset) Min() common.KeyType { return d.keys[0] }

func (d *Dataset) Max() common.KeyType { return d.keys[len(d.keys)-1] }

// At returns the key at position i.
func (d *Dataset) At(i int) common.KeyType { return d.keys[i] }

// Keys exposes the underlying slice. It must be treated as read-only.
func (d *Dataset) Keys() []common.KeyType { return d.keys }

// FirstRank returns the number of keys strictly less than key.
func (d *Dataset) FirstRank(key common.KeyType) int {
	return sort.Search(len(d.keys), func(i int) bool { return d.keys[i] >= key })
}

// Closed reports whether Close has been called. Indexes built over a closed
// dataset are stale.
func (d *Dataset) Closed() bool { return d.closed.Load() }

// Fingerprint is an xxhash64 of the little-endian key bytes. It identifies
// the dataset a persisted breakpoint sequence was built from.
func (d *Dataset) Fingerprint() uint64 {
	d.fpOnce.Do(func() {
		d.fp = Fingerprint(d.keys)
	})
	return d.fp
}

// Fingerprint hashes keys the same way Dataset.Fingerprint does.
func Fingerprint(keys []common.KeyType) uint64 {
	h := xxhash.New()
	var buf [4096]byte
	n := 0
	for _, k := range keys {
		binary.LittleEndian.PutUint32(buf[n:], uint32(k))
		n += 4
		if n == len(buf) {
			_, _ = h.Write(buf[:n])
			n = 0
		}
	}
	_, _ = h.Write(buf[:n])
	return h.Sum64()
}

// Close marks the dataset released and frees any mapping behind it. Queries
// must have stopped before a mapped dataset is closed.
func (d *Dataset) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
