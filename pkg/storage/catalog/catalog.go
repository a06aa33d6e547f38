// Package catalog persists named breakpoint sequences together with the
// build parameters and the identity of the dataset they describe.
package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"plaindex/pkg/common"
	"plaindex/pkg/dataset"
	"plaindex/pkg/logging"
)

// Meta describes a stored index.
type Meta struct {
	Name        string    `json:"name" yaml:"name"`
	BuildID     string    `json:"build_id" yaml:"build_id"`
	Epsilon     uint32    `json:"epsilon" yaml:"epsilon"`
	Policy      string    `json:"policy" yaml:"policy"`
	DatasetLen  uint64    `json:"dataset_len" yaml:"dataset_len"`
	Fingerprint uint64    `json:"fingerprint" yaml:"fingerprint"`
	Segments    int       `json:"segments" yaml:"segments"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`

	// Source and SourceFormat locate the dataset file, when known, so a
	// server can reopen the index after a restart.
	Source       string `json:"source,omitempty" yaml:"source,omitempty"`
	SourceFormat string `json:"source_format,omitempty" yaml:"source_format,omitempty"`
}

// Entry is a stored index.
type Entry struct {
	Meta
	Breakpoints []common.Breakpoint
}

// Catalog stores entries by name. Saving an existing name replaces it.
type Catalog interface {
	Save(ctx context.Context, e Entry) error
	Load(ctx context.Context, name string) (Entry, error)
	List(ctx context.Context) ([]Meta, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// NewEntry stamps a fresh build ID and records the dataset identity.
func NewEntry(name string, bps []common.Breakpoint, epsilon uint32, policy string, ds *dataset.Dataset) Entry {
	own := make([]common.Breakpoint, len(bps))
	copy(own, bps)
	return Entry{
		Meta: Meta{
			Name:        name,
			BuildID:     uuid.NewString(),
			Epsilon:     epsilon,
			Policy:      policy,
			DatasetLen:  uint64(ds.Len()),
			Fingerprint: ds.Fingerprint(),
			Segments:    len(bps),
			CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		},
		Breakpoints: own,
	}
}

// Check refuses a dataset other than the one the entry was built from.
func (m Meta) Check(ds *dataset.Dataset) error {
	if uint64(ds.Len()) != m.DatasetLen {
		return fmt.Errorf("%w: %s was built over %d keys, dataset has %d",
			common.ErrStaleIndex, m.Name, m.DatasetLen, ds.Len())
	}
	if ds.Fingerprint() != m.Fingerprint {
		return fmt.Errorf("%w: %s dataset fingerprint %016x, expected %016x",
			common.ErrStaleIndex, m.Name, ds.Fingerprint(), m.Fingerprint)
	}
	return nil
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: invalid index name %q", common.ErrInvalidInput, name)
	}
	return nil
}

// Kinds accepted by Open.
const (
	KindSQLite = "sqlite"
	KindBadger = "badger"
)

// Open creates a catalog of the given kind under dir.
func Open(kind, dir string, logger *logging.Logger) (Catalog, error) {
	switch strings.ToLower(kind) {
	case "", KindSQLite:
		return NewSQLite(filepath.Join(dir, "catalog.db"))
	case KindBadger:
		return NewBadger(BadgerOptions{Dir: filepath.Join(dir, "catalog"), Logger: logger})
	}
	return nil, fmt.Errorf("%w: unknown catalog kind %q", common.ErrInvalidInput, kind)
}
