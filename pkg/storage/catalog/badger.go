package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"plaindex/pkg/common"
	"plaindex/pkg/logging"
)

const badgerPrefix = "index:"

// Badger keeps each entry as one msgpack value under index:<name>.
type Badger struct {
	db *badger.DB
}

type BadgerOptions struct {
	// Dir holds the data files. Required unless InMemory is set.
	Dir      string
	InMemory bool
	// Logger receives badger warnings and errors. Nil discards them.
	Logger *logging.Logger
}

type storedBreakpoint struct {
	_msgpack struct{} `msgpack:",as_array"`
	Key      uint32
	Rank     uint64
	Slope    float64
}

type storedEntry struct {
	Name        string             `msgpack:"name"`
	BuildID     string             `msgpack:"build_id"`
	Epsilon     uint32             `msgpack:"epsilon"`
	Policy      string             `msgpack:"policy"`
	DatasetLen  uint64             `msgpack:"dataset_len"`
	Fingerprint uint64             `msgpack:"fingerprint"`
	CreatedAt   int64              `msgpack:"created_at"`
	Source      string             `msgpack:"source,omitempty"`
	SourceFmt   string             `msgpack:"source_fmt,omitempty"`
	Breakpoints []storedBreakpoint `msgpack:"breakpoints"`
}

func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("catalog: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("catalog: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Save(_ context.Context, e Entry) error {
	if err := validName(e.Name); err != nil {
		return err
	}
	se := storedEntry{
		Name:        e.Name,
		BuildID:     e.BuildID,
		Epsilon:     e.Epsilon,
		Policy:      e.Policy,
		DatasetLen:  e.DatasetLen,
		Fingerprint: e.Fingerprint,
		CreatedAt:   e.CreatedAt.UnixMilli(),
		Source:      e.Source,
		SourceFmt:   e.SourceFormat,
		Breakpoints: make([]storedBreakpoint, len(e.Breakpoints)),
	}
	for i, bp := range e.Breakpoints {
		se.Breakpoints[i] = storedBreakpoint{Key: uint32(bp.Key), Rank: bp.Rank, Slope: bp.Slope}
	}
	val, err := msgpack.Marshal(&se)
	if err != nil {
		return fmt.Errorf("catalog: encode %s: %w", e.Name, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerPrefix+e.Name), val)
	})
}

func (b *Badger) Load(_ context.Context, name string) (Entry, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerPrefix + name))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, fmt.Errorf("catalog: %s: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: load %s: %w", name, err)
	}
	return decodeEntry(val)
}

func decodeEntry(val []byte) (Entry, error) {
	var se storedEntry
	if err := msgpack.Unmarshal(val, &se); err != nil {
		return Entry{}, fmt.Errorf("%w: catalog entry: %v", common.ErrCorruptFormat, err)
	}
	e := Entry{
		Meta: Meta{
			Name:        se.Name,
			BuildID:     se.BuildID,
			Epsilon:     se.Epsilon,
			Policy:      se.Policy,
			DatasetLen:  se.DatasetLen,
			Fingerprint: se.Fingerprint,
			Segments:    len(se.Breakpoints),
			CreatedAt:   time.UnixMilli(se.CreatedAt).UTC(),

			Source:       se.Source,
			SourceFormat: se.SourceFmt,
		},
		Breakpoints: make([]common.Breakpoint, len(se.Breakpoints)),
	}
	for i, bp := range se.Breakpoints {
		e.Breakpoints[i] = common.Breakpoint{Key: common.KeyType(bp.Key), Rank: bp.Rank, Slope: bp.Slope}
	}
	return e, nil
}

func (b *Badger) List(_ context.Context) ([]Meta, error) {
	var out []Meta
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = []byte(badgerPrefix)
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(iterOpts.Prefix); it.ValidForPrefix(iterOpts.Prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := decodeEntry(val)
			if err != nil {
				return err
			}
			out = append(out, e.Meta)
		}
		return nil
	})
	return out, err
}

func (b *Badger) Delete(_ context.Context, name string) error {
	key := []byte(badgerPrefix + name)
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("catalog: %s: %w", name, common.ErrNotFound)
	}
	return err
}

func (b *Badger) Close() error { return b.db.Close() }

// badgerLogger forwards badger warnings and errors, dropping info and debug.
type badgerLogger struct {
	l *logging.Logger
}

func (bl badgerLogger) Errorf(f string, v ...interface{}) {
	bl.l.Error(fmt.Sprintf(f, v...), "component", "badger")
}

func (bl badgerLogger) Warningf(f string, v ...interface{}) {
	bl.l.Warn(fmt.Sprintf(f, v...), "component", "badger")
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
