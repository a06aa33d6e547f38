package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"plaindex/pkg/common"
	"plaindex/pkg/dataset"
)

// BoundaryFormat selects the record layout of a boundaries file.
type BoundaryFormat int

const (
	// BoundaryKeyRank is 12-byte records {u32 key, u64 rank}.
	BoundaryKeyRank BoundaryFormat = iota
	// BoundaryRankOnly is the legacy 4-byte {u32 rank} layout; keys are
	// recovered from the dataset.
	BoundaryRankOnly
	// BoundaryFramed is a headed, optionally compressed container that also
	// keeps slopes.
	BoundaryFramed
)

const (
	keyRankWidth  = 12
	rankOnlyWidth = 4
)

func (f BoundaryFormat) String() string {
	switch f {
	case BoundaryKeyRank:
		return "keyrank"
	case BoundaryRankOnly:
		return "rankonly"
	case BoundaryFramed:
		return "framed"
	}
	return fmt.Sprintf("boundary_format(%d)", int(f))
}

// RecordWidth is the fixed record size, or 0 for the framed container.
func (f BoundaryFormat) RecordWidth() int {
	switch f {
	case BoundaryKeyRank:
		return keyRankWidth
	case BoundaryRankOnly:
		return rankOnlyWidth
	}
	return 0
}

func ParseBoundaryFormat(s string) (BoundaryFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keyrank", "key_rank":
		return BoundaryKeyRank, nil
	case "rankonly", "rank_only", "legacy":
		return BoundaryRankOnly, nil
	case "framed":
		return BoundaryFramed, nil
	}
	return 0, fmt.Errorf("%w: unknown boundary format %q", common.ErrInvalidInput, s)
}

// DetectBoundaryFormat recognizes framed containers by their magic and
// falls back to fallback otherwise.
func DetectBoundaryFormat(data []byte, fallback BoundaryFormat) BoundaryFormat {
	if bytes.HasPrefix(data, framedMagic[:]) {
		return BoundaryFramed
	}
	return fallback
}

type writeSettings struct {
	compression Compression
	epsilon     uint32
	ds          *dataset.Dataset
}

type WriteOption func(*writeSettings)

// WithCompression sets the framed block compression.
func WithCompression(c Compression) WriteOption {
	return func(s *writeSettings) { s.compression = c }
}

// WithEpsilon records the build error bound in a framed header.
func WithEpsilon(eps uint32) WriteOption {
	return func(s *writeSettings) { s.epsilon = eps }
}

// WithDataset records the dataset length and fingerprint in a framed
// header so that loads against other data are refused.
func WithDataset(ds *dataset.Dataset) WriteOption {
	return func(s *writeSettings) { s.ds = ds }
}

// WriteBoundaries encodes bps in format f. The fixed-width formats carry no
// slopes; they accept only sequences whose slopes are the secants between
// consecutive breakpoints.
func WriteBoundaries(w io.Writer, bps []common.Breakpoint, f BoundaryFormat, opts ...WriteOption) error {
	var s writeSettings
	for _, fn := range opts {
		fn(&s)
	}
	if len(bps) == 0 {
		return fmt.Errorf("%w: no breakpoints", common.ErrInvalidInput)
	}
	if f == BoundaryFramed {
		hdr := FramedHeader{Compression: s.compression, Epsilon: s.epsilon}
		if common.IsConnected(bps) {
			hdr.Flags |= FlagConnected
		}
		if s.ds != nil {
			hdr.DatasetLen = uint64(s.ds.Len())
			hdr.Fingerprint = s.ds.Fingerprint()
		}
		return WriteFramed(w, hdr, bps)
	}
	if !common.IsConnected(bps) {
		return fmt.Errorf("%w: %s records cannot hold these slopes; use the framed format", common.ErrInvalidInput, f)
	}

	var buf []byte
	switch f {
	case BoundaryKeyRank:
		buf = make([]byte, keyRankWidth*len(bps))
		for i, bp := range bps {
			rec := buf[i*keyRankWidth:]
			binary.LittleEndian.PutUint32(rec, uint32(bp.Key))
			binary.LittleEndian.PutUint64(rec[4:], bp.Rank)
		}
	case BoundaryRankOnly:
		buf = make([]byte, rankOnlyWidth*len(bps))
		for i, bp := range bps {
			if bp.Rank > math.MaxUint32 {
				return fmt.Errorf("%w: rank %d does not fit a 4-byte record", common.ErrInvalidInput, bp.Rank)
			}
			binary.LittleEndian.PutUint32(buf[i*rankOnlyWidth:], uint32(bp.Rank))
		}
	default:
		return fmt.Errorf("%w: unknown boundary format %d", common.ErrInvalidInput, int(f))
	}
	_, err := w.Write(buf)
	return err
}

// ReadBoundaries decodes a boundaries file image. ds is required for the
// rank-only format; for framed files it is optional and, when given, must
// match the dataset recorded in the header.
func ReadBoundaries(data []byte, f BoundaryFormat, ds *dataset.Dataset) ([]common.Breakpoint, error) {
	switch f {
	case BoundaryKeyRank:
		return decodeKeyRank(data)
	case BoundaryRankOnly:
		return decodeRankOnly(data, ds)
	case BoundaryFramed:
		hdr, bps, err := ReadFramed(data)
		if err != nil {
			return nil, err
		}
		if ds != nil {
			if err := hdr.CheckDataset(ds); err != nil {
				return nil, err
			}
		}
		return bps, nil
	}
	return nil, fmt.Errorf("%w: unknown boundary format %d", common.ErrInvalidInput, int(f))
}

func decodeKeyRank(data []byte) ([]common.Breakpoint, error) {
	if len(data)%keyRankWidth != 0 {
		return nil, &common.FormatError{Format: "keyrank boundaries", Width: keyRankWidth, Size: int64(len(data))}
	}
	bps := make([]common.Breakpoint, len(data)/keyRankWidth)
	for i := range bps {
		rec := data[i*keyRankWidth:]
		bps[i] = common.Breakpoint{
			Key:  common.KeyType(binary.LittleEndian.Uint32(rec)),
			Rank: binary.LittleEndian.Uint64(rec[4:]),
		}
	}
	if err := checkOrdered(bps); err != nil {
		return nil, err
	}
	common.Connect(bps)
	return bps, nil
}

func decodeRankOnly(data []byte, ds *dataset.Dataset) ([]common.Breakpoint, error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: rank-only boundaries need the dataset", common.ErrInvalidInput)
	}
	if len(data)%rankOnlyWidth != 0 {
		return nil, &common.FormatError{Format: "rankonly boundaries", Width: rankOnlyWidth, Size: int64(len(data))}
	}
	bps := make([]common.Breakpoint, len(data)/rankOnlyWidth)
	for i := range bps {
		r := binary.LittleEndian.Uint32(data[i*rankOnlyWidth:])
		if int64(r) >= int64(ds.Len()) {
			return nil, fmt.Errorf("%w: record %d rank %d beyond dataset length %d",
				common.ErrCorruptFormat, i, r, ds.Len())
		}
		key := ds.At(int(r))
		// older writers stored any occurrence of a duplicated key
		bps[i] = common.Breakpoint{Key: key, Rank: uint64(ds.FirstRank(key))}
	}
	if err := checkOrdered(bps); err != nil {
		return nil, err
	}
	common.Connect(bps)
	return bps, nil
}

func checkOrdered(bps []common.Breakpoint) error {
	if len(bps) == 0 {
		return fmt.Errorf("%w: no breakpoint records", common.ErrCorruptFormat)
	}
	for i := 1; i < len(bps); i++ {
		if bps[i].Key <= bps[i-1].Key || bps[i].Rank <= bps[i-1].Rank {
			return fmt.Errorf("%w: record %d (key %d, rank %d) does not follow (key %d, rank %d)",
				common.ErrCorruptFormat, i, bps[i].Key, bps[i].Rank, bps[i-1].Key, bps[i-1].Rank)
		}
	}
	return nil
}

// WriteBoundariesFile writes bps to path atomically.
func WriteBoundariesFile(path string, bps []common.Breakpoint, f BoundaryFormat, opts ...WriteOption) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		return WriteBoundaries(w, bps, f, opts...)
	})
}

// ReadBoundariesFile reads and decodes a boundaries file.
func ReadBoundariesFile(path string, f BoundaryFormat, ds *dataset.Dataset) ([]common.Breakpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("format: read boundaries %s: %w", path, err)
	}
	bps, err := ReadBoundaries(data, f, ds)
	if err != nil {
		return nil, fmt.Errorf("format: read boundaries %s: %w", path, err)
	}
	return bps, nil
}
