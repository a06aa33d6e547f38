package format

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"plaindex/pkg/common"
	"plaindex/pkg/dataset"
)

// Compression is the block codec of a framed container.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return 0, fmt.Errorf("%w: unknown compression %q", common.ErrInvalidInput, s)
}

var framedMagic = [4]byte{'P', 'L', 'A', 'F'}

const (
	framedVersion    = 1
	framedHeaderSize = 36
	blockHeaderSize  = 8
	framedRecord     = 20
)

// FlagConnected marks breakpoints whose slopes are the secants between
// neighbours.
const FlagConnected uint8 = 1

// FramedHeader is the fixed prefix of a framed container.
//
//	magic "PLAF" | version u16 | compression u8 | flags u8 | epsilon u32 |
//	count u64 | dataset length u64 | dataset fingerprint u64
//
// It is followed by one block: [uncompressed u32][compressed u32][payload],
// compressed size 0 meaning the payload is stored as is. The payload holds
// count records of {key u32, rank u64, slope f64 bits}.
type FramedHeader struct {
	Version     uint16
	Compression Compression
	Flags       uint8
	Epsilon     uint32
	Count       uint64
	DatasetLen  uint64
	Fingerprint uint64
}

// CheckDataset refuses a dataset other than the one the breakpoints were
// built from. Headers without dataset information accept any dataset.
func (h FramedHeader) CheckDataset(ds *dataset.Dataset) error {
	if h.DatasetLen == 0 {
		return nil
	}
	if uint64(ds.Len()) != h.DatasetLen {
		return fmt.Errorf("%w: built over %d keys, dataset has %d", common.ErrStaleIndex, h.DatasetLen, ds.Len())
	}
	if h.Fingerprint != 0 && ds.Fingerprint() != h.Fingerprint {
		return fmt.Errorf("%w: dataset fingerprint %016x, expected %016x", common.ErrStaleIndex, ds.Fingerprint(), h.Fingerprint)
	}
	return nil
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	// DecodeAll stops at cap(dst), so a frame cannot grow past the size the
	// block header announces.
	return zstd.NewReader(nil, zstd.WithDecodeAllCapLimit(true), zstd.WithDecoderMaxMemory(math.MaxUint32))
}

// maxRatio bounds uncompressed over stored block size. LZ4 cannot expand a
// byte further than 255; zstd blocks past the cap are written raw.
func maxRatio(c Compression) uint64 {
	switch c {
	case CompressionLZ4:
		return 255
	case CompressionZstd:
		return 1024
	}
	return 1
}

// WriteFramed writes hdr (Version and Count are filled in) and bps.
func WriteFramed(w io.Writer, hdr FramedHeader, bps []common.Breakpoint) error {
	if uint64(len(bps))*framedRecord > math.MaxUint32 {
		return fmt.Errorf("%w: %d breakpoints exceed one framed block", common.ErrInvalidInput, len(bps))
	}
	hdr.Version = framedVersion
	hdr.Count = uint64(len(bps))

	raw := make([]byte, framedRecord*len(bps))
	for i, bp := range bps {
		rec := raw[i*framedRecord:]
		binary.LittleEndian.PutUint32(rec, uint32(bp.Key))
		binary.LittleEndian.PutUint64(rec[4:], bp.Rank)
		binary.LittleEndian.PutUint64(rec[12:], math.Float64bits(bp.Slope))
	}
	payload, err := compressBlock(raw, hdr.Compression)
	if err != nil {
		return err
	}
	var stored uint32
	if len(payload) != len(raw) {
		stored = uint32(len(payload))
	}

	out := make([]byte, framedHeaderSize+blockHeaderSize, framedHeaderSize+blockHeaderSize+len(payload))
	copy(out, framedMagic[:])
	binary.LittleEndian.PutUint16(out[4:], hdr.Version)
	out[6] = byte(hdr.Compression)
	out[7] = hdr.Flags
	binary.LittleEndian.PutUint32(out[8:], hdr.Epsilon)
	binary.LittleEndian.PutUint64(out[12:], hdr.Count)
	binary.LittleEndian.PutUint64(out[20:], hdr.DatasetLen)
	binary.LittleEndian.PutUint64(out[28:], hdr.Fingerprint)
	binary.LittleEndian.PutUint32(out[36:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(out[40:], stored)
	out = append(out, payload...)
	_, err = w.Write(out)
	return err
}

// compressBlock returns the encoded block, or data itself when the codec
// does not shrink it by at least a tenth.
func compressBlock(data []byte, c Compression) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	var out []byte
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		out = buf[:n]
	case CompressionZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		out = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", common.ErrInvalidInput, uint8(c))
	}
	if len(out) == 0 || float64(len(out)) > float64(len(data))*0.9 ||
		uint64(len(out))*maxRatio(c) < uint64(len(data)) {
		return data, nil
	}
	return out, nil
}

// ReadFramed decodes a framed container image.
func ReadFramed(data []byte) (FramedHeader, []common.Breakpoint, error) {
	var hdr FramedHeader
	if len(data) < framedHeaderSize+blockHeaderSize {
		return hdr, nil, fmt.Errorf("%w: framed file truncated at %d bytes", common.ErrCorruptFormat, len(data))
	}
	if [4]byte(data[:4]) != framedMagic {
		return hdr, nil, fmt.Errorf("%w: bad framed magic %q", common.ErrCorruptFormat, data[:4])
	}
	hdr.Version = binary.LittleEndian.Uint16(data[4:])
	if hdr.Version != framedVersion {
		return hdr, nil, fmt.Errorf("%w: unsupported framed version %d", common.ErrCorruptFormat, hdr.Version)
	}
	hdr.Compression = Compression(data[6])
	if hdr.Compression > CompressionZstd {
		return hdr, nil, fmt.Errorf("%w: unknown compression %d", common.ErrCorruptFormat, data[6])
	}
	hdr.Flags = data[7]
	hdr.Epsilon = binary.LittleEndian.Uint32(data[8:])
	hdr.Count = binary.LittleEndian.Uint64(data[12:])
	hdr.DatasetLen = binary.LittleEndian.Uint64(data[20:])
	hdr.Fingerprint = binary.LittleEndian.Uint64(data[28:])

	uncompressed := binary.LittleEndian.Uint32(data[36:])
	stored := binary.LittleEndian.Uint32(data[40:])
	if uint64(uncompressed) != hdr.Count*framedRecord || hdr.Count > math.MaxUint32/framedRecord {
		return hdr, nil, &common.FormatError{Format: "framed boundaries", Width: framedRecord, Size: int64(uncompressed), Expected: int64(hdr.Count) * framedRecord}
	}
	body := data[framedHeaderSize+blockHeaderSize:]

	var raw []byte
	if stored == 0 {
		if uint64(len(body)) != uint64(uncompressed) {
			return hdr, nil, &common.FormatError{Format: "framed boundaries", Width: framedRecord, Size: int64(len(body)), Expected: int64(uncompressed)}
		}
		raw = body
	} else {
		if uint64(len(body)) != uint64(stored) {
			return hdr, nil, fmt.Errorf("%w: framed block holds %d bytes, header says %d", common.ErrCorruptFormat, len(body), stored)
		}
		if uint64(uncompressed) > uint64(stored)*maxRatio(hdr.Compression) {
			return hdr, nil, fmt.Errorf("%w: %d stored bytes cannot expand to %d with %s",
				common.ErrCorruptFormat, stored, uncompressed, hdr.Compression)
		}
		var err error
		raw, err = decompressBlock(body, int(uncompressed), hdr.Compression)
		if err != nil {
			return hdr, nil, err
		}
	}

	bps := make([]common.Breakpoint, hdr.Count)
	for i := range bps {
		rec := raw[i*framedRecord:]
		bps[i] = common.Breakpoint{
			Key:   common.KeyType(binary.LittleEndian.Uint32(rec)),
			Rank:  binary.LittleEndian.Uint64(rec[4:]),
			Slope: math.Float64frombits(binary.LittleEndian.Uint64(rec[12:])),
		}
	}
	if err := checkOrdered(bps); err != nil {
		return hdr, nil, err
	}
	return hdr, bps, nil
}

func decompressBlock(body []byte, size int, c Compression) ([]byte, error) {
	switch c {
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", common.ErrCorruptFormat, err)
		}
		if n != size {
			return nil, fmt.Errorf("%w: decompressed %d bytes, expected %d", common.ErrCorruptFormat, n, size)
		}
		return out, nil
	case CompressionZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", common.ErrCorruptFormat, err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("%w: decompressed %d bytes, expected %d", common.ErrCorruptFormat, len(out), size)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown compression %d", common.ErrCorruptFormat, uint8(c))
}
