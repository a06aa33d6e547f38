// Package protocol is the binary request/response framing of the TCP
// query server.
//
//	magic u8 | op u8 | key length u16 BE | value length u32 BE | key | value
//
// Requests carry the index name in key and the query in value.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"plaindex/pkg/common"
)

const (
	MagicNumber = 0x50

	OpLocate = 0x01
	OpRank   = 0x02
	OpStats  = 0x03
	OpRange  = 0x04

	RespVal      = 0x01
	RespNotFound = 0x02
	RespErr      = 0xFF
)

const headerSize = 8

// MaxValueLen bounds the value a peer may announce.
const MaxValueLen = 16 << 20

var (
	ErrBadMagic = errors.New("invalid magic number")
	ErrTooLarge = errors.New("packet value too large")
)

type Packet struct {
	Op    byte
	Key   []byte
	Value []byte
}

func Encode(w io.Writer, op byte, key []byte, value []byte) error {
	if len(key) > 0xFFFF {
		return fmt.Errorf("%w: key of %d bytes", ErrTooLarge, len(key))
	}
	if len(value) > MaxValueLen {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(value))
	}
	buf := make([]byte, headerSize+len(key)+len(value))
	buf[0] = MagicNumber
	buf[1] = op
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(key)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(value)))
	copy(buf[headerSize:], key)
	copy(buf[headerSize+len(key):], value)
	_, err := w.Write(buf)
	return err
}

func Decode(r io.Reader) (*Packet, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != MagicNumber {
		return nil, ErrBadMagic
	}

	op := header[1]
	kLen := binary.BigEndian.Uint16(header[2:4])
	vLen := binary.BigEndian.Uint32(header[4:8])
	if vLen > MaxValueLen {
		return nil, fmt.Errorf("%w: %d bytes announced", ErrTooLarge, vLen)
	}

	body := make([]byte, int(kLen)+int(vLen))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return &Packet{Op: op, Key: body[:kLen], Value: body[kLen:]}, nil
}

func EncodeKey(k common.KeyType) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(k))
	return b
}

func DecodeKey(b []byte) (common.KeyType, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: query key must be 4 bytes, got %d", common.ErrInvalidInput, len(b))
	}
	return common.KeyType(binary.BigEndian.Uint32(b)), nil
}

// EncodeRange packs the bounds of a range query.
func EncodeRange(lo, hi common.KeyType) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b, uint32(lo))
	binary.BigEndian.PutUint32(b[4:], uint32(hi))
	return b
}

func DecodeRange(b []byte) (lo, hi common.KeyType, err error) {
	if len(b) != 8 {
		return 0, 0, fmt.Errorf("%w: range query must be 8 bytes, got %d", common.ErrInvalidInput, len(b))
	}
	return common.KeyType(binary.BigEndian.Uint32(b)), common.KeyType(binary.BigEndian.Uint32(b[4:])), nil
}

// Locate answers are the predicted position and the segment number.
func EncodeLocate(pred uint64, seg int) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint64(b, pred)
	binary.BigEndian.PutUint32(b[8:], uint32(seg))
	return b
}

func DecodeLocate(b []byte) (uint64, int, error) {
	if len(b) != 12 {
		return 0, 0, fmt.Errorf("%w: locate answer of %d bytes", common.ErrCorruptFormat, len(b))
	}
	return binary.BigEndian.Uint64(b), int(binary.BigEndian.Uint32(b[8:])), nil
}

// EncodeUint64s packs rank and range answers.
func EncodeUint64s(vs ...uint64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint64(b[8*i:], v)
	}
	return b
}

func DecodeUint64s(b []byte, n int) ([]uint64, error) {
	if len(b) != 8*n {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", common.ErrCorruptFormat, 8*n, len(b))
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(b[8*i:])
	}
	return out, nil
}

// Error codes carried in the first byte of a RespErr value.
const (
	CodeInternal byte = iota
	CodeInvalidInput
	CodeNotFound
	CodeStaleIndex
	CodeCorruptFormat
)

var codeErrors = map[byte]error{
	CodeInvalidInput:  common.ErrInvalidInput,
	CodeNotFound:      common.ErrNotFound,
	CodeStaleIndex:    common.ErrStaleIndex,
	CodeCorruptFormat: common.ErrCorruptFormat,
}

// EncodeError turns err into a RespErr value.
func EncodeError(err error) []byte {
	code := CodeInternal
	for c, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			code = c
			break
		}
	}
	return append([]byte{code}, err.Error()...)
}

// RemoteError is an error reported by the server.
type RemoteError struct {
	Code    byte
	Message string
}

func (e *RemoteError) Error() string { return "remote: " + e.Message }

// Unwrap lets errors.Is match the sentinel behind the code.
func (e *RemoteError) Unwrap() error { return codeErrors[e.Code] }

func DecodeError(b []byte) error {
	if len(b) == 0 {
		return &RemoteError{Code: CodeInternal, Message: "unknown error"}
	}
	return &RemoteError{Code: b[0], Message: string(b[1:])}
}
