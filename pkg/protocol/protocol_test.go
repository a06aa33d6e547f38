package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plaindex/pkg/common"
)

func TestEncodeDecode(t *testing.T) {
	buf := new(bytes.Buffer)
	key := []byte("books")
	val := EncodeKey(1000)

	require.NoError(t, Encode(buf, OpRank, key, val))
	pkt, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, byte(OpRank), pkt.Op)
	assert.Equal(t, key, pkt.Key)
	assert.Equal(t, val, pkt.Value)
}

func TestDecodeInvalidMagic(t *testing.T) {
	buf := bytes.NewReader([]byte{0x4E, OpRank, 0, 1, 0, 0, 0, 4, 'k', 0, 0, 0, 1})
	_, err := Decode(buf)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestEncodeDecodeEmptyKeyValue(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, Encode(buf, OpStats, nil, nil))
	pkt, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, byte(OpStats), pkt.Op)
	assert.Empty(t, pkt.Key)
	assert.Empty(t, pkt.Value)
}

func TestDecodeIncomplete(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{MagicNumber, OpRank}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// header promises more than the stream holds
	_, err = Decode(bytes.NewReader([]byte{MagicNumber, OpRank, 0, 2, 0, 0, 0, 4, 'a'}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeRejectsHugeValue(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{MagicNumber, OpRank, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF}))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestPayloadHelpers(t *testing.T) {
	k, err := DecodeKey(EncodeKey(0xDEADBEEF))
	require.NoError(t, err)
	assert.Equal(t, common.KeyType(0xDEADBEEF), k)
	_, err = DecodeKey([]byte{1, 2})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	lo, hi, err := DecodeRange(EncodeRange(3, 9))
	require.NoError(t, err)
	assert.Equal(t, common.KeyType(3), lo)
	assert.Equal(t, common.KeyType(9), hi)

	pred, seg, err := DecodeLocate(EncodeLocate(42, 7))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), pred)
	assert.Equal(t, 7, seg)

	vs, err := DecodeUint64s(EncodeUint64s(1, 1<<40), 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 1 << 40}, vs)
	_, err = DecodeUint64s([]byte{1}, 1)
	assert.ErrorIs(t, err, common.ErrCorruptFormat)
}

func TestErrorCodes(t *testing.T) {
	for _, sentinel := range []error{common.ErrInvalidInput, common.ErrNotFound, common.ErrStaleIndex, common.ErrCorruptFormat} {
		err := DecodeError(EncodeError(fmt.Errorf("index x: %w", sentinel)))
		assert.ErrorIs(t, err, sentinel)
		assert.Contains(t, err.Error(), "index x")
	}

	err := DecodeError(EncodeError(errors.New("disk on fire")))
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, CodeInternal, remote.Code)
	assert.NoError(t, errors.Unwrap(err))
}
