package model

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"runtime"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plaindex/pkg/common"
)

func connected(points ...[2]uint64) []common.Breakpoint {
	bps := make([]common.Breakpoint, len(points))
	for i, p := range points {
		bps[i] = common.Breakpoint{Key: common.KeyType(p[0]), Rank: p[1]}
	}
	common.Connect(bps)
	return bps
}

func TestLinearModelAnchored(t *testing.T) {
	lm := NewLinearModel(10, 5)
	assert.Equal(t, 0.0, lm.Slope)
	assert.Equal(t, 5.0, lm.Predict(10))

	lm.Update(12, 7)
	lm.Update(14, 9)
	assert.InDelta(t, 1.0, lm.Slope, 1e-12)
	assert.Equal(t, 2, lm.Count())
	assert.Equal(t, 5.0, lm.Predict(10))

	lm.Reset(100, 0)
	assert.Equal(t, 0, lm.Count())
	assert.Equal(t, 0.0, lm.Predict(200))
}

func TestPolylineSegment(t *testing.T) {
	p := Polyline(connected([2]uint64{10, 0}, [2]uint64{20, 4}, [2]uint64{40, 6}))
	assert.Equal(t, 0, p.Segment(0))
	assert.Equal(t, 0, p.Segment(19))
	assert.Equal(t, 1, p.Segment(20))
	assert.Equal(t, 2, p.Segment(1000))
	assert.InDelta(t, 2.0, p.Predict(15), 1e-12)
	assert.InDelta(t, 5.0, p.Predict(30), 1e-12)
	assert.Equal(t, 6.0, p.Predict(90))
}

func TestHingeMatchesPolyline(t *testing.T) {
	bps := connected(
		[2]uint64{3, 0}, [2]uint64{40, 12}, [2]uint64{41, 20},
		[2]uint64{500, 21}, [2]uint64{9000, 400}, [2]uint64{9001, 401},
	)
	h, err := NewHinge(bps)
	require.NoError(t, err)
	assert.Equal(t, len(bps), h.Neurons())

	p := Polyline(bps)
	for k := common.KeyType(3); k < 10000; k += 7 {
		assert.InDelta(t, p.Predict(k), h.Predict(k), 1e-6, "key %d", k)
	}
	assert.Equal(t, 0.0, h.Predict(0))
}

func TestHingeRejects(t *testing.T) {
	_, err := NewHinge(nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	bps := connected([2]uint64{1, 0}, [2]uint64{5, 3})
	bps[0].Slope = 0.7
	_, err = NewHinge(bps)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestHingeSaveLoad(t *testing.T) {
	bps := connected([2]uint64{1, 0}, [2]uint64{9, 4}, [2]uint64{30, 5})
	h, err := NewHinge(bps)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, h.Save(&buf))
	assert.Equal(t, h.SizeInBytes(), buf.Len())

	loaded, err := LoadHinge(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, h, loaded)

	_, err = LoadHinge(bytes.NewReader(buf.Bytes()[:buf.Len()-3]))
	assert.ErrorIs(t, err, common.ErrCorruptFormat)

	_, err = LoadHinge(bytes.NewReader(nil))
	assert.ErrorIs(t, err, common.ErrCorruptFormat)
}

func TestLoadHingeShortBodyAllocatesLittle(t *testing.T) {
	var data []byte
	data = binary.LittleEndian.AppendUint32(data, maxNeurons)
	data = binary.LittleEndian.AppendUint64(data, 0)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := LoadHinge(bytes.NewReader(data))
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, err, common.ErrCorruptFormat)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(8<<20))
}

func TestRMISearchFindsFirstOccurrence(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	keys := make([]common.KeyType, 5000)
	for i := range keys {
		// clustered with duplicates so buckets are uneven and some empty
		keys[i] = common.KeyType(r.Intn(300)*r.Intn(300) + 7)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, fanout := range []int{1, 16, DefaultFanout} {
		m, err := NewRMI(keys, fanout)
		require.NoError(t, err)
		assert.Equal(t, fanout, m.Fanout())
		lo, hi := m.ErrorBounds()
		assert.LessOrEqual(t, lo, int64(0))
		assert.GreaterOrEqual(t, hi, int64(0))

		for i, k := range keys {
			if i > 0 && keys[i-1] == k {
				continue
			}
			pos, found := m.Search(keys, k)
			require.True(t, found, "fanout %d key %d", fanout, k)
			require.Equal(t, i, pos, "fanout %d key %d", fanout, k)
		}
		for _, k := range []common.KeyType{0, 6, keys[len(keys)-1] + 1} {
			_, found := m.Search(keys, k)
			assert.False(t, found, "fanout %d key %d", fanout, k)
		}
	}
}

func TestRMIRejects(t *testing.T) {
	_, err := NewRMI(nil, 10)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = NewRMI([]common.KeyType{1, 2}, 0)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = NewRMI([]common.KeyType{3, 2}, 4)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	m, err := NewRMI([]common.KeyType{9, 9, 9}, 4)
	require.NoError(t, err)
	pos, found := m.Search([]common.KeyType{9, 9, 9}, 9)
	assert.True(t, found)
	assert.Equal(t, 0, pos)
	assert.Equal(t, 0.0, m.Predict(9))
}
