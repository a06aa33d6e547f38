package pla

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plaindex/pkg/common"
)

func TestVerify(t *testing.T) {
	ds := randomDataset(t, 21, 5000, 1<<18)
	ix, err := Build(ds, 6)
	require.NoError(t, err)

	rep, err := ix.Verify()
	require.NoError(t, err)
	assert.LessOrEqual(t, rep.MaxError, uint64(6))
	assert.Equal(t, 5000, rep.Keys)
	assert.Equal(t, ix.Segments(), rep.Segments)

	// a flat line over spread-out keys cannot hold a tight bound
	flat, err := FromBreakpoints([]common.Breakpoint{{Key: ds.Min()}}, ds, 6)
	require.NoError(t, err)
	_, err = flat.Verify()
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestDiagnosticsAndCSV(t *testing.T) {
	ds := newDataset(t, 2, 2, 5, 8, 8, 8, 13, 21, 34)
	ix, err := Build(ds, 1)
	require.NoError(t, err)

	points, err := ix.Diagnostics(0)
	require.NoError(t, err)
	require.Len(t, points, 6)
	assert.Equal(t, common.KeyType(8), points[2].Key)
	assert.EqualValues(t, 3, points[2].RealPos)
	for _, p := range points {
		assert.LessOrEqual(t, p.Error, int64(1))
		assert.GreaterOrEqual(t, p.Error, int64(-1))
	}

	sampled, err := ix.Diagnostics(3)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(sampled), 5)

	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, points))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 7)
	assert.Equal(t, "key,real_pos,predicted_pos,error,segment", lines[0])
}

func TestBenchmark(t *testing.T) {
	ds := randomDataset(t, 22, 2000, 1<<16)
	ix, err := Build(ds, 8)
	require.NoError(t, err)

	res, err := ix.Benchmark(500, 1)
	require.NoError(t, err)
	assert.Equal(t, 500, res.Iterations)
	assert.GreaterOrEqual(t, res.PLANs, 0.0)
	assert.Greater(t, res.RMINs, 0.0)

	_, err = ix.Benchmark(0, 1)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
