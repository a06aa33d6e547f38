package core

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plaindex/pkg/common"
	"plaindex/pkg/config"
	"plaindex/pkg/core/pla"
	"plaindex/pkg/datagen"
	"plaindex/pkg/dataset"
	"plaindex/pkg/storage/format"
)

func testConfig(t *testing.T, catalogKind string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	cfg.Storage.Catalog = catalogKind
	cfg.Index.Epsilon = 4
	return cfg
}

func writeDataset(t *testing.T, keys []common.KeyType) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.bin")
	require.NoError(t, format.WriteDatasetFile(path, keys, format.FormatCounted))
	return path
}

func newEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), cfg, nil)
	require.NoError(t, err)
	return e
}

func eps(v uint32) *uint32 { return &v }

func TestEngineBuildAndQuery(t *testing.T) {
	ctx := context.Background()
	keys, err := datagen.Generate(5000, 100000, 11)
	require.NoError(t, err)
	path := writeDataset(t, keys)

	for _, kind := range []string{"sqlite", "badger"} {
		t.Run(kind, func(t *testing.T) {
			e := newEngine(t, testConfig(t, kind))
			defer e.Close()

			info, err := e.Build(ctx, BuildRequest{Name: "keys", Dataset: path, Filter: "roaring"})
			require.NoError(t, err)
			assert.Equal(t, 5000, info.Keys)
			assert.Equal(t, uint32(4), info.Epsilon)
			assert.Equal(t, "connected", info.Policy)
			assert.Equal(t, "roaring", info.Filter)
			assert.True(t, info.Connected)

			ds, err := dataset.New(keys)
			require.NoError(t, err)
			for _, k := range []common.KeyType{keys[0], keys[777], keys[4999]} {
				rank, found, err := e.RankOf(ctx, "keys", k)
				require.NoError(t, err)
				assert.True(t, found)
				assert.Equal(t, uint64(ds.FirstRank(k)), rank)

				pred, _, err := e.Locate("keys", k)
				require.NoError(t, err)
				assert.InDelta(t, float64(rank), float64(pred), 4)
			}

			_, found, err := e.RankOf(ctx, "keys", 100001)
			require.NoError(t, err)
			assert.False(t, found)

			stats := e.Workload()
			assert.Equal(t, uint64(3), stats.HitCount)
			assert.Equal(t, uint64(1), stats.MissCount)
		})
	}
}

func TestEngineUnknownIndex(t *testing.T) {
	e := newEngine(t, testConfig(t, "sqlite"))
	defer e.Close()

	_, _, err := e.RankOf(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, _, err = e.Locate("missing", 1)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = e.Breakpoints("missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, e.Drop(context.Background(), "missing"), common.ErrNotFound)
}

func TestEngineBuildRejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig(t, "sqlite"))
	defer e.Close()
	path := writeDataset(t, []common.KeyType{1, 2, 3})

	_, err := e.Build(ctx, BuildRequest{Dataset: path})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = e.Build(ctx, BuildRequest{Name: "x", Dataset: path, Policy: "cubic"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = e.Build(ctx, BuildRequest{Name: "x", Dataset: path, Format: "raw"})
	// a counted file read as raw is an unsorted key sequence
	assert.Error(t, err)
	_, err = e.Build(ctx, BuildRequest{Name: "x", Dataset: filepath.Join(t.TempDir(), "nope.bin")})
	assert.Error(t, err)
}

func TestEngineRestoresFromCatalog(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "sqlite")
	keys, err := datagen.Generate(2000, 50000, 3)
	require.NoError(t, err)
	path := writeDataset(t, keys)

	e := newEngine(t, cfg)
	built, err := e.Build(ctx, BuildRequest{Name: "keys", Dataset: path, Epsilon: eps(0), Policy: "midpoint"})
	require.NoError(t, err)
	bps, err := e.Breakpoints("keys")
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened := newEngine(t, cfg)
	defer reopened.Close()
	info, err := reopened.Info("keys")
	require.NoError(t, err)
	assert.Equal(t, built.BuildID, info.BuildID)
	assert.Equal(t, "midpoint", info.Policy)
	assert.Equal(t, uint32(0), info.Epsilon)

	restored, err := reopened.Breakpoints("keys")
	require.NoError(t, err)
	assert.Equal(t, bps, restored)
}

func TestEngineLoadDetectsOtherDataset(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig(t, "sqlite"))
	defer e.Close()

	_, err := e.Build(ctx, BuildRequest{Name: "keys", Dataset: writeDataset(t, []common.KeyType{1, 5, 9, 12})})
	require.NoError(t, err)

	other := writeDataset(t, []common.KeyType{1, 5, 9, 13})
	_, err = e.Load(ctx, "keys", other, "counted")
	assert.ErrorIs(t, err, common.ErrStaleIndex)
}

func TestEngineReplaceMarksOldIndexStale(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig(t, "sqlite"))
	defer e.Close()

	_, err := e.Build(ctx, BuildRequest{Name: "keys", Dataset: writeDataset(t, []common.KeyType{1, 2, 3})})
	require.NoError(t, err)
	old, err := e.Index("keys")
	require.NoError(t, err)

	_, err = e.Build(ctx, BuildRequest{Name: "keys", Dataset: writeDataset(t, []common.KeyType{4, 5, 6})})
	require.NoError(t, err)

	_, _, err = old.RankOf(2)
	assert.ErrorIs(t, err, common.ErrStaleIndex)
	rank, found, err := e.RankOf(ctx, "keys", 5)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(1), rank)
}

func TestEngineRegisterListDrop(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig(t, "badger"))
	defer e.Close()

	for _, name := range []string{"b", "a"} {
		ds, err := dataset.New([]common.KeyType{2, 4, 4, 8, 16})
		require.NoError(t, err)
		ix, err := pla.Build(ds, 1)
		require.NoError(t, err)
		_, err = e.Register(ctx, name, ix, "connected")
		require.NoError(t, err)
	}
	list := e.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, 2, e.Stats()["indexes"])

	require.NoError(t, e.Drop(ctx, "a"))
	assert.Len(t, e.List(), 1)
	_, err := e.Index("a")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestEngineExportAndBenchmark(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig(t, "sqlite"))
	defer e.Close()
	_, err := e.Build(ctx, BuildRequest{Name: "k", Dataset: writeDataset(t, []common.KeyType{2, 2, 5, 8, 8, 13})})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, e.Export("k", &buf, 0))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "key,real_pos,predicted_pos,error,segment", lines[0])
	assert.Len(t, lines, 5) // header plus 4 distinct keys

	res, err := e.Benchmark("k", 100)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Iterations)
}

func TestEngineConcurrentQueries(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig(t, "sqlite"))
	defer e.Close()
	keys, err := datagen.Generate(3000, 1<<20, 5)
	require.NoError(t, err)
	_, err = e.Build(ctx, BuildRequest{Name: "k", Dataset: writeDataset(t, keys)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := g; i < len(keys); i += 8 {
				_, found, err := e.RankOf(ctx, "k", keys[i])
				assert.NoError(t, err)
				assert.True(t, found)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, uint64(3000), e.Workload().RankCount)
}

func TestEngineCountsFilterRejectsOnce(t *testing.T) {
	ctx := context.Background()
	path := writeDataset(t, []common.KeyType{2, 2, 5, 8, 8, 8, 13, 21, 34, 55, 89, 144})
	e := newEngine(t, testConfig(t, "sqlite"))
	defer e.Close()

	_, err := e.Build(ctx, BuildRequest{Name: "fib", Dataset: path, Filter: "roaring"})
	require.NoError(t, err)

	_, found, err := e.RankOf(ctx, "fib", 7)
	require.NoError(t, err)
	assert.False(t, found)
	// above the maximum: a miss, but not a filter rejection
	_, found, err = e.RankOf(ctx, "fib", 145)
	require.NoError(t, err)
	assert.False(t, found)

	stats := e.Workload()
	assert.Equal(t, uint64(2), stats.MissCount)
	assert.Equal(t, uint64(1), stats.FilterRejects)
}
