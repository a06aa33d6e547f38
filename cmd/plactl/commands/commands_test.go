package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plaindex/pkg/common"
	"plaindex/pkg/model"
	"plaindex/pkg/storage/format"
)

var sampleKeys = []common.KeyType{2, 2, 5, 8, 8, 8, 13, 21, 34, 55, 89, 144}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fib.bin")
	require.NoError(t, format.WriteDatasetFile(path, sampleKeys, format.FormatCounted))
	return path
}

func TestVersion(t *testing.T) {
	out, err := runCmd(t, "version", "--format", "json")
	require.NoError(t, err)
	var v versionResult
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "dev", v.Version)
	assert.True(t, strings.HasPrefix(v.Go, "go"))

	out, err = runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "plactl")
}

func TestGenerateDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gen.bin")
	out, err := runCmd(t, "generate", "--seed", "42", "-o", path, "--format", "json")
	require.NoError(t, err)

	var res generateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 30, res.Keys)
	assert.LessOrEqual(t, res.Max, common.KeyType(50))
	assert.Len(t, res.Values, 30)

	ds, err := format.ReadDataset(path, format.FormatCounted)
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, res.Values, ds.Keys())
}

func TestGenerateSameSeed(t *testing.T) {
	a, err := runCmd(t, "generate", "--seed", "7", "-n", "10", "--format", "json")
	require.NoError(t, err)
	b, err := runCmd(t, "generate", "--seed", "7", "-n", "10", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

type queryJSON struct {
	Key   common.KeyType `json:"key"`
	Found bool           `json:"found"`
	Rank  *uint64        `json:"rank"`
}

func TestBuildQueryVerify(t *testing.T) {
	data := writeSample(t)
	bounds := filepath.Join(t.TempDir(), "fib.bounds")

	out, err := runCmd(t, "build", data, "--epsilon", "1", "-o", bounds, "--format", "json")
	require.NoError(t, err)
	var built buildResult
	require.NoError(t, json.Unmarshal([]byte(out), &built))
	assert.Equal(t, len(sampleKeys), built.Keys)
	assert.Equal(t, "connected", built.Policy)
	assert.Equal(t, "keyrank", built.Format)

	out, err = runCmd(t, "query", "--dataset", data, "--boundaries", bounds, "--epsilon", "1",
		"8", "9", "--format", "json")
	require.NoError(t, err)
	var rows []queryJSON
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Found)
	require.NotNil(t, rows[0].Rank)
	assert.Equal(t, uint64(3), *rows[0].Rank)
	assert.False(t, rows[1].Found)
	assert.Nil(t, rows[1].Rank)

	out, err = runCmd(t, "verify", "--dataset", data, "--boundaries", bounds, "--epsilon", "1", "--format", "json")
	require.NoError(t, err)
	var rep verifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.True(t, rep.OK)
	assert.Equal(t, 9, rep.Distinct)
	assert.LessOrEqual(t, rep.MaxError, uint64(1))
}

func TestQueryRange(t *testing.T) {
	data := writeSample(t)
	bounds := filepath.Join(t.TempDir(), "fib.bounds")
	_, err := runCmd(t, "build", data, "-o", bounds)
	require.NoError(t, err)

	out, err := runCmd(t, "query", "--dataset", data, "--boundaries", bounds, "--range", "5", "21", "--format", "json")
	require.NoError(t, err)
	var r rangeResult
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, uint64(2), r.From)
	assert.Equal(t, uint64(8), r.To)

	_, err = runCmd(t, "query", "--dataset", data, "--boundaries", bounds, "--range", "5")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestQueryErrors(t *testing.T) {
	data := writeSample(t)
	_, err := runCmd(t, "query", "--dataset", data, "1")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = runCmd(t, "query", "--dataset", data, "--boundaries", data, "abc")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = runCmd(t, "build", data)
	assert.Error(t, err)
}

func TestConvertRankOnly(t *testing.T) {
	data := writeSample(t)
	dir := t.TempDir()
	legacy := filepath.Join(dir, "fib.rank")
	framed := filepath.Join(dir, "fib.plaf")
	keyrank := filepath.Join(dir, "fib.bounds")

	_, err := runCmd(t, "build", data, "--epsilon", "1", "-o", legacy, "--boundary-format", "rankonly")
	require.NoError(t, err)
	_, err = runCmd(t, "build", data, "--epsilon", "1", "-o", keyrank)
	require.NoError(t, err)

	_, err = runCmd(t, "convert", legacy, framed)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	out, err := runCmd(t, "convert", legacy, framed, "--dataset", data, "--to", "framed",
		"--compression", "zstd", "--epsilon", "1", "--format", "json")
	require.NoError(t, err)
	var conv convertResult
	require.NoError(t, json.Unmarshal([]byte(out), &conv))
	assert.Equal(t, "rankonly", conv.From)
	assert.Equal(t, "framed", conv.To)

	dump := func(bounds string) dumpResult {
		out, err := runCmd(t, "dump", "--dataset", data, "--boundaries", bounds, "--epsilon", "1", "--format", "json")
		require.NoError(t, err)
		var d dumpResult
		require.NoError(t, json.Unmarshal([]byte(out), &d))
		return d
	}
	fromFramed, fromKeyRank := dump(framed), dump(keyrank)
	assert.Equal(t, fromKeyRank.Breakpoints, fromFramed.Breakpoints)
	assert.Equal(t, uint32(1), fromFramed.Epsilon)
	assert.True(t, fromFramed.Connected)
}

func TestFramedRefusesOtherDataset(t *testing.T) {
	data := writeSample(t)
	other := filepath.Join(t.TempDir(), "other.bin")
	require.NoError(t, format.WriteDatasetFile(other, []common.KeyType{2, 3, 5, 8, 8, 8, 13, 21, 34, 55, 89, 144}, format.FormatCounted))
	framed := filepath.Join(t.TempDir(), "fib.plaf")

	_, err := runCmd(t, "build", data, "-o", framed, "--boundary-format", "framed")
	require.NoError(t, err)
	_, err = runCmd(t, "verify", "--dataset", other, "--boundaries", framed)
	assert.ErrorIs(t, err, common.ErrStaleIndex)
}

func TestCatalogBuildAndQuery(t *testing.T) {
	data := writeSample(t)
	dir := t.TempDir()

	out, err := runCmd(t, "build", data, "--name", "fib", "--data-dir", dir, "--format", "json")
	require.NoError(t, err)
	var built buildResult
	require.NoError(t, json.Unmarshal([]byte(out), &built))
	assert.Equal(t, "fib", built.Index)
	assert.NotEmpty(t, built.BuildID)

	out, err = runCmd(t, "query", "--index", "fib", "--data-dir", dir, "--filter", "roaring", "13", "14", "--format", "json")
	require.NoError(t, err)
	var rows []queryJSON
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].Rank)
	assert.Equal(t, uint64(6), *rows[0].Rank)
	assert.False(t, rows[1].Found)

	_, err = runCmd(t, "query", "--index", "nope", "--data-dir", dir, "1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPushPull(t *testing.T) {
	data := writeSample(t)
	root := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy.bin")

	_, err := runCmd(t, "push", data, "datasets/fib.bin", "--root", root)
	require.NoError(t, err)
	_, err = runCmd(t, "pull", "datasets/fib.bin", dst, "--root", root)
	require.NoError(t, err)

	want, err := os.ReadFile(data)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = runCmd(t, "pull", "datasets/missing.bin", dst, "--root", root)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestExportAndRelu(t *testing.T) {
	data := writeSample(t)
	dir := t.TempDir()
	bounds := filepath.Join(dir, "fib.bounds")
	_, err := runCmd(t, "build", data, "--epsilon", "1", "-o", bounds)
	require.NoError(t, err)

	out, err := runCmd(t, "export", "--dataset", data, "--boundaries", bounds, "--points", "0")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, "key,real_pos,predicted_pos,error,segment", lines[0])
	assert.Len(t, lines, 10)

	weights := filepath.Join(dir, "fib.relu")
	out, err = runCmd(t, "relu", "--dataset", data, "--boundaries", bounds, "-o", weights, "--format", "json")
	require.NoError(t, err)
	var res reluResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.InDelta(t, 0, res.MaxDrift, 1e-6)

	f, err := os.Open(weights)
	require.NoError(t, err)
	defer f.Close()
	h, err := model.LoadHinge(f)
	require.NoError(t, err)
	assert.Equal(t, res.Neurons, h.Neurons())
}

func TestTableOutput(t *testing.T) {
	data := writeSample(t)
	bounds := filepath.Join(t.TempDir(), "fib.bounds")
	_, err := runCmd(t, "build", data, "-o", bounds)
	require.NoError(t, err)

	out, err := runCmd(t, "dump", "--dataset", data, "--boundaries", bounds)
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "SLOPE")

	out, err = runCmd(t, "dump", "--dataset", data, "--boundaries", bounds, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "breakpoints:")

	_, err = runCmd(t, "dump", "--dataset", data, "--boundaries", bounds, "--format", "xml")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
