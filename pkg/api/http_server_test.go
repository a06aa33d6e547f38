package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plaindex/pkg/common"
	"plaindex/pkg/config"
	"plaindex/pkg/core"
	"plaindex/pkg/storage/format"
)

var sampleKeys = []common.KeyType{2, 2, 5, 8, 8, 8, 13, 21, 34, 55, 89, 144}

func newTestServer(t *testing.T, scfg config.ServerConfig) (*Server, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	cfg.Index.Epsilon = 1
	engine, err := core.NewEngine(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	path := filepath.Join(t.TempDir(), "fib.bin")
	require.NoError(t, format.WriteDatasetFile(path, sampleKeys, format.FormatCounted))
	return NewServer(engine, scfg, nil), path
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func build(t *testing.T, s *Server, name, path string) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"name": name, "dataset": path, "epsilon": 1})
	require.NoError(t, err)
	rec := do(t, s, http.MethodPost, "/api/build", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var info core.IndexInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, name, info.Name)
	assert.Equal(t, len(sampleKeys), info.Keys)
}

func TestBuildAndRank(t *testing.T) {
	s, path := newTestServer(t, config.ServerConfig{})
	build(t, s, "fib", path)

	rec := do(t, s, http.MethodGet, "/api/rank?index=fib&key=8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Found bool   `json:"found"`
		Rank  uint64 `json:"rank"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Found)
	assert.Equal(t, uint64(3), resp.Rank)

	rec = do(t, s, http.MethodGet, "/api/rank?index=fib&key=9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Found)
}

func TestLocate(t *testing.T) {
	s, path := newTestServer(t, config.ServerConfig{})
	build(t, s, "fib", path)

	rec := do(t, s, http.MethodGet, "/api/locate?index=fib&key=34", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Predicted uint64 `json:"predicted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 8, float64(resp.Predicted), 1)
}

func TestErrorStatuses(t *testing.T) {
	s, path := newTestServer(t, config.ServerConfig{})
	build(t, s, "fib", path)

	cases := []struct {
		method, target string
		body           []byte
		code           int
	}{
		{http.MethodGet, "/api/rank?index=fib&key=abc", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/rank?index=fib&key=4294967296", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/rank?key=1", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/rank?index=nope&key=1", nil, http.StatusNotFound},
		{http.MethodGet, "/api/breakpoints?index=nope", nil, http.StatusNotFound},
		{http.MethodPost, "/api/build", []byte("{"), http.StatusBadRequest},
		{http.MethodPost, "/api/build", []byte(`{"name":"x","dataset":"` + path + `","policy":"cubic"}`), http.StatusBadRequest},
		{http.MethodGet, "/api/benchmark?index=fib&iterations=0", nil, http.StatusBadRequest},
		{http.MethodPost, "/api/rank?index=fib&key=1", nil, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		rec := do(t, s, tc.method, tc.target, tc.body)
		assert.Equal(t, tc.code, rec.Code, "%s %s: %s", tc.method, tc.target, rec.Body.String())
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusOf(fmt.Errorf("x: %w", common.ErrInvalidInput)))
	assert.Equal(t, http.StatusNotFound, statusOf(common.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusOf(common.ErrStaleIndex))
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(&common.FormatError{Format: "x", Width: 4, Size: 3}))
	assert.Equal(t, http.StatusInternalServerError, statusOf(errors.New("boom")))
}

func TestBreakpointsIndexesAndDrop(t *testing.T) {
	s, path := newTestServer(t, config.ServerConfig{})
	build(t, s, "fib", path)

	rec := do(t, s, http.MethodGet, "/api/breakpoints?index=fib", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bps struct {
		Breakpoints []breakpointJSON `json:"breakpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bps))
	require.NotEmpty(t, bps.Breakpoints)
	assert.Equal(t, common.KeyType(2), bps.Breakpoints[0].Key)

	rec = do(t, s, http.MethodGet, "/api/indexes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []core.IndexInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = do(t, s, http.MethodDelete, "/api/indexes?index=fib", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/rank?index=fib&key=8", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportCSV(t *testing.T) {
	s, path := newTestServer(t, config.ServerConfig{})
	build(t, s, "fib", path)

	rec := do(t, s, http.MethodGet, "/api/export?index=fib", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Equal(t, "key,real_pos,predicted_pos,error,segment", lines[0])
	assert.Len(t, lines, 10) // header plus 9 distinct keys

	rec = do(t, s, http.MethodGet, "/api/export?index=nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBenchmarkAndStats(t *testing.T) {
	s, path := newTestServer(t, config.ServerConfig{})
	build(t, s, "fib", path)

	rec := do(t, s, http.MethodGet, "/api/benchmark?index=fib&iterations=200", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bench map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bench))
	assert.EqualValues(t, 200, bench["iterations"])
	assert.Contains(t, []interface{}{"pla", "btree", "binary_search", "rmi"}, bench["winner"])
	assert.Contains(t, bench, "rmi_ns")

	rec = do(t, s, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats["indexes"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, path := newTestServer(t, config.ServerConfig{})
	build(t, s, "fib", path)
	do(t, s, http.MethodGet, "/api/rank?index=fib&key=8", nil)

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, m := range []string{"plaindex_queries_total", "plaindex_builds_total", "plaindex_index_segments"} {
		assert.Contains(t, body, m)
	}
}

func TestRateLimit(t *testing.T) {
	s, path := newTestServer(t, config.ServerConfig{RateLimitQPS: 0.001, RateLimitBurst: 2})
	build(t, s, "fib", path) // takes one token

	rec := do(t, s, http.MethodGet, "/api/rank?index=fib&key=8", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/rank?index=fib&key=8", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// metrics are not limited
	rec = do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "plaindex_rate_limited_total 1")
}

func TestBuildConfinedToDatasetRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, format.WriteDatasetFile(filepath.Join(root, "inside.bin"), sampleKeys, format.FormatCounted))
	s, outside := newTestServer(t, config.ServerConfig{DatasetRoot: root})

	build(t, s, "rel", "inside.bin")
	build(t, s, "abs", filepath.Join(root, "inside.bin"))

	link := filepath.Join(root, "link.bin")
	require.NoError(t, os.Symlink(outside, link))

	for _, p := range []string{outside, "../" + filepath.Base(outside), "sub/../../x.bin", link} {
		body, err := json.Marshal(map[string]interface{}{"name": "escape", "dataset": p})
		require.NoError(t, err)
		rec := do(t, s, http.MethodPost, "/api/build", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, p)
	}
	rec := do(t, s, http.MethodGet, "/api/rank?index=escape&key=8", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfine(t *testing.T) {
	got, err := confine("", "/etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "/etc/passwd", got)

	root := t.TempDir()
	got, err = confine(root, "a/./b.bin")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, filepath.Join("a", "b.bin")))

	_, err = confine(root, "/etc/passwd")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
