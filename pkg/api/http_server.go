package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"plaindex/pkg/common"
	"plaindex/pkg/config"
	"plaindex/pkg/core"
	"plaindex/pkg/logging"
)

const (
	defaultExportPoints    = 1000
	defaultBenchIterations = 50000
	maxBenchIterations     = 5_000_000
)

type Server struct {
	engine  *core.Engine
	limiter *rate.Limiter
	logger  *logging.Logger
	mux     *http.ServeMux
	srv     *http.Server

	datasetRoot string
}

// NewServer wires the routes. A positive RateLimitQPS in cfg enables a
// server-wide token bucket on /api routes.
func NewServer(engine *core.Engine, cfg config.ServerConfig, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Noop()
	}
	s := &Server{engine: engine, logger: logger, mux: http.NewServeMux(), datasetRoot: cfg.DatasetRoot}
	if cfg.RateLimitQPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitQPS), burst)
	}

	s.mux.HandleFunc("GET /api/locate", s.limit(s.handleLocate))
	s.mux.HandleFunc("GET /api/rank", s.limit(s.handleRank))
	s.mux.HandleFunc("GET /api/breakpoints", s.limit(s.handleBreakpoints))
	s.mux.HandleFunc("GET /api/indexes", s.limit(s.handleIndexes))
	s.mux.HandleFunc("DELETE /api/indexes", s.limit(s.handleDrop))
	s.mux.HandleFunc("GET /api/stats", s.limit(s.handleStats))
	s.mux.HandleFunc("GET /api/export", s.limit(s.handleExport))
	s.mux.HandleFunc("GET /api/benchmark", s.limit(s.handleBenchmark))
	s.mux.HandleFunc("POST /api/build", s.limit(s.handleBuild))
	s.mux.Handle("GET /metrics", engine.Metrics().Handler())
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if s.limiter != nil && !s.limiter.Allow() {
			s.engine.Metrics().RateLimited()
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// statusOf maps error kinds to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrStaleIndex):
		return http.StatusConflict
	case errors.Is(err, common.ErrCorruptFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func indexParam(r *http.Request) (string, error) {
	name := r.URL.Query().Get("index")
	if name == "" {
		return "", fmt.Errorf("%w: missing index parameter", common.ErrInvalidInput)
	}
	return name, nil
}

func keyParam(r *http.Request) (common.KeyType, error) {
	raw := r.URL.Query().Get("key")
	k, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid key %q", common.ErrInvalidInput, raw)
	}
	return common.KeyType(k), nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", common.ErrInvalidInput, name, raw)
	}
	return v, nil
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	name, err := indexParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := keyParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	pred, seg, err := s.engine.Locate(name, key)
	duration := time.Since(start)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"index":      name,
		"key":        key,
		"predicted":  pred,
		"segment":    seg,
		"latency_ns": duration.Nanoseconds(),
	})
}

// handleRank answers 200 for absent keys too; found tells them apart. 404
// is reserved for unknown indexes.
func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	name, err := indexParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := keyParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	rank, found, err := s.engine.RankOf(r.Context(), name, key)
	duration := time.Since(start)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]interface{}{
		"index":      name,
		"key":        key,
		"found":      found,
		"latency_ns": duration.Nanoseconds(),
	}
	if found {
		resp["rank"] = rank
	}
	writeJSON(w, http.StatusOK, resp)
}

type breakpointJSON struct {
	Key   common.KeyType `json:"key"`
	Rank  uint64         `json:"rank"`
	Slope float64        `json:"slope"`
}

func (s *Server) handleBreakpoints(w http.ResponseWriter, r *http.Request) {
	name, err := indexParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bps, err := s.engine.Breakpoints(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]breakpointJSON, len(bps))
	for i, bp := range bps {
		out[i] = breakpointJSON{Key: bp.Key, Rank: bp.Rank, Slope: bp.Slope}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"index":       name,
		"breakpoints": out,
	})
}

func (s *Server) handleIndexes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.List())
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	name, err := indexParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Drop(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name, err := indexParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	points, err := intParam(r, "points", defaultExportPoints)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// check the index first so errors are not sent after a CSV header
	if _, err := s.engine.Index(name); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment;filename=%s_model_fit.csv", name))
	if err := s.engine.Export(name, w, points); err != nil {
		s.logger.Warn("export aborted", "index", name, "error", err)
	}
}

func (s *Server) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	name, err := indexParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	iterations, err := intParam(r, "iterations", defaultBenchIterations)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if iterations == 0 || iterations > maxBenchIterations {
		s.writeError(w, r, fmt.Errorf("%w: iterations must be in [1, %d]", common.ErrInvalidInput, maxBenchIterations))
		return
	}

	res, err := s.engine.Benchmark(name, iterations)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	winner, best := "pla", res.PLANs
	for _, c := range []struct {
		name string
		ns   float64
	}{{"binary_search", res.BinarySearchNs}, {"btree", res.BTreeNs}, {"rmi", res.RMINs}} {
		if c.ns < best {
			winner, best = c.name, c.ns
		}
	}
	speedup := 0.0
	if res.PLANs > 0 {
		speedup = res.BinarySearchNs / res.PLANs
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"index":            name,
		"iterations":       res.Iterations,
		"binary_search_ns": res.BinarySearchNs,
		"btree_ns":         res.BTreeNs,
		"rmi_ns":           res.RMINs,
		"pla_ns":           res.PLANs,
		"speedup":          speedup,
		"winner":           winner,
	})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req core.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid body: %v", common.ErrInvalidInput, err))
		return
	}
	path, err := confine(s.datasetRoot, req.Dataset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Dataset = path
	info, err := s.engine.Build(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// confine resolves p against root and refuses anything outside it,
// following symlinks. An empty root leaves p untouched.
func confine(root, p string) (string, error) {
	if root == "" || p == "" {
		return p, nil
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	full = filepath.Clean(full)
	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		full = resolved
	}
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: dataset %q is outside the dataset root", common.ErrInvalidInput, p)
	}
	return full, nil
}
