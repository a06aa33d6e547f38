package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"plaindex/pkg/common"
	"plaindex/pkg/config"
	"plaindex/pkg/core/pla"
	"plaindex/pkg/core/segment"
	"plaindex/pkg/core/structure"
	"plaindex/pkg/dataset"
	"plaindex/pkg/logging"
	"plaindex/pkg/monitor"
	"plaindex/pkg/storage/catalog"
	"plaindex/pkg/storage/format"
)

// BuildRequest names a dataset file to index. Zero fields fall back to the
// index section of the config; Epsilon is a pointer because 0 is a valid
// bound.
type BuildRequest struct {
	Name    string  `json:"name"`
	Dataset string  `json:"dataset"`
	Format  string  `json:"format,omitempty"`
	Epsilon *uint32 `json:"epsilon,omitempty"`
	Policy  string  `json:"policy,omitempty"`
	Filter  string  `json:"filter,omitempty"`
}

// IndexInfo summarises a registered index.
type IndexInfo struct {
	Name      string `json:"name"`
	BuildID   string `json:"build_id"`
	Source    string `json:"source,omitempty"`
	Keys      int    `json:"keys"`
	Segments  int    `json:"segments"`
	Epsilon   uint32 `json:"epsilon"`
	Policy    string `json:"policy"`
	Connected bool   `json:"connected"`
	SizeBytes int    `json:"size_bytes"`
	Filter    string `json:"filter,omitempty"`
}

type registered struct {
	ix     *pla.Index
	meta   catalog.Meta
	filter string
}

func (r *registered) info() IndexInfo {
	return IndexInfo{
		Name:      r.meta.Name,
		BuildID:   r.meta.BuildID,
		Source:    r.meta.Source,
		Keys:      r.ix.Len(),
		Segments:  r.ix.Segments(),
		Epsilon:   r.ix.Epsilon(),
		Policy:    r.meta.Policy,
		Connected: r.ix.Connected(),
		SizeBytes: r.ix.SizeInBytes(),
		Filter:    r.filter,
	}
}

// Engine is a registry of named indexes backed by a catalog. The lock only
// guards the name map; queries run on the lock-free indexes.
type Engine struct {
	mu      sync.RWMutex
	indexes map[string]*registered

	catalog catalog.Catalog
	stats   *monitor.WorkloadStats
	metrics *monitor.Metrics
	logger  *logging.Logger
	conf    *config.Config
}

// NewEngine opens the catalog under cfg.Storage.Path and reopens every
// stored index whose dataset file is still readable.
func NewEngine(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.Noop()
	}
	if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}
	cat, err := catalog.Open(cfg.Storage.Catalog, cfg.Storage.Path, logger)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		indexes: make(map[string]*registered),
		catalog: cat,
		stats:   monitor.NewWorkloadStats(),
		metrics: monitor.NewMetrics(),
		logger:  logger,
		conf:    cfg,
	}
	e.restore(ctx)
	return e, nil
}

func (e *Engine) restore(ctx context.Context) {
	metas, err := e.catalog.List(ctx)
	if err != nil {
		e.logger.Warn("catalog list failed", "error", err)
		return
	}
	restored := 0
	for _, m := range metas {
		if m.Source == "" {
			continue
		}
		if _, err := e.Load(ctx, m.Name, m.Source, m.SourceFormat); err != nil {
			e.logger.Warn("index not restored", "index", m.Name, "source", m.Source, "error", err)
			continue
		}
		restored++
	}
	e.logger.Info("catalog restored", "indexes", restored, "stored", len(metas))
}

func (e *Engine) segmentOptions(policy string) ([]segment.Option, string, error) {
	opts, err := e.conf.SegmentOptions()
	if err != nil {
		return nil, "", err
	}
	if policy == "" {
		policy = e.conf.Index.Policy
	}
	p, err := segment.ParsePolicy(policy)
	if err != nil {
		return nil, "", err
	}
	return append(opts, segment.WithPolicy(p)), p.String(), nil
}

// Build reads a dataset file, segments it, stores the breakpoints in the
// catalog and registers the index, replacing any index of the same name.
func (e *Engine) Build(ctx context.Context, req BuildRequest) (IndexInfo, error) {
	info, err := e.build(ctx, req)
	e.metrics.ObserveBuild(err)
	return info, err
}

func (e *Engine) build(ctx context.Context, req BuildRequest) (IndexInfo, error) {
	if req.Name == "" || req.Dataset == "" {
		return IndexInfo{}, fmt.Errorf("%w: build needs a name and a dataset", common.ErrInvalidInput)
	}
	fmtName := req.Format
	if fmtName == "" {
		fmtName = e.conf.Storage.DatasetFormat
	}
	df, err := format.ParseDatasetFormat(fmtName)
	if err != nil {
		return IndexInfo{}, err
	}
	eps := e.conf.Index.Epsilon
	if req.Epsilon != nil {
		eps = *req.Epsilon
	}
	segOpts, policy, err := e.segmentOptions(req.Policy)
	if err != nil {
		return IndexInfo{}, err
	}
	filterKind := req.Filter
	if filterKind == "" {
		filterKind = e.conf.Index.Filter
	}

	source, err := filepath.Abs(req.Dataset)
	if err != nil {
		return IndexInfo{}, err
	}
	// read into memory rather than map: a replaced index may still be
	// serving queries when its dataset is closed.
	ds, err := format.ReadDataset(source, df)
	if err != nil {
		return IndexInfo{}, err
	}
	filter, err := structure.NewFilter(filterKind, ds.Keys(), e.conf.Index.BloomFalseProb)
	if err != nil {
		return IndexInfo{}, err
	}
	ix, err := pla.BuildContext(ctx, ds, eps,
		pla.WithSegmentOptions(segOpts...),
		pla.WithFilter(filter),
		pla.WithLogger(e.logger.WithIndex(req.Name)))
	if err != nil {
		return IndexInfo{}, err
	}

	entry := catalog.NewEntry(req.Name, ix.Breakpoints(), eps, policy, ds)
	entry.Source, entry.SourceFormat = source, df.String()
	if err := e.catalog.Save(ctx, entry); err != nil {
		e.logger.LogSave(ctx, req.Name, len(entry.Breakpoints), err)
		return IndexInfo{}, err
	}
	e.logger.LogSave(ctx, req.Name, len(entry.Breakpoints), nil)
	e.stats.RecordBuild()
	return e.register(&registered{ix: ix, meta: entry.Meta, filter: filterName(filter)}), nil
}

// Load registers a catalog entry against the dataset file it was built from.
// A different dataset yields ErrStaleIndex.
func (e *Engine) Load(ctx context.Context, name, datasetPath, datasetFormat string) (IndexInfo, error) {
	entry, err := e.catalog.Load(ctx, name)
	if err != nil {
		return IndexInfo{}, err
	}
	df, err := format.ParseDatasetFormat(datasetFormat)
	if err != nil {
		return IndexInfo{}, err
	}
	ds, err := format.ReadDataset(datasetPath, df)
	e.logger.LogLoad(ctx, datasetPath, entryLen(ds), err)
	if err != nil {
		return IndexInfo{}, err
	}
	if err := entry.Check(ds); err != nil {
		ds.Close()
		return IndexInfo{}, err
	}
	filter, err := structure.NewFilter(e.conf.Index.Filter, ds.Keys(), e.conf.Index.BloomFalseProb)
	if err != nil {
		ds.Close()
		return IndexInfo{}, err
	}
	ix, err := pla.FromBreakpoints(entry.Breakpoints, ds, entry.Epsilon, pla.WithFilter(filter))
	if err != nil {
		ds.Close()
		return IndexInfo{}, err
	}
	e.stats.RecordBuild()
	e.metrics.ObserveBuild(nil)
	return e.register(&registered{ix: ix, meta: entry.Meta, filter: filterName(filter)}), nil
}

func entryLen(ds *dataset.Dataset) int {
	if ds == nil {
		return 0
	}
	return ds.Len()
}

// Register adds an index built elsewhere and records it in the catalog
// without a dataset source, so it is not restored on restart.
func (e *Engine) Register(ctx context.Context, name string, ix *pla.Index, policy string) (IndexInfo, error) {
	if ix == nil {
		return IndexInfo{}, fmt.Errorf("%w: nil index", common.ErrInvalidInput)
	}
	entry := catalog.NewEntry(name, ix.Breakpoints(), ix.Epsilon(), policy, ix.Dataset())
	if err := e.catalog.Save(ctx, entry); err != nil {
		return IndexInfo{}, err
	}
	return e.register(&registered{ix: ix, meta: entry.Meta, filter: filterName(ix.Filter())}), nil
}

func filterName(f structure.Filter) string {
	if f == nil {
		return ""
	}
	if kind, ok := f.Stats()["filter"].(string); ok {
		return kind
	}
	return "custom"
}

func (e *Engine) register(r *registered) IndexInfo {
	e.mu.Lock()
	old := e.indexes[r.meta.Name]
	e.indexes[r.meta.Name] = r
	n := len(e.indexes)
	e.mu.Unlock()

	// in-flight queries on the old index now fail with ErrStaleIndex
	if old != nil && old.ix.Dataset() != r.ix.Dataset() {
		old.ix.Dataset().Close()
	}
	e.metrics.SetIndex(r.meta.Name, r.ix.Segments())
	e.metrics.SetIndexCount(n)
	return r.info()
}

func (e *Engine) lookup(name string) (*registered, error) {
	e.mu.RLock()
	r, ok := e.indexes[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("index %q: %w", name, common.ErrNotFound)
	}
	return r, nil
}

// Index returns the registered index called name.
func (e *Engine) Index(name string) (*pla.Index, error) {
	r, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	return r.ix, nil
}

func (e *Engine) Info(name string) (IndexInfo, error) {
	r, err := e.lookup(name)
	if err != nil {
		return IndexInfo{}, err
	}
	return r.info(), nil
}

// Locate returns the predicted position of key and its segment.
func (e *Engine) Locate(name string, key common.KeyType) (uint64, int, error) {
	r, err := e.lookup(name)
	if err != nil {
		return 0, 0, err
	}
	start := time.Now()
	pred, seg := r.ix.Locate(key)
	e.stats.RecordLocate()
	e.metrics.ObserveQuery("locate", "located", time.Since(start))
	return pred, seg, nil
}

// RankOf resolves the exact first-occurrence rank of key.
func (e *Engine) RankOf(ctx context.Context, name string, key common.KeyType) (uint64, bool, error) {
	r, err := e.lookup(name)
	if err != nil {
		return 0, false, err
	}
	start := time.Now()
	rank, res, err := r.ix.Lookup(key)
	elapsed := time.Since(start)
	found := res == pla.Hit

	outcome := "miss"
	switch {
	case err != nil:
		outcome = "error"
		if errors.Is(err, common.ErrStaleIndex) {
			e.stats.RecordStale()
		}
	case found:
		outcome = "hit"
		e.stats.RecordRank(true)
	default:
		e.stats.RecordRank(false)
		if res == pla.Filtered {
			e.stats.RecordFilterReject()
		}
	}
	e.metrics.ObserveQuery("rank", outcome, elapsed)
	e.logger.LogQuery(ctx, "rank", key, rank, found, err)
	return rank, found, err
}

// Range returns the positions [from, to) of the keys in [lo, hi].
func (e *Engine) Range(name string, lo, hi common.KeyType) (uint64, uint64, error) {
	r, err := e.lookup(name)
	if err != nil {
		return 0, 0, err
	}
	start := time.Now()
	from, to, err := r.ix.Range(lo, hi)
	outcome := "located"
	if err != nil {
		outcome = "error"
	}
	e.metrics.ObserveQuery("range", outcome, time.Since(start))
	return from, to, err
}

// Breakpoints returns a copy of the breakpoints of an index.
func (e *Engine) Breakpoints(name string) ([]common.Breakpoint, error) {
	r, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	return r.ix.Breakpoints(), nil
}

// List returns the registered indexes sorted by name.
func (e *Engine) List() []IndexInfo {
	e.mu.RLock()
	out := make([]IndexInfo, 0, len(e.indexes))
	for _, r := range e.indexes {
		out = append(out, r.info())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Drop unregisters an index, releases its dataset and removes it from the
// catalog.
func (e *Engine) Drop(ctx context.Context, name string) error {
	e.mu.Lock()
	r, ok := e.indexes[name]
	delete(e.indexes, name)
	n := len(e.indexes)
	e.mu.Unlock()

	err := e.catalog.Delete(ctx, name)
	if !ok {
		return err
	}
	r.ix.Dataset().Close()
	e.metrics.DropIndex(name)
	e.metrics.SetIndexCount(n)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	return err
}

// Export writes sampled diagnostics of an index as CSV.
func (e *Engine) Export(name string, w io.Writer, maxPoints int) error {
	r, err := e.lookup(name)
	if err != nil {
		return err
	}
	points, err := r.ix.Diagnostics(maxPoints)
	if err != nil {
		return err
	}
	return pla.ExportCSV(w, points)
}

func (e *Engine) Benchmark(name string, iterations int) (pla.BenchResult, error) {
	r, err := e.lookup(name)
	if err != nil {
		return pla.BenchResult{}, err
	}
	return r.ix.Benchmark(iterations, time.Now().UnixNano())
}

func (e *Engine) Metrics() *monitor.Metrics { return e.metrics }

func (e *Engine) Workload() *monitor.WorkloadStats { return e.stats }

func (e *Engine) Stats() map[string]interface{} {
	e.mu.RLock()
	totalKeys, totalSegments, totalBytes := 0, 0, 0
	for _, r := range e.indexes {
		totalKeys += r.ix.Len()
		totalSegments += r.ix.Segments()
		totalBytes += r.ix.SizeInBytes()
	}
	count := len(e.indexes)
	e.mu.RUnlock()

	return map[string]interface{}{
		"indexes":        count,
		"total_keys":     totalKeys,
		"total_segments": totalSegments,
		"model_bytes":    totalBytes,
		"catalog":        e.conf.Storage.Catalog,
		"workload":       e.stats.Snapshot(),
	}
}

// Close releases every dataset and the catalog.
func (e *Engine) Close() error {
	e.mu.Lock()
	for name, r := range e.indexes {
		r.ix.Dataset().Close()
		delete(e.indexes, name)
	}
	e.mu.Unlock()
	return e.catalog.Close()
}
