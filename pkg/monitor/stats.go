package monitor

import (
	"sync/atomic"
)

// WorkloadStats counts queries served. All methods are safe for concurrent use.
type WorkloadStats struct {
	LocateCount   uint64
	RankCount     uint64
	HitCount      uint64
	MissCount     uint64
	FilterRejects uint64
	StaleCount    uint64
	BuildCount    uint64
}

func NewWorkloadStats() *WorkloadStats {
	return &WorkloadStats{}
}

func (ws *WorkloadStats) RecordLocate() {
	atomic.AddUint64(&ws.LocateCount, 1)
}

// RecordRank counts a rank query and its outcome.
func (ws *WorkloadStats) RecordRank(found bool) {
	atomic.AddUint64(&ws.RankCount, 1)
	if found {
		atomic.AddUint64(&ws.HitCount, 1)
	} else {
		atomic.AddUint64(&ws.MissCount, 1)
	}
}

func (ws *WorkloadStats) RecordFilterReject() {
	atomic.AddUint64(&ws.FilterRejects, 1)
}

func (ws *WorkloadStats) RecordStale() {
	atomic.AddUint64(&ws.StaleCount, 1)
}

func (ws *WorkloadStats) RecordBuild() {
	atomic.AddUint64(&ws.BuildCount, 1)
}

// HitRatio is hits over rank queries, 0 before the first query.
func (ws *WorkloadStats) HitRatio() float64 {
	ranks := atomic.LoadUint64(&ws.RankCount)
	if ranks == 0 {
		return 0.0
	}
	return float64(atomic.LoadUint64(&ws.HitCount)) / float64(ranks)
}

// Snapshot copies the counters into a map for JSON stats output.
func (ws *WorkloadStats) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"locates":        atomic.LoadUint64(&ws.LocateCount),
		"rank_queries":   atomic.LoadUint64(&ws.RankCount),
		"hits":           atomic.LoadUint64(&ws.HitCount),
		"misses":         atomic.LoadUint64(&ws.MissCount),
		"filter_rejects": atomic.LoadUint64(&ws.FilterRejects),
		"stale":          atomic.LoadUint64(&ws.StaleCount),
		"builds":         atomic.LoadUint64(&ws.BuildCount),
		"hit_ratio":      ws.HitRatio(),
	}
}
