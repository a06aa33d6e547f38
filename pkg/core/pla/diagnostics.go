package pla

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"plaindex/pkg/common"
	"plaindex/pkg/core/baseline"
	"plaindex/pkg/model"
)

type DiagnosticPoint struct {
	Key          common.KeyType `json:"key"`
	RealPos      uint64         `json:"real_pos"`
	PredictedPos uint64         `json:"predicted_pos"`
	Error        int64          `json:"error"`
	Segment      int            `json:"segment"`
}

// Diagnostics samples at most maxPoints distinct keys (all of them when
// maxPoints <= 0) with their true and predicted ranks.
func (ix *Index) Diagnostics(maxPoints int) ([]DiagnosticPoint, error) {
	if ix.ds.Closed() {
		return nil, fmt.Errorf("%w: dataset closed", common.ErrStaleIndex)
	}
	keys := ix.ds.Keys()
	step := 1
	if maxPoints > 0 && len(keys) > maxPoints {
		step = len(keys) / maxPoints
	}

	results := make([]DiagnosticPoint, 0, len(keys)/step+1)
	for i := 0; i < len(keys); i += step {
		// snap to the first occurrence so RealPos is a rank
		r := i
		for r > 0 && keys[r-1] == keys[i] {
			r--
		}
		if len(results) > 0 && results[len(results)-1].Key == keys[r] {
			continue
		}
		pred, seg := ix.Locate(keys[r])
		results = append(results, DiagnosticPoint{
			Key:          keys[r],
			RealPos:      uint64(r),
			PredictedPos: pred,
			Error:        int64(pred) - int64(r),
			Segment:      seg,
		})
	}
	return results, nil
}

// ExportCSV writes points with a header row, for plotting elsewhere.
func ExportCSV(w io.Writer, points []DiagnosticPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"key", "real_pos", "predicted_pos", "error", "segment"}); err != nil {
		return err
	}
	for _, p := range points {
		rec := []string{
			strconv.FormatUint(uint64(p.Key), 10),
			strconv.FormatUint(p.RealPos, 10),
			strconv.FormatUint(p.PredictedPos, 10),
			strconv.FormatInt(p.Error, 10),
			strconv.Itoa(p.Segment),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type Report struct {
	Keys      int            `json:"keys"`
	Distinct  int            `json:"distinct"`
	Segments  int            `json:"segments"`
	Epsilon   uint32         `json:"epsilon"`
	MaxError  uint64         `json:"max_error"`
	MeanError float64        `json:"mean_error"`
	WorstKey  common.KeyType `json:"worst_key"`
}

// Verify measures the prediction error of every distinct key. It returns the
// report together with ErrInvalidInput when any error exceeds epsilon.
func (ix *Index) Verify() (Report, error) {
	rep := Report{Keys: ix.ds.Len(), Segments: len(ix.bps), Epsilon: ix.eps}
	if ix.ds.Closed() {
		return rep, fmt.Errorf("%w: dataset closed", common.ErrStaleIndex)
	}
	keys := ix.ds.Keys()
	var sum float64
	for i, k := range keys {
		if i > 0 && keys[i-1] == k {
			continue
		}
		rep.Distinct++
		pred, _ := ix.Locate(k)
		e := absDiff(pred, uint64(i))
		sum += float64(e)
		if e > rep.MaxError {
			rep.MaxError = e
			rep.WorstKey = k
		}
	}
	rep.MeanError = sum / float64(rep.Distinct)
	if rep.MaxError > uint64(ix.eps) {
		return rep, fmt.Errorf("%w: key %d predicted %d positions away, epsilon is %d",
			common.ErrInvalidInput, rep.WorstKey, rep.MaxError, ix.eps)
	}
	return rep, nil
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// BenchResult holds average nanoseconds per lookup.
type BenchResult struct {
	Iterations     int     `json:"iterations"`
	BinarySearchNs float64 `json:"binary_search_ns"`
	BTreeNs        float64 `json:"btree_ns"`
	RMINs          float64 `json:"rmi_ns"`
	PLANs          float64 `json:"pla_ns"`
}

// Benchmark times random lookups of present keys against a full binary
// search, a B-tree, a two-stage learned model and the index itself.
func (ix *Index) Benchmark(iterations int, seed int64) (BenchResult, error) {
	res := BenchResult{Iterations: iterations}
	if ix.ds.Closed() {
		return res, fmt.Errorf("%w: dataset closed", common.ErrStaleIndex)
	}
	if iterations <= 0 {
		return res, fmt.Errorf("%w: iterations must be positive", common.ErrInvalidInput)
	}
	data := ix.ds.Keys()
	r := rand.New(rand.NewSource(seed))
	keys := make([]common.KeyType, iterations)
	for i := range keys {
		keys[i] = data[r.Intn(len(data))]
	}

	start := time.Now()
	for _, key := range keys {
		sort.Search(len(data), func(i int) bool { return data[i] >= key })
	}
	res.BinarySearchNs = float64(time.Since(start).Nanoseconds()) / float64(iterations)

	bt := baseline.NewBTree(data, baseline.DefaultDegree)
	start = time.Now()
	for _, key := range keys {
		bt.RankOf(key)
	}
	res.BTreeNs = float64(time.Since(start).Nanoseconds()) / float64(iterations)

	rmi, err := model.NewRMI(data, model.DefaultFanout)
	if err != nil {
		return res, err
	}
	start = time.Now()
	for _, key := range keys {
		rmi.Search(data, key)
	}
	res.RMINs = float64(time.Since(start).Nanoseconds()) / float64(iterations)

	start = time.Now()
	for _, key := range keys {
		if _, _, err := ix.RankOf(key); err != nil {
			return res, err
		}
	}
	res.PLANs = float64(time.Since(start).Nanoseconds()) / float64(iterations)
	return res, nil
}
