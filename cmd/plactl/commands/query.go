package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"plaindex/pkg/common"
)

var (
	querySource indexSource
	queryRange  bool
)

type queryRow struct {
	Key       common.KeyType `json:"key" yaml:"key"`
	Predicted uint64         `json:"predicted" yaml:"predicted"`
	Segment   int            `json:"segment" yaml:"segment"`
	Found     bool           `json:"found" yaml:"found"`
	Rank      *uint64        `json:"rank,omitempty" yaml:"rank,omitempty"`
}

type queryResult []queryRow

func (r queryResult) table() ([]string, [][]string) {
	rows := make([][]string, len(r))
	for i, q := range r {
		rank := "-"
		if q.Rank != nil {
			rank = strconv.FormatUint(*q.Rank, 10)
		}
		rows[i] = []string{
			strconv.FormatUint(uint64(q.Key), 10),
			strconv.FormatUint(q.Predicted, 10),
			strconv.Itoa(q.Segment),
			rank,
		}
	}
	return []string{"KEY", "PREDICTED", "SEGMENT", "RANK"}, rows
}

type rangeResult struct {
	Lo   common.KeyType `json:"lo" yaml:"lo"`
	Hi   common.KeyType `json:"hi" yaml:"hi"`
	From uint64         `json:"from" yaml:"from"`
	To   uint64         `json:"to" yaml:"to"`
}

func (r rangeResult) table() ([]string, [][]string) {
	return fields(
		"lo", strconv.FormatUint(uint64(r.Lo), 10),
		"hi", strconv.FormatUint(uint64(r.Hi), 10),
		"from", strconv.FormatUint(r.From, 10),
		"to", strconv.FormatUint(r.To, 10),
		"count", strconv.FormatUint(r.To-r.From, 10),
	)
}

func parseKey(s string) (common.KeyType, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid key %q", common.ErrInvalidInput, s)
	}
	return common.KeyType(v), nil
}

var queryCmd = &cobra.Command{
	Use:   "query <key>...",
	Short: "Locate keys and look up their ranks",
	Long: `Query prints, for each key, the predicted position, the covering
segment and the rank of its first occurrence. Keys that are not in the
dataset have no rank. With --range the two keys bound an inclusive key
range [lo, hi] and the half-open position interval [from, to) of the
matching keys is printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keys := make([]common.KeyType, len(args))
		for i, a := range args {
			if keys[i], err = parseKey(a); err != nil {
				return err
			}
		}
		if queryRange && len(keys) != 2 {
			return fmt.Errorf("%w: --range takes exactly two keys", common.ErrInvalidInput)
		}

		logger := cmdLogger(cmd)
		ix, err := querySource.open(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer ix.Dataset().Close()

		if queryRange {
			from, to, err := ix.Range(keys[0], keys[1])
			if err != nil {
				return err
			}
			return render(cmd, rangeResult{Lo: keys[0], Hi: keys[1], From: from, To: to})
		}

		out := make(queryResult, len(keys))
		for i, k := range keys {
			pred, seg := ix.Locate(k)
			rank, found, err := ix.RankOf(k)
			logger.LogQuery(cmd.Context(), "rank", k, rank, found, err)
			if err != nil {
				return err
			}
			out[i] = queryRow{Key: k, Predicted: pred, Segment: seg, Found: found}
			if found {
				r := rank
				out[i].Rank = &r
			}
		}
		return render(cmd, out)
	},
}

func init() {
	querySource.addFlags(queryCmd)
	queryCmd.Flags().BoolVar(&queryRange, "range", false, "treat the two keys as an inclusive [lo, hi] range")
	rootCmd.AddCommand(queryCmd)
}
