package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"plaindex/pkg/common"
)

var dumpSource indexSource

type dumpBreakpoint struct {
	Key   common.KeyType `json:"key" yaml:"key"`
	Rank  uint64         `json:"rank" yaml:"rank"`
	Slope float64        `json:"slope" yaml:"slope"`
}

type dumpResult struct {
	Keys        int              `json:"keys" yaml:"keys"`
	Epsilon     uint32           `json:"epsilon" yaml:"epsilon"`
	Connected   bool             `json:"connected" yaml:"connected"`
	Breakpoints []dumpBreakpoint `json:"breakpoints" yaml:"breakpoints"`
}

func (r dumpResult) table() ([]string, [][]string) {
	rows := make([][]string, len(r.Breakpoints))
	for i, bp := range r.Breakpoints {
		rows[i] = []string{
			strconv.Itoa(i),
			strconv.FormatUint(uint64(bp.Key), 10),
			strconv.FormatUint(bp.Rank, 10),
			strconv.FormatFloat(bp.Slope, 'g', 8, 64),
		}
	}
	return []string{"#", "KEY", "RANK", "SLOPE"}, rows
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the breakpoints of an index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ix, err := dumpSource.open(cmd.Context(), cfg, cmdLogger(cmd))
		if err != nil {
			return err
		}
		defer ix.Dataset().Close()

		bps := ix.Breakpoints()
		res := dumpResult{
			Keys:        ix.Len(),
			Epsilon:     ix.Epsilon(),
			Connected:   ix.Connected(),
			Breakpoints: make([]dumpBreakpoint, len(bps)),
		}
		for i, bp := range bps {
			res.Breakpoints[i] = dumpBreakpoint{Key: bp.Key, Rank: bp.Rank, Slope: bp.Slope}
		}
		return render(cmd, res)
	},
}

func init() {
	dumpSource.addFlags(dumpCmd)
	rootCmd.AddCommand(dumpCmd)
}
