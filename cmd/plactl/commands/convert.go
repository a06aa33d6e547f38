package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"plaindex/pkg/common"
	"plaindex/pkg/dataset"
	"plaindex/pkg/storage/format"
)

var (
	convDataset       string
	convDatasetFormat string
	convFrom          string
	convTo            string
	convCompression   string
	convEpsilon       uint32
)

type convertResult struct {
	In          string `json:"in" yaml:"in"`
	From        string `json:"from" yaml:"from"`
	Out         string `json:"out" yaml:"out"`
	To          string `json:"to" yaml:"to"`
	Breakpoints int    `json:"breakpoints" yaml:"breakpoints"`
	Bytes       int64  `json:"bytes" yaml:"bytes"`
}

func (r convertResult) table() ([]string, [][]string) {
	return fields(
		"in", r.In+" ("+r.From+")",
		"out", r.Out+" ("+r.To+")",
		"breakpoints", strconv.Itoa(r.Breakpoints),
		"bytes", strconv.FormatInt(r.Bytes, 10),
	)
}

var convertCmd = &cobra.Command{
	Use:   "convert <in> <out>",
	Short: "Rewrite a boundaries file in another format",
	Long: `Convert reads a boundaries file and writes it in the target format.
Rank-only files need --dataset to recover their keys; duplicated keys are
snapped to their first occurrence. When --dataset is given, framed output
records its length and fingerprint.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read boundaries: %w", err)
		}
		from, err := format.ParseBoundaryFormat(convFrom)
		if err != nil {
			return err
		}
		from = format.DetectBoundaryFormat(data, from)
		to, err := format.ParseBoundaryFormat(convTo)
		if err != nil {
			return err
		}
		c, err := format.ParseCompression(firstNonEmpty(convCompression, cfg.Storage.Compression))
		if err != nil {
			return err
		}

		var ds *dataset.Dataset
		if convDataset != "" {
			if ds, err = readDataset(convDataset, convDatasetFormat, cfg); err != nil {
				return err
			}
			defer ds.Close()
		} else if from == format.BoundaryRankOnly {
			return fmt.Errorf("%w: rank-only boundaries need --dataset", common.ErrInvalidInput)
		}

		eps := convEpsilon
		if from == format.BoundaryFramed {
			hdr, _, err := format.ReadFramed(data)
			if err != nil {
				return err
			}
			if eps == 0 {
				eps = hdr.Epsilon
			}
		}
		bps, err := format.ReadBoundaries(data, from, ds)
		if err != nil {
			return err
		}

		opts := []format.WriteOption{format.WithCompression(c), format.WithEpsilon(eps)}
		if ds != nil {
			opts = append(opts, format.WithDataset(ds))
		}
		if err := format.WriteBoundariesFile(args[1], bps, to, opts...); err != nil {
			return err
		}
		st, err := os.Stat(args[1])
		if err != nil {
			return err
		}
		return render(cmd, convertResult{
			In:          args[0],
			From:        from.String(),
			Out:         args[1],
			To:          to.String(),
			Breakpoints: len(bps),
			Bytes:       st.Size(),
		})
	},
}

func init() {
	convertCmd.Flags().StringVar(&convDataset, "dataset", "", "dataset the boundaries index")
	convertCmd.Flags().StringVar(&convDatasetFormat, "dataset-format", "", "dataset format: counted or raw")
	convertCmd.Flags().StringVar(&convFrom, "from", "rankonly", "input format when the file is not framed")
	convertCmd.Flags().StringVar(&convTo, "to", "keyrank", "output format: keyrank, rankonly or framed")
	convertCmd.Flags().StringVar(&convCompression, "compression", "", "framed block compression: none, lz4 or zstd")
	convertCmd.Flags().Uint32Var(&convEpsilon, "epsilon", 0, "error bound to record in a framed header")
	rootCmd.AddCommand(convertCmd)
}
