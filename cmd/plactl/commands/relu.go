package commands

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"plaindex/pkg/model"
)

var (
	reluSource indexSource
	reluOut    string
)

type reluResult struct {
	Neurons   int     `json:"neurons" yaml:"neurons"`
	SizeBytes int     `json:"size_bytes" yaml:"size_bytes"`
	MaxDrift  float64 `json:"max_drift" yaml:"max_drift"`
	Out       string  `json:"out" yaml:"out"`
}

func (r reluResult) table() ([]string, [][]string) {
	return fields(
		"neurons", strconv.Itoa(r.Neurons),
		"size", strconv.Itoa(r.SizeBytes)+" bytes",
		"max drift", strconv.FormatFloat(r.MaxDrift, 'g', 6, 64),
		"out", r.Out,
	)
}

var reluCmd = &cobra.Command{
	Use:   "relu",
	Short: "Export a connected index as a one-layer ReLU network",
	Long: `Relu converts the breakpoints of a connected index into a hinge network
whose output reproduces the polyline, and saves its weights. Max drift is
the largest difference between network and polyline at the breakpoints.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if reluOut == "" {
			return fmt.Errorf("--out is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ix, err := reluSource.open(cmd.Context(), cfg, cmdLogger(cmd))
		if err != nil {
			return err
		}
		defer ix.Dataset().Close()

		bps := ix.Breakpoints()
		h, err := model.NewHinge(bps)
		if err != nil {
			return err
		}
		poly := model.Polyline(bps)
		drift := 0.0
		for _, bp := range bps {
			drift = math.Max(drift, math.Abs(h.Predict(bp.Key)-poly.Predict(bp.Key)))
		}

		f, err := os.Create(reluOut)
		if err != nil {
			return err
		}
		if err := h.Save(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return render(cmd, reluResult{
			Neurons:   h.Neurons(),
			SizeBytes: h.SizeInBytes(),
			MaxDrift:  drift,
			Out:       reluOut,
		})
	},
}

func init() {
	reluSource.addFlags(reluCmd)
	reluCmd.Flags().StringVarP(&reluOut, "out", "o", "", "weights file")
	rootCmd.AddCommand(reluCmd)
}
