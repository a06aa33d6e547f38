package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"plaindex/pkg/common"
)

var verifySource indexSource

type verifyResult struct {
	OK        bool           `json:"ok" yaml:"ok"`
	Keys      int            `json:"keys" yaml:"keys"`
	Distinct  int            `json:"distinct" yaml:"distinct"`
	Segments  int            `json:"segments" yaml:"segments"`
	Epsilon   uint32         `json:"epsilon" yaml:"epsilon"`
	MaxError  uint64         `json:"max_error" yaml:"max_error"`
	MeanError float64        `json:"mean_error" yaml:"mean_error"`
	WorstKey  common.KeyType `json:"worst_key" yaml:"worst_key"`
}

func (r verifyResult) table() ([]string, [][]string) {
	return fields(
		"ok", strconv.FormatBool(r.OK),
		"keys", strconv.Itoa(r.Keys),
		"distinct", strconv.Itoa(r.Distinct),
		"segments", strconv.Itoa(r.Segments),
		"epsilon", strconv.FormatUint(uint64(r.Epsilon), 10),
		"max error", strconv.FormatUint(r.MaxError, 10),
		"mean error", fmt.Sprintf("%.3f", r.MeanError),
		"worst key", strconv.FormatUint(uint64(r.WorstKey), 10),
	)
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every key is predicted within epsilon",
	Long: `Verify predicts the position of every distinct key and compares it with
the rank of its first occurrence. The report is printed either way; the
command fails when the largest error exceeds epsilon.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ix, err := verifySource.open(cmd.Context(), cfg, cmdLogger(cmd))
		if err != nil {
			return err
		}
		defer ix.Dataset().Close()

		rep, verr := ix.Verify()
		res := verifyResult{
			OK:        verr == nil,
			Keys:      rep.Keys,
			Distinct:  rep.Distinct,
			Segments:  rep.Segments,
			Epsilon:   rep.Epsilon,
			MaxError:  rep.MaxError,
			MeanError: rep.MeanError,
			WorstKey:  rep.WorstKey,
		}
		if err := render(cmd, res); err != nil {
			return err
		}
		return verr
	},
}

func init() {
	verifySource.addFlags(verifyCmd)
	rootCmd.AddCommand(verifyCmd)
}
