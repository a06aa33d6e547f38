package commands

import (
	"os"

	"github.com/spf13/cobra"

	"plaindex/pkg/core/pla"
)

var (
	exportSource indexSource
	exportPoints int
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write sampled predictions as CSV for plotting",
	Long: `Export samples distinct keys and writes key, real position, predicted
position, error and segment as CSV, to --out or stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ix, err := exportSource.open(cmd.Context(), cfg, cmdLogger(cmd))
		if err != nil {
			return err
		}
		defer ix.Dataset().Close()

		points, err := ix.Diagnostics(exportPoints)
		if err != nil {
			return err
		}
		if exportOut == "" {
			return pla.ExportCSV(cmd.OutOrStdout(), points)
		}
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		if err := pla.ExportCSV(f, points); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	},
}

func init() {
	exportSource.addFlags(exportCmd)
	exportCmd.Flags().IntVar(&exportPoints, "points", 1000, "maximum sampled keys (0 exports all)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "CSV file (default stdout)")
	rootCmd.AddCommand(exportCmd)
}
