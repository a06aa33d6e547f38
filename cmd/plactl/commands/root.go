package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"plaindex/pkg/config"
	"plaindex/pkg/logging"
)

var (
	configPath   string
	dataDir      string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "plactl",
	Short: "Build, inspect and publish piecewise-linear rank indexes",
	Long: `plactl - offline tooling for piecewise-linear approximate indexes.

An index maps each key of a sorted uint32 dataset to its rank with a
bounded prediction error. plactl builds indexes from dataset files,
writes and converts boundaries files, stores them in the local catalog
and publishes them to blob storage.

Examples:
  # Generate a small random dataset and index it
  plactl generate -o data.bin
  plactl build data.bin --epsilon 2 -o data.bounds

  # Look up ranks and check the error bound
  plactl query --dataset data.bin --boundaries data.bounds 17 23
  plactl verify --dataset data.bin --boundaries data.bounds

  # Keep the index in the catalog and query it by name
  plactl build data.bin --name demo
  plactl query --index demo 17`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search configs/plaindex.yaml, plaindex.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "catalog and blob directory (overrides storage.path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "table", "output format: table, yaml or json")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Storage.Path = dataDir
	}
	return cfg, nil
}

func cmdLogger(cmd *cobra.Command) *logging.Logger {
	if !verbose {
		return logging.Noop()
	}
	return logging.NewText(cmd.ErrOrStderr(), slog.LevelDebug)
}
