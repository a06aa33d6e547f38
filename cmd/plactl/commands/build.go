package commands

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"plaindex/pkg/core/pla"
	"plaindex/pkg/core/segment"
	"plaindex/pkg/storage/catalog"
	"plaindex/pkg/storage/format"
)

var (
	buildEpsilon        uint32
	buildPolicy         string
	buildPrefixBits     uint
	buildPartitions     int
	buildWorkers        int
	buildDatasetFormat  string
	buildOut            string
	buildBoundaryFormat string
	buildCompression    string
	buildName           string
)

type buildResult struct {
	Keys      int     `json:"keys" yaml:"keys"`
	Segments  int     `json:"segments" yaml:"segments"`
	Epsilon   uint32  `json:"epsilon" yaml:"epsilon"`
	Policy    string  `json:"policy" yaml:"policy"`
	Connected bool    `json:"connected" yaml:"connected"`
	ModelSize int     `json:"model_bytes" yaml:"model_bytes"`
	ElapsedMs float64 `json:"elapsed_ms" yaml:"elapsed_ms"`
	Out       string  `json:"out,omitempty" yaml:"out,omitempty"`
	Format    string  `json:"format,omitempty" yaml:"format,omitempty"`
	Index     string  `json:"index,omitempty" yaml:"index,omitempty"`
	BuildID   string  `json:"build_id,omitempty" yaml:"build_id,omitempty"`
}

func (r buildResult) table() ([]string, [][]string) {
	kv := []string{
		"keys", strconv.Itoa(r.Keys),
		"segments", strconv.Itoa(r.Segments),
		"epsilon", strconv.FormatUint(uint64(r.Epsilon), 10),
		"policy", r.Policy,
		"connected", strconv.FormatBool(r.Connected),
		"model bytes", strconv.Itoa(r.ModelSize),
		"elapsed", fmt.Sprintf("%.3fms", r.ElapsedMs),
	}
	if r.Out != "" {
		kv = append(kv, "out", r.Out+" ("+r.Format+")")
	}
	if r.Index != "" {
		kv = append(kv, "index", r.Index, "build id", r.BuildID)
	}
	return fields(kv...)
}

var buildCmd = &cobra.Command{
	Use:   "build <dataset>",
	Short: "Build an index over a dataset file",
	Long: `Build segments a sorted dataset with the configured error bound and
writes the breakpoints to a boundaries file (--out), the catalog
(--name), or both. Flags override the index section of the config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := cmdLogger(cmd)
		if buildOut == "" && buildName == "" {
			return fmt.Errorf("nothing to do: pass --out, --name or both")
		}

		if buildEpsilon != 0 {
			cfg.Index.Epsilon = buildEpsilon
		}
		if buildPolicy != "" {
			cfg.Index.Policy = buildPolicy
		}
		if buildPrefixBits != 0 {
			cfg.Index.PrefixBits = buildPrefixBits
		}
		if buildPartitions != 0 {
			cfg.Index.Partitions = buildPartitions
		}
		if buildWorkers != 0 {
			cfg.Index.Workers = buildWorkers
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		segOpts, err := cfg.SegmentOptions()
		if err != nil {
			return err
		}
		policy, _ := segment.ParsePolicy(cfg.Index.Policy)

		ds, err := readDataset(args[0], buildDatasetFormat, cfg)
		if err != nil {
			return err
		}
		defer ds.Close()

		start := time.Now()
		ix, err := pla.BuildContext(cmd.Context(), ds, cfg.Index.Epsilon,
			pla.WithSegmentOptions(segOpts...), pla.WithLogger(logger))
		if err != nil {
			return err
		}
		res := buildResult{
			Keys:      ix.Len(),
			Segments:  ix.Segments(),
			Epsilon:   ix.Epsilon(),
			Policy:    policy.String(),
			Connected: ix.Connected(),
			ModelSize: ix.SizeInBytes(),
			ElapsedMs: float64(time.Since(start).Microseconds()) / 1000,
		}

		if buildOut != "" {
			name := buildBoundaryFormat
			if name == "" {
				name = cfg.Storage.BoundaryFormat
			}
			bf, err := format.ParseBoundaryFormat(name)
			if err != nil {
				return err
			}
			c, err := format.ParseCompression(firstNonEmpty(buildCompression, cfg.Storage.Compression))
			if err != nil {
				return err
			}
			err = format.WriteBoundariesFile(buildOut, ix.Breakpoints(), bf,
				format.WithCompression(c), format.WithEpsilon(ix.Epsilon()), format.WithDataset(ds))
			logger.LogSave(cmd.Context(), buildOut, ix.Segments(), err)
			if err != nil {
				return err
			}
			res.Out, res.Format = buildOut, bf.String()
		}

		if buildName != "" {
			cat, err := openCatalog(cfg, logger)
			if err != nil {
				return err
			}
			defer cat.Close()
			entry := catalog.NewEntry(buildName, ix.Breakpoints(), ix.Epsilon(), policy.String(), ds)
			if abs, err := filepath.Abs(args[0]); err == nil {
				entry.Source = abs
				entry.SourceFormat = firstNonEmpty(buildDatasetFormat, cfg.Storage.DatasetFormat)
			}
			if err := cat.Save(cmd.Context(), entry); err != nil {
				return err
			}
			res.Index, res.BuildID = entry.Name, entry.BuildID
		}
		return render(cmd, res)
	},
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	buildCmd.Flags().Uint32VarP(&buildEpsilon, "epsilon", "e", 0, "error bound (default from config)")
	buildCmd.Flags().StringVar(&buildPolicy, "policy", "", "slope policy: connected, midpoint or least_squares")
	buildCmd.Flags().UintVar(&buildPrefixBits, "prefix-bits", 0, "partition by the top key bits")
	buildCmd.Flags().IntVar(&buildPartitions, "partitions", 0, "partition into this many equal-count chunks")
	buildCmd.Flags().IntVar(&buildWorkers, "workers", 0, "parallel partition builders")
	buildCmd.Flags().StringVar(&buildDatasetFormat, "dataset-format", "", "dataset format: counted or raw")
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "", "write a boundaries file")
	buildCmd.Flags().StringVar(&buildBoundaryFormat, "boundary-format", "", "keyrank, rankonly or framed")
	buildCmd.Flags().StringVar(&buildCompression, "compression", "", "framed block compression: none, lz4 or zstd")
	buildCmd.Flags().StringVar(&buildName, "name", "", "save the index in the catalog under this name")
	rootCmd.AddCommand(buildCmd)
}

