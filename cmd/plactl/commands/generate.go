package commands

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"plaindex/pkg/common"
	"plaindex/pkg/datagen"
	"plaindex/pkg/storage/format"
)

var (
	genCount    int
	genMaxKey   uint32
	genSeed     int64
	genClusters int
	genSpread   float64
	genOut      string
	genFormat   string
)

// keys are echoed only for datasets this small
const echoLimit = 64

type generateResult struct {
	Keys     int              `json:"keys" yaml:"keys"`
	Distinct int              `json:"distinct" yaml:"distinct"`
	Min      common.KeyType   `json:"min" yaml:"min"`
	Max      common.KeyType   `json:"max" yaml:"max"`
	Seed     int64            `json:"seed" yaml:"seed"`
	Path     string           `json:"path,omitempty" yaml:"path,omitempty"`
	Values   []common.KeyType `json:"values,omitempty" yaml:"values,omitempty"`
}

func (r generateResult) table() ([]string, [][]string) {
	kv := []string{
		"keys", strconv.Itoa(r.Keys),
		"distinct", strconv.Itoa(r.Distinct),
		"min", strconv.FormatUint(uint64(r.Min), 10),
		"max", strconv.FormatUint(uint64(r.Max), 10),
		"seed", strconv.FormatInt(r.Seed, 10),
	}
	if r.Path != "" {
		kv = append(kv, "path", r.Path)
	}
	if len(r.Values) > 0 {
		vals := make([]string, len(r.Values))
		for i, k := range r.Values {
			vals[i] = strconv.FormatUint(uint64(k), 10)
		}
		kv = append(kv, "values", strings.Join(vals, " "))
	}
	return fields(kv...)
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random sorted dataset",
	Long: `Generate draws keys uniformly from [0, max-key], sorts them and keeps
duplicates. With --clusters the keys are drawn around random centres
instead, which produces more segments.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		seed := genSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}

		var keys []common.KeyType
		if genClusters > 0 {
			keys, err = datagen.Clustered(genCount, genClusters, genSpread, seed)
		} else {
			keys, err = datagen.Generate(genCount, genMaxKey, seed)
		}
		if err != nil {
			return err
		}

		res := generateResult{
			Keys:     len(keys),
			Distinct: distinct(keys),
			Min:      keys[0],
			Max:      keys[len(keys)-1],
			Seed:     seed,
		}
		if len(keys) <= echoLimit {
			res.Values = keys
		}
		if genOut != "" {
			name := genFormat
			if name == "" {
				name = cfg.Storage.DatasetFormat
			}
			f, err := format.ParseDatasetFormat(name)
			if err != nil {
				return err
			}
			if err := format.WriteDatasetFile(genOut, keys, f); err != nil {
				return err
			}
			res.Path = genOut
		}
		return render(cmd, res)
	},
}

func distinct(keys []common.KeyType) int {
	n := 0
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			n++
		}
	}
	return n
}

func init() {
	generateCmd.Flags().IntVarP(&genCount, "count", "n", datagen.DefaultCount, "number of keys")
	generateCmd.Flags().Uint32Var(&genMaxKey, "max-key", datagen.DefaultMaxKey, "largest key (inclusive)")
	generateCmd.Flags().Int64Var(&genSeed, "seed", 0, "random seed (0 picks one from the clock)")
	generateCmd.Flags().IntVar(&genClusters, "clusters", 0, "draw keys around this many centres")
	generateCmd.Flags().Float64Var(&genSpread, "spread", 1000, "standard deviation of each cluster")
	generateCmd.Flags().StringVarP(&genOut, "out", "o", "", "write the dataset to this file")
	generateCmd.Flags().StringVar(&genFormat, "dataset-format", "", "dataset format: counted or raw")
	rootCmd.AddCommand(generateCmd)
}
