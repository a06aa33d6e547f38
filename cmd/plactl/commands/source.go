package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"plaindex/pkg/common"
	"plaindex/pkg/config"
	"plaindex/pkg/core/pla"
	"plaindex/pkg/core/structure"
	"plaindex/pkg/dataset"
	"plaindex/pkg/logging"
	"plaindex/pkg/storage/catalog"
	"plaindex/pkg/storage/format"
)

// indexSource names where a command finds its index: a dataset file plus a
// boundaries file, or a catalog entry.
type indexSource struct {
	dataset        string
	datasetFormat  string
	boundaries     string
	boundaryFormat string
	name           string
	epsilon        uint32
	filter         string
}

func (s *indexSource) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.dataset, "dataset", "", "dataset file")
	cmd.Flags().StringVar(&s.datasetFormat, "dataset-format", "", "dataset format: counted or raw")
	cmd.Flags().StringVar(&s.boundaries, "boundaries", "", "boundaries file")
	cmd.Flags().StringVar(&s.boundaryFormat, "boundary-format", "", "boundaries format when not framed: keyrank or rankonly")
	cmd.Flags().StringVar(&s.name, "index", "", "catalog index name (instead of --boundaries)")
	cmd.Flags().Uint32Var(&s.epsilon, "epsilon", 0, "error bound the boundaries were built with (unframed files only)")
	cmd.Flags().StringVar(&s.filter, "filter", "", "membership filter for rank queries: none, bloom or roaring")
}

func (s *indexSource) options(ds *dataset.Dataset, cfg *config.Config, logger *logging.Logger) ([]pla.Option, error) {
	f, err := structure.NewFilter(firstNonEmpty(s.filter, cfg.Index.Filter), ds.Keys(), cfg.Index.BloomFalseProb)
	if err != nil {
		return nil, err
	}
	return []pla.Option{pla.WithFilter(f), pla.WithLogger(logger)}, nil
}

func openCatalog(cfg *config.Config, logger *logging.Logger) (catalog.Catalog, error) {
	if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return catalog.Open(cfg.Storage.Catalog, cfg.Storage.Path, logger)
}

func readDataset(path, name string, cfg *config.Config) (*dataset.Dataset, error) {
	if name == "" {
		name = cfg.Storage.DatasetFormat
	}
	f, err := format.ParseDatasetFormat(name)
	if err != nil {
		return nil, err
	}
	return format.ReadDataset(path, f)
}

// open loads the index and its dataset. The caller closes ix.Dataset().
func (s *indexSource) open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pla.Index, error) {
	if s.name != "" {
		return s.openCatalog(ctx, cfg, logger)
	}
	if s.dataset == "" || s.boundaries == "" {
		return nil, fmt.Errorf("%w: need --dataset and --boundaries, or --index", common.ErrInvalidInput)
	}
	ds, err := readDataset(s.dataset, s.datasetFormat, cfg)
	if err != nil {
		return nil, err
	}
	ix, err := s.openFile(ds, cfg, logger)
	if err != nil {
		ds.Close()
		return nil, err
	}
	return ix, nil
}

func (s *indexSource) openFile(ds *dataset.Dataset, cfg *config.Config, logger *logging.Logger) (*pla.Index, error) {
	data, err := os.ReadFile(s.boundaries)
	if err != nil {
		return nil, fmt.Errorf("read boundaries: %w", err)
	}
	fallback := s.boundaryFormat
	if fallback == "" {
		fallback = cfg.Storage.BoundaryFormat
	}
	bf, err := format.ParseBoundaryFormat(fallback)
	if err != nil {
		return nil, err
	}
	bf = format.DetectBoundaryFormat(data, bf)

	eps := s.epsilon
	if eps == 0 {
		eps = cfg.Index.Epsilon
	}
	var bps []common.Breakpoint
	if bf == format.BoundaryFramed {
		hdr, framed, err := format.ReadFramed(data)
		if err != nil {
			return nil, err
		}
		if err := hdr.CheckDataset(ds); err != nil {
			return nil, err
		}
		bps = framed
		if hdr.Epsilon != 0 {
			eps = hdr.Epsilon
		}
	} else if bps, err = format.ReadBoundaries(data, bf, ds); err != nil {
		return nil, err
	}
	logger.LogLoad(context.Background(), s.boundaries, len(bps), nil)
	opts, err := s.options(ds, cfg, logger)
	if err != nil {
		return nil, err
	}
	return pla.FromBreakpoints(bps, ds, eps, opts...)
}

func (s *indexSource) openCatalog(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pla.Index, error) {
	cat, err := openCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer cat.Close()
	entry, err := cat.Load(ctx, s.name)
	if err != nil {
		return nil, err
	}

	path, fmtName := s.dataset, s.datasetFormat
	if path == "" {
		path = entry.Source
		if fmtName == "" {
			fmtName = entry.SourceFormat
		}
	}
	if path == "" {
		return nil, fmt.Errorf("%w: index %s records no dataset; pass --dataset", common.ErrInvalidInput, s.name)
	}
	ds, err := readDataset(path, fmtName, cfg)
	if err != nil {
		return nil, err
	}
	if err := entry.Check(ds); err != nil {
		ds.Close()
		return nil, err
	}
	opts, err := s.options(ds, cfg, logger)
	if err != nil {
		ds.Close()
		return nil, err
	}
	ix, err := pla.FromBreakpoints(entry.Breakpoints, ds, entry.Epsilon, opts...)
	if err != nil {
		ds.Close()
		return nil, err
	}
	return ix, nil
}
