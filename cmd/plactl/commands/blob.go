package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"plaindex/pkg/config"
	"plaindex/pkg/storage/blob"
)

var (
	blobKind     string
	blobRoot     string
	blobBucket   string
	blobPrefix   string
	blobEndpoint string
	blobSecure   bool
)

type blobResult struct {
	Name  string `json:"name" yaml:"name"`
	File  string `json:"file" yaml:"file"`
	Bytes int    `json:"bytes" yaml:"bytes"`
	Store string `json:"store" yaml:"store"`
}

func (r blobResult) table() ([]string, [][]string) {
	return fields("name", r.Name, "file", r.File, "bytes", strconv.Itoa(r.Bytes), "store", r.Store)
}

func blobOptions(cfg *config.Config) blob.Options {
	root := blobRoot
	if root == "" {
		root = filepath.Join(cfg.Storage.Path, "blobs")
	}
	return blob.Options{
		Kind:     firstNonEmpty(blobKind, cfg.Storage.Blob),
		Root:     root,
		Bucket:   firstNonEmpty(blobBucket, cfg.Storage.Bucket),
		Prefix:   firstNonEmpty(blobPrefix, cfg.Storage.Prefix),
		Endpoint: firstNonEmpty(blobEndpoint, cfg.Storage.Endpoint),
		Secure:   blobSecure,
	}
}

var pushCmd = &cobra.Command{
	Use:   "push <file> [name]",
	Short: "Upload a dataset or boundaries file to the blob store",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		name := filepath.Base(args[0])
		if len(args) == 2 {
			name = args[1]
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		opts := blobOptions(cfg)
		store, err := blob.Open(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if err := store.Put(cmd.Context(), name, data); err != nil {
			return fmt.Errorf("push %s: %w", name, err)
		}
		cmdLogger(cmd).Debug("blob pushed", "name", name, "bytes", len(data), "store", opts.Kind)
		return render(cmd, blobResult{Name: name, File: args[0], Bytes: len(data), Store: opts.Kind})
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull <name> <file>",
	Short: "Download a blob to a local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts := blobOptions(cfg)
		store, err := blob.Open(cmd.Context(), opts)
		if err != nil {
			return err
		}
		data, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("pull %s: %w", args[0], err)
		}
		if err := os.WriteFile(args[1], data, 0o644); err != nil {
			return err
		}
		return render(cmd, blobResult{Name: args[0], File: args[1], Bytes: len(data), Store: opts.Kind})
	},
}

func init() {
	for _, c := range []*cobra.Command{pushCmd, pullCmd} {
		c.Flags().StringVar(&blobKind, "blob", "", "store kind: local, s3 or minio (default from config)")
		c.Flags().StringVar(&blobRoot, "root", "", "local store directory (default <data-dir>/blobs)")
		c.Flags().StringVar(&blobBucket, "bucket", "", "bucket for s3 and minio")
		c.Flags().StringVar(&blobPrefix, "prefix", "", "object key prefix")
		c.Flags().StringVar(&blobEndpoint, "endpoint", "", "custom S3 endpoint or minio host:port")
		c.Flags().BoolVar(&blobSecure, "secure", true, "use TLS for minio")
		rootCmd.AddCommand(c)
	}
}
