package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"plaindex/pkg/common"
	"plaindex/pkg/core/segment"
	"plaindex/pkg/logging"
	"plaindex/pkg/storage/format"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Index   IndexConfig   `yaml:"index"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr           string  `yaml:"addr"`     // HTTP listen address (e.g. :8080)
	TCPAddr        string  `yaml:"tcp_addr"` // TCP listen address (e.g. :9090)
	RateLimitQPS   float64 `yaml:"rate_limit_qps"` // 0 disables limiting
	RateLimitBurst int     `yaml:"rate_limit_burst"`
	// DatasetRoot confines /api/build to files below it. Empty means any
	// path the process can read, so only leave it empty on a trusted network.
	DatasetRoot string `yaml:"dataset_root"`
}

type IndexConfig struct {
	Epsilon        uint32  `yaml:"epsilon"`
	Policy         string  `yaml:"policy"`
	PrefixBits     uint    `yaml:"prefix_bits"`
	Partitions     int     `yaml:"partitions"`
	Workers        int     `yaml:"workers"`
	Filter         string  `yaml:"filter"` // none, bloom or roaring
	BloomFalseProb float64 `yaml:"bloom_false_prob"`
}

type StorageConfig struct {
	Path           string `yaml:"path"`
	DatasetFormat  string `yaml:"dataset_format"`
	BoundaryFormat string `yaml:"boundary_format"`
	Compression    string `yaml:"compression"`
	Catalog        string `yaml:"catalog"` // sqlite or badger
	Blob           string `yaml:"blob"`    // local, memory, s3 or minio
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	Endpoint       string `yaml:"endpoint"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SearchPath is tried in order when Load gets an empty path.
var SearchPath = []string{"configs/plaindex.yaml", "plaindex.yaml"}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			TCPAddr:        ":9090",
			RateLimitBurst: 100,
		},
		Index: IndexConfig{
			Epsilon:        16,
			Policy:         "connected",
			Workers:        runtime.GOMAXPROCS(0),
			Filter:         "none",
			BloomFalseProb: 0.01,
		},
		Storage: StorageConfig{
			Path:           "plaindex_data",
			DatasetFormat:  "counted",
			BoundaryFormat: "keyrank",
			Compression:    "none",
			Catalog:        "sqlite",
			Blob:           "local",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configPath, or the first file of SearchPath that exists when
// configPath is empty. Missing fields keep their defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range SearchPath {
			data, err := os.ReadFile(p)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return cfg, err
			}
			return cfg, parse(cfg, p, data)
		}
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}
	return cfg, parse(cfg, configPath, data)
}

func parse(cfg *Config, path string, data []byte) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Index.Workers <= 0 {
		cfg.Index.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Index.BloomFalseProb <= 0 || cfg.Index.BloomFalseProb >= 1 {
		cfg.Index.BloomFalseProb = 0.01
	}
	if cfg.Server.RateLimitQPS > 0 && cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = int(cfg.Server.RateLimitQPS) + 1
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "plaindex_data"
	}
}

func oneOf(field, value string, allowed ...string) error {
	v := strings.ToLower(value)
	if v == "" {
		return nil
	}
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %q (want one of %s)", common.ErrInvalidInput, field, value, strings.Join(allowed, ", "))
}

// Validate checks every enumerated field.
func (c *Config) Validate() error {
	if _, err := segment.ParsePolicy(c.Index.Policy); err != nil {
		return err
	}
	if c.Index.PrefixBits > segment.MaxPrefixBits {
		return fmt.Errorf("%w: prefix_bits %d exceeds %d", common.ErrInvalidInput, c.Index.PrefixBits, segment.MaxPrefixBits)
	}
	if c.Index.Partitions < 0 {
		return fmt.Errorf("%w: negative partitions", common.ErrInvalidInput)
	}
	if _, err := format.ParseDatasetFormat(c.Storage.DatasetFormat); err != nil {
		return err
	}
	if _, err := format.ParseBoundaryFormat(c.Storage.BoundaryFormat); err != nil {
		return err
	}
	if _, err := format.ParseCompression(c.Storage.Compression); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	for _, check := range []error{
		oneOf("filter", c.Index.Filter, "none", "bloom", "roaring"),
		oneOf("catalog", c.Storage.Catalog, "sqlite", "badger"),
		oneOf("blob", c.Storage.Blob, "local", "memory", "s3", "minio"),
		oneOf("log format", c.Log.Format, "text", "json"),
	} {
		if check != nil {
			return check
		}
	}
	if c.Server.RateLimitQPS < 0 {
		return fmt.Errorf("%w: negative rate_limit_qps", common.ErrInvalidInput)
	}
	return nil
}

// SegmentOptions turns the index section into build options.
func (c *Config) SegmentOptions() ([]segment.Option, error) {
	policy, err := segment.ParsePolicy(c.Index.Policy)
	if err != nil {
		return nil, err
	}
	return []segment.Option{
		segment.WithPolicy(policy),
		segment.WithPrefixBits(c.Index.PrefixBits),
		segment.WithPartitions(c.Index.Partitions),
		segment.WithWorkers(c.Index.Workers),
	}, nil
}

// Logger builds the logger the log section describes.
func (c *Config) Logger() (*logging.Logger, error) {
	return logging.FromConfig(c.Log.Level, c.Log.Format)
}
