// Package config binds cobra flags, environment variables (prefixed
// STREAMSKETCH_), and an optional YAML config file into one Config value
// via viper, the same layering codefang's own internal/config/loader.go
// uses.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "STREAMSKETCH"

// Config is the full set of options the run subcommand accepts, a
// superset of the run-time knobs the pipeline core consumes directly.
type Config struct {
	// Input/output.
	FilePath string `mapstructure:"file"`
	Format   string `mapstructure:"format"` // "human" or "json"
	PromFile string `mapstructure:"prom_file"`

	// Pipeline shape.
	Threads   int    `mapstructure:"threads"`
	StopAfter uint64 `mapstructure:"stop_after"`
	Bucket    string `mapstructure:"bucket"`

	// Hashing.
	HashKind string `mapstructure:"hash_kind"`
	HashSeed uint64 `mapstructure:"hash_seed"`

	// Stats.
	Stats                bool `mapstructure:"stats"`
	StatsIntervalSeconds int  `mapstructure:"stats_interval_seconds"`

	// Sketch selection.
	Sketch string `mapstructure:"sketch"` // "hll", "bloom", or "cms"

	// HLL.
	HLLPrecision uint8 `mapstructure:"hll_p"`

	// Bloom.
	BloomFP           float64 `mapstructure:"bloom_fp"`
	BloomCapacityHint uint64  `mapstructure:"bloom_capacity_hint"`
	BloomMemBytes     uint64  `mapstructure:"bloom_mem_bytes"`
	BloomDedup        bool    `mapstructure:"dedup"`

	// CMS.
	CMSEps   float64 `mapstructure:"cms_eps"`
	CMSDelta float64 `mapstructure:"cms_delta"`
	CMSTopK  int     `mapstructure:"cms_topk"`
}

// applyDefaults mirrors the option table's documented defaults.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("format", "human")
	v.SetDefault("threads", 0)
	v.SetDefault("stop_after", 0)
	v.SetDefault("bucket", "")
	v.SetDefault("hash_kind", "WY")
	v.SetDefault("hash_seed", 0)
	v.SetDefault("stats", false)
	v.SetDefault("stats_interval_seconds", 5)
	v.SetDefault("sketch", "hll")
	v.SetDefault("hll_p", 14)
	v.SetDefault("bloom_fp", 0.01)
	v.SetDefault("bloom_capacity_hint", 100000)
	v.SetDefault("bloom_mem_bytes", 0)
	v.SetDefault("dedup", false)
	v.SetDefault("cms_eps", 1e-3)
	v.SetDefault("cms_delta", 1e-4)
	v.SetDefault("cms_topk", 0)
}

// flagKeys maps each run-subcommand flag's kebab-case CLI spelling to
// the snake_case viper/mapstructure key it feeds, since pflag and this
// package's mapstructure tags disagree on separator.
var flagKeys = map[string]string{
	"file":                   "file",
	"format":                 "format",
	"prom-file":              "prom_file",
	"threads":                "threads",
	"stop-after":             "stop_after",
	"bucket":                 "bucket",
	"hash-kind":              "hash_kind",
	"hash-seed":              "hash_seed",
	"stats":                  "stats",
	"stats-interval-seconds": "stats_interval_seconds",
	"sketch":                 "sketch",
	"hll-p":                  "hll_p",
	"bloom-fp":               "bloom_fp",
	"bloom-capacity-hint":    "bloom_capacity_hint",
	"bloom-mem-bytes":        "bloom_mem_bytes",
	"dedup":                  "dedup",
	"cms-eps":                "cms_eps",
	"cms-delta":              "cms_delta",
	"cms-topk":               "cms_topk",
}

// Load builds a Config from flags already registered on fs, environment
// variables under the STREAMSKETCH_ prefix, and an optional config file
// (YAML) named by configPath, or discovered as ./streamsketch.yaml /
// $HOME/streamsketch.yaml when configPath is empty. A missing config
// file is not an error.
func Load(fs *pflag.FlagSet, configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("streamsketch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for flagName, key := range flagKeys {
		flag := fs.Lookup(flagName)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %q: %w", flagName, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
