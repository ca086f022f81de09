// Package config loads the pipeline configuration: a YAML file with
// environment variable overrides for the knobs that change per run.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/statmirror/statmirror/internal/crawler"
	"github.com/statmirror/statmirror/internal/logging"
	"github.com/statmirror/statmirror/internal/metrics"
	"github.com/statmirror/statmirror/internal/store"
)

// Config is the full pipeline configuration.
type Config struct {
	// Source names the upstream provider and prefixes every object
	// store key.
	Source  string `yaml:"source"`
	APIBase string `yaml:"api_base"`

	Logging logging.Config `yaml:"logging"`
	Metrics metrics.Config `yaml:"metrics"`
	Storage store.Config   `yaml:"storage"`
	Crawler crawler.Config `yaml:"crawler"`
	Ingest  IngestConfig   `yaml:"ingest"`
}

// IngestConfig bounds a batch run.
type IngestConfig struct {
	Workers                  int     `yaml:"workers"`
	MaxDownloadMB            int64   `yaml:"max_download_mb"`
	MaxUncompressedMB        int64   `yaml:"max_uncompressed_mb"`
	MaxTotalGB               float64 `yaml:"max_total_gb"`
	ConversionTimeoutSeconds int     `yaml:"conversion_timeout_seconds"`
	// Limit caps how many new datasets one run takes on. Negative
	// means unlimited; zero means none.
	Limit      int    `yaml:"limit"`
	SkipHidden bool   `yaml:"skip_hidden"`
	DataDir    string `yaml:"data_dir"`
	TempDir    string `yaml:"temp_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Source:  "statscan",
		APIBase: "", // empty selects the production endpoint
		Logging: logging.Config{Format: "text", Level: "info"},
		Metrics: metrics.Config{Enabled: false, Address: ":9090"},
		Storage: store.Config{Backend: "local", LocalPath: "./lake"},
		Ingest: IngestConfig{
			Workers:                  1,
			MaxDownloadMB:            100,
			MaxUncompressedMB:        200,
			MaxTotalGB:               10,
			ConversionTimeoutSeconds: 600,
			Limit:                    -1,
			SkipHidden:               true,
			DataDir:                  "./data",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Source == "" {
		return Config{}, fmt.Errorf("source must not be empty")
	}
	if cfg.Ingest.Workers < 1 {
		cfg.Ingest.Workers = 1
	}
	return cfg, nil
}

// MustLoad is Load for main: configuration errors are fatal.
func MustLoad(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	return cfg
}

// applyEnv layers per-run overrides on top of the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SOURCE"); v != "" {
		cfg.Source = v
	}
	if v := os.Getenv("API_BASE"); v != "" {
		cfg.APIBase = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("STORAGE_LOCAL_PATH"); v != "" {
		cfg.Storage.LocalPath = v
	}
	if v, ok := lookupInt("LIMIT"); ok {
		cfg.Ingest.Limit = v
	}
	if v, ok := lookupInt("WORKERS"); ok {
		cfg.Ingest.Workers = v
	}
	if v := os.Getenv("SKIP_HIDDEN"); v != "" {
		cfg.Ingest.SkipHidden = v != "false" && v != "0"
	}
	if v, ok := lookupFloat("MAX_TOTAL_GB"); ok {
		cfg.Ingest.MaxTotalGB = v
	}
}

func lookupInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
