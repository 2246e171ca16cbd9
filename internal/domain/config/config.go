// Package config provides benchmark configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/whhaicheng/benchforge/internal/domain/system"
)

var (
	// ErrInvalidConfiguration is returned when configuration is invalid.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrSystemNotFound is returned when a --systems filter names an
	// unknown system.
	ErrSystemNotFound = errors.New("system not found in configuration")
)

// BenchmarkConfig controls workload execution.
type BenchmarkConfig struct {
	// Queries maps query name to SQL text. Supplemented from QueryDir.
	Queries map[string]string `yaml:"queries"`

	// QueryDir holds one .sql file per query, named by query.
	QueryDir string `yaml:"query_dir"`

	// RunsPerQuery is how many timed executions each query gets.
	RunsPerQuery int `yaml:"runs_per_query"`

	// WarmupRuns per query, always executed sequentially before any
	// measured stream starts.
	WarmupRuns int `yaml:"warmup_runs"`

	// NumStreams is the number of concurrent execution streams per
	// system; 1 means strictly sequential.
	NumStreams int `yaml:"num_streams"`

	// Randomize shuffles the query plan with RandomSeed.
	Randomize  bool  `yaml:"randomize"`
	RandomSeed int64 `yaml:"random_seed"`

	// QueryTimeoutS bounds each single query execution, in seconds.
	QueryTimeoutS int `yaml:"query_timeout_s"`

	// ScaleFactor for TPC-H style data generation.
	ScaleFactor int `yaml:"scale_factor"`
}

// Validate validates the benchmark configuration.
func (c *BenchmarkConfig) Validate() error {
	if c.RunsPerQuery < 1 {
		return fmt.Errorf("%w: runs_per_query must be at least 1", ErrInvalidConfiguration)
	}
	if c.WarmupRuns < 0 {
		return fmt.Errorf("%w: warmup_runs cannot be negative", ErrInvalidConfiguration)
	}
	if c.NumStreams < 1 {
		return fmt.Errorf("%w: num_streams must be at least 1", ErrInvalidConfiguration)
	}
	if c.QueryTimeoutS < 0 {
		return fmt.Errorf("%w: query_timeout_s cannot be negative", ErrInvalidConfiguration)
	}
	if len(c.Queries) == 0 && c.QueryDir == "" {
		return fmt.Errorf("%w: either queries or query_dir is required", ErrInvalidConfiguration)
	}
	return nil
}

// TerraformConfig locates the infrastructure definition.
type TerraformConfig struct {
	// Dir is the directory containing the Terraform root module.
	Dir string `yaml:"dir"`

	// Vars are passed as -var arguments on apply.
	Vars map[string]string `yaml:"vars"`
}

// Config represents the complete benchmark run configuration.
type Config struct {
	// Version is the configuration version.
	Version int `yaml:"version"`

	// ResultsDir receives all persisted artifacts (JSON, CSV, history db).
	ResultsDir string `yaml:"results_dir"`

	// LogDir receives per-task log files, one subdirectory per phase.
	LogDir string `yaml:"log_dir"`

	// Parallel enables concurrent per-system phase execution. Even when
	// set, a single-system configuration runs sequentially.
	Parallel bool `yaml:"parallel"`

	// MaxWorkers bounds the parallel task pool; 0 = one per system.
	MaxWorkers int `yaml:"max_workers"`

	Benchmark BenchmarkConfig       `yaml:"benchmark"`
	Systems   []system.SystemConfig `yaml:"systems"`
	Terraform TerraformConfig       `yaml:"terraform"`
}

// Validate validates the complete configuration.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("%w: unsupported configuration version: %d", ErrInvalidConfiguration, c.Version)
	}
	if c.ResultsDir == "" {
		return fmt.Errorf("%w: results_dir is required", ErrInvalidConfiguration)
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("%w: max_workers cannot be negative", ErrInvalidConfiguration)
	}
	if len(c.Systems) == 0 {
		return fmt.Errorf("%w: at least one system is required", ErrInvalidConfiguration)
	}

	seen := make(map[string]bool, len(c.Systems))
	for i := range c.Systems {
		sc := &c.Systems[i]
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("system %q: %w", sc.Name, err)
		}
		if seen[sc.Name] {
			return fmt.Errorf("%w: duplicate system name %q", ErrInvalidConfiguration, sc.Name)
		}
		seen[sc.Name] = true
	}

	if err := c.Benchmark.Validate(); err != nil {
		return fmt.Errorf("benchmark: %w", err)
	}
	return nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Version:    1,
		ResultsDir: "./results",
		LogDir:     "./results/logs",
		Parallel:   true,
		Benchmark: BenchmarkConfig{
			RunsPerQuery:  3,
			WarmupRuns:    1,
			NumStreams:    1,
			QueryTimeoutS: 3600,
			ScaleFactor:   1,
		},
	}
}

// Load reads, parses and validates a YAML configuration file. Query
// files referenced by query_dir are merged into Benchmark.Queries.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Benchmark.QueryDir != "" {
		queries, err := loadQueryDir(cfg.Benchmark.QueryDir)
		if err != nil {
			return nil, err
		}
		if cfg.Benchmark.Queries == nil {
			cfg.Benchmark.Queries = map[string]string{}
		}
		for name, sql := range queries {
			if _, ok := cfg.Benchmark.Queries[name]; !ok {
				cfg.Benchmark.Queries[name] = sql
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadQueryDir reads every .sql file in dir as a named query.
func loadQueryDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read query dir: %w", err)
	}

	queries := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read query file %s: %w", entry.Name(), err)
		}
		name := entry.Name()[:len(entry.Name())-len(".sql")]
		queries[name] = string(data)
	}
	return queries, nil
}

// FilterSystems returns the configured systems matching the given names,
// or all systems when names is empty.
func (c *Config) FilterSystems(names []string) ([]system.SystemConfig, error) {
	if len(names) == 0 {
		return c.Systems, nil
	}

	byName := make(map[string]system.SystemConfig, len(c.Systems))
	for _, sc := range c.Systems {
		byName[sc.Name] = sc
	}

	var out []system.SystemConfig
	for _, name := range names {
		sc, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrSystemNotFound, name)
		}
		out = append(out, sc)
	}
	return out, nil
}
