package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file written by `codeatlas init`.
const DefaultFileName = ".codeatlas.yml"

// ParsingConfig controls file discovery and front-end behavior.
type ParsingConfig struct {
	SourceRoots       []string `yaml:"source_roots"`
	IncludePatterns   []string `yaml:"include_patterns"`
	ExcludePatterns   []string `yaml:"exclude_patterns"`
	MaxFileSize       int64    `yaml:"max_file_size"`
	FollowSymlinks    bool     `yaml:"follow_symlinks"`
	IncludeDocstrings bool     `yaml:"include_docstrings"`
	Workers           int      `yaml:"workers"`
	// ExternalGranularity selects how unresolved references are interned:
	// "name" (one External per distinct name) or "package" (one per
	// top-level package).
	ExternalGranularity string `yaml:"external_granularity"`
}

// StoreConfig controls the embedded graph store.
type StoreConfig struct {
	Path         string `yaml:"path"`
	BatchSize    int    `yaml:"batch_size"`
	QueryTimeout int    `yaml:"query_timeout_seconds"`
}

// Config is the root configuration loaded from .codeatlas.yml.
type Config struct {
	ProjectRoot string        `yaml:"project_root"`
	Parsing     ParsingConfig `yaml:"parsing"`
	Store       StoreConfig   `yaml:"store"`
}

// Default returns the configuration used when no file is present.
func Default(projectRoot string) *Config {
	return &Config{
		ProjectRoot: projectRoot,
		Parsing: ParsingConfig{
			SourceRoots: []string{".", "src", "src/app"},
			ExcludePatterns: []string{
				"node_modules", ".git", "__pycache__", "*.pyc",
				"dist", "build", "coverage", ".venv", "venv",
			},
			MaxFileSize:         1 << 20, // 1 MiB
			FollowSymlinks:      false,
			IncludeDocstrings:   true,
			Workers:             runtime.NumCPU(),
			ExternalGranularity: "name",
		},
		Store: StoreConfig{
			Path:         filepath.Join(projectRoot, ".codeatlas", "graph.db"),
			BatchSize:    1000,
			QueryTimeout: 30,
		},
	}
}

// Load reads the config file under projectRoot, falling back to defaults
// when the file does not exist. Partial files override only the fields
// they set.
func Load(projectRoot string) (*Config, error) {
	cfg := Default(projectRoot)
	path := filepath.Join(projectRoot, DefaultFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults(projectRoot)
	return cfg, nil
}

// Save writes the config file under projectRoot.
func (c *Config) Save(projectRoot string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(projectRoot, DefaultFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults(projectRoot string) {
	d := Default(projectRoot)
	if c.ProjectRoot == "" {
		c.ProjectRoot = projectRoot
	}
	if len(c.Parsing.SourceRoots) == 0 {
		c.Parsing.SourceRoots = d.Parsing.SourceRoots
	}
	if c.Parsing.MaxFileSize == 0 {
		c.Parsing.MaxFileSize = d.Parsing.MaxFileSize
	}
	if c.Parsing.Workers == 0 {
		c.Parsing.Workers = d.Parsing.Workers
	}
	if c.Parsing.ExternalGranularity == "" {
		c.Parsing.ExternalGranularity = "name"
	}
	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Store.BatchSize == 0 {
		c.Store.BatchSize = d.Store.BatchSize
	}
	if c.Store.QueryTimeout == 0 {
		c.Store.QueryTimeout = d.Store.QueryTimeout
	}
}

// JournalPath returns the content-hash journal location: a sibling file of
// the store database.
func (c *Config) JournalPath() string {
	return filepath.Join(filepath.Dir(c.Store.Path), "hashes.json")
}
