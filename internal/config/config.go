// Package config loads the server configuration from YAML with sane
// defaults, so a bare binary runs without any file present.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen string `yaml:"listen"`

	Limits   LimitsSpec   `yaml:"limits"`
	Snapshot SnapshotSpec `yaml:"snapshot"`
	Index    IndexSpec    `yaml:"index"`
	Journal  JournalSpec  `yaml:"journal"`

	Seeds []SeedSpec `yaml:"seeds,omitempty"`
}

type LimitsSpec struct {
	MaxTreeBytes    int `yaml:"max_tree_bytes"`
	MaxSingleEvents int `yaml:"max_single_events"`
}

type SnapshotSpec struct {
	Dir   string        `yaml:"dir"`
	Every time.Duration `yaml:"every"`
}

type IndexSpec struct {
	Path string `yaml:"path"`
}

type JournalSpec struct {
	Dir string `yaml:"dir"`
}

// SeedSpec preloads one tree at startup, mainly for demos and tests. The
// tree is written inline as a YAML mapping; key order is not preserved.
type SeedSpec struct {
	Session   string         `yaml:"session"`
	Namespace string         `yaml:"namespace"`
	Tree      map[string]any `yaml:"tree"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Listen: ":8777",
		Limits: LimitsSpec{
			MaxTreeBytes:    1 << 20,
			MaxSingleEvents: 64,
		},
		Snapshot: SnapshotSpec{
			Dir:   "data/snapshots",
			Every: 60 * time.Second,
		},
		Index: IndexSpec{
			Path: "data/index.db",
		},
		Journal: JournalSpec{
			Dir: "data",
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = ":8777"
	}
	if c.Limits.MaxSingleEvents <= 0 {
		c.Limits.MaxSingleEvents = 64
	}
	if c.Snapshot.Every <= 0 {
		c.Snapshot.Every = 60 * time.Second
	}
	if strings.TrimSpace(c.Snapshot.Dir) == "" {
		c.Snapshot.Dir = "data/snapshots"
	}
	if strings.TrimSpace(c.Journal.Dir) == "" {
		c.Journal.Dir = "data"
	}
}

func (c Config) Validate() error {
	if c.Limits.MaxTreeBytes < 0 {
		return fmt.Errorf("limits.max_tree_bytes must be >= 0")
	}
	seen := map[string]bool{}
	for i, s := range c.Seeds {
		if strings.TrimSpace(s.Session) == "" || strings.TrimSpace(s.Namespace) == "" {
			return fmt.Errorf("seeds[%d] missing session/namespace", i)
		}
		key := s.Session + "/" + s.Namespace
		if seen[key] {
			return fmt.Errorf("seeds[%d] duplicate selector %s", i, key)
		}
		seen[key] = true
		if len(s.Tree) == 0 {
			return fmt.Errorf("seeds[%d] (%s) has an empty tree", i, key)
		}
	}
	return nil
}
