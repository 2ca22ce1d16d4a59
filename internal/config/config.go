// Package config defines the explicit configuration passed into the
// scoring pipeline. No globals: callers build a Config and hand it to
// the app layer.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full tool configuration. Zero-valued fields are filled
// with defaults by Load; construct via Default when not loading a file.
type Config struct {
	Registry RegistryConfig `yaml:"registry"`
	Advisory AdvisoryConfig `yaml:"advisory"`
	Score    ScoreConfig    `yaml:"score"`
	HTTP     HTTPConfig     `yaml:"http"`
	Rules    RulesConfig    `yaml:"rules"`

	// ScratchDir is the parent directory for tarball extraction scratch
	// space. Empty means the system temp directory.
	ScratchDir string `yaml:"scratch_dir"`
}

type RegistryConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type AdvisoryConfig struct {
	BaseURL string `yaml:"base_url"`
}

type ScoreConfig struct {
	Base float64 `yaml:"base"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

type HTTPConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxRetries     int `yaml:"max_retries"`
}

// Timeout returns the HTTP timeout as a duration.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// RulesConfig carries per-rule weights and thresholds. A zero weight
// means the rule's built-in default.
type RulesConfig struct {
	Scripts     RuleConfig    `yaml:"scripts"`
	Updates     UpdatesConfig `yaml:"updates"`
	Contents    RuleConfig    `yaml:"contents"`
	Advisories  RuleConfig    `yaml:"advisories"`
	License     RuleConfig    `yaml:"license"`
	Maintainers RuleConfig    `yaml:"maintainers"`
	Provenance  RuleConfig    `yaml:"provenance"`
	Namespace   ScopeConfig   `yaml:"namespace"`
}

type RuleConfig struct {
	Weight   float64 `yaml:"weight"`
	Disabled bool    `yaml:"disabled"`
}

type UpdatesConfig struct {
	Weight                float64 `yaml:"weight"`
	SizeIncreaseThreshold float64 `yaml:"size_increase_threshold"`
	MaxVersions           int     `yaml:"max_versions"`
	MajorJumpThreshold    uint64  `yaml:"major_jump_threshold"`
	Disabled              bool    `yaml:"disabled"`
}

type ScopeConfig struct {
	Weight      float64  `yaml:"weight"`
	Disabled    bool     `yaml:"disabled"`
	RiskyScopes []string `yaml:"risky_scopes"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{BaseURL: "https://registry.npmjs.org"},
		Advisory: AdvisoryConfig{BaseURL: "https://api.osv.dev"},
		Score:    ScoreConfig{Base: 100, Min: 0, Max: 100},
		HTTP:     HTTPConfig{TimeoutSeconds: 120, MaxRetries: 3},
	}
}

// Load reads a YAML configuration file. Fields absent from the file
// keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Score.Max <= cfg.Score.Min {
		return nil, fmt.Errorf("config %s: score max %v must exceed min %v", path, cfg.Score.Max, cfg.Score.Min)
	}
	return cfg, nil
}
