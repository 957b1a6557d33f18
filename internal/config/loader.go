package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load reads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (STORE_DIR, EVOLUTION_MIN_CLUSTER_SIZE, ...)
//  2. YAML config file (~/.config/instinctd/config.yaml by default)
//  3. Hardcoded defaults
//
// Environment variables map to YAML fields by splitting on the first
// underscore: STORE_MERGE_SIMILARITY -> store.merge_similarity.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "instinctd", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables: SECTION_FIELD_NAME splits on
	// the first underscore into section.field_name.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Store.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.Dir = filepath.Join(home, ".config", "instinctd", "instincts")
		}
	}
	if cfg.Store.MergeSimilarity == 0 {
		cfg.Store.MergeSimilarity = 0.85
	}
	if cfg.Store.ContradictionSimilarity == 0 {
		cfg.Store.ContradictionSimilarity = 0.85
	}
	if cfg.Store.RetryLimit == 0 {
		cfg.Store.RetryLimit = 5
	}
	if cfg.Store.DecayWindow == 0 {
		cfg.Store.DecayWindow = 720 * time.Hour
	}
	if cfg.Store.DecayFactor == 0 {
		cfg.Store.DecayFactor = 0.25
	}

	if cfg.Detector.CorrectionDiffThreshold == 0 {
		cfg.Detector.CorrectionDiffThreshold = 0.5
	}
	if cfg.Detector.MinSequenceLen == 0 {
		cfg.Detector.MinSequenceLen = 2
	}
	if cfg.Detector.MaxSequenceLen == 0 {
		cfg.Detector.MaxSequenceLen = 4
	}
	if cfg.Detector.MinRepeats == 0 {
		cfg.Detector.MinRepeats = 2
	}

	if cfg.Evolution.MinClusterSize == 0 {
		cfg.Evolution.MinClusterSize = 3
	}
	if cfg.Evolution.ConfidenceFloor == 0 {
		cfg.Evolution.ConfidenceFloor = 0.75
	}
	if cfg.Evolution.ActionSimilarity == 0 {
		cfg.Evolution.ActionSimilarity = 0.75
	}
	if cfg.Evolution.TriggerSimilarity == 0 {
		cfg.Evolution.TriggerSimilarity = 0.85
	}
	if cfg.Evolution.ThemeSimilarity == 0 {
		cfg.Evolution.ThemeSimilarity = 0.6
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
