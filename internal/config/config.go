// Package config provides configuration loading for instinctd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the instinct engine.
type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Detector  DetectorConfig  `koanf:"detector"`
	Evolution EvolutionConfig `koanf:"evolution"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// StoreConfig configures the instinct store.
type StoreConfig struct {
	// Dir is the directory holding one record file per instinct.
	Dir string `koanf:"dir"`

	// MergeSimilarity is the trigger similarity treated as "same instinct".
	MergeSimilarity float64 `koanf:"merge_similarity"`

	// ContradictionSimilarity is the trigger similarity required before
	// opposing instincts are marked contradicted.
	ContradictionSimilarity float64 `koanf:"contradiction_similarity"`

	// RetryLimit bounds compare-and-swap commit attempts.
	RetryLimit int `koanf:"retry_limit"`

	// DecayWindow is the staleness window for the confidence decay pass.
	DecayWindow time.Duration `koanf:"decay_window"`

	// DecayFactor is the fraction pulled toward 0.5 per elapsed window.
	DecayFactor float64 `koanf:"decay_factor"`
}

// DetectorConfig configures the pattern detector.
type DetectorConfig struct {
	// CorrectionDiffThreshold is the similarity below which a correction
	// counts as a behavior change rather than a rephrasing.
	CorrectionDiffThreshold float64 `koanf:"correction_diff_threshold"`

	// MinSequenceLen / MaxSequenceLen bound repeated-workflow search.
	MinSequenceLen int `koanf:"min_sequence_len"`
	MaxSequenceLen int `koanf:"max_sequence_len"`

	// MinRepeats is how often a sub-sequence must recur to qualify.
	MinRepeats int `koanf:"min_repeats"`
}

// EvolutionConfig configures the evolution clusterer.
type EvolutionConfig struct {
	MinClusterSize    int     `koanf:"min_cluster_size"`
	ConfidenceFloor   float64 `koanf:"confidence_floor"`
	ActionSimilarity  float64 `koanf:"action_similarity"`
	TriggerSimilarity float64 `koanf:"trigger_similarity"`
	ThemeSimilarity   float64 `koanf:"theme_similarity"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Store.Dir == "" {
		return fmt.Errorf("store.dir is required")
	}
	for name, v := range map[string]float64{
		"store.merge_similarity":             c.Store.MergeSimilarity,
		"store.contradiction_similarity":     c.Store.ContradictionSimilarity,
		"store.decay_factor":                 c.Store.DecayFactor,
		"detector.correction_diff_threshold": c.Detector.CorrectionDiffThreshold,
		"evolution.confidence_floor":         c.Evolution.ConfidenceFloor,
		"evolution.action_similarity":        c.Evolution.ActionSimilarity,
		"evolution.trigger_similarity":       c.Evolution.TriggerSimilarity,
		"evolution.theme_similarity":         c.Evolution.ThemeSimilarity,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0.0 and 1.0, got %v", name, v)
		}
	}
	if c.Store.RetryLimit < 1 {
		return fmt.Errorf("store.retry_limit must be >= 1")
	}
	if c.Store.DecayWindow <= 0 {
		return fmt.Errorf("store.decay_window must be positive")
	}
	if c.Evolution.MinClusterSize < 2 {
		return fmt.Errorf("evolution.min_cluster_size must be >= 2")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
