// Package main implements the instinctd CLI: per-session candidate
// extraction, outcome application, and on-demand evolution over a local
// instinct store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/instinctd/internal/config"
	"github.com/fyrsmithlabs/instinctd/internal/detector"
	"github.com/fyrsmithlabs/instinctd/internal/evolution"
	"github.com/fyrsmithlabs/instinctd/internal/logging"
	"github.com/fyrsmithlabs/instinctd/internal/store"
)

var (
	// configPath is the YAML config file, empty for the default path.
	configPath string
	// storeDir overrides the configured store directory.
	storeDir string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "instinctd",
	Short: "Instinct lifecycle engine CLI",
	Long: `instinctd turns per-session behavioral observations into atomic,
confidence-scored instinct records and periodically clusters mature
instincts into higher-order artifacts (skills, commands, agents).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/instinctd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store", "", "instinct store directory (overrides config)")
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(outcomeCmd)
	rootCmd.AddCommand(evolveCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(contradictionsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}

// engine bundles the wired components a command needs.
type engine struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	detector *detector.Detector
}

// setup loads config and opens the store handle passed through every
// operation.
func setup() (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if storeDir != "" {
		cfg.Store.Dir = storeDir
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(store.Config{
		Dir:                     cfg.Store.Dir,
		MergeSimilarity:         cfg.Store.MergeSimilarity,
		ContradictionSimilarity: cfg.Store.ContradictionSimilarity,
		RetryLimit:              cfg.Store.RetryLimit,
		DecayWindow:             cfg.Store.DecayWindow,
		DecayFactor:             cfg.Store.DecayFactor,
	}, nil, logger.Named("store"))
	if err != nil {
		return nil, err
	}

	det := detector.New(detector.Config{
		CorrectionDiffThreshold: cfg.Detector.CorrectionDiffThreshold,
		MinSequenceLen:          cfg.Detector.MinSequenceLen,
		MaxSequenceLen:          cfg.Detector.MaxSequenceLen,
		MinRepeats:              cfg.Detector.MinRepeats,
	}, nil, logger.Named("detector"))

	return &engine{cfg: cfg, logger: logger, store: st, detector: det}, nil
}

// clusterer wires the evolution clusterer over the open store.
func (e *engine) clusterer() (*evolution.Clusterer, error) {
	return evolution.New(evolution.Config{
		MinClusterSize:    e.cfg.Evolution.MinClusterSize,
		ConfidenceFloor:   e.cfg.Evolution.ConfidenceFloor,
		ActionSimilarity:  e.cfg.Evolution.ActionSimilarity,
		TriggerSimilarity: e.cfg.Evolution.TriggerSimilarity,
		ThemeSimilarity:   e.cfg.Evolution.ThemeSimilarity,
	}, e.store, nil, e.logger.Named("evolution"))
}

func (e *engine) close() {
	_ = logging.Sync(e.logger)
}
