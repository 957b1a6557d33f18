package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/instinctd/internal/observation"
	"github.com/fyrsmithlabs/instinctd/internal/store"
)

// extractCmd runs the ingest→detect→store pipeline for one session.
var extractCmd = &cobra.Command{
	Use:   "extract [session-file]",
	Short: "Extract candidate instincts from a session observation log",
	Long: `Extract reads a JSONL observation log for one completed session,
runs the three detection passes, and creates or merges the resulting
candidates in the instinct store.

Examples:
  # Extract from a session log
  instinctd extract session.jsonl

  # Extract from stdin
  claude-session-dump | instinctd extract -`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	eng, err := setup()
	if err != nil {
		return err
	}
	defer eng.close()

	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening session file: %w", err)
		}
		defer f.Close()
		in = f
	}

	obs, err := observation.ReadAll(observation.NewReader(in), func(err error) {
		eng.logger.Warn("skipping malformed observation", zap.Error(err))
	})
	if err != nil {
		return err
	}

	candidates, err := eng.detector.Detect(cmd.Context(), obs)
	if err != nil {
		return err
	}

	created, merged, rejected := 0, 0, 0
	for i := range candidates {
		_, isNew, err := eng.store.CreateOrMerge(cmd.Context(), &candidates[i])
		if err != nil {
			if errors.Is(err, store.ErrInvalidCandidate) {
				eng.logger.Warn("rejecting invalid candidate", zap.Error(err))
				rejected++
				continue
			}
			return err
		}
		if isNew {
			created++
		} else {
			merged++
		}
	}

	fmt.Printf("observations: %d, candidates: %d, created: %d, merged: %d, rejected: %d\n",
		len(obs), len(candidates), created, merged, rejected)
	return nil
}
