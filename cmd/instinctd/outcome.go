package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/instinctd/internal/store"
)

var outcomeFailure bool

// outcomeCmd applies an application outcome to an instinct.
var outcomeCmd = &cobra.Command{
	Use:   "outcome <instinct-id>",
	Short: "Record an application outcome for an instinct",
	Long: `Apply a success or failure outcome to an instinct and report its
recomputed confidence. On version-conflict retry exhaustion the outcome is
not recorded and must be resubmitted.

Examples:
  instinctd outcome inst-0a1b2c3d4e5f
  instinctd outcome inst-0a1b2c3d4e5f --failure`,
	Args: cobra.ExactArgs(1),
	RunE: runOutcome,
}

func init() {
	outcomeCmd.Flags().BoolVar(&outcomeFailure, "failure", false, "record a failed or corrected application")
}

func runOutcome(cmd *cobra.Command, args []string) error {
	eng, err := setup()
	if err != nil {
		return err
	}
	defer eng.close()

	confidence, err := eng.store.ApplyOutcome(cmd.Context(), args[0], !outcomeFailure)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return fmt.Errorf("%w (outcome not recorded)", err)
		}
		return err
	}
	fmt.Printf("%s confidence: %.3f\n", args[0], confidence)
	return nil
}
