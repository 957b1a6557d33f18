package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// decayCmd runs the staleness decay pass.
var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Pull stale instincts' confidence toward the uninformative prior",
	Long: `Decay examines active instincts that have not been applied within
the configured staleness window and pulls their confidence a fixed
fraction toward 0.5. Counters are untouched and re-running within the
same window is a no-op.`,
	RunE: runDecay,
}

func runDecay(cmd *cobra.Command, args []string) error {
	eng, err := setup()
	if err != nil {
		return err
	}
	defer eng.close()

	decayed, err := eng.store.DecayPass(cmd.Context(), time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("decayed %d instinct(s)\n", len(decayed))
	return nil
}

// contradictionsCmd runs the contradiction sweep.
var contradictionsCmd = &cobra.Command{
	Use:   "contradictions",
	Short: "Detect mutually contradicting active instincts",
	Long: `Contradictions scans active same-domain instincts for near-identical
triggers with mutually exclusive actions and marks both members of each
pair as contradicted. Detection only; resolution is up to a human or
later evidence.`,
	RunE: runContradictions,
}

func runContradictions(cmd *cobra.Command, args []string) error {
	eng, err := setup()
	if err != nil {
		return err
	}
	defer eng.close()

	pairs, err := eng.store.DetectContradictions(cmd.Context())
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		fmt.Printf("contradiction: %s <-> %s\n", pair.A, pair.B)
	}
	fmt.Printf("%d pair(s)\n", len(pairs))
	return nil
}
