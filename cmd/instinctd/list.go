package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/instinctd/internal/instinct"
)

var (
	listDomain        string
	listMinConfidence float64
)

// listCmd lists instincts by domain.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List instincts by domain",
	Long: `List non-archived instincts in a domain at or above a minimum
confidence, highest confidence first. Contradicted instincts are included
with their status visible.

Examples:
  instinctd list --domain testing
  instinctd list --domain security --min-confidence 0.75`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listDomain, "domain", "", "domain to list (security, testing, workflow, architecture, style)")
	listCmd.Flags().Float64Var(&listMinConfidence, "min-confidence", 0, "minimum confidence")
	_ = listCmd.MarkFlagRequired("domain")
}

func runList(cmd *cobra.Command, args []string) error {
	eng, err := setup()
	if err != nil {
		return err
	}
	defer eng.close()

	records, err := eng.store.ListByDomain(cmd.Context(), instinct.Domain(listDomain), listMinConfidence)
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Printf("%s  %.3f  %-12s  %s → %s\n",
			rec.ID, rec.Confidence, rec.Status, rec.Trigger, rec.Action)
	}
	fmt.Printf("%d instinct(s)\n", len(records))
	return nil
}
