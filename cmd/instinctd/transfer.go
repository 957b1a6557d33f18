package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// exportCmd exports the store for sharing.
var exportCmd = &cobra.Command{
	Use:   "export <dir>",
	Short: "Export instinct records for sharing",
	Long: `Export writes non-archived instincts into a directory using the
per-record format. Only trigger, action, domain, confidence, source, and
evidence references leave the store; raw observation payloads never do.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	eng, err := setup()
	if err != nil {
		return err
	}
	defer eng.close()

	res, err := eng.store.Export(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("exported %d instinct(s), skipped %d archived\n", res.Exported, res.Skipped)
	return nil
}

// importCmd imports records exported from another store.
var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import instinct records exported from another store",
	Long: `Import feeds each record through the same create-or-merge path as
internally generated candidates, with source forced to "inherited".
Malformed files are skipped with a warning.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	eng, err := setup()
	if err != nil {
		return err
	}
	defer eng.close()

	res, err := eng.store.Import(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("imported %d, merged %d, skipped %d\n", res.Imported, res.Merged, res.Skipped)
	return nil
}
