package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"newsdedup/engine"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the size of the persisted deduplication state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := engine.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		stats := eng.Dedup.Stats()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan("=== Deduplication State ==="))
		fmt.Printf("  Entries:           %d\n", stats.Entries)
		fmt.Printf("  Indexed vectors:   %d\n", stats.Indexed)
		fmt.Printf("  Next id:           %d\n", stats.NextID)
		fmt.Printf("  Exact keys:        %d\n", stats.ExactKeys)
		fmt.Printf("  Signature buckets: %d\n", stats.SignatureBuckets)
		fmt.Printf("  Embedding model:   %s\n", stats.EmbedModel)
		fmt.Printf("  Arbitration:       %v\n", stats.ArbitrationEnabled)

		if eng.Decisions != nil {
			counts, err := eng.Decisions.CountByVerdict(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("\n%s\n", yellow("Recorded verdicts:"))
			for v, n := range counts {
				fmt.Printf("  %-22s %d\n", v, n)
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "Print stats as JSON")
	rootCmd.AddCommand(statsCmd)
}
