package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"newsdedup/common"
	"newsdedup/engine"
	"newsdedup/orchestrator"
	"newsdedup/types"
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Deduplicate a JSON file of articles",
	Long: `Read a JSON array of articles (or an {"articles": [...]} batch) from a file,
or from stdin when the file is "-", deduplicate it as one batch and print a summary.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		in := os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		eng, err := engine.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		res, err := orchestrator.RunFile(ctx, eng.Dedup, in, logger)
		if err != nil {
			return err
		}
		printSummary(res)

		if upload, _ := cmd.Flags().GetBool("upload"); upload {
			if !cfg.MirrorEnabled() {
				return fmt.Errorf("--upload needs S3_BUCKET")
			}
			s3, err := common.NewS3(ctx, common.S3Config{Region: cfg.S3Region, Profile: cfg.S3Profile, UsePathStyle: cfg.S3UsePathStyle})
			if err != nil {
				return err
			}
			n := orchestrator.UploadNovel(ctx, s3, cfg.S3Bucket, cfg.S3Prefix, res, logger)
			fmt.Printf("Uploaded %d article(s) to s3://%s/%s\n", n, cfg.S3Bucket, cfg.S3Prefix)
		}
		return nil
	},
}

func printSummary(res types.BatchResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n", cyan("=== Deduplication Summary ==="))
	for i, d := range res.Decisions {
		mark := green("✓ novel")
		if d.Verdict.IsDuplicate() {
			mark = yellow("✗ " + string(d.Verdict))
		}
		extra := ""
		if d.Similarity != nil {
			extra = fmt.Sprintf(" (%.2f%% similar)", *d.Similarity*100)
		}
		if d.MatchID != nil {
			extra += fmt.Sprintf(" → #%d", *d.MatchID)
		}
		fmt.Printf("  [%d/%d] %s %s%s\n", i+1, len(res.Decisions), mark, d.Article.Title, gray(extra))
	}
	fmt.Println()
	fmt.Printf("Total Articles:     %d\n", len(res.Decisions))
	fmt.Printf("New Articles:       %s\n", green(len(res.Novel)))
	fmt.Printf("Duplicate Articles: %s\n", yellow(res.DuplicateCount()))
	fmt.Printf("Batch:              %s\n", gray(res.BatchID))
}

func init() {
	runCmd.Flags().Bool("upload", false, "Upload novel articles to S3_BUCKET under S3_PREFIX/articles/")
	rootCmd.AddCommand(runCmd)
}
