package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"newsdedup/decisionlog"
	"newsdedup/types"
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Show the most recent deduplication decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DecisionDB == "" {
			return fmt.Errorf("DECISION_DB is not set")
		}
		rec, err := decisionlog.Open(cfg.DecisionDB, logger)
		if err != nil {
			return err
		}
		defer rec.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		rows, err := rec.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, r := range rows {
			verdict := green(r.Verdict)
			if r.Verdict != types.VerdictNovel {
				verdict = yellow(r.Verdict)
			}
			detail := ""
			if r.Similarity != nil {
				detail = fmt.Sprintf(" sim=%.3f", *r.Similarity)
			}
			if r.MatchID != nil {
				detail += fmt.Sprintf(" match=#%d", *r.MatchID)
			}
			if r.AssignedID != nil {
				detail += fmt.Sprintf(" id=#%d", *r.AssignedID)
			}
			fmt.Printf("%s  %-22s %s%s\n", gray(r.DecidedAt.Format("2006-01-02 15:04:05")), verdict, r.Title, gray(detail))
		}
		return nil
	},
}

func init() {
	decisionsCmd.Flags().IntP("limit", "n", decisionlog.DefaultRecentLimit, "Number of decisions to show")
	rootCmd.AddCommand(decisionsCmd)
}
