package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/matsen/annot/internal/irr"
	"github.com/matsen/annot/internal/session"
)

var irrOnly []string

func init() {
	irrCmd.Flags().StringSliceVar(&irrOnly, "only", nil, "Compare only against these annotator ids")
	rootCmd.AddCommand(irrCmd)
}

var irrCmd = &cobra.Command{
	Use:   "irr <category>",
	Short: "Compute inter-rater reliability for one category",
	Long: `Compute inter-rater reliability for one category.

Compares the active annotations with every imported annotator, per
feature. Agreement counts each (annotator, line) pair where both sides
have a value; "none" features are excluded. Results are sorted by
agreement, highest first.

Examples:
  annot irr Discourse -t lesson1 --human
  annot irr Discourse --only alice,bob`,
	Args: cobra.ExactArgs(1),
	RunE: runIRR,
}

func runIRR(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	res := a.mustDo(ctx, sess, session.ComputeIRR{Category: args[0], Only: irrOnly})

	stats := res.Stats
	if stats == nil {
		stats = []irr.Stat{}
	}
	if !humanOutput {
		return outputJSON(stats)
	}
	if len(stats) == 0 {
		outputHuman("No comparable annotations for %s\n", args[0])
		return nil
	}
	outputHuman("%-24s %9s %6s %6s %7s %7s\n", "Feature", "Agreement", "Agree", "Total", "Kappa", "Alpha")
	for _, s := range stats {
		outputHuman("%-24s %9s %6d %6d %7s %7s\n",
			truncateString(s.Feature, 24), formatPercent(s.Agreement), s.Agreements, s.TotalComparisons,
			formatOptional(s.CohensKappa), formatOptional(s.KrippendorffsAlpha))
	}
	return nil
}
