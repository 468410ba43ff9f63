// Package main provides the annot CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

// humanOutput controls whether to use human-readable output
var humanOutput bool

// verbose turns on development logging to stderr
var verbose bool

// transcriptID selects the transcript commands operate on
var transcriptID string

func main() {
	if err := rootCmd.Execute(); err != nil {
		// SilenceErrors is set, so cobra errors (missing args, bad flags)
		// would otherwise be lost.
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "annot",
	Short: "Agent-first transcript annotation CLI",
	Long: `annot manages coded annotations of classroom transcripts.

Core features:
  - Codebook-driven annotation grids that survive codebook edits
  - Learning-goal notes with stable ids across row edits
  - Import of other raters' workbooks and model annotations
  - Inter-rater reliability (agreement, Cohen's kappa, Krippendorff's alpha)
  - Workbook export and sharing through an S3 bucket

State lives in .annot/ (SQLite by default; memory and Redis also supported).
All commands output JSON by default for AI agent integration.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log storage and provider activity to stderr")
	rootCmd.PersistentFlags().StringVarP(&transcriptID, "transcript", "t", "default", "Transcript id")
	rootCmd.Version = Version
}
