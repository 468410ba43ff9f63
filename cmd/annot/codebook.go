package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/annot/internal/annotation"
	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/session"
)

func init() {
	codebookCmd.AddCommand(codebookLoadCmd)
	codebookCmd.AddCommand(codebookShowCmd)
	rootCmd.AddCommand(codebookCmd)
	rootCmd.AddCommand(reconcileCmd)
}

var codebookCmd = &cobra.Command{
	Use:   "codebook",
	Short: "Manage the repository codebook",
}

var codebookLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load the codebook from JSON or xlsx",
	Long: `Load the codebook from JSON or xlsx.

The codebook is shared by every transcript in the repository. The selected
transcript is reconciled immediately; the others are reconciled the next
time they are opened.

Examples:
  annot codebook load codebook.json
  annot codebook load codebook.xlsx -t lesson1 --human`,
	Args: cobra.ExactArgs(1),
	RunE: runCodebookLoad,
}

// CodebookLoadResult is the response for codebook load.
type CodebookLoadResult struct {
	Categories []string           `json:"categories"`
	Report     *annotation.Report `json:"report,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

func runCodebookLoad(cmd *cobra.Command, args []string) error {
	cb, err := codebook.Load(args[0])
	if err != nil {
		exitWithError(ExitDataError, "%v", err)
	}

	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, warnings := a.mustOpenSession(ctx)
	res := a.mustDo(ctx, sess, session.SetCodebook{Codebook: cb})

	if humanOutput {
		outputHuman("Loaded codebook with %d categories: %s\n", len(cb.Categories), strings.Join(cb.Categories, ", "))
		printReport(res.Report)
		return nil
	}
	return outputJSON(CodebookLoadResult{
		Categories: cb.Categories,
		Report:     res.Report,
		Warnings:   append(warnings, warningStrings(res.Warnings)...),
	})
}

var codebookShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the loaded codebook",
	Args:  cobra.NoArgs,
	RunE:  runCodebookShow,
}

func runCodebookShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	cb, err := a.store.LoadCodebook(ctx)
	if err != nil {
		exitWithError(ExitDataError, "loading codebook: %v", err)
	}
	if cb == nil {
		exitWithError(ExitConfigError, "%v\n\nRun 'annot codebook load <file>' first.", session.ErrNoCodebook)
	}

	if !humanOutput {
		return outputJSON(cb)
	}
	for _, cat := range cb.Categories {
		outputHuman("%s\n", cat)
		for _, f := range cb.Features[cat] {
			outputHuman("  %-20s %s\n", f.Code, truncateString(f.Definition, UtteranceMaxLen))
		}
	}
	return nil
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the selected transcript's annotations with the codebook",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	res := a.mustDo(ctx, sess, session.Reconcile{})

	if humanOutput {
		printReport(res.Report)
		return nil
	}
	return outputJSON(res)
}

// printReport describes a reconcile in human mode.
func printReport(r *annotation.Report) {
	if r == nil || !r.Changed {
		outputHuman("Annotations already match the codebook\n")
		return
	}
	if len(r.Regenerated) > 0 {
		outputHuman("Regenerated: %s\n", strings.Join(r.Regenerated, ", "))
	}
	if len(r.Dropped) > 0 {
		outputHuman("Dropped: %s\n", strings.Join(r.Dropped, ", "))
	}
	if len(r.Regenerated) == 0 && len(r.Dropped) == 0 {
		outputHuman("Annotations updated\n")
	}
}
