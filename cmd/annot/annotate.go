package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matsen/annot/internal/session"
	"github.com/matsen/annot/internal/transcript"
	"github.com/matsen/annot/internal/tristate"
)

func init() {
	annotateCmd.AddCommand(annotateToggleCmd)
	annotateCmd.AddCommand(annotateSetCmd)
	annotateCmd.AddCommand(annotateGetCmd)
	rootCmd.AddCommand(annotateCmd)
}

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Edit the active annotator's annotations",
	Long: `Edit the active annotator's annotations.

Rows are addressed by transcript line number ("Line #").`,
}

var annotateToggleCmd = &cobra.Command{
	Use:   "toggle <category> <line> <code>",
	Short: "Flip a feature on or off for one line",
	Long: `Flip a feature on or off for one line.

A non-boolean value becomes true.

Example:
  annot annotate toggle Discourse 12 revoicing -t lesson1`,
	Args: cobra.ExactArgs(3),
	RunE: runAnnotateToggle,
}

var annotateSetCmd = &cobra.Command{
	Use:   "set <category> <line> <code> <value>",
	Short: "Store a literal value for one line",
	Long: `Store a literal value for one line.

The value is normalized: 1/true/yes and 0/false/no are booleans, numeric
text is a number and anything else is kept as text. Empty values are
rejected.

Example:
  annot annotate set Discourse 12 revoicing 0`,
	Args: cobra.ExactArgs(4),
	RunE: runAnnotateSet,
}

var annotateGetCmd = &cobra.Command{
	Use:   "get <category> <line> <code>",
	Short: "Show one annotation value",
	Args:  cobra.ExactArgs(3),
	RunE:  runAnnotateGet,
}

// AnnotationResult is the response for annotate commands.
type AnnotationResult struct {
	Category string         `json:"category"`
	Line     int            `json:"line"`
	Code     string         `json:"code"`
	Value    tristate.Value `json:"value"`
	Warnings []string       `json:"warnings,omitempty"`
}

// mustRowForLine resolves a line-number argument to a row index.
func (a *app) mustRowForLine(ctx context.Context, sess *session.Session, arg string) (int, int) {
	line, err := strconv.Atoi(arg)
	if err != nil {
		a.close(ctx)
		exitWithError(ExitError, "invalid line number %q", arg)
	}
	row, ok := transcript.NewIndex(sess.State().Rows()).RowForLine(line)
	if !ok {
		a.close(ctx)
		exitWithError(ExitDataError, "line %d is not in transcript %s", line, transcriptID)
	}
	return line, row
}

func runAnnotateToggle(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	line, row := a.mustRowForLine(ctx, sess, args[1])
	res := a.mustDo(ctx, sess, session.Toggle{Category: args[0], Row: row, Code: args[2]})

	return outputAnnotation(AnnotationResult{Category: args[0], Line: line, Code: args[2], Value: *res.Value, Warnings: warningStrings(res.Warnings)})
}

func runAnnotateSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	line, row := a.mustRowForLine(ctx, sess, args[1])
	v := tristate.Normalize(args[3])
	res := a.mustDo(ctx, sess, session.SetValue{Category: args[0], Row: row, Code: args[2], Value: v})

	return outputAnnotation(AnnotationResult{Category: args[0], Line: line, Code: args[2], Value: *res.Value, Warnings: warningStrings(res.Warnings)})
}

func runAnnotateGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	line, row := a.mustRowForLine(ctx, sess, args[1])
	v := sess.Annotations().Get(args[0], row, args[2])

	return outputAnnotation(AnnotationResult{Category: args[0], Line: line, Code: args[2], Value: v})
}

func outputAnnotation(r AnnotationResult) error {
	if humanOutput {
		outputHuman("%s line %d %s = %s\n", r.Category, r.Line, r.Code, r.Value)
		return nil
	}
	return outputJSON(r)
}
