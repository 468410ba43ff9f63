package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/annot/internal/session"
	"github.com/matsen/annot/internal/transcript"
)

func init() {
	transcriptCmd.AddCommand(transcriptLoadCmd)
	transcriptCmd.AddCommand(transcriptListCmd)
	transcriptCmd.AddCommand(transcriptShowCmd)
	transcriptCmd.AddCommand(transcriptClearCmd)
	rootCmd.AddCommand(transcriptCmd)
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Load, list and inspect transcripts",
}

var transcriptLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load a transcript table from CSV or xlsx",
	Long: `Load a transcript table from CSV or xlsx.

The file needs Speaker and Utterance columns; "Line #" and "Selectable"
are optional. Loading over an existing transcript keeps notes attached to
the same line numbers and reconciles annotations to the new row count.

Examples:
  annot transcript load lesson1.csv -t lesson1
  annot transcript load lesson1.xlsx -t lesson1 --human`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscriptLoad,
}

// TranscriptLoadResult is the response for transcript load.
type TranscriptLoadResult struct {
	TranscriptID string   `json:"transcript_id"`
	Rows         int      `json:"rows"`
	Selectable   int      `json:"selectable"`
	Warnings     []string `json:"warnings,omitempty"`
}

func runTranscriptLoad(cmd *cobra.Command, args []string) error {
	lines, err := transcript.Load(args[0])
	if err != nil {
		exitWithError(ExitDataError, "%v", err)
	}

	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, warnings := a.mustOpenSession(ctx)
	res := a.mustDo(ctx, sess, session.SetRows{Rows: lines})

	result := TranscriptLoadResult{
		TranscriptID: transcriptID,
		Rows:         len(sess.State().Rows()),
		Warnings:     append(warnings, warningStrings(res.Warnings)...),
	}
	for _, l := range sess.State().Rows() {
		if l.Selectable {
			result.Selectable++
		}
	}

	if humanOutput {
		outputHuman("Loaded %d rows (%d selectable) into %s\n", result.Rows, result.Selectable, transcriptID)
		return nil
	}
	return outputJSON(result)
}

var transcriptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored transcripts",
	Args:  cobra.NoArgs,
	RunE:  runTranscriptList,
}

func runTranscriptList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	ids, err := a.store.Transcripts(ctx)
	if err != nil {
		exitWithError(ExitError, "listing transcripts: %v", err)
	}

	if humanOutput {
		if len(ids) == 0 {
			outputHuman("No transcripts\n")
		}
		for _, id := range ids {
			outputHuman("%s\n", id)
		}
		return nil
	}
	if ids == nil {
		ids = []string{}
	}
	return outputJSON(ids)
}

var transcriptShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the rows of the selected transcript",
	Args:  cobra.NoArgs,
	RunE:  runTranscriptShow,
}

func runTranscriptShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	rows := sess.State().Rows()

	if !humanOutput {
		if rows == nil {
			rows = []transcript.Line{}
		}
		return outputJSON(rows)
	}
	for _, l := range rows {
		mark := " "
		if l.Selectable {
			mark = "*"
		}
		notes := ""
		if l.NoteIDs != "" {
			notes = fmt.Sprintf(" [notes %s]", l.NoteIDs)
		}
		outputHuman("%s %4d  %-12s %s%s\n", mark, l.LineNumber, truncateString(l.Speaker, 12), truncateString(l.Utterance, UtteranceMaxLen), notes)
	}
	return nil
}

var transcriptClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored record of the selected transcript",
	Args:  cobra.NoArgs,
	RunE:  runTranscriptClear,
}

func runTranscriptClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	if err := a.store.Clear(ctx, transcriptID); err != nil {
		exitWithError(ExitError, "clearing %s: %v", transcriptID, err)
	}

	if humanOutput {
		outputHuman("Cleared %s\n", transcriptID)
		return nil
	}
	return outputJSON(StatusResponse{Status: "cleared"})
}
