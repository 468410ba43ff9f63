package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/annot/internal/config"
	"github.com/matsen/annot/internal/export"
)

var (
	exportOut        string
	exportCategories []string
	exportNoNotes    bool
)

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output path (default: .annot/exports/<transcript>.xlsx; - for stdout)")
	exportCmd.Flags().StringSliceVar(&exportCategories, "category", nil, "Export only these categories (repeatable or comma-separated)")
	exportCmd.Flags().BoolVar(&exportNoNotes, "no-notes", false, "Leave out the Notes sheet")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export annotations and notes to an xlsx workbook",
	Long: `Export annotations and notes to an xlsx workbook.

One sheet per category holds "1"/"0" cells per feature; non-selectable
rows are left empty. A trailing Notes sheet lists learning-goal notes.
The workbook is importable by 'annot import' on another machine.

Examples:
  annot export -t lesson1
  annot export -t lesson1 --category Discourse -o discourse.xlsx
  annot export -t lesson1 -o - > lesson1.xlsx`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	a.mustHaveRows(ctx, sess)
	st := sess.State()

	opts := export.Options{Categories: exportCategories}
	if !exportNoNotes {
		opts.Notes = st.Notes.Notes
	}

	// Workbooks are binary, so stdout gets the raw file in both modes.
	if exportOut == "-" {
		if err := export.Write(os.Stdout, st.Annotations, st.Rows(), opts); err != nil {
			a.close(ctx)
			exitWithError(exitCodeFor(err), "%v", err)
		}
		return nil
	}

	path := exportOut
	if path == "" {
		path = filepath.Join(config.ExportPath(a.root), exportFilename(transcriptID))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		a.close(ctx)
		exitWithError(ExitError, "creating export directory: %v", err)
	}
	if err := export.WriteFile(path, st.Annotations, st.Rows(), opts); err != nil {
		a.close(ctx)
		exitWithError(exitCodeFor(err), "%v", err)
	}

	if humanOutput {
		outputHuman("Exported %s to %s\n", transcriptID, path)
		return nil
	}
	return outputJSON(StatusResponse{Status: "exported", Path: path})
}

// exportFilename is the default workbook name for a transcript.
func exportFilename(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
	return r.Replace(id) + ".xlsx"
}
