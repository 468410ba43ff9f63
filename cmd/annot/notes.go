package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/annot/internal/notes"
	"github.com/matsen/annot/internal/session"
)

var (
	notesTitle    string
	notesContent1 string
	notesContent2 string
)

func init() {
	notesCreateCmd.Flags().StringVar(&notesTitle, "title", "", "Note title (must be unique)")
	notesContentCmd.Flags().StringVar(&notesContent1, "abstract", "", "Note abstract")
	notesContentCmd.Flags().StringVar(&notesContent2, "context", "", "Full context")

	notesCmd.AddCommand(notesListCmd)
	notesCmd.AddCommand(notesCreateCmd)
	notesCmd.AddCommand(notesAddRowCmd)
	notesCmd.AddCommand(notesRemoveRowCmd)
	notesCmd.AddCommand(notesRenameCmd)
	notesCmd.AddCommand(notesContentCmd)
	notesCmd.AddCommand(notesDeleteCmd)
	rootCmd.AddCommand(notesCmd)
}

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Manage learning-goal notes",
	Long: `Manage learning-goal notes.

Notes have stable numeric ids. A deleted note's id is reused by the next
note created. Lines are addressed by transcript line number.`,
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes of the selected transcript",
	Args:  cobra.NoArgs,
	RunE:  runNotesList,
}

var notesCreateCmd = &cobra.Command{
	Use:   "create <line>...",
	Short: "Create a note on one or more lines",
	Long: `Create a note on one or more lines.

Example:
  annot notes create 12 13 14 --title "Students compare fractions"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runNotesCreate,
}

var notesAddRowCmd = &cobra.Command{
	Use:   "add-row <note-id> <line>",
	Short: "Attach a line to a note",
	Args:  cobra.ExactArgs(2),
	RunE:  runNotesAddRow,
}

var notesRemoveRowCmd = &cobra.Command{
	Use:   "remove-row <note-id> <line>",
	Short: "Detach a line from a note",
	Args:  cobra.ExactArgs(2),
	RunE:  runNotesRemoveRow,
}

var notesRenameCmd = &cobra.Command{
	Use:   "rename <note-id> <title>",
	Short: "Rename a note",
	Args:  cobra.ExactArgs(2),
	RunE:  runNotesRename,
}

var notesContentCmd = &cobra.Command{
	Use:   "content <note-id>",
	Short: "Set a note's abstract and full context",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotesContent,
}

var notesDeleteCmd = &cobra.Command{
	Use:   "delete <note-id>",
	Short: "Delete a note and detach it from its lines",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotesDelete,
}

// mustNoteID parses a note id argument.
func (a *app) mustNoteID(ctx context.Context, arg string) int {
	id, err := strconv.Atoi(arg)
	if err != nil || id < 1 {
		a.close(ctx)
		exitWithError(ExitError, "invalid note id %q", arg)
	}
	return id
}

func runNotesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	ns := sess.State().Notes.Notes

	if !humanOutput {
		if ns == nil {
			ns = []notes.Note{}
		}
		return outputJSON(ns)
	}
	if len(ns) == 0 {
		outputHuman("No notes\n")
	}
	for _, n := range ns {
		outputHuman("%3d  %-40s lines %s\n", n.ID, truncateString(n.Title, TitleMaxLen), joinInts(n.LineNumbers))
	}
	return nil
}

func runNotesCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	rows := make([]int, 0, len(args))
	for _, arg := range args {
		_, row := a.mustRowForLine(ctx, sess, arg)
		rows = append(rows, row)
	}
	res := a.mustDo(ctx, sess, session.CreateNote{Rows: rows, Title: notesTitle})
	return outputNote("Created", res.Note)
}

func runNotesAddRow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	id := a.mustNoteID(ctx, args[0])
	_, row := a.mustRowForLine(ctx, sess, args[1])
	res := a.mustDo(ctx, sess, session.AddNoteRow{ID: id, Row: row})
	return outputNote("Updated", res.Note)
}

func runNotesRemoveRow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	id := a.mustNoteID(ctx, args[0])
	_, row := a.mustRowForLine(ctx, sess, args[1])
	res := a.mustDo(ctx, sess, session.RemoveNoteRow{ID: id, Row: row})
	return outputNote("Updated", res.Note)
}

func runNotesRename(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	id := a.mustNoteID(ctx, args[0])
	res := a.mustDo(ctx, sess, session.RenameNote{ID: id, Title: args[1]})
	return outputNote("Renamed", res.Note)
}

func runNotesContent(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	id := a.mustNoteID(ctx, args[0])

	// Flags left unset keep the note's current text.
	content1, content2 := notesContent1, notesContent2
	if n, ok := sess.State().Notes.Find(id); ok {
		if !cmd.Flags().Changed("abstract") {
			content1 = n.Content1
		}
		if !cmd.Flags().Changed("context") {
			content2 = n.Content2
		}
	}
	res := a.mustDo(ctx, sess, session.UpdateNoteContent{ID: id, Content1: content1, Content2: content2})
	return outputNote("Updated", res.Note)
}

func runNotesDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	id := a.mustNoteID(ctx, args[0])
	a.mustDo(ctx, sess, session.DeleteNote{ID: id})

	if humanOutput {
		outputHuman("Deleted note %d\n", id)
		return nil
	}
	return outputJSON(StatusResponse{Status: "deleted"})
}

func outputNote(verb string, n *notes.Note) error {
	if humanOutput {
		if n == nil {
			outputHuman("%s\n", verb)
			return nil
		}
		outputHuman("%s note %d: %s (lines %s)\n", verb, n.ID, n.Title, joinInts(n.LineNumbers))
		return nil
	}
	if n == nil {
		return outputJSON(StatusResponse{Status: strings.ToLower(verb)})
	}
	return outputJSON(n)
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ", ")
}
