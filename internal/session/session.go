// Package session holds one transcript's working state and the reducer that
// applies commands to it. Apply is pure: it returns a new State and never
// mutates the one it was given. Session wraps the reducer with persistence.
package session

import (
	"errors"
	"fmt"
	"slices"

	"github.com/matsen/annot/internal/annotation"
	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/irr"
	"github.com/matsen/annot/internal/notes"
	"github.com/matsen/annot/internal/transcript"
	"github.com/matsen/annot/internal/tristate"
)

// Records a command can leave dirty.
const (
	DirtyTable       = "table"
	DirtyAnnotations = "annotations"
	DirtyNotes       = "notes"
	DirtyAnnotators  = "annotators"
	DirtyCodebook    = "codebook"
)

// State is everything known about one transcript. Notes.Rows is the
// transcript table.
type State struct {
	TranscriptID string
	Codebook     *codebook.Codebook
	Annotations  annotation.Set
	Notes        notes.State
	Annotators   []importer.AnnotatorData
}

// Rows returns the transcript table.
func (s State) Rows() []transcript.Line {
	return s.Notes.Rows
}

// Result describes what a command did beyond the new state.
type Result struct {
	// Dirty lists the records that changed and need writing.
	Dirty    []string                `json:"dirty,omitempty"`
	Warnings []importer.Warning      `json:"warnings,omitempty"`
	Report   *annotation.Report      `json:"report,omitempty"`
	Note     *notes.Note             `json:"note,omitempty"`
	Stats    []irr.Stat              `json:"stats,omitempty"`
	Value    *tristate.Value         `json:"value,omitempty"`
	Removed  string                  `json:"removed,omitempty"`
	Imported *importer.AnnotatorData `json:"-"`
}

func (r *Result) dirty(records ...string) {
	for _, rec := range records {
		if !slices.Contains(r.Dirty, rec) {
			r.Dirty = append(r.Dirty, rec)
		}
	}
}

// Command is an operation on State.
type Command interface {
	apply(s State) (State, Result, error)
}

// ErrNoCodebook is returned by commands that need a codebook before one
// is loaded.
var ErrNoCodebook = errors.New("no codebook loaded")

// ErrAnnotatorNotFound is returned when removing an unknown annotator.
var ErrAnnotatorNotFound = errors.New("annotator not found")

// Apply runs cmd against s. On error the returned State is s.
func Apply(s State, cmd Command) (State, Result, error) {
	next, res, err := cmd.apply(s)
	if err != nil {
		return s, Result{}, err
	}
	return next, res, nil
}

// reconcile brings annotations in line with the codebook and the row count.
func reconcile(s State, res *Result) State {
	if s.Codebook == nil {
		return s
	}
	set, report := annotation.Reconcile(s.Annotations, s.Codebook, len(s.Rows()))
	res.Report = &report
	if report.Changed {
		s.Annotations = set
		res.dirty(DirtyAnnotations)
	}
	return s
}

// Reconcile merges the current codebook into the annotations.
type Reconcile struct{}

func (Reconcile) apply(s State) (State, Result, error) {
	if s.Codebook == nil {
		return s, Result{}, ErrNoCodebook
	}
	var res Result
	return reconcile(s, &res), res, nil
}

// SetCodebook replaces the codebook, reconciles the annotations against it
// and re-validates every imported annotator.
type SetCodebook struct {
	Codebook *codebook.Codebook
}

func (c SetCodebook) apply(s State) (State, Result, error) {
	if c.Codebook == nil {
		return s, Result{}, ErrNoCodebook
	}
	if err := c.Codebook.Validate(); err != nil {
		return s, Result{}, err
	}
	var res Result
	s.Codebook = c.Codebook
	res.dirty(DirtyCodebook)
	s = reconcile(s, &res)
	for i := range s.Annotators {
		res.Warnings = append(res.Warnings, importer.Validate(&s.Annotators[i], s.Codebook)...)
	}
	return s, res, nil
}

// SetRows replaces the transcript table. Notes are reindexed by line number
// and the annotations are reconciled to the new row count.
type SetRows struct {
	Rows []transcript.Line
}

func (c SetRows) apply(s State) (State, Result, error) {
	rows := transcript.Renumber(c.Rows)

	// Note ids follow their line when the new table does not carry them.
	prev := make(map[int]string, len(s.Rows()))
	for _, r := range s.Rows() {
		prev[r.LineNumber] = r.NoteIDs
	}
	for i := range rows {
		if rows[i].NoteIDs == "" {
			rows[i].NoteIDs = prev[rows[i].LineNumber]
		}
	}

	var res Result
	ns := s.Notes
	ns.Rows = rows
	s.Notes = notes.Reindex(ns)
	res.dirty(DirtyTable, DirtyNotes)
	return reconcile(s, &res), res, nil
}

// checkSelectable rejects edits to a row that is shown but never coded.
// Rows outside the table are left to the annotation lookup to report.
func checkSelectable(s State, row int) error {
	rows := s.Rows()
	if row >= 0 && row < len(rows) && !rows[row].Selectable {
		return fmt.Errorf("%w: line %d", annotation.ErrNotSelectable, rows[row].LineNumber)
	}
	return nil
}

// Toggle flips a boolean annotation. A non-boolean value becomes true.
type Toggle struct {
	Category string
	Row      int
	Code     string
}

func (c Toggle) apply(s State) (State, Result, error) {
	if err := checkSelectable(s, c.Row); err != nil {
		return s, Result{}, err
	}
	set, err := annotation.Toggle(s.Annotations, c.Category, c.Row, c.Code)
	if err != nil {
		return s, Result{}, err
	}
	s.Annotations = set
	v := set.Get(c.Category, c.Row, c.Code)
	res := Result{Value: &v}
	res.dirty(DirtyAnnotations)
	return s, res, nil
}

// SetValue stores a literal value for one annotation.
type SetValue struct {
	Category string
	Row      int
	Code     string
	Value    tristate.Value
}

func (c SetValue) apply(s State) (State, Result, error) {
	if err := checkSelectable(s, c.Row); err != nil {
		return s, Result{}, err
	}
	set, err := annotation.SetValue(s.Annotations, c.Category, c.Row, c.Code, c.Value)
	if err != nil {
		return s, Result{}, err
	}
	s.Annotations = set
	v := c.Value
	res := Result{Value: &v}
	res.dirty(DirtyAnnotations)
	return s, res, nil
}

// noteResult records a note change.
func noteResult(st notes.State, id int) Result {
	res := Result{}
	if n, ok := st.Find(id); ok {
		res.Note = &n
	}
	res.dirty(DirtyNotes)
	return res
}

// CreateNote starts a note over Rows.
type CreateNote struct {
	Rows  []int
	Title string
}

func (c CreateNote) apply(s State) (State, Result, error) {
	st, n, err := notes.Create(s.Notes, c.Rows)
	if err != nil {
		return s, Result{}, err
	}
	if c.Title != "" {
		if st, err = notes.Rename(st, n.ID, c.Title); err != nil {
			return s, Result{}, err
		}
	}
	s.Notes = st
	return s, noteResult(st, n.ID), nil
}

// AddNoteRow attaches a row to a note.
type AddNoteRow struct {
	ID, Row int
}

func (c AddNoteRow) apply(s State) (State, Result, error) {
	st, err := notes.AddRow(s.Notes, c.ID, c.Row)
	if err != nil {
		return s, Result{}, err
	}
	s.Notes = st
	return s, noteResult(st, c.ID), nil
}

// RemoveNoteRow detaches a row from a note.
type RemoveNoteRow struct {
	ID, Row int
}

func (c RemoveNoteRow) apply(s State) (State, Result, error) {
	st, err := notes.RemoveRow(s.Notes, c.ID, c.Row)
	if err != nil {
		return s, Result{}, err
	}
	s.Notes = st
	return s, noteResult(st, c.ID), nil
}

// RenameNote sets a note's title.
type RenameNote struct {
	ID    int
	Title string
}

func (c RenameNote) apply(s State) (State, Result, error) {
	st, err := notes.Rename(s.Notes, c.ID, c.Title)
	if err != nil {
		return s, Result{}, err
	}
	s.Notes = st
	return s, noteResult(st, c.ID), nil
}

// UpdateNoteContent replaces a note's abstract and full context.
type UpdateNoteContent struct {
	ID                 int
	Content1, Content2 string
}

func (c UpdateNoteContent) apply(s State) (State, Result, error) {
	st, err := notes.UpdateContent(s.Notes, c.ID, c.Content1, c.Content2)
	if err != nil {
		return s, Result{}, err
	}
	s.Notes = st
	return s, noteResult(st, c.ID), nil
}

// DeleteNote removes a note and frees its id.
type DeleteNote struct {
	ID int
}

func (c DeleteNote) apply(s State) (State, Result, error) {
	st, err := notes.Delete(s.Notes, c.ID)
	if err != nil {
		return s, Result{}, err
	}
	s.Notes = st
	res := Result{}
	res.dirty(DirtyNotes)
	return s, res, nil
}

// ImportWorkbook parses another rater's workbook and adds it. With Replace,
// an annotator with the same id is swapped out instead of rejected.
type ImportWorkbook struct {
	Filename string
	Data     []byte
	Source   importer.Source
	Replace  bool
}

func (c ImportWorkbook) apply(s State) (State, Result, error) {
	existing := s.Annotators
	if c.Replace {
		existing = withoutAnnotator(existing, importer.AnnotatorID(c.Filename))
	}
	data, warnings, err := importer.Parse(c.Filename, c.Data, existing, s.Codebook)
	if err != nil {
		return s, Result{}, err
	}
	if c.Source != "" {
		data.Source = c.Source
	}
	return addAnnotator(s, existing, data), Result{Warnings: warnings, Imported: data, Dirty: []string{DirtyAnnotators}}, nil
}

// AddAnnotator adds annotator data produced elsewhere, such as by a model.
// Its warnings are recomputed against the current codebook.
type AddAnnotator struct {
	Data *importer.AnnotatorData
}

func (c AddAnnotator) apply(s State) (State, Result, error) {
	if c.Data == nil {
		return s, Result{}, fmt.Errorf("no annotator data")
	}
	if err := importer.CheckDuplicate(c.Data.AnnotatorID, s.Annotators); err != nil {
		return s, Result{}, err
	}
	warnings := importer.Validate(c.Data, s.Codebook)
	return addAnnotator(s, s.Annotators, c.Data), Result{Warnings: warnings, Imported: c.Data, Dirty: []string{DirtyAnnotators}}, nil
}

func addAnnotator(s State, existing []importer.AnnotatorData, data *importer.AnnotatorData) State {
	s.Annotators = append(slices.Clone(existing), *data)
	return s
}

func withoutAnnotator(list []importer.AnnotatorData, id string) []importer.AnnotatorData {
	return slices.DeleteFunc(slices.Clone(list), func(a importer.AnnotatorData) bool {
		return a.AnnotatorID == id
	})
}

// RemoveAnnotator drops an imported annotator.
type RemoveAnnotator struct {
	ID string
}

func (c RemoveAnnotator) apply(s State) (State, Result, error) {
	rest := withoutAnnotator(s.Annotators, c.ID)
	if len(rest) == len(s.Annotators) {
		return s, Result{}, fmt.Errorf("%w: %s", ErrAnnotatorNotFound, c.ID)
	}
	s.Annotators = rest
	res := Result{Removed: c.ID}
	res.dirty(DirtyAnnotators)
	return s, res, nil
}

// ComputeIRR compares the annotations of one category with the imported
// annotators. A non-empty Only narrows the comparison set by annotator id.
type ComputeIRR struct {
	Category string
	Only     []string
}

func (c ComputeIRR) apply(s State) (State, Result, error) {
	if _, ok := s.Annotations[c.Category]; !ok {
		return s, Result{}, fmt.Errorf("%w: %s", annotation.ErrUnknownCategory, c.Category)
	}
	others := s.Annotators
	if len(c.Only) > 0 {
		others = slices.DeleteFunc(slices.Clone(others), func(a importer.AnnotatorData) bool {
			return !slices.Contains(c.Only, a.AnnotatorID)
		})
	}
	return s, Result{Stats: irr.Compute(c.Category, s.Annotations, others, s.Rows())}, nil
}
