// Package notes manages learning-goal notes: multi-row annotations with
// stable, recyclable numeric ids that survive row reordering.
//
// Every operation is a pure function over State and returns a new State.
// Inputs are never mutated.
package notes

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/matsen/annot/internal/transcript"
)

// NoTitle replaces an empty title on commit.
const NoTitle = "no title"

// Note is a learning-goal note. RowIndices and LineNumbers always describe
// the same rows; LineNumbers is what survives reindexing.
type Note struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Content1    string `json:"content_1"`
	Content2    string `json:"content_2"`
	RowIndices  []int  `json:"rowIndices"`
	LineNumbers []int  `json:"lineNumbers"`
}

// State is everything the note operations read and write.
type State struct {
	Notes []Note
	Alloc Allocator
	Rows  []transcript.Line
}

// Errors.
var (
	ErrDuplicateTitle = errors.New("a note with this title already exists")
	ErrNoteNotFound   = errors.New("note not found")
	ErrRowOutOfRange  = errors.New("row index out of range")
	ErrNoRows         = errors.New("a note needs at least one row")
)

// Find returns the note with the given id.
func (s State) Find(id int) (Note, bool) {
	for _, n := range s.Notes {
		if n.ID == id {
			return n, true
		}
	}
	return Note{}, false
}

func (s State) clone() State {
	out := State{
		Notes: make([]Note, len(s.Notes)),
		Alloc: s.Alloc.Clone(),
		Rows:  transcript.Clone(s.Rows),
	}
	for i, n := range s.Notes {
		out.Notes[i] = n.clone()
	}
	return out
}

func (n Note) clone() Note {
	n.RowIndices = slices.Clone(n.RowIndices)
	n.LineNumbers = slices.Clone(n.LineNumbers)
	return n
}

func (s State) index(id int) int {
	for i, n := range s.Notes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (s State) checkRow(row int) error {
	if row < 0 || row >= len(s.Rows) {
		return fmt.Errorf("%w: %d (transcript has %d rows)", ErrRowOutOfRange, row, len(s.Rows))
	}
	return nil
}

// Create allocates a note spanning rowIndices and writes its id into each
// row's NoteIDs, after any ids already there.
func Create(s State, rowIndices []int) (State, Note, error) {
	if len(rowIndices) == 0 {
		return s, Note{}, ErrNoRows
	}
	for _, r := range rowIndices {
		if err := s.checkRow(r); err != nil {
			return s, Note{}, err
		}
	}

	out := s.clone()
	note := Note{ID: out.Alloc.Alloc()}
	for _, r := range rowIndices {
		if slices.Contains(note.RowIndices, r) {
			continue
		}
		note.RowIndices = append(note.RowIndices, r)
		note.LineNumbers = append(note.LineNumbers, out.Rows[r].LineNumber)
		out.Rows[r].NoteIDs = addID(out.Rows[r].NoteIDs, note.ID)
	}
	out.Notes = append(out.Notes, note)
	return out, note.clone(), nil
}

// AddRow attaches a row to a note. Adding a row twice is a no-op.
func AddRow(s State, id, row int) (State, error) {
	i := s.index(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %d", ErrNoteNotFound, id)
	}
	if err := s.checkRow(row); err != nil {
		return s, err
	}
	if slices.Contains(s.Notes[i].RowIndices, row) {
		return s, nil
	}

	out := s.clone()
	n := &out.Notes[i]
	n.RowIndices = append(n.RowIndices, row)
	n.LineNumbers = append(n.LineNumbers, out.Rows[row].LineNumber)
	out.Rows[row].NoteIDs = addID(out.Rows[row].NoteIDs, id)
	return out, nil
}

// RemoveRow detaches a row from a note. A note left with no rows is kept.
func RemoveRow(s State, id, row int) (State, error) {
	i := s.index(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %d", ErrNoteNotFound, id)
	}
	if err := s.checkRow(row); err != nil {
		return s, err
	}
	pos := slices.Index(s.Notes[i].RowIndices, row)
	if pos < 0 {
		return s, nil
	}

	out := s.clone()
	n := &out.Notes[i]
	n.RowIndices = slices.Delete(n.RowIndices, pos, pos+1)
	if pos < len(n.LineNumbers) {
		n.LineNumbers = slices.Delete(n.LineNumbers, pos, pos+1)
	}
	out.Rows[row].NoteIDs = removeID(out.Rows[row].NoteIDs, id)
	return out, nil
}

// Rename sets a note's title. The title is trimmed and an empty title
// becomes NoTitle. A title that matches another note's, ignoring case and
// surrounding space, is rejected with ErrDuplicateTitle and nothing changes.
// Clearing a title never collides, so any number of notes may be untitled.
func Rename(s State, id int, title string) (State, error) {
	i := s.index(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %d", ErrNoteNotFound, id)
	}

	title = strings.TrimSpace(title)
	untitled := title == ""
	if untitled {
		title = NoTitle
	}
	key := normalizeTitle(title)
	if !untitled {
		for _, other := range s.Notes {
			if other.ID != id && normalizeTitle(other.Title) == key {
				return s, fmt.Errorf("%w: %q (note %d)", ErrDuplicateTitle, title, other.ID)
			}
		}
	}

	out := s.clone()
	out.Notes[i].Title = title
	return out, nil
}

// UpdateContent replaces a note's abstract and full context.
func UpdateContent(s State, id int, content1, content2 string) (State, error) {
	i := s.index(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %d", ErrNoteNotFound, id)
	}
	out := s.clone()
	out.Notes[i].Content1 = content1
	out.Notes[i].Content2 = content2
	return out, nil
}

// Delete removes a note, strips its id from every row and frees the id.
func Delete(s State, id int) (State, error) {
	i := s.index(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %d", ErrNoteNotFound, id)
	}

	out := s.clone()
	for r := range out.Rows {
		out.Rows[r].NoteIDs = removeID(out.Rows[r].NoteIDs, id)
	}
	out.Notes = slices.Delete(out.Notes, i, i+1)
	out.Alloc.Free(id)
	return out, nil
}

// Reindex rebuilds every note's RowIndices from its LineNumbers against the
// current rows. Lines that no longer exist are dropped from the note.
func Reindex(s State) State {
	out := s.clone()
	idx := transcript.NewIndex(out.Rows)
	for i := range out.Notes {
		n := &out.Notes[i]
		var rows, lines []int
		for _, ln := range n.LineNumbers {
			r, ok := idx.RowForLine(ln)
			if !ok {
				continue
			}
			rows = append(rows, r)
			lines = append(lines, ln)
		}
		n.RowIndices = rows
		n.LineNumbers = lines
	}
	return out
}

func normalizeTitle(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

func addID(field string, id int) string {
	ids := transcript.ParseNoteIDs(field)
	if slices.Contains(ids, id) {
		return field
	}
	return transcript.FormatNoteIDs(append(ids, id))
}

func removeID(field string, id int) string {
	ids := transcript.ParseNoteIDs(field)
	if !slices.Contains(ids, id) {
		return field
	}
	return transcript.FormatNoteIDs(slices.DeleteFunc(ids, func(x int) bool { return x == id }))
}
