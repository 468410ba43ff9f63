// Package transcript holds transcript lines and the lookup between the
// in-memory row index and the externally stable line number.
package transcript

import (
	"fmt"
	"strconv"
	"strings"
)

// Line is one transcript row.
//
// RowIndex is the 0-based position in the current table. LineNumber is the
// external identifier used for every cross-file exchange; it is usually but
// not always RowIndex+1.
type Line struct {
	RowIndex   int    `json:"rowIndex"`
	LineNumber int    `json:"lineNumber"`
	Speaker    string `json:"speaker"`
	Utterance  string `json:"utterance"`
	Selectable bool   `json:"selectable"`

	// NoteIDs is the comma-joined list of note ids attached to the row.
	NoteIDs string `json:"noteIds,omitempty"`

	// LegacyNotes is the pre-id free-text note title list. Only schema
	// migration reads it.
	LegacyNotes string `json:"notes,omitempty"`
}

// Index resolves row indices and line numbers in both directions.
type Index struct {
	byLine map[int]int
	byRow  map[int]int
}

// NewIndex builds an Index over lines. When two rows share a line number
// the first one wins.
func NewIndex(lines []Line) *Index {
	idx := &Index{
		byLine: make(map[int]int, len(lines)),
		byRow:  make(map[int]int, len(lines)),
	}
	for _, l := range lines {
		if _, dup := idx.byLine[l.LineNumber]; !dup {
			idx.byLine[l.LineNumber] = l.RowIndex
		}
		idx.byRow[l.RowIndex] = l.LineNumber
	}
	return idx
}

// RowForLine returns the row index holding lineNumber.
func (x *Index) RowForLine(lineNumber int) (int, bool) {
	r, ok := x.byLine[lineNumber]
	return r, ok
}

// LineForRow returns the line number of the row at rowIndex.
func (x *Index) LineForRow(rowIndex int) (int, bool) {
	n, ok := x.byRow[rowIndex]
	return n, ok
}

// Renumber returns a copy of lines whose RowIndex fields match their
// slice positions. Use it after filtering, appending or reordering.
func Renumber(lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		l.RowIndex = i
		out[i] = l
	}
	return out
}

// Clone returns a shallow copy of lines.
func Clone(lines []Line) []Line {
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}

// ParseNoteIDs splits a comma-joined noteIds field into ids. Malformed
// entries are skipped.
func ParseNoteIDs(field string) []int {
	if strings.TrimSpace(field) == "" {
		return nil
	}
	var ids []int
	for _, part := range strings.Split(field, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// FormatNoteIDs joins ids into the noteIds field format.
func FormatNoteIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// IsSelectableValue interprets a "Selectable" cell. Empty means not
// selectable.
func IsSelectableValue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}

// Validate checks that RowIndex fields are dense and in order.
func Validate(lines []Line) error {
	for i, l := range lines {
		if l.RowIndex != i {
			return fmt.Errorf("line %d: row index %d does not match position %d", l.LineNumber, l.RowIndex, i)
		}
	}
	return nil
}
