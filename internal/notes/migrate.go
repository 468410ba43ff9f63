package notes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/matsen/annot/internal/transcript"
)

// Schema versions of the persisted notes document.
const (
	// V0 rows carry free-text note titles in LegacyNotes, with no ids.
	V0 = 0
	// V1 has id-based notes but may lack lineNumbers and allocator state.
	V1 = 1
	// V2 is current.
	V2 = 2

	CurrentVersion = V2
)

// LegacyNote is the v0 record of a note's content, matched to rows by
// title.
type LegacyNote struct {
	Title    string `json:"title"`
	Content1 string `json:"content_1"`
	Content2 string `json:"content_2"`
}

// Document is the persisted notes record together with the rows and
// allocator it is consistent with.
type Document struct {
	Version   int               `json:"version"`
	Notes     []Note            `json:"notes"`
	Legacy    []LegacyNote      `json:"legacy,omitempty"`
	Allocator *Allocator        `json:"-"`
	Rows      []transcript.Line `json:"-"`
}

// State returns the note state the document describes.
func (d Document) State() State {
	s := State{Notes: d.Notes, Rows: d.Rows, Alloc: NewAllocator()}
	if d.Allocator != nil {
		s.Alloc = *d.Allocator
	}
	return s.clone()
}

// Upgrade runs the document through every schema step it has not seen.
// Each step is pure, and a current document comes back unchanged.
func Upgrade(doc Document) (Document, error) {
	if doc.Version > CurrentVersion {
		return doc, fmt.Errorf("notes schema version %d is newer than %d", doc.Version, CurrentVersion)
	}
	if doc.Version < V0 {
		return doc, fmt.Errorf("invalid notes schema version %d", doc.Version)
	}
	steps := []func(Document) Document{
		V0: upgradeV0,
		V1: upgradeV1,
	}
	for doc.Version < CurrentVersion {
		doc = steps[doc.Version](doc)
	}
	return doc, nil
}

func upgradeV0(doc Document) Document {
	s := MigrateLegacy(doc.Rows, doc.Legacy)
	alloc := s.Alloc
	return Document{
		Version:   V1,
		Notes:     s.Notes,
		Allocator: &alloc,
		Rows:      s.Rows,
	}
}

// upgradeV1 backfills lineNumbers from rowIndices and rebuilds the
// allocator from the ids in use.
func upgradeV1(doc Document) Document {
	s := doc.State()
	used := make([]int, 0, len(s.Notes))
	for i := range s.Notes {
		n := &s.Notes[i]
		used = append(used, n.ID)
		if len(n.LineNumbers) == len(n.RowIndices) {
			continue
		}
		n.LineNumbers = make([]int, 0, len(n.RowIndices))
		for _, r := range n.RowIndices {
			if r >= 0 && r < len(s.Rows) {
				n.LineNumbers = append(n.LineNumbers, s.Rows[r].LineNumber)
			} else {
				n.LineNumbers = append(n.LineNumbers, r+1)
			}
		}
	}
	alloc := RebuildAllocator(used)
	return Document{
		Version:   V2,
		Notes:     s.Notes,
		Allocator: &alloc,
		Rows:      s.Rows,
	}
}

// MigrateLegacy converts free-text row titles into id-based notes. Titles
// are grouped case-insensitively after trimming; each distinct title gets
// one id, in order of first appearance, and collects every row that names
// it. Content is taken from the matching legacy record.
//
// Rows that already carry NoteIDs are left alone and their ids are never
// reissued, so running the migration on migrated rows changes nothing.
func MigrateLegacy(rows []transcript.Line, legacy []LegacyNote) State {
	out := State{Rows: transcript.Clone(rows)}

	// New ids start above every id already on a row.
	out.Alloc = NewAllocator()
	for _, r := range out.Rows {
		for _, id := range transcript.ParseNoteIDs(r.NoteIDs) {
			out.Alloc.next = max(out.Alloc.next, id+1)
		}
	}

	content := make(map[string]LegacyNote, len(legacy))
	for _, l := range legacy {
		key := normalizeTitle(l.Title)
		if _, dup := content[key]; !dup {
			content[key] = l
		}
	}

	byTitle := map[string]int{}
	for r := range out.Rows {
		row := &out.Rows[r]
		if row.NoteIDs != "" || strings.TrimSpace(row.LegacyNotes) == "" {
			continue
		}

		var ids []int
		for _, raw := range strings.Split(row.LegacyNotes, ",") {
			title := strings.TrimSpace(raw)
			key := normalizeTitle(title)
			if key == "" {
				continue
			}

			i, seen := byTitle[key]
			if !seen {
				c := content[key]
				out.Notes = append(out.Notes, Note{
					ID:       out.Alloc.Alloc(),
					Title:    title,
					Content1: c.Content1,
					Content2: c.Content2,
				})
				i = len(out.Notes) - 1
				byTitle[key] = i
			}

			n := &out.Notes[i]
			if !slices.Contains(n.RowIndices, r) {
				n.RowIndices = append(n.RowIndices, r)
				n.LineNumbers = append(n.LineNumbers, row.LineNumber)
				ids = append(ids, n.ID)
			}
		}
		row.NoteIDs = transcript.FormatNoteIDs(ids)
		row.LegacyNotes = ""
	}
	return out
}

// Recover rebuilds note state from rows alone, for when the notes record is
// lost. Legacy titles are migrated as usual. Every id a row still carries
// gets an untitled note over those rows, so the ids stay attached to their
// lines and are never reissued. Content cannot be recovered.
func Recover(rows []transcript.Line) State {
	out := MigrateLegacy(rows, nil)

	known := make(map[int]int, len(out.Notes))
	used := make([]int, 0, len(out.Notes))
	for i, n := range out.Notes {
		known[n.ID] = i
		used = append(used, n.ID)
	}

	for r, row := range out.Rows {
		for _, id := range transcript.ParseNoteIDs(row.NoteIDs) {
			if id <= 0 {
				continue
			}
			i, ok := known[id]
			if !ok {
				out.Notes = append(out.Notes, Note{ID: id, Title: NoTitle})
				i = len(out.Notes) - 1
				known[id] = i
				used = append(used, id)
			}
			n := &out.Notes[i]
			if !slices.Contains(n.RowIndices, r) {
				n.RowIndices = append(n.RowIndices, r)
				n.LineNumbers = append(n.LineNumbers, row.LineNumber)
			}
		}
	}

	slices.SortStableFunc(out.Notes, func(a, b Note) int { return a.ID - b.ID })
	out.Alloc = RebuildAllocator(used)
	return out
}
