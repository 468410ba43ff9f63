package importer

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/tristate"
)

// notesSheet is the sheet name (compared case-insensitively) that holds a
// rater's notes rather than a category.
const notesSheet = "notes"

// Parse reads an exported annotation workbook. Each sheet is one category,
// except a sheet named "Notes", whose rows are kept verbatim in NotesSheet.
//
// The annotator id is the filename without its extension; an id already in
// existing is rejected with ErrDuplicateAnnotator before the workbook is
// opened. Unknown categories and features against cb produce warnings. A
// workbook that cannot be read, or from which no sheet yields data, is a
// *ParseError.
func Parse(filename string, data []byte, existing []AnnotatorData, cb *codebook.Codebook) (*AnnotatorData, []Warning, error) {
	id := AnnotatorID(filename)
	if err := CheckDuplicate(id, existing); err != nil {
		return nil, nil, err
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, &ParseError{Filename: filename, Reason: "unreadable workbook", Err: err}
	}
	defer f.Close()

	out := &AnnotatorData{
		AnnotatorID: id,
		DisplayName: id,
		Filename:    filename,
		UploadedAt:  time.Now().UTC(),
		Source:      SourceUpload,
		Categories:  map[string]CategoryFeatures{},
		Annotations: map[int]map[string]map[string]tristate.Value{},
	}

	var warnings []Warning
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, nil, &ParseError{Filename: filename, Reason: fmt.Sprintf("reading sheet %q", sheet), Err: err}
		}

		if strings.EqualFold(strings.TrimSpace(sheet), notesSheet) {
			out.NotesSheet = sheetRecords(rows)
			continue
		}

		if w := parseCategorySheet(sheet, rows, out); w != nil {
			warnings = append(warnings, *w)
		}
	}

	if len(out.Categories) == 0 {
		return nil, warnings, &ParseError{Filename: filename, Reason: "no sheet has a line number column and annotated feature columns"}
	}

	return out, append(warnings, Validate(out, cb)...), nil
}

// parseCategorySheet adds one category sheet to out. It reports a warning
// for sheets it had to skip for a reason the rater can fix.
func parseCategorySheet(sheet string, rows [][]string, out *AnnotatorData) *Warning {
	if len(rows) < 2 {
		return nil
	}
	header := rows[0]

	lineIdx := findColumn(header, "line")
	if lineIdx < 0 {
		return &Warning{
			Category: sheet,
			Message:  fmt.Sprintf("Sheet %q skipped: no line number column", sheet),
		}
	}
	speakerIdx := findColumn(header, "speaker")
	utteranceIdx := findColumn(header, "utterance")

	type column struct {
		name  string
		index int
	}
	var candidates []column
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" || i == lineIdx || i == speakerIdx || i == utteranceIdx {
			continue
		}
		candidates = append(candidates, column{name: name, index: i})
	}

	// A header the rater never filled in would only add false pairs later.
	var features []column
	for _, c := range candidates {
		for _, row := range rows[1:] {
			if strings.TrimSpace(cellAt(row, c.index)) != "" {
				features = append(features, c)
				break
			}
		}
	}
	if len(features) == 0 {
		return nil
	}

	names := make([]string, len(features))
	for i, c := range features {
		names[i] = c.name
	}
	out.Categories[sheet] = CategoryFeatures{Features: names}

	for _, row := range rows[1:] {
		line, ok := parseLineNumber(cellAt(row, lineIdx))
		if !ok {
			continue
		}
		for _, c := range features {
			v := tristate.Normalize(cellAt(row, c.index))
			if v.IsAbsent() {
				continue
			}
			set(out, line, sheet, c.name, v)
		}
	}
	return nil
}

func set(a *AnnotatorData, line int, category, code string, v tristate.Value) {
	byCat, ok := a.Annotations[line]
	if !ok {
		byCat = map[string]map[string]tristate.Value{}
		a.Annotations[line] = byCat
	}
	vals, ok := byCat[category]
	if !ok {
		vals = map[string]tristate.Value{}
		byCat[category] = vals
	}
	vals[code] = v
}

// findColumn returns the first header containing substr, ignoring case.
func findColumn(header []string, substr string) int {
	for i, h := range header {
		if strings.Contains(strings.ToLower(h), substr) {
			return i
		}
	}
	return -1
}

// parseLineNumber reads the leading integer of a cell. Cells with no
// leading integer, or whose integer is 0, carry no line.
func parseLineNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// sheetRecords turns a header row plus data rows into one map per row.
func sheetRecords(rows [][]string) []map[string]string {
	if len(rows) < 2 {
		return nil
	}
	header := rows[0]
	var records []map[string]string
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(header))
		empty := true
		for i, h := range header {
			if h == "" {
				continue
			}
			v := cellAt(row, i)
			if v != "" {
				empty = false
			}
			rec[h] = v
		}
		if !empty {
			records = append(records, rec)
		}
	}
	return records
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
