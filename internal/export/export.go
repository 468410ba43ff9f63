// Package export writes the active annotator's annotations and notes to an
// xlsx workbook in the format other raters import.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/matsen/annot/internal/annotation"
	"github.com/matsen/annot/internal/notes"
	"github.com/matsen/annot/internal/transcript"
)

// NotesSheetName is the sheet that holds learning-goal notes. Importers
// skip it when reading categories.
const NotesSheetName = "Notes"

// Fixed leading headers of every category sheet.
var categoryHeader = []string{"Line #", "Speaker", "Utterance"}

// NotesHeader is the header row of the notes sheet.
var NotesHeader = []string{"Note ID", "Title", "Note Abstract", "Full Context", "Associated Lines", "Associated Utterances"}

// CategorySheet renders one category as rows of cells, header first. Feature
// cells hold "1" or "0" (or the literal number or string); every feature
// cell of a non-selectable row is empty.
func CategorySheet(category string, set annotation.Set, lines []transcript.Line) [][]string {
	codes, values := set.CategoryRows(category, len(lines))

	header := append(append([]string{}, categoryHeader...), codes...)
	grid := [][]string{header}
	for _, l := range lines {
		row := []string{strconv.Itoa(l.LineNumber), l.Speaker, l.Utterance}
		for i := range codes {
			if !l.Selectable || l.RowIndex < 0 || l.RowIndex >= len(values) {
				row = append(row, "")
				continue
			}
			row = append(row, values[l.RowIndex][i].ExportCell())
		}
		grid = append(grid, row)
	}
	return grid
}

// NotesSheet renders notes as rows of cells, header first.
func NotesSheet(ns []notes.Note, lines []transcript.Line) [][]string {
	idx := transcript.NewIndex(lines)
	grid := [][]string{NotesHeader}
	for _, n := range ns {
		var lineNums, utterances []string
		for _, ln := range n.LineNumbers {
			lineNums = append(lineNums, strconv.Itoa(ln))
			if r, ok := idx.RowForLine(ln); ok && r < len(lines) {
				utterances = append(utterances, fmt.Sprintf("%d: %s", ln, lines[r].Utterance))
			}
		}
		grid = append(grid, []string{
			strconv.Itoa(n.ID),
			n.Title,
			n.Content1,
			n.Content2,
			strings.Join(lineNums, ", "),
			strings.Join(utterances, "\n"),
		})
	}
	return grid
}

// Options selects what goes into a workbook.
type Options struct {
	// Categories in sheet order. Empty means every category in the set,
	// sorted.
	Categories []string
	// Notes, when non-empty, are written to a trailing Notes sheet.
	Notes []notes.Note
}

// Build assembles the workbook. The caller owns the returned file and must
// close it.
func Build(set annotation.Set, lines []transcript.Line, opts Options) (*excelize.File, error) {
	cats := opts.Categories
	if len(cats) == 0 {
		cats = set.Categories()
	}
	if len(cats) == 0 && len(opts.Notes) == 0 {
		return nil, fmt.Errorf("nothing to export")
	}

	f := excelize.NewFile()
	first := true
	used := map[string]bool{}
	addSheet := func(name string, grid [][]string) error {
		name = uniqueSheetName(SheetName(name), used)
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return err
			}
			first = false
		} else if _, err := f.NewSheet(name); err != nil {
			return err
		}
		return writeGrid(f, name, grid)
	}

	for _, c := range cats {
		if _, ok := set[c]; !ok {
			f.Close()
			return nil, fmt.Errorf("%w: %q", annotation.ErrUnknownCategory, c)
		}
		if err := addSheet(c, CategorySheet(c, set, lines)); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing sheet %q: %w", c, err)
		}
	}
	if len(opts.Notes) > 0 {
		if err := addSheet(NotesSheetName, NotesSheet(opts.Notes, lines)); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing notes sheet: %w", err)
		}
	}
	return f, nil
}

// Write builds the workbook and writes it to w.
func Write(w io.Writer, set annotation.Set, lines []transcript.Line, opts Options) error {
	f, err := Build(set, lines, opts)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// WriteFile builds the workbook and saves it at path.
func WriteFile(path string, set annotation.Set, lines []transcript.Line, opts Options) error {
	f, err := Build(set, lines, opts)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func writeGrid(f *excelize.File, sheet string, grid [][]string) error {
	for r, row := range grid {
		cells := make([]any, len(row))
		for i, v := range row {
			cells[i] = v
		}
		// Line numbers stay numeric so spreadsheet sorting works.
		if r > 0 && len(row) > 0 && sheet != NotesSheetName {
			if n, err := strconv.Atoi(row[0]); err == nil {
				cells[0] = n
			}
		}
		addr, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &cells); err != nil {
			return err
		}
	}
	return nil
}

// SheetName makes a category name legal as a sheet name: no []:*?/\ and at
// most 31 characters.
func SheetName(name string) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if clean == "" {
		clean = "Sheet"
	}
	if runes := []rune(clean); len(runes) > 31 {
		clean = string(runes[:31])
	}
	return clean
}

func uniqueSheetName(name string, used map[string]bool) string {
	candidate := name
	for i := 2; used[strings.ToLower(candidate)]; i++ {
		suffix := fmt.Sprintf(" (%d)", i)
		runes := []rune(name)
		if len(runes)+len(suffix) > 31 {
			runes = runes[:31-len(suffix)]
		}
		candidate = string(runes) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}
