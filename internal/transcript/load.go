package transcript

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Load reads a transcript table from a CSV or XLSX file (first sheet),
// choosing the format by extension.
func Load(path string) ([]Line, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}

	var rows [][]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSXRows(data)
	default:
		rows, err = readCSVRows(data)
	}
	if err != nil {
		return nil, err
	}
	return FromRows(rows)
}

func readCSVRows(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	// Allow ragged rows; transcripts exported from spreadsheets often are.
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func readXLSXRows(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening transcript workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in transcript workbook")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// columns records where each known transcript column sits. -1 means
// missing.
type columns struct {
	line, speaker, utterance, selectable int
}

func detectColumns(header []string) columns {
	c := columns{line: -1, speaker: -1, utterance: -1, selectable: -1}
	for i, h := range header {
		lower := strings.ToLower(strings.TrimSpace(h))
		switch {
		case c.line < 0 && strings.Contains(lower, "line"):
			c.line = i
		case c.speaker < 0 && strings.Contains(lower, "speaker"):
			c.speaker = i
		case c.utterance < 0 && strings.Contains(lower, "utterance"):
			c.utterance = i
		case c.selectable < 0 && strings.Contains(lower, "selectable"):
			c.selectable = i
		}
	}
	return c
}

// FromRows converts a header row plus data rows into Lines. Without a line
// number column, line numbers follow row order starting at 1. Without a
// selectable column, every row is selectable. Blank rows are dropped.
func FromRows(rows [][]string) ([]Line, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("transcript has no header row")
	}
	cols := detectColumns(rows[0])
	if cols.utterance < 0 {
		return nil, fmt.Errorf("transcript has no utterance column (header: %v)", rows[0])
	}

	var lines []Line
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}

		rowIndex := len(lines)
		lineNumber := rowIndex + 1
		if cols.line >= 0 {
			raw := strings.TrimSpace(cell(row, cols.line))
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid line number %q", i+2, raw)
			}
			lineNumber = n
		}

		selectable := true
		if cols.selectable >= 0 {
			selectable = IsSelectableValue(cell(row, cols.selectable))
		}

		lines = append(lines, Line{
			RowIndex:   rowIndex,
			LineNumber: lineNumber,
			Speaker:    strings.TrimSpace(cell(row, cols.speaker)),
			Utterance:  cell(row, cols.utterance),
			Selectable: selectable,
		})
	}
	return lines, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
