package codebook

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ParseXLSX reads a codebook workbook: one sheet per category, with a
// header row naming Code, Definition, Example1, Example2, NonExample1 and
// NonExample2 columns (case-insensitive). Sheets without a Code column are
// ignored.
func ParseXLSX(data []byte) (*Codebook, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("codebook data is empty")
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening codebook workbook: %w", err)
	}
	defer f.Close()

	cb := &Codebook{Features: map[string][]FeatureDef{}}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		cols := headerColumns(rows[0])
		codeIdx, ok := cols["code"]
		if !ok {
			continue
		}

		var defs []FeatureDef
		for _, row := range rows[1:] {
			code := strings.TrimSpace(cell(row, codeIdx))
			if code == "" {
				continue
			}
			defs = append(defs, FeatureDef{
				Code:        code,
				Definition:  cellByName(row, cols, "definition"),
				Example1:    cellByName(row, cols, "example1"),
				Example2:    cellByName(row, cols, "example2"),
				NonExample1: cellByName(row, cols, "nonexample1"),
				NonExample2: cellByName(row, cols, "nonexample2"),
			})
		}

		cb.Categories = append(cb.Categories, sheet)
		cb.Features[sheet] = defs
	}

	if len(cb.Categories) == 0 {
		return nil, fmt.Errorf("no codebook sheets found (need a Code column)")
	}
	return cb, nil
}

// headerColumns maps normalized header names (lowercase, no spaces or
// underscores) to column indices. The first occurrence wins.
func headerColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
		if _, dup := cols[key]; !dup && key != "" {
			cols[key] = i
		}
	}
	return cols
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func cellByName(row []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok {
		return ""
	}
	return cell(row, idx)
}
