package importer

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/tristate"
)

// workbook builds an xlsx in memory. Sheets are written in the given order;
// the first replaces the default sheet.
func workbook(t *testing.T, sheets []string, rows map[string][][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatalf("SetSheetName: %v", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatalf("NewSheet: %v", err)
		}
		for r, row := range rows[name] {
			cell, _ := excelize.CoordinatesToCellName(1, r+1)
			if err := f.SetSheetRow(name, cell, &row); err != nil {
				t.Fatalf("SetSheetRow: %v", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func testCodebook() *codebook.Codebook {
	return &codebook.Codebook{
		Categories: []string{"Discursive"},
		Features: map[string][]codebook.FeatureDef{
			"Discursive": {{Code: "A"}, {Code: "B"}},
		},
	}
}

func TestParse(t *testing.T) {
	data := workbook(t, []string{"Discursive", "Notes"}, map[string][][]any{
		"Discursive": {
			{"Line #", "Speaker", "Utterance", "A", "B", "Unused"},
			{1, "T", "hello", "1", "0", ""},
			{2, "S", "hi", "yes", "None", ""},
			{"3a", "S", "ok", "4", "", ""},
			{0, "S", "zero line", "1", "1", ""},
			{"", "S", "no line", "1", "1", ""},
			{4, "S", "none", "None", "null", ""},
		},
		"Notes": {
			{"Note ID", "Title"},
			{"1", "Fractions"},
		},
	})

	got, warnings, err := Parse("rater_jane.xlsx", data, nil, testCodebook())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if got.AnnotatorID != "rater_jane" || got.Source != SourceUpload {
		t.Errorf("AnnotatorID = %q, Source = %q", got.AnnotatorID, got.Source)
	}
	if !reflect.DeepEqual(got.Categories["Discursive"].Features, []string{"A", "B"}) {
		t.Errorf("features = %v, want [A B] (Unused dropped)", got.Categories["Discursive"].Features)
	}

	tests := []struct {
		line int
		code string
		want tristate.Value
	}{
		{1, "A", tristate.True},
		{1, "B", tristate.False},
		{2, "A", tristate.True},
		{2, "B", tristate.Absent()},
		{3, "A", tristate.Number(4)},
		{4, "A", tristate.Absent()},
		{4, "B", tristate.Absent()},
	}
	for _, tt := range tests {
		if v := got.Value(tt.line, "Discursive", tt.code); !v.Equal(tt.want) {
			t.Errorf("line %d code %s = %v, want %v", tt.line, tt.code, v, tt.want)
		}
	}
	if _, ok := got.Annotations[0]; ok {
		t.Error("line 0 should be skipped")
	}
	if _, ok := got.Annotations[2]["Discursive"]["B"]; ok {
		t.Error("None cell must be omitted, not stored")
	}

	if got.HasCategory("Notes") {
		t.Error("Notes sheet must not become a category")
	}
	if len(got.NotesSheet) != 1 || got.NotesSheet[0]["Title"] != "Fractions" {
		t.Errorf("NotesSheet = %v", got.NotesSheet)
	}
}

func TestParse_Warnings(t *testing.T) {
	data := workbook(t, []string{"Discursive", "Mystery", "NoLines"}, map[string][][]any{
		"Discursive": {
			{"Line", "A", "Z"},
			{1, "1", "1"},
		},
		"Mystery": {
			{"Line", "Q"},
			{1, "1"},
		},
		"NoLines": {
			{"Speaker", "A"},
			{"T", "1"},
		},
	})

	_, warnings, err := Parse("r.xlsx", data, nil, testCodebook())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	var msgs []string
	for _, w := range warnings {
		msgs = append(msgs, w.Message)
	}
	joined := strings.Join(msgs, "\n")
	for _, want := range []string{
		`Sheet "NoLines" skipped: no line number column`,
		`Feature "Z" in category "Discursive" not found in codebook`,
		`Category "Mystery" not found in feature definition codebook`,
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q; got:\n%s", want, joined)
		}
	}
}

func TestParse_DuplicateAnnotator(t *testing.T) {
	existing := []AnnotatorData{{AnnotatorID: "jane"}}
	_, _, err := Parse("jane.xlsx", []byte("not a workbook"), existing, nil)
	if !errors.Is(err, ErrDuplicateAnnotator) {
		t.Fatalf("Parse() error = %v, want ErrDuplicateAnnotator", err)
	}
}

func TestParse_Errors(t *testing.T) {
	t.Run("unreadable", func(t *testing.T) {
		_, _, err := Parse("x.xlsx", []byte("garbage"), nil, nil)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse() error = %v, want *ParseError", err)
		}
		if pe.Filename != "x.xlsx" {
			t.Errorf("Filename = %q", pe.Filename)
		}
	})

	t.Run("no line column anywhere", func(t *testing.T) {
		data := workbook(t, []string{"D"}, map[string][][]any{
			"D": {{"Speaker", "A"}, {"T", "1"}},
		})
		_, warnings, err := Parse("x.xlsx", data, nil, nil)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse() error = %v, want *ParseError", err)
		}
		if len(warnings) != 1 {
			t.Errorf("warnings = %v, want the skipped-sheet warning", warnings)
		}
	})
}

func TestParseLineNumber(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"12", 12, true},
		{" 7 ", 7, true},
		{"3.0", 3, true},
		{"15abc", 15, true},
		{"0", 0, false},
		{"", 0, false},
		{"abc", 0, false},
		{"-", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseLineNumber(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseLineNumber(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFromLLM(t *testing.T) {
	resp := LLMAnnotations{
		"Discursive": {
			"1": {"A": true, "B": false},
			"2": {"A": "None", "C": 1},
			"x": {"A": true},
		},
	}
	got, warnings, err := FromLLM("gpt-run", "", resp, nil, testCodebook())
	if err != nil {
		t.Fatalf("FromLLM() error = %v", err)
	}
	if got.Source != SourceLLM || got.DisplayName != "gpt-run" {
		t.Errorf("Source = %q, DisplayName = %q", got.Source, got.DisplayName)
	}
	if !reflect.DeepEqual(got.Categories["Discursive"].Features, []string{"A", "B", "C"}) {
		t.Errorf("features = %v", got.Categories["Discursive"].Features)
	}
	if !got.Value(1, "Discursive", "B").IsFalse() {
		t.Error("explicit false should be kept")
	}
	if !got.Value(2, "Discursive", "A").IsAbsent() {
		t.Error("None should be absent")
	}
	if len(warnings) != 1 || warnings[0].Feature != "C" {
		t.Errorf("warnings = %v, want one for C", warnings)
	}

	if _, _, err := FromLLM("gpt-run", "", resp, []AnnotatorData{*got}, nil); !errors.Is(err, ErrDuplicateAnnotator) {
		t.Errorf("FromLLM() duplicate error = %v", err)
	}
}
