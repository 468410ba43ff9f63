package export

import (
	"bytes"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/matsen/annot/internal/annotation"
	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/notes"
	"github.com/matsen/annot/internal/transcript"
	"github.com/matsen/annot/internal/tristate"
)

func fixture(t *testing.T) (annotation.Set, []transcript.Line) {
	t.Helper()
	cb := &codebook.Codebook{
		Categories: []string{"Discursive"},
		Features:   map[string][]codebook.FeatureDef{"Discursive": {{Code: "A"}, {Code: "B"}}},
	}
	lines := make([]transcript.Line, 5)
	for i := range lines {
		lines[i] = transcript.Line{RowIndex: i, LineNumber: i + 1, Speaker: "S", Utterance: "u" + string(rune('a'+i)), Selectable: true}
	}
	set, _ := annotation.Reconcile(nil, cb, len(lines))
	set, err := annotation.SetValue(set, "Discursive", 2, "A", tristate.True)
	if err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	return set, lines
}

func TestCategorySheet_Scenario(t *testing.T) {
	set, lines := fixture(t)
	grid := CategorySheet("Discursive", set, lines)

	if !reflect.DeepEqual(grid[0], []string{"Line #", "Speaker", "Utterance", "A", "B"}) {
		t.Fatalf("header = %v", grid[0])
	}
	for r, row := range grid[1:] {
		for c, code := range []string{"A", "B"} {
			want := "0"
			if r == 2 && code == "A" {
				want = "1"
			}
			if got := row[3+c]; got != want {
				t.Errorf("row %d col %s = %q, want %q", r, code, got, want)
			}
		}
	}
}

func TestCategorySheet_NonSelectableEmpty(t *testing.T) {
	set, lines := fixture(t)
	lines[2].Selectable = false

	row := CategorySheet("Discursive", set, lines)[3]
	if row[3] != "" || row[4] != "" {
		t.Errorf("non-selectable row = %v, want empty feature cells", row)
	}
	if row[0] != "3" || row[2] != "uc" {
		t.Errorf("non-selectable row should still carry line and utterance: %v", row)
	}
}

func TestNotesSheet(t *testing.T) {
	_, lines := fixture(t)
	ns := []notes.Note{{ID: 3, Title: "Fractions", Content1: "abs", Content2: "full", LineNumbers: []int{1, 4}}}

	grid := NotesSheet(ns, lines)
	if !reflect.DeepEqual(grid[0], NotesHeader) {
		t.Errorf("header = %v", grid[0])
	}
	want := []string{"3", "Fractions", "abs", "full", "1, 4", "1: ua\n4: ud"}
	if !reflect.DeepEqual(grid[1], want) {
		t.Errorf("row = %q, want %q", grid[1], want)
	}
}

func TestWrite_ImportRoundTrip(t *testing.T) {
	set, lines := fixture(t)
	set, _ = annotation.SetValue(set, "Discursive", 4, "B", tristate.Number(7))
	lines[0].Selectable = false

	var buf bytes.Buffer
	err := Write(&buf, set, lines, Options{Notes: []notes.Note{{ID: 1, Title: "n", LineNumbers: []int{2}}}})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, warnings, err := importer.Parse("me.xlsx", buf.Bytes(), nil, nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	if !got.Value(3, "Discursive", "A").IsTrue() {
		t.Error("line 3 A should import as true")
	}
	if !got.Value(2, "Discursive", "B").IsFalse() {
		t.Error("line 2 B should import as false")
	}
	if n, ok := got.Value(5, "Discursive", "B").NumberValue(); !ok || n != 7 {
		t.Errorf("line 5 B = %v, want 7", got.Value(5, "Discursive", "B"))
	}
	if !got.Value(1, "Discursive", "A").IsAbsent() {
		t.Error("non-selectable line should import as absent")
	}
	if got.HasCategory(NotesSheetName) || len(got.NotesSheet) != 1 {
		t.Errorf("notes sheet handling wrong: categories %v, notes %v", got.Categories, got.NotesSheet)
	}
}

func TestWriteFile(t *testing.T) {
	set, lines := fixture(t)
	path := filepath.Join(t.TempDir(), "out.xlsx")
	if err := WriteFile(path, set, lines, Options{}); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	if got := f.GetSheetList(); !reflect.DeepEqual(got, []string{"Discursive"}) {
		t.Errorf("sheets = %v", got)
	}
}

func TestBuild_Errors(t *testing.T) {
	set, lines := fixture(t)
	if _, err := Build(set, lines, Options{Categories: []string{"Nope"}}); err == nil {
		t.Error("Build() should reject unknown categories")
	}
	if _, err := Build(annotation.Set{}, lines, Options{}); err == nil {
		t.Error("Build() should reject an empty export")
	}
}

func TestSheetName(t *testing.T) {
	if got := SheetName("a/b:c"); got != "a_b_c" {
		t.Errorf("SheetName() = %q", got)
	}
	long := strings.Repeat("x", 40)
	if got := SheetName(long); len(got) != 31 {
		t.Errorf("SheetName() length = %d, want 31", len(got))
	}

	used := map[string]bool{}
	a := uniqueSheetName("Cat", used)
	b := uniqueSheetName("cat", used)
	if a != "Cat" || b != "cat (2)" {
		t.Errorf("uniqueSheetName() = %q, %q", a, b)
	}
}
