package workspace

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/matsen/annot/internal/annotation"
	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/notes"
	"github.com/matsen/annot/internal/storage"
	"github.com/matsen/annot/internal/transcript"
	"github.com/matsen/annot/internal/tristate"
)

func testLines(n int) []transcript.Line {
	lines := make([]transcript.Line, n)
	for i := range lines {
		lines[i] = transcript.Line{
			RowIndex:   i,
			LineNumber: i + 1,
			Speaker:    "T",
			Utterance:  strings.Repeat("word ", 5),
			Selectable: true,
		}
	}
	return lines
}

func testCodebook() *codebook.Codebook {
	return &codebook.Codebook{
		Categories: []string{"Discursive"},
		Features: map[string][]codebook.FeatureDef{
			"Discursive": {{Code: "A"}, {Code: "B"}},
		},
	}
}

func TestStore_TableRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory(0), Options{})

	lines := testLines(3)
	if _, err := s.SaveTable("t1", lines); err != nil {
		t.Fatalf("SaveTable() error = %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	got, err := s.LoadTable(ctx, "t1")
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}
	if !reflect.DeepEqual(got, lines) {
		t.Errorf("LoadTable() = %+v, want %+v", got, lines)
	}

	missing, err := s.LoadTable(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("LoadTable(missing) = %v, %v", missing, err)
	}
}

func TestStore_TableChunking(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(0)
	s := New(mem, Options{ChunkSize: 64})

	big := testLines(20)
	s.SaveTable("t1", big)
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	keys, _ := mem.Keys(ctx, "t1/")
	if !contains(keys, "t1/table.chunks") || !contains(keys, "t1/table.chunk.0") {
		t.Fatalf("keys = %v, want chunk records", keys)
	}
	if contains(keys, "t1/table") {
		t.Error("plain table record should be removed once chunked")
	}

	got, err := s.LoadTable(ctx, "t1")
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}
	if !reflect.DeepEqual(got, big) {
		t.Error("chunked table did not reassemble")
	}

	// Shrinking back under the chunk size drops the chunks.
	small := testLines(0)
	s.SaveTable("t1", small)
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	keys, _ = mem.Keys(ctx, "t1/")
	if !reflect.DeepEqual(keys, []string{"t1/table"}) {
		t.Errorf("keys after shrink = %v", keys)
	}
}

func TestStore_Annotations(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory(0), Options{})
	cb := testCodebook()

	set, _ := annotation.Reconcile(nil, cb, 3)
	set, _ = annotation.SetValue(set, "Discursive", 2, "B", tristate.True)

	if w, err := s.SaveAnnotations("t1", set); w != nil || err != nil {
		t.Fatalf("SaveAnnotations() = %v, %v", w, err)
	}
	s.Flush(ctx)

	got, err := s.LoadAnnotations(ctx, "t1", 3)
	if err != nil {
		t.Fatalf("LoadAnnotations() error = %v", err)
	}
	if !got.Get("Discursive", 2, "B").IsTrue() || !got.Get("Discursive", 0, "A").IsFalse() {
		t.Errorf("restored set = %+v", got["Discursive"].Annotations)
	}
	if !got.Complete(3) {
		t.Error("restored set is not complete")
	}
}

func TestStore_CorruptAnnotationsIsolated(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(0)
	s := New(mem, Options{})

	lines := testLines(2)
	s.SaveTable("t1", lines)
	s.Flush(ctx)
	mem.Set(ctx, Key("t1", RecordAnnotations), []byte(`{"Discursive": {"codes": "oops", "annotations": []}}`))

	set, err := s.LoadAnnotations(ctx, "t1", 2)
	if err != nil || set != nil {
		t.Errorf("LoadAnnotations(corrupt) = %v, %v, want nil, nil", set, err)
	}
	got, err := s.LoadTable(ctx, "t1")
	if err != nil || len(got) != 2 {
		t.Errorf("table should load despite corrupt annotations: %v, %v", got, err)
	}
}

func TestStore_UndecodableRecords(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory(0)
	s := New(mem, Options{})

	mem.Set(ctx, Key("t1", RecordTable), []byte(`{"rows": 1}`))
	mem.Set(ctx, Key("t1", RecordNotes), []byte(`{"version":2,"notes":"garbage"}`))
	mem.Set(ctx, Key("t2", RecordNotes), []byte(`{"version":9,"notes":[]}`))
	mem.Set(ctx, Key("t1", RecordAnnotators), []byte(`[1, 2]`))
	mem.Set(ctx, CodebookKey, []byte(`{"categories": 5}`))

	tests := []struct {
		name string
		load func() error
	}{
		{"table", func() error { _, err := s.LoadTable(ctx, "t1"); return err }},
		{"notes", func() error { _, err := s.LoadNotes(ctx, "t1", testLines(1)); return err }},
		{"newer notes", func() error { _, err := s.LoadNotes(ctx, "t2", nil); return err }},
		{"annotators", func() error { _, err := s.LoadAnnotators(ctx, "t1"); return err }},
		{"codebook", func() error { _, err := s.LoadCodebook(ctx); return err }},
	}
	for _, tt := range tests {
		if err := tt.load(); !errors.Is(err, ErrCorruptRecord) {
			t.Errorf("%s: error = %v, want ErrCorruptRecord", tt.name, err)
		}
	}
}

func TestStore_QuotaWarning(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory(10), Options{})

	set, _ := annotation.Reconcile(nil, testCodebook(), 50)
	if _, err := s.SaveAnnotations("t1", set); err != nil {
		t.Fatalf("SaveAnnotations() error = %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() must not surface quota errors, got %v", err)
	}

	w, err := s.SaveAnnotations("t1", set)
	if err != nil {
		t.Fatalf("SaveAnnotations() error = %v", err)
	}
	if w == nil || s.Degraded() == nil {
		t.Error("expected a degraded-persistence warning")
	}
}

func TestStore_Notes(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory(0), Options{})

	lines := testLines(4)
	st, err := s.LoadNotes(ctx, "t1", lines)
	if err != nil {
		t.Fatalf("LoadNotes(empty) error = %v", err)
	}
	st, n1, _ := notes.Create(st, []int{0, 2})
	st, n2, _ := notes.Create(st, []int{3})
	st, _ = notes.Delete(st, n1.ID)

	if _, err := s.SaveNotes("t1", st); err != nil {
		t.Fatalf("SaveNotes() error = %v", err)
	}
	s.Flush(ctx)

	rows, _ := s.LoadTable(ctx, "t1")
	got, err := s.LoadNotes(ctx, "t1", rows)
	if err != nil {
		t.Fatalf("LoadNotes() error = %v", err)
	}
	if _, ok := got.Find(n2.ID); !ok || len(got.Notes) != 1 {
		t.Errorf("notes = %+v", got.Notes)
	}
	if got.Rows[3].NoteIDs != "2" {
		t.Errorf("row 3 NoteIDs = %q, want 2", got.Rows[3].NoteIDs)
	}
	// The freed id is reused.
	_, n3, _ := notes.Create(got, []int{1})
	if n3.ID != n1.ID {
		t.Errorf("next id = %d, want recycled %d", n3.ID, n1.ID)
	}
}

func TestStore_NotesLegacyRows(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory(0), Options{})

	lines := testLines(3)
	lines[0].LegacyNotes = "Goal"
	lines[2].LegacyNotes = "goal, Other"

	st, err := s.LoadNotes(ctx, "t1", lines)
	if err != nil {
		t.Fatalf("LoadNotes() error = %v", err)
	}
	if len(st.Notes) != 2 {
		t.Fatalf("migrated notes = %+v, want 2", st.Notes)
	}
	if st.Rows[2].NoteIDs != "1,2" || st.Rows[0].LegacyNotes != "" {
		t.Errorf("rows = %+v", st.Rows)
	}
}

func TestStore_AnnotatorsAndCodebook(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory(0), Options{})

	ann := []importer.AnnotatorData{{
		AnnotatorID: "alice",
		Source:      importer.SourceUpload,
		Annotations: map[int]map[string]map[string]tristate.Value{
			1: {"Discursive": {"A": tristate.True}},
		},
	}}
	s.SaveAnnotators("t1", ann)
	s.SaveCodebook(testCodebook())
	s.Flush(ctx)

	got, err := s.LoadAnnotators(ctx, "t1")
	if err != nil {
		t.Fatalf("LoadAnnotators() error = %v", err)
	}
	if len(got) != 1 || !got[0].Value(1, "Discursive", "A").IsTrue() {
		t.Errorf("annotators = %+v", got)
	}

	cb, err := s.LoadCodebook(ctx)
	if err != nil {
		t.Fatalf("LoadCodebook() error = %v", err)
	}
	if !reflect.DeepEqual(cb.Codes("Discursive"), []string{"A", "B"}) {
		t.Errorf("codes = %v", cb.Codes("Discursive"))
	}
}

func TestStore_TranscriptsAndClear(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory(0), Options{ChunkSize: 64})

	s.SaveTable("small", testLines(1))
	s.SaveTable("big", testLines(20))
	s.SaveAnnotators("big", nil)
	s.Flush(ctx)

	ids, err := s.Transcripts(ctx)
	if err != nil {
		t.Fatalf("Transcripts() error = %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"big", "small"}) {
		t.Errorf("Transcripts() = %v", ids)
	}

	if err := s.Clear(ctx, "big"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	ids, _ = s.Transcripts(ctx)
	if !reflect.DeepEqual(ids, []string{"small"}) {
		t.Errorf("Transcripts() after Clear = %v", ids)
	}
}

func contains(keys []string, k string) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}
