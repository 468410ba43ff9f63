package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/matsen/annot/internal/annotation"
	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/llm"
	"github.com/matsen/annot/internal/notes"
	"github.com/matsen/annot/internal/session"
	"github.com/matsen/annot/internal/workspace"
)

func TestExpandPatterns(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"alice.xlsx", "sub/bob.xlsx", "sub/deep/carol.XLSX", "notes.csv"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := expandPatterns([]string{
		filepath.Join(dir, "**", "*.{xlsx,XLSX}"),
		filepath.Join(dir, "alice.xlsx"),
		filepath.Join(dir, "notes.csv"),
	})
	if err != nil {
		t.Fatalf("expandPatterns() error = %v", err)
	}
	want := []string{
		filepath.Join(dir, "alice.xlsx"),
		filepath.Join(dir, "notes.csv"),
		filepath.Join(dir, "sub", "bob.xlsx"),
		filepath.Join(dir, "sub", "deep", "carol.XLSX"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expandPatterns() = %v, want %v", got, want)
	}

	got, err = expandPatterns([]string{filepath.Join(dir, "*.json")})
	if err != nil || len(got) != 0 {
		t.Errorf("no matches: got %v, %v", got, err)
	}

	if _, err := expandPatterns([]string{"raters/[a"}); err == nil {
		t.Error("expandPatterns() should reject a bad pattern")
	}
}

func TestParseFeatureSelection(t *testing.T) {
	cb := &codebook.Codebook{
		Categories: []string{"Discourse", "Conceptual"},
		Features: map[string][]codebook.FeatureDef{
			"Discourse":  {{Code: "revoicing"}, {Code: "pressing"}},
			"Conceptual": {{Code: "reasoning"}, {Code: "none"}},
		},
	}

	tests := []struct {
		name    string
		args    []string
		want    map[string][]string
		wantErr bool
	}{
		{"none", nil, nil, false},
		{"whole category", []string{"Discourse"}, map[string][]string{"Discourse": {"revoicing", "pressing"}}, false},
		{"codes", []string{"Conceptual:reasoning", "Discourse:pressing"}, map[string][]string{
			"Conceptual": {"reasoning"},
			"Discourse":  {"pressing"},
		}, false},
		{"unknown category", []string{"Affect"}, nil, true},
		{"unknown code", []string{"Discourse:silence"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFeatureSelection(cb, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFeatureSelection() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseFeatureSelection() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := parseFeatureSelection(cb, []string{"Affect"}); !errors.Is(err, codebook.ErrUnknownCategory) {
		t.Errorf("error = %v, want ErrUnknownCategory", err)
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrNoCodebook, ExitConfigError},
		{fmt.Errorf("wrapped: %w", notes.ErrNoteNotFound), ExitDataError},
		{&importer.ParseError{Filename: "a.xlsx", Err: errors.New("bad")}, ExitDataError},
		{fmt.Errorf("%w: x", importer.ErrDuplicateAnnotator), ExitDataError},
		{fmt.Errorf("%w: line 4", annotation.ErrNotSelectable), ExitDataError},
		{fmt.Errorf("%w: codebook: bad", workspace.ErrCorruptRecord), ExitDataError},
		{errors.New("disk on fire"), ExitError},
	}
	for _, tt := range tests {
		if got := exitCodeFor(tt.err); got != tt.want {
			t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestLLMExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("all 2 batches failed: %w", llm.ErrAuthError), ExitLLMAuthError},
		{fmt.Errorf("all 1 batches failed: %w", &llm.APIError{StatusCode: 500}), ExitLLMAPIError},
		{llm.ErrNoEndpoint, ExitConfigError},
		{errors.New("no features selected"), ExitError},
	}
	for _, tt := range tests {
		if got := llmExitCode(tt.err); got != tt.want {
			t.Errorf("llmExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestFormatting(t *testing.T) {
	if got := exportFilename("week 1/lesson"); got != "week_1_lesson.xlsx" {
		t.Errorf("exportFilename() = %q", got)
	}
	if got := truncateString("line one\nline two", 12); got != "line one ..." {
		t.Errorf("truncateString() = %q", got)
	}
	if got := joinInts([]int{3, 5, 8}); got != "3, 5, 8" {
		t.Errorf("joinInts() = %q", got)
	}
	if got := formatOptional(nil); got != "n/a" {
		t.Errorf("formatOptional(nil) = %q", got)
	}
	v := 0.5
	if got := formatOptional(&v); got != "0.500" {
		t.Errorf("formatOptional(0.5) = %q", got)
	}
}
