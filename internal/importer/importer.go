// Package importer parses annotation workbooks produced by other raters (or
// by a model) into AnnotatorData, the shape the agreement statistics read.
package importer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/tristate"
)

// Source records where an annotator's data came from.
type Source string

const (
	SourceUpload Source = "upload"
	SourceCloud  Source = "cloud"
	SourceLLM    Source = "llm"
)

// CategoryFeatures lists the features a rater actually filled in for one
// category.
type CategoryFeatures struct {
	Features []string `json:"features"`
}

// AnnotatorData is one external rater's annotations, keyed by line number
// because the upload was produced independently of the current row order.
// A missing key means the rater did not annotate that cell.
type AnnotatorData struct {
	AnnotatorID string                                       `json:"annotatorId"`
	DisplayName string                                       `json:"displayName"`
	Description string                                       `json:"description,omitempty"`
	Notes       string                                       `json:"notes,omitempty"`
	Filename    string                                       `json:"filename,omitempty"`
	UploadedAt  time.Time                                    `json:"uploadedAt"`
	Source      Source                                       `json:"source"`
	Categories  map[string]CategoryFeatures                  `json:"categories"`
	Annotations map[int]map[string]map[string]tristate.Value `json:"annotations"`
	NotesSheet  []map[string]string                          `json:"notesSheet,omitempty"`
}

// Value returns the rater's value for (line, category, code), or Absent.
func (a *AnnotatorData) Value(line int, category, code string) tristate.Value {
	return a.Annotations[line][category][code]
}

// HasCategory reports whether the rater filled in any feature of category.
func (a *AnnotatorData) HasCategory(category string) bool {
	_, ok := a.Categories[category]
	return ok
}

// ErrDuplicateAnnotator is returned when an upload's annotator id is
// already loaded.
var ErrDuplicateAnnotator = errors.New("duplicate annotator ID")

// ParseError reports an upload that could not be turned into
// AnnotatorData. It aborts only that upload.
type ParseError struct {
	Filename string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to parse %s: %s: %v", e.Filename, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Filename, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Warning is a non-fatal problem found while importing.
type Warning struct {
	Category string `json:"category,omitempty"`
	Feature  string `json:"feature,omitempty"`
	Message  string `json:"message"`
}

func (w Warning) String() string {
	return w.Message
}

// AnnotatorID derives the annotator id from an upload's filename.
func AnnotatorID(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// CheckDuplicate rejects id when an annotator with the same id is loaded.
func CheckDuplicate(id string, existing []AnnotatorData) error {
	for _, a := range existing {
		if a.AnnotatorID == id {
			return fmt.Errorf("%w: %s", ErrDuplicateAnnotator, id)
		}
	}
	return nil
}

// Validate checks the rater's categories and features against cb. Unknown
// names produce warnings, never errors. A nil codebook validates nothing.
func Validate(data *AnnotatorData, cb *codebook.Codebook) []Warning {
	if cb == nil {
		return nil
	}
	var warnings []Warning
	for _, category := range sortedKeys(data.Categories) {
		if !cb.HasCategory(category) {
			warnings = append(warnings, Warning{
				Category: category,
				Message:  fmt.Sprintf("Category %q not found in feature definition codebook", category),
			})
			continue
		}
		for _, feature := range data.Categories[category].Features {
			if !cb.HasCode(category, feature) {
				warnings = append(warnings, Warning{
					Category: category,
					Feature:  feature,
					Message:  fmt.Sprintf("Feature %q in category %q not found in codebook", feature, category),
				})
			}
		}
	}
	return warnings
}
