package importer

import (
	"time"

	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/tristate"
)

// LLMAnnotations is the provider's response shape: category, then line
// number, then code, then raw value.
type LLMAnnotations map[string]map[string]map[string]any

// FromLLM converts a model's annotations into AnnotatorData. Values go
// through the same normalizer as uploaded cells, and line keys that carry
// no line number are skipped. Features are listed in sorted order since the
// response carries no column order.
func FromLLM(annotatorID, displayName string, resp LLMAnnotations, existing []AnnotatorData, cb *codebook.Codebook) (*AnnotatorData, []Warning, error) {
	if err := CheckDuplicate(annotatorID, existing); err != nil {
		return nil, nil, err
	}
	if displayName == "" {
		displayName = annotatorID
	}

	out := &AnnotatorData{
		AnnotatorID: annotatorID,
		DisplayName: displayName,
		UploadedAt:  time.Now().UTC(),
		Source:      SourceLLM,
		Categories:  map[string]CategoryFeatures{},
		Annotations: map[int]map[string]map[string]tristate.Value{},
	}

	for _, category := range sortedKeys(resp) {
		seen := map[string]bool{}
		for lineKey, codes := range resp[category] {
			line, ok := parseLineNumber(lineKey)
			if !ok {
				continue
			}
			for code, raw := range codes {
				v := tristate.Normalize(raw)
				if v.IsAbsent() {
					continue
				}
				seen[code] = true
				set(out, line, category, code, v)
			}
		}
		if len(seen) > 0 {
			out.Categories[category] = CategoryFeatures{Features: sortedKeys(seen)}
		}
	}

	return out, Validate(out, cb), nil
}
