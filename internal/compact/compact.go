// Package compact converts annotation sets to and from the sparse form used
// for size-constrained persistence.
package compact

import (
	"encoding/json"
	"fmt"

	"github.com/matsen/annot/internal/annotation"
	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/tristate"
)

// Version is the compact envelope format version.
const Version = 1

// Form is the compact envelope. Only values other than false are stored.
type Form struct {
	V          int                  `json:"v"`
	Categories map[string]*Category `json:"categories"`
}

// Category is one category in compact form. Rows with no stored values are
// omitted from Annotations.
type Category struct {
	Codes       []string                          `json:"codes"`
	Definitions map[string]codebook.FeatureDef    `json:"definitions"`
	Annotations map[int]map[string]tristate.Value `json:"annotations"`
}

// Optimize drops every explicit false from set.
func Optimize(set annotation.Set) Form {
	form := Form{V: Version, Categories: make(map[string]*Category, len(set))}
	for name, cat := range set {
		sparse := make(map[int]map[string]tristate.Value)
		for row, vals := range cat.Annotations {
			for code, v := range vals {
				if v.IsFalse() || v.IsAbsent() {
					continue
				}
				if sparse[row] == nil {
					sparse[row] = make(map[string]tristate.Value)
				}
				sparse[row][code] = v
			}
		}
		form.Categories[name] = &Category{
			Codes:       cat.Codes,
			Definitions: cat.Definitions,
			Annotations: sparse,
		}
	}
	return form
}

// Encode is Optimize followed by JSON encoding.
func Encode(set annotation.Set) ([]byte, error) {
	data, err := json.Marshal(Optimize(set))
	if err != nil {
		return nil, fmt.Errorf("encoding compact form: %w", err)
	}
	return data, nil
}

// Restore decodes a stored payload for a transcript of n rows.
//
// A payload that already decodes as a dense set covering every row and code
// is returned unchanged, whatever its category names. Otherwise a compact
// envelope expands to a dense grid in which every omitted key is false, and
// a dense payload with gaps has them filled with false. Structurally invalid
// payloads return annotation.ErrStructuralCorruption.
func Restore(raw []byte, n int) (annotation.Set, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", annotation.ErrStructuralCorruption, err)
	}

	dense, denseErr := annotation.Decode(raw)
	if denseErr == nil && dense.Complete(n) {
		return dense, nil
	}

	_, hasV := top["v"]
	_, hasCats := top["categories"]
	if hasV && hasCats {
		var form Form
		err := json.Unmarshal(raw, &form)
		switch {
		case err == nil && form.V > Version:
			return nil, fmt.Errorf("%w: compact version %d is newer than %d", annotation.ErrStructuralCorruption, form.V, Version)
		case err == nil:
			return Expand(form, n), nil
		case denseErr != nil:
			return nil, fmt.Errorf("%w: %v", annotation.ErrStructuralCorruption, err)
		}
	}

	if denseErr != nil {
		return nil, denseErr
	}
	return fillDense(dense, n), nil
}

// Expand is the in-memory half of Restore.
func Expand(form Form, n int) annotation.Set {
	set := make(annotation.Set, len(form.Categories))
	for name, cat := range form.Categories {
		if cat == nil {
			continue
		}
		set[name] = &annotation.Category{
			Codes:       cat.Codes,
			Definitions: cat.Definitions,
			Annotations: fill(cat.Codes, cat.Annotations, n),
		}
	}
	return set
}

func fillDense(set annotation.Set, n int) annotation.Set {
	for name, cat := range set {
		set[name] = &annotation.Category{
			Codes:       cat.Codes,
			Definitions: cat.Definitions,
			Annotations: fill(cat.Codes, cat.Annotations, n),
		}
	}
	return set
}

// fill builds a dense grid of n rows in which every code missing from
// stored, or stored as absent, is false.
func fill(codes []string, stored map[int]map[string]tristate.Value, n int) map[int]map[string]tristate.Value {
	grid := make(map[int]map[string]tristate.Value, n)
	for row := 0; row < n; row++ {
		vals := make(map[string]tristate.Value, len(codes))
		for _, code := range codes {
			v := stored[row][code]
			if v.IsAbsent() {
				v = tristate.False
			}
			vals[code] = v
		}
		grid[row] = vals
	}
	return grid
}
