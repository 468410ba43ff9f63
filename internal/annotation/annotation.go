// Package annotation holds the active annotator's per-row feature state and
// keeps it consistent with an evolving codebook.
package annotation

import (
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/tristate"
)

// Category is one category's annotation grid.
//
// Annotations is keyed by row index, then by code. A Category reachable from
// a Set is shared between snapshots and must not be mutated; the operations
// in this package copy what they change.
type Category struct {
	Codes       []string                          `json:"codes"`
	Definitions map[string]codebook.FeatureDef    `json:"definitions"`
	Annotations map[int]map[string]tristate.Value `json:"annotations"`
}

// Set is the active annotator's annotation state, keyed by category.
type Set map[string]*Category

// Errors returned by the edit operations.
var (
	ErrStructuralCorruption = errors.New("stored annotation set is structurally corrupt")
	ErrUnknownCategory      = errors.New("unknown category")
	ErrUnknownCode          = errors.New("unknown feature code")
	ErrUnknownRow           = errors.New("row has no annotation entry")
	ErrAbsentValue          = errors.New("absent is not a valid value for the active annotator")
	ErrNotSelectable        = errors.New("row is not selectable")
)

// Get returns the value at (category, row, code), or Absent when any level
// is missing.
func (s Set) Get(category string, row int, code string) tristate.Value {
	cat, ok := s[category]
	if !ok {
		return tristate.Absent()
	}
	return cat.Annotations[row][code]
}

// Categories returns the set's category names in sorted order.
func (s Set) Categories() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CategoryRows returns a category's codes and, for each row below n, its
// values in code order. An unknown category yields no codes.
func (s Set) CategoryRows(category string, n int) ([]string, [][]tristate.Value) {
	cat, ok := s[category]
	if !ok || cat == nil {
		return nil, make([][]tristate.Value, n)
	}
	rows := make([][]tristate.Value, n)
	for row := range rows {
		vals := make([]tristate.Value, len(cat.Codes))
		for i, code := range cat.Codes {
			vals[i] = cat.Annotations[row][code]
		}
		rows[row] = vals
	}
	return cat.Codes, rows
}

// Complete reports whether every row below n holds a non-absent value for
// every code of every category.
func (s Set) Complete(n int) bool {
	for _, cat := range s {
		if !cat.complete(n) {
			return false
		}
	}
	return true
}

func (c *Category) complete(n int) bool {
	if c == nil || len(c.Annotations) != n {
		return false
	}
	for row := 0; row < n; row++ {
		vals, ok := c.Annotations[row]
		if !ok {
			return false
		}
		for _, code := range c.Codes {
			if vals[code].IsAbsent() {
				return false
			}
		}
	}
	return true
}

// Toggle flips a boolean cell. Numeric and string cells become true.
func Toggle(s Set, category string, row int, code string) (Set, error) {
	cur, err := lookup(s, category, row, code)
	if err != nil {
		return nil, err
	}
	next := tristate.True
	if b, ok := cur.BoolValue(); ok {
		next = tristate.Bool(!b)
	}
	return with(s, category, row, code, next), nil
}

// SetValue stores v at (category, row, code).
func SetValue(s Set, category string, row int, code string, v tristate.Value) (Set, error) {
	if v.IsAbsent() {
		return nil, ErrAbsentValue
	}
	if _, err := lookup(s, category, row, code); err != nil {
		return nil, err
	}
	return with(s, category, row, code, v), nil
}

func lookup(s Set, category string, row int, code string) (tristate.Value, error) {
	cat, ok := s[category]
	if !ok {
		return tristate.Value{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	known := false
	for _, c := range cat.Codes {
		if c == code {
			known = true
			break
		}
	}
	if !known {
		return tristate.Value{}, fmt.Errorf("%w: %q in category %q", ErrUnknownCode, code, category)
	}
	vals, ok := cat.Annotations[row]
	if !ok {
		return tristate.Value{}, fmt.Errorf("%w: %d", ErrUnknownRow, row)
	}
	return vals[code], nil
}

// with returns a copy of s in which only the touched category and row are
// new allocations.
func with(s Set, category string, row int, code string, v tristate.Value) Set {
	out := make(Set, len(s))
	maps.Copy(out, s)

	old := s[category]
	cat := &Category{
		Codes:       old.Codes,
		Definitions: old.Definitions,
		Annotations: maps.Clone(old.Annotations),
	}
	vals := maps.Clone(old.Annotations[row])
	vals[code] = v
	cat.Annotations[row] = vals

	out[category] = cat
	return out
}
