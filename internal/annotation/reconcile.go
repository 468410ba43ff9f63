package annotation

import (
	"maps"
	"slices"

	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/tristate"
)

// Report describes what a reconciliation pass did.
type Report struct {
	// Regenerated lists categories whose grid was rebuilt.
	Regenerated []string `json:"regenerated,omitempty"`
	// Dropped lists stored categories the codebook no longer names.
	Dropped []string `json:"dropped,omitempty"`
	// Changed is false when the result is identical to the input, so the
	// caller can skip the write.
	Changed bool `json:"changed"`
}

// Reconcile merges cb into existing for a transcript of n rows.
//
// A category is regenerated when its code set differs from the codebook's,
// when its row count is not n, or when some row below n lacks a value for a
// current code. Regeneration keeps every non-absent value of a surviving code
// and fills the rest with false. Other categories are returned as is, with
// definitions refreshed from the codebook. The result satisfies Complete(n),
// and reconciling it again against the same codebook is a no-op.
//
// existing may be nil. It is never mutated.
func Reconcile(existing Set, cb *codebook.Codebook, n int) (Set, Report) {
	var report Report
	out := make(Set, len(cb.Categories))

	for _, name := range cb.Categories {
		expected := cb.Codes(name)
		defs := cb.Definitions(name)
		stored := existing[name]

		if stored == nil || !sameCodeSet(stored.Codes, expected) || !stored.complete(n) {
			out[name] = regenerate(stored, expected, defs, n)
			report.Regenerated = append(report.Regenerated, name)
			report.Changed = true
			continue
		}

		if slices.Equal(stored.Codes, expected) && maps.Equal(stored.Definitions, defs) {
			out[name] = stored
			continue
		}

		// Same codes, possibly reordered, or new documentation.
		out[name] = &Category{
			Codes:       expected,
			Definitions: defs,
			Annotations: stored.Annotations,
		}
		report.Changed = true
	}

	for _, name := range existing.Categories() {
		if _, ok := out[name]; !ok {
			report.Dropped = append(report.Dropped, name)
			report.Changed = true
		}
	}

	return out, report
}

func regenerate(stored *Category, codes []string, defs map[string]codebook.FeatureDef, n int) *Category {
	previous := map[string]bool{}
	var prevRows map[int]map[string]tristate.Value
	if stored != nil {
		for _, c := range stored.Codes {
			previous[c] = true
		}
		prevRows = stored.Annotations
	}

	grid := make(map[int]map[string]tristate.Value, n)
	for row := 0; row < n; row++ {
		vals := make(map[string]tristate.Value, len(codes))
		for _, code := range codes {
			v := tristate.False
			if previous[code] {
				if old := prevRows[row][code]; !old.IsAbsent() {
					v = old
				}
			}
			vals[code] = v
		}
		grid[row] = vals
	}

	return &Category{
		Codes:       codes,
		Definitions: defs,
		Annotations: grid,
	}
}

func sameCodeSet(a, b []string) bool {
	as := make(map[string]bool, len(a))
	for _, c := range a {
		as[c] = true
	}
	bs := make(map[string]bool, len(b))
	for _, c := range b {
		bs[c] = true
	}
	return maps.Equal(as, bs)
}
