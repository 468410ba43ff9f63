// Package irr computes inter-rater reliability between the active annotator
// and any number of imported annotators.
package irr

import (
	"math"
	"sort"

	"github.com/matsen/annot/internal/annotation"
	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/transcript"
	"github.com/matsen/annot/internal/tristate"
)

// Stat is the agreement for one feature of one category.
//
// Agreement is a percentage rounded to two decimals, computed with strict,
// type-sensitive equality: a numeric 1 and a string "1" disagree. The kappa
// and alpha statistics use the lenient boolean reading of each value
// instead, so they can differ from Agreement on mixed-type data.
type Stat struct {
	Category           string   `json:"category"`
	Feature            string   `json:"feature"`
	Agreement          float64  `json:"agreement"`
	Agreements         int      `json:"agreements"`
	Disagreements      int      `json:"disagreements"`
	TotalComparisons   int      `json:"totalComparisons"`
	CohensKappa        *float64 `json:"cohensKappa"`
	KrippendorffsAlpha *float64 `json:"krippendorffsAlpha"`
}

// Compute returns one Stat per feature of category, sorted by agreement
// descending (ties keep feature order).
//
// Only selectable rows count. A row is skipped for a feature when the
// current value is absent; an imported annotator is skipped for a row when
// it has no value on that line. Comparisons are counted per (row, other
// annotator) pair.
func Compute(category string, current annotation.Set, others []importer.AnnotatorData, lines []transcript.Line) []Stat {
	if len(others) == 0 {
		return nil
	}

	var stats []Stat
	for _, feature := range Features(category, current, others) {
		stat := Stat{Category: category, Feature: feature}

		// raters[0] is the current annotator; one column per selectable row.
		raters := make([][]tristate.Value, len(others)+1)

		for _, line := range lines {
			if !line.Selectable {
				continue
			}
			cur := current.Get(category, line.RowIndex, feature)
			raters[0] = append(raters[0], cur)

			for i := range others {
				other := others[i].Value(line.LineNumber, category, feature)
				raters[i+1] = append(raters[i+1], other)

				if cur.IsAbsent() || other.IsAbsent() {
					continue
				}
				stat.TotalComparisons++
				if cur.Equal(other) {
					stat.Agreements++
				}
			}
		}

		stat.Disagreements = stat.TotalComparisons - stat.Agreements
		if stat.TotalComparisons > 0 {
			stat.Agreement = round(100*float64(stat.Agreements)/float64(stat.TotalComparisons), 2)
		}
		if len(others) == 1 {
			stat.CohensKappa = CohensKappa(raters[0], raters[1])
		}
		stat.KrippendorffsAlpha = KrippendorffsAlpha(raters)

		stats = append(stats, stat)
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Agreement > stats[j].Agreement
	})
	return stats
}

// Features lists the features compared for category: the current codes in
// order, then features only imported annotators filled in, sorted.
func Features(category string, current annotation.Set, others []importer.AnnotatorData) []string {
	var features []string
	seen := map[string]bool{}
	if cat, ok := current[category]; ok {
		for _, code := range cat.Codes {
			if !seen[code] {
				seen[code] = true
				features = append(features, code)
			}
		}
	}

	var extra []string
	for _, o := range others {
		for _, f := range o.Categories[category].Features {
			if !seen[f] {
				seen[f] = true
				extra = append(extra, f)
			}
		}
	}
	sort.Strings(extra)
	return append(features, extra...)
}

// CohensKappa is chance-corrected agreement between two raters over the
// positions where both have a boolean reading. It is nil when there are no
// such positions or when expected agreement is 1. Rounded to 3 decimals.
func CohensKappa(a, b []tristate.Value) *float64 {
	var n, agree, aTrue, bTrue int
	for i := range a {
		if i >= len(b) {
			break
		}
		x, okA := a[i].AsBool()
		y, okB := b[i].AsBool()
		if !okA || !okB {
			continue
		}
		n++
		if x == y {
			agree++
		}
		if x {
			aTrue++
		}
		if y {
			bTrue++
		}
	}
	if n == 0 {
		return nil
	}

	nf := float64(n)
	observed := float64(agree) / nf
	expected := (float64(aTrue)*float64(bTrue) + float64(n-aTrue)*float64(n-bTrue)) / (nf * nf)
	if expected == 1 {
		return nil
	}
	k := round((observed-expected)/(1-expected), 3)
	return &k
}

// KrippendorffsAlpha is Krippendorff's alpha for binary data over any
// number of raters. raters[r][i] is rater r's value at position i. Only
// positions with at least two boolean readings count. It is nil when no
// position is pairable or when expected disagreement is 0. Rounded to 4
// decimals.
func KrippendorffsAlpha(raters [][]tristate.Value) *float64 {
	if len(raters) < 2 {
		return nil
	}

	var disagreements, pairs, trues, total int
	for i := range raters[0] {
		var vals []bool
		for _, r := range raters {
			if i >= len(r) {
				continue
			}
			if b, ok := r[i].AsBool(); ok {
				vals = append(vals, b)
			}
		}
		if len(vals) < 2 {
			continue
		}

		for x := 0; x < len(vals); x++ {
			for y := x + 1; y < len(vals); y++ {
				if vals[x] != vals[y] {
					disagreements++
				}
				pairs++
			}
		}
		for _, v := range vals {
			if v {
				trues++
			}
		}
		total += len(vals)
	}

	if pairs == 0 || total < 2 {
		return nil
	}
	expected := 2 * float64(trues) * float64(total-trues) / (float64(total) * float64(total-1))
	if expected == 0 {
		return nil
	}
	a := round(1-(float64(disagreements)/float64(pairs))/expected, 4)
	return &a
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
