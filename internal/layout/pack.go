// Package layout decides what fits on screen: how far tags are truncated,
// how many rows each group gets, and the short forms of counters and times.
// It never draws anything.
package layout

import (
	"cmp"
	"slices"

	"github.com/charmbracelet/x/ansi"
)

// MinLabelWidth is the narrowest a label is truncated to. Labels that still
// do not fit are dropped by the caller.
const MinLabelWidth = 4

// PackWidths fits labels of the given display widths into budget cells,
// counting one separator cell between neighbours. It returns truncate=false
// when everything fits as is. Otherwise every label wider than limit is cut to
// limit, a single cutoff shared by all labels.
//
// The cutoff is found by lowering the widest labels to the next distinct
// width, one step at a time, until the total fits, then spreading whatever
// room is left evenly over the labels being cut. Only the multiset of widths
// matters, so the result does not depend on input order.
func PackWidths(widths []int, budget int) (limit int, truncate bool) {
	if len(widths) == 0 {
		return 0, false
	}
	total := len(widths) - 1
	for _, w := range widths {
		total += w
	}
	if total <= budget {
		return 0, false
	}

	sorted := slices.Clone(widths)
	slices.SortFunc(sorted, func(a, b int) int { return cmp.Compare(b, a) })

	cutoff := sorted[0]
	count := 0
	for {
		count++
		for count < len(sorted) && sorted[count] == cutoff {
			count++
		}
		next := 0
		if count < len(sorted) {
			next = sorted[count]
		}

		reduced := total - (cutoff-next)*count
		if reduced <= budget {
			limit = next + (budget-reduced)/count
			break
		}
		if next <= 0 {
			// Not even empty labels fit; only dropping can help.
			limit = 0
			break
		}
		cutoff, total = next, reduced
	}
	return max(limit, MinLabelWidth), true
}

// TagBudget is the share of a row that tags may use.
func TagBudget(rowWidth int) int { return rowWidth / 2 }

// FitTags truncates tags to fit budget cells, separators included, and
// drops trailing tags that still overflow after truncation.
func FitTags(tags []string, budget int) []string {
	if len(tags) == 0 || budget <= 0 {
		return nil
	}
	widths := make([]int, len(tags))
	for i, tag := range tags {
		widths[i] = ansi.StringWidth(tag)
	}
	limit, truncate := PackWidths(widths, budget)

	out := make([]string, 0, len(tags))
	used := 0
	for i, tag := range tags {
		w := widths[i]
		if truncate && w > limit {
			tag = ansi.Truncate(tag, limit, "")
			w = ansi.StringWidth(tag)
		}
		if i > 0 {
			w++ // separator
		}
		if used+w > budget {
			break
		}
		used += w
		out = append(out, tag)
	}
	return out
}
