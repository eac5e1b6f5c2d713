package layout

import (
	"fmt"
	"time"
)

// Rows splits height rows between a group's pinned and regular messages.
// Pinned messages come first and may take at most half, rounded up.
func Rows(pinnedLen, regularLen, height int) (pinned, regular int) {
	if height <= 0 {
		return 0, 0
	}
	pinned = min(pinnedLen, (height+1)/2)
	regular = min(regularLen, height-pinned)
	return pinned, regular
}

// Allocate hands out height rows to groups that each need needs[i] rows.
// Every group gets an even share capped by its need; rows a group cannot
// use go to the others. When rows run short the earlier groups win.
func Allocate(needs []int, height int) []int {
	alloc := make([]int, len(needs))
	open := make([]int, 0, len(needs))
	for i, n := range needs {
		if n > 0 {
			open = append(open, i)
		}
	}

	remaining := height
	for remaining > 0 && len(open) > 0 {
		share := max(remaining/len(open), 1)
		next := open[:0]
		for _, i := range open {
			if remaining == 0 {
				break
			}
			give := min(share, needs[i]-alloc[i], remaining)
			alloc[i] += give
			remaining -= give
			if alloc[i] < needs[i] {
				next = append(next, i)
			}
		}
		open = next
	}
	return alloc
}

// Counter shortens n to at most four digits plus a unit suffix.
func Counter(n uint64) string {
	switch {
	case n < 10_000:
		return fmt.Sprintf("%d", n)
	case n < 1_000_000:
		return fmt.Sprintf("%dk", n/1_000)
	case n < 1_000_000_000:
		return fmt.Sprintf("%dM", n/1_000_000)
	case n < 1_000_000_000_000:
		return fmt.Sprintf("%dG", n/1_000_000_000)
	case n < 1_000_000_000_000_000:
		return fmt.Sprintf("%dT", n/1_000_000_000_000)
	case n < 1_000_000_000_000_000_000:
		return fmt.Sprintf("%dP", n/1_000_000_000_000_000)
	}
	return fmt.Sprintf("%dE", n/1_000_000_000_000_000_000)
}

// AgeWidth is the number of cells Age may use.
const AgeWidth = 5

// Age formats the time of a message relative to now.
func Age(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "now"
	case d < 24*time.Hour:
		return t.Format("15:04")
	case d < 32*24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d < 366*24*time.Hour:
		return fmt.Sprintf("%dmo", max(int(d.Hours()/24/30), 1))
	}
	return fmt.Sprintf("%dy", max(now.Year()-t.Year(), 1))
}
