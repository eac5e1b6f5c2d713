package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/daviddao/nadir_viewer/internal/layout"
	"github.com/daviddao/nadir_viewer/internal/model"
	"github.com/daviddao/nadir_viewer/internal/snapshot"
)

const (
	pinnedMarker = "P "
	indent       = "  "
)

// renderGroups lays out groups in display order within height rows. Each
// group takes a title row plus one row per message; when rows run short the
// more important groups keep theirs and the rest are cut or left out.
func renderGroups(groups []snapshot.GroupView, width, height int, now time.Time) string {
	needs := make([]int, len(groups))
	for i, g := range groups {
		needs[i] = 1 + g.Len()
	}
	alloc := layout.Allocate(needs, height)

	var b strings.Builder
	for i, g := range groups {
		rows := alloc[i]
		if rows == 0 {
			continue
		}
		b.WriteString(renderGroupTitle(g))
		b.WriteRune('\n')

		pinned, regular := layout.Rows(len(g.Pinned), len(g.Messages), rows-1)
		for _, msg := range g.Pinned[:pinned] {
			b.WriteString(pinnedStyle.Render(pinnedMarker))
			b.WriteString(renderMessage(msg, width-len(pinnedMarker), now))
			b.WriteRune('\n')
		}
		for _, msg := range g.Messages[:regular] {
			b.WriteString(indent)
			b.WriteString(renderMessage(msg, width-len(indent), now))
			b.WriteRune('\n')
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func renderGroupTitle(g snapshot.GroupView) string {
	title := g.Meta.Title
	if title == "" {
		title = g.Meta.ID
	}
	return headerStyle.Render(fmt.Sprintf("- [%s] %s", layout.Counter(g.Counter), title))
}

// renderMessage renders one row: bracketed tags, the body's first line, and
// the message age right-aligned in the last column.
func renderMessage(msg model.Message, width int, now time.Time) string {
	if width <= 0 {
		return ""
	}
	rowWidth := max(width-layout.AgeWidth-1, 0)

	var tags []string
	if n := msg.Count(); n > 1 {
		tags = append(tags, layout.Counter(n))
	}
	tags = append(tags, msg.Tags...)
	// Two cells go to the brackets.
	tags = layout.FitTags(tags, layout.TagBudget(rowWidth)-2)

	var left strings.Builder
	if len(tags) > 0 {
		left.WriteString(tagStyle.Render("[" + strings.Join(tags, "|") + "]"))
		left.WriteRune(' ')
	}
	body, _, _ := strings.Cut(msg.Body, "\n")
	used := lipgloss.Width(left.String())
	left.WriteString(ansi.Truncate(body, max(rowWidth-used, 0), "…"))

	age := ""
	if msg.Time != nil {
		age = layout.Age(*msg.Time, now)
	}
	gap := max(width-lipgloss.Width(left.String())-layout.AgeWidth, 1)
	return left.String() + strings.Repeat(" ", gap) + dimStyle.Render(fmt.Sprintf("%*s", layout.AgeWidth, age))
}
