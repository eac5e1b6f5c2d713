package main

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/daviddao/nadir_viewer/internal/group"
	"github.com/daviddao/nadir_viewer/internal/model"
	"github.com/daviddao/nadir_viewer/internal/registry"
	"github.com/daviddao/nadir_viewer/internal/snapshot"
)

var viewNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func u64(n uint64) *uint64 { return &n }

func ago(d time.Duration) *time.Time {
	t := viewNow.Add(-d)
	return &t
}

// testSnapshot creates a snapshot with test data for rendering tests.
func testSnapshot() *snapshot.DataSnapshot {
	mail := model.NewGroupMeta("mail", "Mail")
	mail.Importance = 2
	chat := model.NewGroupMeta("chat", "Chat")

	return &snapshot.DataSnapshot{
		Groups: []snapshot.GroupView{
			{
				Meta:    mail,
				Counter: 3,
				Pinned: []model.Message{
					{ID: "boss", Tags: []string{"boss"}, Body: "call me", Time: ago(time.Minute)},
				},
				Messages: []model.Message{
					{ID: "alice", Tags: []string{"alice"}, Body: "lunch?", Counter: u64(4), Time: ago(48 * time.Hour)},
					{ID: "bob", Tags: []string{"bob"}, Body: "hello\nsecond line", Counter: u64(1)},
				},
				Cap:       10,
				CapPinned: 5,
			},
			{
				Meta:      chat,
				Counter:   12_345,
				Messages:  []model.Message{{ID: "general", Body: "welcome"}},
				Cap:       10,
				CapPinned: 5,
			},
		},
		TotalMessages: 3,
		TotalPinned:   1,
		BuiltAt:       viewNow,
	}
}

// testModel creates a uiModel with test data (no registry needed for render tests).
func testModel() uiModel {
	m := uiModel{
		snap:        testSnapshot(),
		width:       80,
		height:      24,
		lastRefresh: viewNow,
		now:         func() time.Time { return viewNow },
	}
	m.help.Width = 80
	return m
}

func TestViewLoading(t *testing.T) {
	m := testModel()
	m.width = 0
	if got := m.View(); got != "Loading..." {
		t.Errorf("View() with zero width = %q, want Loading...", got)
	}
}

func TestViewFullRender(t *testing.T) {
	view := testModel().View()
	for _, want := range []string{"nadir", "- [3] Mail", "- [12k] Chat", "[boss] call me", "[4|alice] lunch?", "2d", "11:59"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if lines := strings.Count(view, "\n") + 1; lines != 24 {
		t.Errorf("view has %d lines, want 24", lines)
	}
}

func TestViewGroupOrder(t *testing.T) {
	view := testModel().View()
	if strings.Index(view, "Mail") > strings.Index(view, "Chat") {
		t.Error("Mail should be shown before Chat")
	}
}

func TestViewEmpty(t *testing.T) {
	m := testModel()
	m.snap = &snapshot.DataSnapshot{}
	view := m.View()
	if !strings.Contains(view, "no groups yet") {
		t.Error("empty view should say there are no groups")
	}
	if !strings.Contains(view, "0 groups") {
		t.Error("title bar should count zero groups")
	}
}

func TestRenderTitleBar(t *testing.T) {
	m := testModel()
	m.snap.TotalMessages = 1_234_567
	bar := m.renderTitleBar()
	if !strings.Contains(bar, "2 groups") || !strings.Contains(bar, "1,234,567 messages") || !strings.Contains(bar, "1 pinned") {
		t.Errorf("title bar = %q", bar)
	}
	if w := lipgloss.Width(bar); w > m.width {
		t.Errorf("title bar width %d exceeds %d", w, m.width)
	}
}

func TestViewLinesFitWidth(t *testing.T) {
	m := testModel()
	m.width = 30
	for i, line := range strings.Split(m.View(), "\n") {
		if w := lipgloss.Width(line); w > 30 {
			t.Errorf("line %d width %d > 30: %q", i, w, line)
		}
	}
}

func TestViewScroll(t *testing.T) {
	m := testModel()
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(uiModel)
	if m.scrollPos != 1 {
		t.Fatalf("scrollPos = %d, want 1", m.scrollPos)
	}
	if view := m.View(); strings.Contains(view, "Mail") || !strings.Contains(view, "Chat") {
		t.Error("after scrolling only Chat should be visible")
	}

	// Bounded by the number of groups.
	for range 5 {
		updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
		m = updated.(uiModel)
	}
	if m.scrollPos != 1 {
		t.Errorf("scrollPos = %d after many downs, want 1", m.scrollPos)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'g'}})
	m = updated.(uiModel)
	if m.scrollPos != 0 {
		t.Errorf("scrollPos = %d after g, want 0", m.scrollPos)
	}
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	if updated.(uiModel).scrollPos != 0 {
		t.Error("scrollPos should not go below 0")
	}
}

func TestUpdateHelpToggle(t *testing.T) {
	m := testModel()
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	m = updated.(uiModel)
	if !m.showHelp {
		t.Fatal("? should show help")
	}
	if !strings.Contains(m.View(), "quit") {
		t.Error("help view should list quit")
	}
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'?'}})
	if updated.(uiModel).showHelp {
		t.Error("second ? should hide help")
	}
}

func TestUpdateQuit(t *testing.T) {
	m := testModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestUpdateWindowSize(t *testing.T) {
	m := testModel()
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = updated.(uiModel)
	if m.width != 120 || m.height != 40 || m.help.Width != 120 {
		t.Errorf("size = %dx%d help %d, want 120x40", m.width, m.height, m.help.Width)
	}
}

func TestSnapshotClampsScroll(t *testing.T) {
	m := testModel()
	m.scrollPos = 1
	updated, _ := m.Update(snapshotReadyMsg{snap: &snapshot.DataSnapshot{}, changed: true})
	m = updated.(uiModel)
	if m.scrollPos != 0 {
		t.Errorf("scrollPos = %d after groups went away, want 0", m.scrollPos)
	}
}

func TestSnapshotUnchangedKeepsRefreshTime(t *testing.T) {
	m := testModel()
	m.now = func() time.Time { return viewNow.Add(time.Minute) }
	updated, _ := m.Update(snapshotReadyMsg{snap: m.snap, changed: false})
	if got := updated.(uiModel).lastRefresh; !got.Equal(viewNow) {
		t.Errorf("lastRefresh = %v, want unchanged", got)
	}
	updated, _ = m.Update(snapshotReadyMsg{snap: m.snap, changed: true})
	if got := updated.(uiModel).lastRefresh; !got.Equal(viewNow.Add(time.Minute)) {
		t.Errorf("lastRefresh = %v, want the new time", got)
	}
}

func TestDataChangedBuildsSnapshot(t *testing.T) {
	reg := registry.NewGuard()
	m := newModel(reg, snapshot.NewBuilder(), time.Second)
	if len(m.snap.Groups) != 0 {
		t.Fatalf("initial snapshot has %d groups, want 0", len(m.snap.Groups))
	}

	h, err := group.NewHandle(model.NewGroupMeta("news", "News"), group.DefaultHardMax)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	h.Write(func(g *group.Group) { g.AddMessage(model.Message{ID: "a", Body: "headline"}) })
	reg.Write(func(r *registry.Registry) { r.Put(h) })

	_, cmd := m.Update(dataChangedMsg{})
	if cmd == nil {
		t.Fatal("dataChangedMsg should return a command")
	}
	ready, ok := cmd().(snapshotReadyMsg)
	if !ok {
		t.Fatal("command should produce snapshotReadyMsg")
	}
	if !ready.changed || len(ready.snap.Groups) != 1 || ready.snap.TotalMessages != 1 {
		t.Errorf("snapshot = %+v changed=%v, want one group with one message", ready.snap, ready.changed)
	}

	updated, _ := m.Update(ready)
	m = updated.(uiModel)
	m.width, m.height = 80, 10
	if !strings.Contains(m.View(), "headline") {
		t.Error("view should show the new message")
	}
}

func TestRefreshKeyRecapturesEverything(t *testing.T) {
	reg := registry.NewGuard()
	m := newModel(reg, snapshot.NewBuilder(), time.Second)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if cmd == nil {
		t.Fatal("r should return a command")
	}
	if ready := cmd().(snapshotReadyMsg); !ready.changed {
		t.Error("r should rebuild the snapshot from scratch")
	}
}

func TestTickReschedules(t *testing.T) {
	m := testModel()
	if _, cmd := m.Update(tickMsg{}); cmd == nil {
		t.Error("tick should schedule the next tick")
	}
}

func TestTruncateLines(t *testing.T) {
	got := truncateLines("short\n"+strings.Repeat("x", 20), 10)
	lines := strings.Split(got, "\n")
	if lines[0] != "short" || lines[1] != strings.Repeat("x", 10) {
		t.Errorf("truncateLines = %q", got)
	}
	if got := truncateLines("abc", 0); got != "abc" {
		t.Errorf("width 0 should leave content alone, got %q", got)
	}
}
