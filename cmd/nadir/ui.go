package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/daviddao/nadir_viewer/internal/registry"
	"github.com/daviddao/nadir_viewer/internal/snapshot"
)

// --- Messages ---

type dataChangedMsg struct{}

type snapshotReadyMsg struct {
	snap    *snapshot.DataSnapshot
	changed bool
}

type tickMsg struct{}

// --- Key bindings ---

type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
	Up      key.Binding
	Down    key.Binding
	Top     key.Binding
	Help    key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "redraw all")),
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("k/up", "previous group")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("j/down", "next group")),
	Top:     key.NewBinding(key.WithKeys("home", "g"), key.WithHelp("g", "top")),
	Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Top},
		{k.Refresh, k.Help, k.Quit},
	}
}

// --- Model ---

type uiModel struct {
	reg     *registry.Guard
	builder *snapshot.Builder
	snap    *snapshot.DataSnapshot

	width           int
	height          int
	scrollPos       int // index of the first group shown
	refreshInterval time.Duration

	help     help.Model
	showHelp bool

	lastRefresh time.Time
	now         func() time.Time
}

func newModel(reg *registry.Guard, b *snapshot.Builder, refresh time.Duration) uiModel {
	snap, _ := b.Build(reg)
	return uiModel{
		reg:             reg,
		builder:         b,
		snap:            snap,
		refreshInterval: refresh,
		help:            help.New(),
		lastRefresh:     time.Now(),
		now:             time.Now,
	}
}

func (m uiModel) Init() tea.Cmd {
	return tickEvery(m.refreshInterval)
}

// tickEvery redraws periodically so that message ages stay current.
func tickEvery(d time.Duration) tea.Cmd {
	if d <= 0 {
		d = time.Second
	}
	return tea.Tick(d, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Refresh):
			m.builder.Reset()
			return m, m.refreshSnapshot()

		case key.Matches(msg, keys.Up):
			if m.scrollPos > 0 {
				m.scrollPos--
			}

		case key.Matches(msg, keys.Down):
			if m.scrollPos < len(m.snap.Groups)-1 {
				m.scrollPos++
			}

		case key.Matches(msg, keys.Top):
			m.scrollPos = 0

		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case dataChangedMsg:
		return m, m.refreshSnapshot()

	case snapshotReadyMsg:
		if msg.snap != nil {
			m.snap = msg.snap
			if msg.changed {
				m.lastRefresh = m.now()
			}
			// Groups may have gone away since the last snapshot.
			m.scrollPos = min(m.scrollPos, max(len(m.snap.Groups)-1, 0))
		}

	case tickMsg:
		return m, tickEvery(m.refreshInterval)
	}

	return m, nil
}

func (m uiModel) refreshSnapshot() tea.Cmd {
	b, reg := m.builder, m.reg
	return func() tea.Msg {
		snap, changed := b.Build(reg)
		return snapshotReadyMsg{snap: snap, changed: changed}
	}
}

// --- Styles ---

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1E1E2E")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	pinnedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAB387"))

	tagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#1E1E2E"))
)

// --- View rendering ---

func (m uiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(m.renderTitleBar())
	b.WriteRune('\n')
	b.WriteRune('\n')

	contentHeight := m.height - 3 // title + gap + status
	if m.showHelp {
		contentHeight -= 2
	}

	groups := m.snap.Groups
	if m.scrollPos > 0 && m.scrollPos < len(groups) {
		groups = groups[m.scrollPos:]
	}
	content := renderGroups(groups, m.width, contentHeight, m.now())
	if len(m.snap.Groups) == 0 {
		content = dimStyle.Render("  (no groups yet)")
	}
	b.WriteString(content)

	// Pad to fill screen.
	rendered := strings.Count(b.String(), "\n")
	for rendered < m.height-1 {
		b.WriteRune('\n')
		rendered++
	}

	if m.showHelp {
		b.WriteString(m.help.View(keys))
	} else {
		b.WriteString(m.renderStatusBar())
	}

	// Truncate each line to terminal width so content doesn't wrap on resize.
	return truncateLines(b.String(), m.width)
}

func (m uiModel) renderTitleBar() string {
	title := titleStyle.Render("nadir")
	stats := dimStyle.Render(fmt.Sprintf(
		"%s groups | %s messages | %s pinned",
		humanize.Comma(int64(len(m.snap.Groups))),
		humanize.Comma(int64(m.snap.TotalMessages)),
		humanize.Comma(int64(m.snap.TotalPinned)),
	))
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(title)-lipgloss.Width(stats)-2))
	return title + gap + stats
}

func (m uiModel) renderStatusBar() string {
	left := " j/k: scroll groups | r: redraw | ?: help | q: quit"
	right := fmt.Sprintf("updated %s ", humanize.RelTime(m.lastRefresh, m.now(), "ago", "from now"))
	gap := strings.Repeat(" ", max(0, m.width-len(left)-len(right)))
	return statusBarStyle.Render(left + gap + right)
}

// truncateLines truncates each line in content to at most width visible
// characters, preserving ANSI escape codes.
func truncateLines(content string, width int) string {
	if width <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = ansi.Truncate(line, width, "")
		}
	}
	return strings.Join(lines, "\n")
}
