// Package monitor is a small terminal UI showing the dispatcher's live
// state: graph size, transitive cache occupancy, and the most recent
// canonical emit. It polls the dispatcher on a fixed tick rather than
// requiring the core to know about a UI observer.
package monitor

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"atlas/internal/atlas/dispatcher"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	emittedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

const pollInterval = 250 * time.Millisecond

type item struct {
	title, desc string
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title + i.desc }

type tickMsg time.Time

type snapshotMsg struct {
	nodeCount     int
	cacheFull     int
	cacheExplicit int
	emitsTotal    int
	lastHash      uint64
	hasHash       bool
}

type model struct {
	d          *dispatcher.Dispatcher
	list       list.Model
	lastUpdate time.Time
	snapshotMsg
}

func initialModel(d *dispatcher.Dispatcher) model {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Transitive Cache Roots"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)

	return model{d: d, list: l, lastUpdate: time.Now()}
}

func (m model) Init() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.list.SetSize(msg.Width-h, msg.Height-v-4)
	case tickMsg:
		full, explicitOnly := m.d.CacheStats()
		dispatcherSnap := m.d.Snapshot()
		snap := snapshotMsg{
			nodeCount:     m.d.State().NodeCount(),
			cacheFull:     full,
			cacheExplicit: explicitOnly,
			emitsTotal:    m.d.EmitsTotal(),
			lastHash:      dispatcherSnap.LastHash,
			hasHash:       dispatcherSnap.HasHash,
		}
		return m.applySnapshot(snap), tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m model) applySnapshot(snap snapshotMsg) model {
	m.snapshotMsg = snap
	m.lastUpdate = time.Now()

	items := []list.Item{
		item{title: "Full-mode cache", desc: fmt.Sprintf("%d entries", snap.cacheFull)},
		item{title: "Explicit-only cache", desc: fmt.Sprintf("%d entries", snap.cacheExplicit)},
	}
	m.list.SetItems(items)
	return m
}

func (m model) View() string {
	status := statusStyle.Render(fmt.Sprintf("Last poll: %s | %d nodes | %d emits",
		m.lastUpdate.Format("15:04:05"), m.nodeCount, m.emitsTotal))

	hashLine := "no canonical graph emitted yet"
	if m.hasHash {
		hashLine = emittedStyle.Render(fmt.Sprintf("last canonical hash: %016x", m.lastHash))
	}

	header := fmt.Sprintf("%s\n%s\n%s\n", titleStyle("Atlas Dispatcher Monitor"), status, hashLine)
	return docStyle.Render(header + "\n" + m.list.View())
}

// Run starts the monitor TUI against a live dispatcher, blocking until the
// user quits.
func Run(d *dispatcher.Dispatcher) error {
	p := tea.NewProgram(initialModel(d), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
