// Package tui renders the live status screen behind `swapd top`.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/swaplab/swapd/internal/engine"
)

const pollInterval = time.Second

// StatusMsg carries one status poll result. Exported for testing.
type StatusMsg struct {
	Status *engine.Status
	Err    error
}

// PollTickMsg is the periodic poll tick message. Exported for testing.
type PollTickMsg struct{}

type topKeyMap struct {
	Help key.Binding
	Quit key.Binding
}

func (k topKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit}
}

func (k topKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Help, k.Quit}}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	numberStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	rowStyle    = lipgloss.NewStyle().PaddingLeft(2)
)

// Model is the `swapd top` bubbletea model.
type Model struct {
	keys    topKeyMap
	help    help.Model
	spin    spinner.Model
	status  *engine.Status
	err     error
	loading bool
	width   int
}

// NewModel builds the top screen.
func NewModel() Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		keys: topKeyMap{
			Help: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
			Quit: key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
		},
		help:    help.New(),
		spin:    sp,
		loading: true,
	}
}

// Status returns the last polled status (for testing).
func (m Model) Status() *engine.Status { return m.status }

func pollStatus() tea.Cmd {
	return func() tea.Msg {
		resp, err := engine.Command(&engine.Request{Type: "status"})
		if err != nil {
			return StatusMsg{Err: err}
		}
		if resp.Status == nil {
			return StatusMsg{Err: fmt.Errorf("daemon error: %s", resp.Error)}
		}
		return StatusMsg{Status: resp.Status}
	}
}

func pollTick() tea.Cmd {
	return tea.Tick(pollInterval, func(_ time.Time) tea.Msg {
		return PollTickMsg{}
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(pollStatus(), pollTick(), m.spin.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
		return m, nil

	case StatusMsg:
		m.loading = false
		m.status = msg.Status
		m.err = msg.Err
		return m, nil

	case PollTickMsg:
		return m, tea.Batch(pollStatus(), pollTick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("swapd"))
	b.WriteString("\n\n")

	switch {
	case m.loading:
		b.WriteString(m.spin.View() + " connecting to daemon...\n")
	case m.err != nil:
		b.WriteString(errStyle.Render("daemon unreachable: "+m.err.Error()) + "\n")
	default:
		st := m.status
		b.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s\n",
			labelStyle.Render("pid"), numberStyle.Render(fmt.Sprintf("%d", st.PID)),
			labelStyle.Render("uptime"), numberStyle.Render(fmt.Sprintf("%ds", st.UptimeSeconds)),
			labelStyle.Render("image"), st.ImagePath))
		b.WriteString(fmt.Sprintf("%s hits %s  misses %s  evictions %s  writebacks %s  entries %s\n",
			labelStyle.Render("cache"),
			numberStyle.Render(fmt.Sprintf("%d", st.Cache.Hits)),
			numberStyle.Render(fmt.Sprintf("%d", st.Cache.Misses)),
			numberStyle.Render(fmt.Sprintf("%d", st.Cache.Evictions)),
			numberStyle.Render(fmt.Sprintf("%d", st.Cache.Writebacks)),
			numberStyle.Render(fmt.Sprintf("%d", st.Cache.Entries))))
		b.WriteString(fmt.Sprintf("%s appends %s  overflows %s   %s %s\n\n",
			labelStyle.Render("ring"),
			numberStyle.Render(fmt.Sprintf("%d", st.RingAppends)),
			numberStyle.Render(fmt.Sprintf("%d", st.RingOverflows)),
			labelStyle.Render("migrations"),
			numberStyle.Render(fmt.Sprintf("%d", st.Migrations))))

		b.WriteString(labelStyle.Render("  id        iters       errors  queue") + "\n")
		for _, w := range st.Workers {
			b.WriteString(rowStyle.Render(fmt.Sprintf("%2d  %11d  %11d  %5d",
				w.ID, w.Iterations, w.Errors, w.QueueLen)) + "\n")
		}
	}

	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}
