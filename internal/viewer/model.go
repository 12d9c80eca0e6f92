package viewer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"rhythmd/internal/bus"
)

const fetchTimeout = 5 * time.Second

// LoadFunc produces a fresh report.
type LoadFunc func(ctx context.Context) (Report, error)

// Config wires a live view.
type Config struct {
	Load LoadFunc

	// Bus carries viewerActive heartbeats out and dataUpdated
	// notifications in. Without it the view only polls.
	Bus bus.Bus

	Refresh   time.Duration
	Heartbeat time.Duration
	Styles    Styles
}

type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
	}
}

type (
	reportMsg struct {
		report Report
		err    error
	}
	refreshTickMsg struct{}
	heartbeatMsg   struct{}
	beatSentMsg    struct{ err error }
	dataUpdatedMsg struct{}
)

// Model implements the Bubble Tea live view. While it runs it emits a
// viewerActive heartbeat every Heartbeat and reloads the report every
// Refresh or as soon as the daemon announces new data.
type Model struct {
	cfg Config

	report  Report
	loaded  bool
	err     error
	beats   int
	beatErr error

	updates <-chan struct{}
	unsub   func()

	spinner spinner.Model
	bar     progress.Model
	keys    keyMap
	width   int
}

// NewModel constructs a live view model.
func NewModel(cfg Config) *Model {
	if cfg.Refresh <= 0 {
		cfg.Refresh = 5 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 2 * time.Second
	}

	m := &Model{
		cfg:     cfg,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth+2), progress.WithoutPercentage()),
		keys:    defaultKeys(),
	}
	if cfg.Bus != nil {
		m.updates, m.unsub = cfg.Bus.Subscribe(bus.DataUpdated)
	}
	return m
}

// Close drops the dataUpdated subscription.
func (m *Model) Close() {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.fetch(),
		m.beat(),
		m.scheduleRefresh(),
		m.waitForUpdate(),
	)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.Close()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()
		}
		return m, nil

	case reportMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.report, m.loaded, m.err = msg.report, true, nil
		return m, nil

	case refreshTickMsg:
		return m, tea.Batch(m.fetch(), m.scheduleRefresh())

	case heartbeatMsg:
		return m, m.beat()

	case beatSentMsg:
		m.beatErr = msg.err
		if msg.err == nil {
			m.beats++
		}
		return m, tea.Tick(m.cfg.Heartbeat, func(time.Time) tea.Msg { return heartbeatMsg{} })

	case dataUpdatedMsg:
		return m, tea.Batch(m.fetch(), m.waitForUpdate())

	case spinner.TickMsg:
		if m.loaded {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) fetch() tea.Cmd {
	load := m.cfg.Load
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		r, err := load(ctx)
		return reportMsg{report: r, err: err}
	}
}

func (m *Model) beat() tea.Cmd {
	b := m.cfg.Bus
	if b == nil {
		return nil
	}
	return func() tea.Msg {
		return beatSentMsg{err: b.Emit(bus.ViewerActive)}
	}
}

func (m *Model) scheduleRefresh() tea.Cmd {
	return tea.Tick(m.cfg.Refresh, func(time.Time) tea.Msg { return refreshTickMsg{} })
}

func (m *Model) waitForUpdate() tea.Cmd {
	ch := m.updates
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return dataUpdatedMsg{}
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	st := m.cfg.Styles
	var b strings.Builder

	b.WriteString(st.Title.Render("rhythmd"))
	if !m.loaded {
		b.WriteString(" " + m.spinner.View() + " loading\n")
	} else {
		b.WriteString(st.Muted.Render(" updated " + m.report.GeneratedAt.Local().Format("15:04:05")))
		b.WriteString("\n\n")
	}
	if m.err != nil {
		b.WriteString(st.Error.Render("error: "+m.err.Error()) + "\n")
	}

	if m.loaded {
		a := m.report.Analysis
		b.WriteString(m.bar.ViewAs(float64(a.Score)/100) + "\n")
		b.WriteString(Summary(a, m.report.Events, st))
		b.WriteString("\n" + st.Title.Render("Top apps") + "\n")
		b.WriteString(AppsTable(m.report.TopApps, st))
		b.WriteString("\n" + st.Title.Render("Activity by hour") + "\n")
		b.WriteString(Sparkline(m.report.Hourly, st))
	}

	b.WriteString("\n")
	switch {
	case m.cfg.Bus == nil:
		b.WriteString(st.Muted.Render("no signal bus; polling every " + m.cfg.Refresh.String()))
	case m.beatErr != nil:
		b.WriteString(st.Error.Render("heartbeat failed: " + m.beatErr.Error()))
	default:
		b.WriteString(st.Muted.Render(fmt.Sprintf("heartbeat every %s (%d sent)", m.cfg.Heartbeat, m.beats)))
	}
	b.WriteString("\n")
	b.WriteString(st.Muted.Render(m.keys.Quit.Help().Key + " " + m.keys.Quit.Help().Desc + "  " +
		m.keys.Refresh.Help().Key + " " + m.keys.Refresh.Help().Desc))
	b.WriteString("\n")
	return b.String()
}
