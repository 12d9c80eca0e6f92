package viewer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"rhythmd/internal/rhythm"
	"rhythmd/internal/store"
)

const (
	appColumnWidth = 24
	barWidth       = 20
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Styles is the palette used by Render and the live view.
type Styles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Value lipgloss.Style
	Muted lipgloss.Style
	Error lipgloss.Style
	State map[rhythm.State]lipgloss.Style
}

// NewStyles builds styles for output written to w. Colors are dropped when
// w is not a terminal or NO_COLOR is set.
func NewStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		Title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A")),
		Label: r.NewStyle().Foreground(lipgloss.Color("#8C8C8C")),
		Value: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#F0F0F0")),
		Muted: r.NewStyle().Foreground(lipgloss.Color("#6E6E6E")),
		Error: r.NewStyle().Foreground(lipgloss.Color("#FF4D4F")),
		State: map[rhythm.State]lipgloss.Style{
			rhythm.StateFlow:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#52C41A")),
			rhythm.StateFast:   r.NewStyle().Foreground(lipgloss.Color("#73D13D")),
			rhythm.StateSteady: r.NewStyle().Foreground(lipgloss.Color("#40A9FF")),
			rhythm.StateSlow:   r.NewStyle().Foreground(lipgloss.Color("#FAAD14")),
			rhythm.StateIdle:   r.NewStyle().Foreground(lipgloss.Color("#6E6E6E")),
		},
	}
}

// Render writes the full report as text.
func Render(w io.Writer, r Report, st Styles) error {
	var b strings.Builder
	b.WriteString(Summary(r.Analysis, r.Events, st))
	b.WriteString("\n")
	b.WriteString(st.Title.Render("Top apps"))
	b.WriteString("\n")
	b.WriteString(AppsTable(r.TopApps, st))
	b.WriteString("\n")
	b.WriteString(st.Title.Render("Recent sessions"))
	b.WriteString("\n")
	b.WriteString(SessionsTable(r.Sessions, st))
	b.WriteString("\n")
	b.WriteString(st.Title.Render("Activity by hour"))
	b.WriteString("\n")
	b.WriteString(Sparkline(r.Hourly, st))
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// Summary renders the score, state and the numbers behind them.
func Summary(a rhythm.Result, events int64, st Styles) string {
	state, ok := st.State[a.State]
	if !ok {
		state = st.Value
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s\n",
		st.Label.Render("Score      "),
		st.Value.Render(fmt.Sprintf("%3d", a.Score)),
		ScoreBar(a.Score))
	fmt.Fprintf(&b, "%s %s\n", st.Label.Render("State      "), state.Render(string(a.State)))
	if a.ActiveSamples > 0 {
		fmt.Fprintf(&b, "%s %s  %s %s  %s %s\n",
			st.Label.Render("Mean flight"), st.Value.Render(fmt.Sprintf("%.3fs", a.MeanFlightTime)),
			st.Label.Render("speed"), st.Value.Render(fmt.Sprintf("%.1f", a.Speed)),
			st.Label.Render("consistency"), st.Value.Render(fmt.Sprintf("%.1f", a.Consistency)))
	}
	fmt.Fprintf(&b, "%s %s  %s %s\n",
		st.Label.Render("Samples    "), st.Value.Render(fmt.Sprint(a.ActiveSamples)),
		st.Label.Render("events stored"), st.Value.Render(fmt.Sprint(events)))
	return b.String()
}

// ScoreBar draws score out of 100 as a fixed-width bar.
func ScoreBar(score int) string {
	filled := min(max(score*barWidth/100, 0), barWidth)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + "]"
}

// AppsTable lists app ids with their key-down counts. Long ids are cut to
// the column by display width.
func AppsTable(apps []store.AppCount, st Styles) string {
	if len(apps) == 0 {
		return st.Muted.Render("  no app activity recorded") + "\n"
	}
	var b strings.Builder
	for _, a := range apps {
		fmt.Fprintf(&b, "  %s %s\n", FitColumn(a.AppID, appColumnWidth), st.Value.Render(fmt.Sprintf("%6d", a.Events)))
	}
	return b.String()
}

// SessionsTable lists sessions newest first.
func SessionsTable(sessions []store.SessionSummary, st Styles) string {
	if len(sessions) == 0 {
		return st.Muted.Render("  no sessions in range") + "\n"
	}
	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "  %s  %s  %s %s\n",
			st.Muted.Render(shortID(s.ID)),
			s.Start.Local().Format("Jan 02 15:04"),
			st.Value.Render(fmt.Sprintf("%8s", s.Duration().Round(time.Second))),
			st.Label.Render(fmt.Sprintf("%d events", s.Events)))
	}
	return b.String()
}

// Sparkline renders the 24 hourly counts as block characters with an hour
// axis underneath.
func Sparkline(h store.HourlyHistogram, st Styles) string {
	peak := 0
	for _, c := range h {
		peak = max(peak, c)
	}
	var line strings.Builder
	for _, c := range h {
		switch {
		case peak == 0 || c == 0:
			line.WriteRune(' ')
		default:
			idx := c * (len(sparkBlocks) - 1) / peak
			line.WriteRune(sparkBlocks[idx])
		}
	}
	axis := "0     6     12    18   "
	out := "  " + st.Value.Render(line.String()) + "\n  " + st.Muted.Render(axis) + "\n"
	if p := h.Peak(); p >= 0 {
		out += st.Label.Render(fmt.Sprintf("  peak %02d:00, %d key-downs total", p, h.Total())) + "\n"
	}
	return out
}

// FitColumn truncates s to width display cells and pads it to exactly width.
func FitColumn(s string, width int) string {
	if s == "" {
		s = "(unknown)"
	}
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
