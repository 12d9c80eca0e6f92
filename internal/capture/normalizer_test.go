package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rhythmd/internal/focus"
	"rhythmd/internal/keystroke"
	"rhythmd/internal/session"
)

var epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return epoch.Add(time.Duration(sec * float64(time.Second)))
}

func newNormalizer() *Normalizer {
	return NewNormalizer(session.NewTracker(30 * time.Second))
}

func down(code int, sec float64) keystroke.RawEvent {
	return keystroke.RawEvent{Kind: keystroke.KeyDown, Code: code, Timestamp: at(sec)}
}

func up(code int, sec float64) keystroke.RawEvent {
	return keystroke.RawEvent{Kind: keystroke.KeyUp, Code: code, Timestamp: at(sec)}
}

func TestFlightTimeSequence(t *testing.T) {
	n := newNormalizer()
	times := []float64{0, 0.12, 0.31, 0.45, 1.2}

	var events []InputEvent
	for i, ts := range times {
		events = append(events, n.Normalize(down(30+i, ts), focus.Info{}))
	}

	assert.Nil(t, events[0].FlightTime, "first key-down has no flight time")
	for i := 1; i < len(events); i++ {
		require.NotNil(t, events[i].FlightTime, "event %d", i)
		assert.InDelta(t, times[i]-times[i-1], *events[i].FlightTime, 1e-6, "event %d", i)
	}
}

func TestFlightIgnoresKeyUpAndMouse(t *testing.T) {
	n := newNormalizer()
	x, y := 10.0, 20.0

	n.Normalize(down(30, 0), focus.Info{})
	n.Normalize(up(30, 0.05), focus.Info{})
	n.Normalize(keystroke.RawEvent{Kind: keystroke.LeftClick, Timestamp: at(0.1), X: &x, Y: &y}, focus.Info{})
	ev := n.Normalize(down(31, 0.2), focus.Info{})

	require.NotNil(t, ev.FlightTime)
	assert.InDelta(t, 0.2, *ev.FlightTime, 1e-6)
}

func TestDwellPairing(t *testing.T) {
	n := newNormalizer()

	n.Normalize(down(30, 1.0), focus.Info{})
	n.Normalize(down(31, 1.05), focus.Info{})
	upB := n.Normalize(up(31, 1.10), focus.Info{})
	upA := n.Normalize(up(30, 1.18), focus.Info{})

	require.NotNil(t, upA.DwellTime)
	require.NotNil(t, upB.DwellTime)
	assert.InDelta(t, 0.18, *upA.DwellTime, 1e-6)
	assert.InDelta(t, 0.05, *upB.DwellTime, 1e-6)
	assert.Nil(t, upA.FlightTime)
	assert.Equal(t, 0, n.Pending())
}

func TestUnmatchedKeyUp(t *testing.T) {
	n := newNormalizer()

	ev := n.Normalize(up(44, 2.0), focus.Info{})
	assert.Nil(t, ev.DwellTime)
	assert.Equal(t, KeyUp, ev.Kind)
	assert.NotEmpty(t, ev.SessionID, "unmatched key-up is still recorded")

	n.Normalize(down(44, 3.0), focus.Info{})
	n.Normalize(up(44, 3.1), focus.Info{})
	again := n.Normalize(up(44, 3.2), focus.Info{})
	assert.Nil(t, again.DwellTime, "duplicate key-up has no dwell")
}

func TestMouseEventsCarryCoordinatesOnly(t *testing.T) {
	n := newNormalizer()
	x, y := 512.0, 384.0

	ev := n.Normalize(keystroke.RawEvent{
		Kind:      keystroke.RightClick,
		Code:      0x111,
		Timestamp: at(5),
		X:         &x,
		Y:         &y,
	}, focus.Info{AppID: "firefox"})

	assert.Equal(t, 0, ev.KeyCode)
	assert.Nil(t, ev.FlightTime)
	assert.Nil(t, ev.DwellTime)
	assert.Nil(t, ev.Character)
	require.NotNil(t, ev.X)
	assert.Equal(t, 512.0, *ev.X)
	assert.Equal(t, 384.0, *ev.Y)

	x = 0
	assert.Equal(t, 512.0, *ev.X, "event does not alias the raw pointer")
}

func TestSessionBoundary(t *testing.T) {
	n := newNormalizer()

	e0 := n.Normalize(down(30, 0), focus.Info{})
	e10 := n.Normalize(down(31, 10), focus.Info{})
	e45 := n.Normalize(down(32, 45), focus.Info{})

	assert.Equal(t, e0.SessionID, e10.SessionID)
	assert.NotEqual(t, e10.SessionID, e45.SessionID)
	require.NotNil(t, e45.FlightTime, "flight spans the session boundary")
	assert.InDelta(t, 35.0, *e45.FlightTime, 1e-6)
}

func TestFocusAndCharacter(t *testing.T) {
	n := newNormalizer()
	raw := down(30, 0)
	raw.Char = "a"
	raw.Modifiers = keystroke.ModShift

	ev := n.Normalize(raw, focus.Info{PID: 99, AppID: "gedit", Title: "notes.txt"})
	require.NotNil(t, ev.AppID)
	require.NotNil(t, ev.WindowTitle)
	require.NotNil(t, ev.Character)
	assert.Equal(t, "gedit", *ev.AppID)
	assert.Equal(t, "notes.txt", *ev.WindowTitle)
	assert.Equal(t, "a", *ev.Character)
	assert.True(t, ev.Modifiers.Has(keystroke.ModShift))

	bare := n.Normalize(up(30, 0.1), focus.Info{})
	assert.Nil(t, bare.AppID)
	assert.Nil(t, bare.WindowTitle)
	assert.Nil(t, bare.Character)
}

func TestReset(t *testing.T) {
	n := newNormalizer()
	n.Normalize(down(30, 0), focus.Info{})
	n.Reset()

	ev := n.Normalize(down(31, 0.1), focus.Info{})
	assert.Nil(t, ev.FlightTime)
	assert.Nil(t, n.Normalize(up(30, 0.2), focus.Info{}).DwellTime)
}

func TestSecondsRoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 678901000, time.UTC)
	got := FromSeconds(Seconds(ts))
	assert.WithinDuration(t, ts, got, time.Microsecond)
}
