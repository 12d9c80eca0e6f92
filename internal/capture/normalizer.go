package capture

import (
	"sync"

	"rhythmd/internal/focus"
	"rhythmd/internal/keystroke"
	"rhythmd/internal/session"
)

// Normalizer builds InputEvents from raw hook events. It keeps the state
// needed to derive flight and dwell times and advances the session tracker.
//
// Normalize is cheap and never does I/O, so it is safe to call on the hook
// goroutine.
type Normalizer struct {
	sessions *session.Tracker

	mu          sync.Mutex
	lastKeyDown float64
	haveKeyDown bool
	pressed     map[int]float64
}

// NewNormalizer creates a Normalizer that stamps events with ids from
// sessions.
func NewNormalizer(sessions *session.Tracker) *Normalizer {
	return &Normalizer{
		sessions: sessions,
		pressed:  make(map[int]float64),
	}
}

// Normalize converts raw into an InputEvent. fi is the focused window at the
// time of the event; an empty Info leaves the app and title unset.
func (n *Normalizer) Normalize(raw keystroke.RawEvent, fi focus.Info) InputEvent {
	now := Seconds(raw.Timestamp)

	// The session must advance before the event is built so it carries the
	// new id when this event opens a session.
	sid := n.sessions.Observe(now)

	ev := InputEvent{
		KeyCode:     raw.Code,
		Timestamp:   now,
		Kind:        raw.Kind,
		Modifiers:   raw.Modifiers,
		AppID:       optString(fi.AppID),
		WindowTitle: optString(fi.Title),
		SessionID:   sid,
	}

	if raw.Kind.IsMouse() {
		ev.KeyCode = 0
		if raw.X != nil && raw.Y != nil {
			x, y := *raw.X, *raw.Y
			ev.X, ev.Y = &x, &y
		}
		return ev
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	switch raw.Kind {
	case KeyDown:
		ev.Character = optString(raw.Char)
		if n.haveKeyDown {
			flight := now - n.lastKeyDown
			ev.FlightTime = &flight
		}
		n.lastKeyDown = now
		n.haveKeyDown = true
		n.pressed[raw.Code] = now

	case KeyUp:
		if down, ok := n.pressed[raw.Code]; ok {
			dwell := now - down
			ev.DwellTime = &dwell
			delete(n.pressed, raw.Code)
		}
	}
	return ev
}

// Reset forgets key timing so the next key-down starts a new run.
// Session state is kept.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastKeyDown = 0
	n.haveKeyDown = false
	clear(n.pressed)
}

// Pending returns how many keys are down without a matching key-up.
func (n *Normalizer) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pressed)
}
