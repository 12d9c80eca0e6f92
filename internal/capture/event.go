// Package capture turns raw hook callbacks into InputEvent records carrying
// session, timing and focus context.
package capture

import (
	"time"

	"rhythmd/internal/keystroke"
)

// EventKind is the kind of an observed action.
type EventKind = keystroke.Kind

// Modifiers is the modifier-key bitmask held during an action.
type Modifiers = keystroke.Modifiers

const (
	KeyDown    = keystroke.KeyDown
	KeyUp      = keystroke.KeyUp
	LeftClick  = keystroke.LeftClick
	RightClick = keystroke.RightClick
)

// InputEvent is one observed keyboard or mouse action. Optional fields are
// nil when not applicable or unknown. An InputEvent is not modified after
// the Normalizer builds it.
type InputEvent struct {
	KeyCode   int     // 0 for mouse events
	Timestamp float64 // seconds since the Unix epoch
	Kind      EventKind
	Modifiers Modifiers

	AppID       *string
	WindowTitle *string
	Character   *string // key-down only

	FlightTime *float64 // seconds since the previous key-down
	DwellTime  *float64 // seconds the key was held

	X, Y *float64 // mouse only

	SessionID string
}

// Time returns Timestamp as a time.Time.
func (e InputEvent) Time() time.Time {
	return FromSeconds(e.Timestamp)
}

// Seconds converts t to fractional seconds since the Unix epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromSeconds is the inverse of Seconds, to microsecond precision.
func FromSeconds(s float64) time.Time {
	return time.UnixMicro(int64(s * 1e6))
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
