package keystroke

import (
	"context"
	"time"
)

// SimulatedSource is a Source driven by the caller. Tests use it to inject
// events, and `rhythmd run --simulate` uses Play to generate typing.
type SimulatedSource struct {
	baseSource
	mods Modifiers
}

// NewSimulated creates a simulated source.
func NewSimulated() *SimulatedSource {
	return &SimulatedSource{}
}

// Start begins delivering injected events to handler.
func (s *SimulatedSource) Start(ctx context.Context, handler Handler) error {
	return s.begin(handler)
}

// Stop ends delivery. Events injected afterwards are discarded.
func (s *SimulatedSource) Stop() error {
	s.end()
	return nil
}

// Available returns true (simulated is always available).
func (s *SimulatedSource) Available() (bool, string) {
	return true, "simulated input source"
}

// Emit delivers ev if the source is running.
func (s *SimulatedSource) Emit(ev RawEvent) bool {
	return s.deliver(ev)
}

// Stroke emits a key-down at at and a key-up dwell later.
func (s *SimulatedSource) Stroke(code int, at time.Time, dwell time.Duration) {
	char, _ := CharFor(code, s.mods)
	s.Emit(RawEvent{Kind: KeyDown, Code: code, Timestamp: at, Modifiers: s.mods, Char: char})
	s.Emit(RawEvent{Kind: KeyUp, Code: code, Timestamp: at.Add(dwell), Modifiers: s.mods})
}

// Click emits a click of kind at (x, y).
func (s *SimulatedSource) Click(kind Kind, x, y float64, at time.Time) {
	s.Emit(RawEvent{Kind: kind, Timestamp: at, X: &x, Y: &y, Modifiers: s.mods})
}

// Play types text in real time, one stroke every gap, until the text is
// exhausted or ctx is cancelled. Characters without a US key code are skipped.
func (s *SimulatedSource) Play(ctx context.Context, text string, gap, dwell time.Duration) error {
	ticker := time.NewTicker(gap)
	defer ticker.Stop()

	for _, r := range text {
		code, shifted, ok := CodeFor(r)
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if shifted {
			s.mods |= ModShift
		}
		s.Stroke(code, time.Now(), dwell)
		s.mods &^= ModShift
	}
	return nil
}
