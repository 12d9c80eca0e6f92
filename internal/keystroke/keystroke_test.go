package keystroke

import (
	"context"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Tests for Kind and Modifiers
// =============================================================================

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KeyDown, "keyDown"},
		{KeyUp, "keyUp"},
		{LeftClick, "leftClick"},
		{RightClick, "rightClick"},
		{Kind(42), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.kind.String(); got != tc.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tc.kind, got, tc.want)
		}
		if k, ok := ParseKind(tc.want); tc.want != "unknown" && (!ok || k != tc.kind) {
			t.Errorf("ParseKind(%q) = %v, %v", tc.want, k, ok)
		}
	}
	if !LeftClick.IsMouse() || KeyDown.IsMouse() {
		t.Error("IsMouse misclassifies kinds")
	}
}

func TestModifiers(t *testing.T) {
	m := ModShift | ModCapsLock
	if !m.Has(ModShift) || m.Has(ModControl) {
		t.Errorf("Has misreports %v", m)
	}
	if got := m.String(); got != "shift|capslock" {
		t.Errorf("String() = %q", got)
	}
	if Modifiers(0).String() != "" {
		t.Error("empty modifiers should render empty")
	}
}

// =============================================================================
// Tests for the US keymap
// =============================================================================

func TestCharFor(t *testing.T) {
	tests := []struct {
		name string
		code int
		mods Modifiers
		want string
		ok   bool
	}{
		{"plain letter", 30, 0, "a", true},
		{"shifted letter", 30, ModShift, "A", true},
		{"caps letter", 30, ModCapsLock, "A", true},
		{"caps and shift cancel", 30, ModShift | ModCapsLock, "a", true},
		{"caps leaves digits", 2, ModCapsLock, "1", true},
		{"shifted digit", 2, ModShift, "!", true},
		{"space", KeySpace, 0, " ", true},
		{"control chord", 46, ModControl, "", false},
		{"unmapped", KeyEsc, 0, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := CharFor(tc.code, tc.mods)
			if got != tc.want || ok != tc.ok {
				t.Errorf("CharFor(%d, %v) = %q, %v; want %q, %v", tc.code, tc.mods, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestCodeFor(t *testing.T) {
	code, shifted, ok := CodeFor('H')
	if !ok || code != 35 || !shifted {
		t.Errorf("CodeFor('H') = %d, %v, %v", code, shifted, ok)
	}
	code, shifted, ok = CodeFor('h')
	if !ok || code != 35 || shifted {
		t.Errorf("CodeFor('h') = %d, %v, %v", code, shifted, ok)
	}
	if _, _, ok := CodeFor('é'); ok {
		t.Error("CodeFor should not map non-US runes")
	}
}

func TestModifierState(t *testing.T) {
	var m modifierState

	m.apply(KeyLeftShift, true)
	if !m.current().Has(ModShift) {
		t.Fatal("shift should be held")
	}
	m.apply(KeyLeftShift, false)
	if m.current().Has(ModShift) {
		t.Fatal("shift should be released")
	}

	m.apply(KeyCapsLock, true)
	m.apply(KeyCapsLock, false)
	if !m.current().Has(ModCapsLock) {
		t.Fatal("caps lock should toggle on press")
	}
	m.apply(KeyCapsLock, true)
	if m.current().Has(ModCapsLock) {
		t.Fatal("caps lock should toggle off")
	}

	m.apply(30, true)
	if m.current() != 0 {
		t.Errorf("ordinary key changed modifiers: %v", m.current())
	}
}

// =============================================================================
// Tests for SimulatedSource
// =============================================================================

type recorder struct {
	mu     sync.Mutex
	events []RawEvent
}

func (r *recorder) handle(ev RawEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []RawEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RawEvent(nil), r.events...)
}

func TestSimulatedStartStop(t *testing.T) {
	s := NewSimulated()
	rec := &recorder{}

	if ok, _ := s.Available(); !ok {
		t.Fatal("simulated source should be available")
	}
	if s.Emit(RawEvent{Kind: KeyDown}) {
		t.Error("Emit before Start should be dropped")
	}

	if err := s.Start(context.Background(), rec.handle); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background(), rec.handle); err != ErrAlreadyRunning {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	if !s.Emit(RawEvent{Kind: KeyDown, Code: 30}) {
		t.Error("Emit while running should deliver")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	s.Emit(RawEvent{Kind: KeyDown, Code: 31})

	if got := len(rec.snapshot()); got != 1 {
		t.Errorf("expected 1 delivered event, got %d", got)
	}
}

func TestSimulatedStrokeAndClick(t *testing.T) {
	s := NewSimulated()
	rec := &recorder{}
	_ = s.Start(context.Background(), rec.handle)
	defer s.Stop()

	at := time.Unix(1000, 0)
	s.Stroke(30, at, 80*time.Millisecond)
	s.Click(RightClick, 10, 20, at.Add(time.Second))

	events := rec.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != KeyDown || events[0].Char != "a" || !events[0].Timestamp.Equal(at) {
		t.Errorf("unexpected key-down %+v", events[0])
	}
	if events[1].Kind != KeyUp || events[1].Char != "" || events[1].Timestamp.Sub(at) != 80*time.Millisecond {
		t.Errorf("unexpected key-up %+v", events[1])
	}
	if events[2].Kind != RightClick || *events[2].X != 10 || *events[2].Y != 20 {
		t.Errorf("unexpected click %+v", events[2])
	}
}

func TestSimulatedPlay(t *testing.T) {
	s := NewSimulated()
	rec := &recorder{}
	_ = s.Start(context.Background(), rec.handle)
	defer s.Stop()

	if err := s.Play(context.Background(), "Hi", time.Millisecond, time.Millisecond); err != nil {
		t.Fatalf("Play: %v", err)
	}

	events := rec.snapshot()
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Char != "H" || !events[0].Modifiers.Has(ModShift) {
		t.Errorf("first stroke %+v", events[0])
	}
	if events[2].Char != "i" || events[2].Modifiers.Has(ModShift) {
		t.Errorf("second stroke %+v", events[2])
	}
}

func TestSimulatedPlayCancelled(t *testing.T) {
	s := NewSimulated()
	_ = s.Start(context.Background(), func(RawEvent) {})
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Play(ctx, "hello", time.Hour, time.Millisecond); err != context.Canceled {
		t.Errorf("Play = %v, want context.Canceled", err)
	}
}

func TestSourceInterface(t *testing.T) {
	var _ Source = NewSimulated()
	var _ Source = New(Options{})
}
