// Package keystroke is the OS input hook: it observes key and mouse-button
// events system-wide and hands each one to a handler as a RawEvent.
//
// The hook is observational only. Events are never consumed, delayed or
// modified on their way to applications.
//
// Platform support:
//   - Linux: /dev/input/event* via evdev (requires input group or root)
//   - Others: not available; use the simulated source
package keystroke

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Kind is the type of a raw input event.
type Kind int

const (
	KeyDown Kind = iota
	KeyUp
	LeftClick
	RightClick
)

func (k Kind) String() string {
	switch k {
	case KeyDown:
		return "keyDown"
	case KeyUp:
		return "keyUp"
	case LeftClick:
		return "leftClick"
	case RightClick:
		return "rightClick"
	default:
		return "unknown"
	}
}

// IsMouse reports whether k is a click.
func (k Kind) IsMouse() bool {
	return k == LeftClick || k == RightClick
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for _, k := range []Kind{KeyDown, KeyUp, LeftClick, RightClick} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Modifiers is a bitmask of modifier keys held during an event.
type Modifiers uint8

const (
	ModShift Modifiers = 1 << iota
	ModControl
	ModAlt
	ModCommand
	ModCapsLock
)

// Has reports whether every bit in f is set.
func (m Modifiers) Has(f Modifiers) bool {
	return m&f == f
}

func (m Modifiers) String() string {
	if m == 0 {
		return ""
	}
	names := []struct {
		bit  Modifiers
		name string
	}{
		{ModShift, "shift"},
		{ModControl, "control"},
		{ModAlt, "alt"},
		{ModCommand, "command"},
		{ModCapsLock, "capslock"},
	}
	var parts []string
	for _, n := range names {
		if m.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// RawEvent is one event as delivered by the OS hook, before normalization.
type RawEvent struct {
	Kind      Kind
	Code      int // OS key code; 0 for clicks
	Timestamp time.Time
	Modifiers Modifiers
	X, Y      *float64 // pointer position for clicks
	Char      string   // resolved character for key-down, if any
	PID       int      // originating process when the platform knows it
}

// Handler receives raw events. It runs on the hook's goroutine and must
// return quickly without blocking on I/O.
type Handler func(RawEvent)

// Source is an input hook.
type Source interface {
	// Start installs the hook and begins delivering events to handler.
	// It returns ErrNotAvailable or ErrPermissionDenied when the hook
	// cannot be installed.
	Start(ctx context.Context, handler Handler) error

	// Stop removes the hook and waits for delivery to end.
	Stop() error

	// Available reports whether the hook can be installed with current
	// permissions, and why not.
	Available() (bool, string)
}

var (
	// ErrNotAvailable is returned when no input hook exists on this platform.
	ErrNotAvailable = errors.New("input hook not available on this platform")

	// ErrPermissionDenied is returned when permissions are insufficient.
	ErrPermissionDenied = errors.New("insufficient permissions for input hook")

	// ErrAlreadyRunning is returned when Start is called while already running.
	ErrAlreadyRunning = errors.New("input hook already running")
)

// Options configures the platform source.
type Options struct {
	// Devices overrides device discovery.
	Devices []string

	// Mouse enables click capture.
	Mouse bool

	// Logger receives device discovery and hot-unplug messages.
	Logger *slog.Logger
}

// New creates the Source for the current platform.
func New(opts Options) Source {
	return newPlatformSource(opts)
}

// baseSource holds the running state shared by implementations.
type baseSource struct {
	mu      sync.RWMutex
	running bool
	handler Handler
}

func (b *baseSource) begin(handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrAlreadyRunning
	}
	b.running = true
	b.handler = handler
	return nil
}

func (b *baseSource) end() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.handler = nil
}

// IsRunning returns the running state.
func (b *baseSource) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

func (b *baseSource) deliver(ev RawEvent) bool {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	if h == nil {
		return false
	}
	h(ev)
	return true
}
