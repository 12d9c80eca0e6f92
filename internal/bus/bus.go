// Package bus carries the two liveness signals between the daemon and its
// viewers: viewerActive (viewer to daemon) and dataUpdated (daemon to
// viewer). Signals have no payload.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Signal names one of the liveness signals.
type Signal int

const (
	ViewerActive Signal = iota
	DataUpdated
)

func (s Signal) String() string {
	switch s {
	case ViewerActive:
		return "ViewerActive"
	case DataUpdated:
		return "DataUpdated"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}

// ParseSignal is the inverse of Signal.String.
func ParseSignal(name string) (Signal, bool) {
	for _, s := range []Signal{ViewerActive, DataUpdated} {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// ErrClosed is returned when emitting on a closed bus.
var ErrClosed = errors.New("bus closed")

// Bus delivers signals to subscribers.
//
// Emit never blocks on slow subscribers. Each subscription channel holds at
// most one pending notification, so bursts coalesce into a single wakeup.
type Bus interface {
	Emit(s Signal) error
	Subscribe(s Signal) (<-chan struct{}, func())
	Close() error
}

// MemoryBus is an in-process Bus.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[Signal]map[int]chan struct{}
	nextID int
	closed bool
}

// NewMemory creates an empty MemoryBus.
func NewMemory() *MemoryBus {
	return &MemoryBus{subs: make(map[Signal]map[int]chan struct{})}
}

func (b *MemoryBus) Emit(s Signal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for _, ch := range b.subs[s] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel notified on every s and a function that
// cancels the subscription and closes the channel.
func (b *MemoryBus) Subscribe(s Signal) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	if b.subs[s] == nil {
		b.subs[s] = make(map[int]chan struct{})
	}
	b.subs[s][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[s][id]; ok {
				delete(b.subs[s], id)
				close(ch)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions to s.
func (b *MemoryBus) Subscribers(s Signal) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[s])
}

// Close closes every subscription channel.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
	}
	return nil
}

// Open creates the Bus named by kind: "dbus" or "memory".
func Open(kind string, log *slog.Logger) (Bus, error) {
	switch kind {
	case "memory":
		return NewMemory(), nil
	case "dbus", "":
		return ConnectDBus(log)
	default:
		return nil, fmt.Errorf("unknown bus type %q", kind)
	}
}
