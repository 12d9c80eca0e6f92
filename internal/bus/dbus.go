package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"rhythmd/internal/logging"
)

// D-Bus names used for the liveness signals.
const (
	Interface  = "io.rhythmd.Liveness"
	ObjectPath = dbus.ObjectPath("/io/rhythmd/Liveness")
	DaemonName = "io.rhythmd.Daemon"
)

// ErrNameTaken is returned by ClaimName when another process owns the name.
var ErrNameTaken = errors.New("bus name already taken")

// DBusBus sends and receives liveness signals on the session bus. Incoming
// signals are fanned out to local subscribers through a MemoryBus.
type DBusBus struct {
	conn  *dbus.Conn
	local *MemoryBus
	log   *slog.Logger

	mu      sync.Mutex
	matched map[Signal]bool
	signals chan *dbus.Signal
	done    chan struct{}
}

// ConnectDBus opens a private connection to the session bus.
func ConnectDBus(log *slog.Logger) (*DBusBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	if log == nil {
		log = logging.Component("bus")
	}

	b := &DBusBus{
		conn:    conn,
		local:   NewMemory(),
		log:     log,
		matched: make(map[Signal]bool),
		signals: make(chan *dbus.Signal, 16),
		done:    make(chan struct{}),
	}
	conn.Signal(b.signals)
	go b.dispatch()
	return b, nil
}

// MemberName returns the D-Bus signal member for s, e.g. "io.rhythmd.Liveness.ViewerActive".
func MemberName(s Signal) string {
	return Interface + "." + s.String()
}

// ClaimName requests name as the primary owner so only one daemon runs per
// session.
func (b *DBusBus) ClaimName(name string) error {
	reply, err := b.conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}
	return nil
}

func (b *DBusBus) Emit(s Signal) error {
	if err := b.conn.Emit(ObjectPath, MemberName(s)); err != nil {
		return fmt.Errorf("emit %s: %w", s, err)
	}
	return nil
}

// Subscribe adds a match rule for s on first use and returns a local
// subscription.
func (b *DBusBus) Subscribe(s Signal) (<-chan struct{}, func()) {
	b.mu.Lock()
	if !b.matched[s] {
		err := b.conn.AddMatchSignal(
			dbus.WithMatchObjectPath(ObjectPath),
			dbus.WithMatchInterface(Interface),
			dbus.WithMatchMember(s.String()),
		)
		if err != nil {
			b.log.Warn("add match rule", "signal", s.String(), "error", err)
		} else {
			b.matched[s] = true
		}
	}
	b.mu.Unlock()
	return b.local.Subscribe(s)
}

func (b *DBusBus) dispatch() {
	defer close(b.done)
	for sig := range b.signals {
		if sig.Path != ObjectPath || !strings.HasPrefix(sig.Name, Interface+".") {
			continue
		}
		s, ok := ParseSignal(strings.TrimPrefix(sig.Name, Interface+"."))
		if !ok {
			continue
		}
		_ = b.local.Emit(s)
	}
}

// Close disconnects from the bus and closes local subscriptions.
func (b *DBusBus) Close() error {
	b.conn.RemoveSignal(b.signals)
	err := b.conn.Close()
	close(b.signals)
	<-b.done
	b.local.Close()
	return err
}
