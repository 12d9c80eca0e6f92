// Package liveness tracks when a viewer was last known to be looking at the
// data. The batch scheduler reads the heartbeat age to pick its cadence.
package liveness

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"rhythmd/internal/bus"
	"rhythmd/internal/logging"
)

// Never is the age reported when no heartbeat has arrived.
const Never = time.Duration(math.MaxInt64)

// Monitor holds the last heartbeat time. The zero value is ready to use and
// reports no heartbeat.
type Monitor struct {
	last  atomic.Int64 // unix nanos, 0 = never
	beats atomic.Uint64
	clock func() time.Time
	log   *slog.Logger
}

// New creates a Monitor. A nil clock uses time.Now.
func New(clock func() time.Time, log *slog.Logger) *Monitor {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = logging.Component("liveness")
	}
	return &Monitor{clock: clock, log: log}
}

func (m *Monitor) now() time.Time {
	if m.clock == nil {
		return time.Now()
	}
	return m.clock()
}

// Beat records a heartbeat now.
func (m *Monitor) Beat() {
	m.BeatAt(m.now())
}

// BeatAt records a heartbeat at t.
func (m *Monitor) BeatAt(t time.Time) {
	m.last.Store(t.UnixNano())
	m.beats.Add(1)
}

// LastHeartbeat returns the last heartbeat time, or the zero time.
func (m *Monitor) LastHeartbeat() time.Time {
	n := m.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Since returns the heartbeat age at now, or Never.
func (m *Monitor) Since(now time.Time) time.Duration {
	n := m.last.Load()
	if n == 0 {
		return Never
	}
	return now.Sub(time.Unix(0, n))
}

// Beats returns the number of heartbeats received.
func (m *Monitor) Beats() uint64 {
	return m.beats.Load()
}

// Listen records a heartbeat for every ViewerActive signal on b until ctx is
// done or the subscription closes.
func (m *Monitor) Listen(ctx context.Context, b bus.Bus) {
	ch, cancel := b.Subscribe(bus.ViewerActive)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			first := m.last.Load() == 0
			m.Beat()
			if first && m.log != nil {
				m.log.Info("viewer connected")
			}
		}
	}
}
