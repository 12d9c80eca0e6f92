// Package focus answers "which app and window has input focus" for the
// capture pipeline.
//
// Lookups shell out or talk to the display server and can be slow, so the
// hook path never calls a Provider directly. A Tracker polls in the
// background and the hook reads the cached Info.
package focus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rhythmd/internal/logging"
)

// DefaultPollInterval is how often a Tracker refreshes its cache.
const DefaultPollInterval = 500 * time.Millisecond

// ErrNoFocus is returned by providers when nothing is focused or the
// focused window cannot be identified.
var ErrNoFocus = errors.New("no focused window")

// Info describes the focused window. Empty fields are unknown.
type Info struct {
	PID   int
	AppID string
	Title string
}

// IsZero reports whether nothing is known about the focused window.
func (i Info) IsZero() bool {
	return i.PID == 0 && i.AppID == "" && i.Title == ""
}

// Provider looks up the currently focused window.
type Provider interface {
	Lookup() (Info, error)
	Available() (bool, string)
}

// New returns the Provider for the current platform.
func New() Provider {
	return newPlatformProvider()
}

// Static is a Provider that always reports the same window.
type Static struct {
	mu   sync.Mutex
	info Info
	err  error
}

// NewStatic returns a Static provider reporting info.
func NewStatic(info Info) *Static {
	return &Static{info: info}
}

// Set changes the reported window and clears any error.
func (s *Static) Set(info Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info, s.err = info, nil
}

// Fail makes subsequent lookups return err.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) Lookup() (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Info{}, s.err
	}
	return s.info, nil
}

func (s *Static) Available() (bool, string) {
	return true, "static"
}

// Tracker keeps the latest lookup result in memory.
type Tracker struct {
	provider Provider
	interval time.Duration
	log      *slog.Logger

	current atomic.Pointer[Info]
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
}

// NewTracker creates a Tracker polling provider every interval.
// A nil logger uses the "focus" component logger.
func NewTracker(provider Provider, interval time.Duration, log *slog.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logging.Component("focus")
	}
	t := &Tracker{provider: provider, interval: interval, log: log}
	t.current.Store(&Info{})
	return t
}

// Start takes an initial reading and begins polling until ctx is done or
// Close is called.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}

	t.refresh()

	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go t.pollLoop(ctx)
}

func (t *Tracker) pollLoop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refresh()
		}
	}
}

// refresh stores the provider's answer, or an empty Info on failure.
func (t *Tracker) refresh() {
	info, err := t.provider.Lookup()
	if err != nil {
		if prev := t.current.Load(); !prev.IsZero() {
			t.log.Debug("focus lookup failed", "error", err)
		}
		info = Info{}
	}
	t.current.Store(&info)
}

// Current returns the cached Info. It never blocks on the provider.
func (t *Tracker) Current() Info {
	return *t.current.Load()
}

// Close stops polling.
func (t *Tracker) Close() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
