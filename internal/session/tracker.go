// Package session segments input into sessions separated by inactivity gaps.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is the inactivity gap that ends a session.
const DefaultTimeout = 30 * time.Second

// Tracker assigns a session id to each observed input timestamp. A new id is
// generated exactly when the gap since the previous observation is strictly
// greater than the timeout. Ids are random UUIDs and never reused.
type Tracker struct {
	mu           sync.Mutex
	timeout      float64
	id           string
	lastActivity float64
	newID        func() string
	onRotate     func(prev, next string, gap float64)
}

// NewTracker returns a tracker with a fresh session id. A non-positive
// timeout selects DefaultTimeout.
func NewTracker(timeout time.Duration) *Tracker {
	t := &Tracker{newID: uuid.NewString}
	t.setTimeout(timeout)
	t.id = t.newID()
	return t
}

func (t *Tracker) setTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	t.timeout = d.Seconds()
}

// SetTimeout changes the inactivity timeout for subsequent observations.
func (t *Tracker) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setTimeout(d)
}

// OnRotate registers a callback run (under the tracker lock) whenever a new
// session starts. gap is the inactivity in seconds that triggered it.
func (t *Tracker) OnRotate(fn func(prev, next string, gap float64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRotate = fn
}

// Observe records activity at now (seconds since epoch) and returns the
// session id the activity belongs to.
func (t *Tracker) Observe(now float64) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastActivity > 0 {
		if gap := now - t.lastActivity; gap > t.timeout {
			prev := t.id
			t.id = t.newID()
			if t.onRotate != nil {
				t.onRotate(prev, t.id, gap)
			}
		}
	}
	t.lastActivity = now
	return t.id
}

// Current returns the active session id.
func (t *Tracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// LastActivity returns the timestamp of the last observation, or 0.
func (t *Tracker) LastActivity() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}
