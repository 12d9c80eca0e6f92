// Package batch buffers normalized input events and flushes them to the
// store on a cadence chosen by how recently a viewer was active.
package batch

import (
	"errors"
	"fmt"
	"time"

	"rhythmd/internal/config"
)

// Mode selects a flush cadence.
type Mode int

const (
	// Fast is used while a viewer is watching live.
	Fast Mode = iota
	// Slow is used shortly after a viewer went away.
	Slow
	// Idle is used when nobody has watched for a while.
	Idle
)

func (m Mode) String() string {
	switch m {
	case Fast:
		return "fast"
	case Slow:
		return "slow"
	case Idle:
		return "idle"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Thresholds are the heartbeat ages separating the modes.
type Thresholds struct {
	Active time.Duration
	Idle   time.Duration
}

// ModeFor returns Fast when since < Active, Slow when since < Idle and Idle
// otherwise.
func ModeFor(since time.Duration, th Thresholds) Mode {
	switch {
	case since < th.Active:
		return Fast
	case since < th.Idle:
		return Slow
	default:
		return Idle
	}
}

// Cadence is one mode's flush trigger: a queue length and a maximum age.
type Cadence struct {
	Size     int
	Interval time.Duration
}

// Policy holds the cadence for each mode and the thresholds selecting them.
type Policy struct {
	Fast       Cadence
	Slow       Cadence
	Idle       Cadence
	Thresholds Thresholds
}

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("invalid batch policy")

// DefaultPolicy returns the built-in cadences.
func DefaultPolicy() Policy {
	return Policy{
		Fast:       Cadence{Size: 10, Interval: 2 * time.Second},
		Slow:       Cadence{Size: 50, Interval: 10 * time.Second},
		Idle:       Cadence{Size: 200, Interval: 30 * time.Second},
		Thresholds: Thresholds{Active: 5 * time.Second, Idle: 60 * time.Second},
	}
}

// PolicyFromConfig builds a Policy from the batch and liveness sections.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		Fast: Cadence{Size: cfg.Batch.Fast.Size, Interval: cfg.Batch.Fast.Interval()},
		Slow: Cadence{Size: cfg.Batch.Slow.Size, Interval: cfg.Batch.Slow.Interval()},
		Idle: Cadence{Size: cfg.Batch.Idle.Size, Interval: cfg.Batch.Idle.Interval()},
		Thresholds: Thresholds{
			Active: cfg.ActiveThreshold(),
			Idle:   cfg.IdleThreshold(),
		},
	}
}

// Cadence returns the cadence for m.
func (p Policy) Cadence(m Mode) Cadence {
	switch m {
	case Fast:
		return p.Fast
	case Slow:
		return p.Slow
	default:
		return p.Idle
	}
}

// Validate checks that sizes and intervals are positive and ordered
// fast <= slow <= idle.
func (p Policy) Validate() error {
	for _, m := range []Mode{Fast, Slow, Idle} {
		c := p.Cadence(m)
		if c.Size <= 0 || c.Interval <= 0 {
			return fmt.Errorf("%w: %s cadence must be positive", ErrInvalidPolicy, m)
		}
	}
	if p.Fast.Size > p.Slow.Size || p.Slow.Size > p.Idle.Size {
		return fmt.Errorf("%w: sizes must satisfy fast <= slow <= idle", ErrInvalidPolicy)
	}
	if p.Fast.Interval > p.Slow.Interval || p.Slow.Interval > p.Idle.Interval {
		return fmt.Errorf("%w: intervals must satisfy fast <= slow <= idle", ErrInvalidPolicy)
	}
	if p.Thresholds.Active <= 0 || p.Thresholds.Idle <= p.Thresholds.Active {
		return fmt.Errorf("%w: idle threshold must exceed active threshold", ErrInvalidPolicy)
	}
	return nil
}
