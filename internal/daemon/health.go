package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rhythmd/internal/health"
	"rhythmd/internal/liveness"
)

// Pinger is satisfied by the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Running reports whether the input hook is installed.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// RegisterHealth adds the pipeline's components to c: the input hook and
// the store are critical, batch writes and viewer presence are advisory.
func (p *Pipeline) RegisterHealth(c *health.Checker, store Pinger) {
	c.RegisterFunc("hook", true, func(context.Context) health.CheckResult {
		if !p.Running() {
			return health.CheckResult{Status: health.StatusUnhealthy, Message: "input hook not installed"}
		}
		return health.CheckResult{Status: health.StatusHealthy, Message: "capturing",
			Details: map[string]any{"session_id": p.sessions.Current()}}
	})

	c.RegisterFunc("store", true, func(ctx context.Context) health.CheckResult {
		if err := store.Ping(ctx); err != nil {
			return health.CheckResult{Status: health.StatusUnhealthy, Message: "store unreachable", Error: err.Error()}
		}
		return health.CheckResult{Status: health.StatusHealthy, Message: "store reachable"}
	})

	var (
		mu          sync.Mutex
		lastDropped uint64
	)
	c.RegisterFunc("batch", false, func(context.Context) health.CheckResult {
		snap := p.sched.Snapshot()
		mu.Lock()
		dropped := snap.BatchesDropped - lastDropped
		lastDropped = snap.BatchesDropped
		mu.Unlock()

		details := map[string]any{
			"mode":            snap.Mode.String(),
			"queue_length":    snap.QueueLength,
			"batches_written": snap.BatchesWritten,
			"batches_dropped": snap.BatchesDropped,
		}
		if dropped > 0 {
			return health.CheckResult{Status: health.StatusDegraded, Details: details,
				Message: fmt.Sprintf("%d batch write(s) failed since last check", dropped)}
		}
		return health.CheckResult{Status: health.StatusHealthy, Message: "writes succeeding", Details: details}
	})

	c.RegisterFunc("viewer", false, func(context.Context) health.CheckResult {
		since := p.live.Since(p.clock())
		if since == liveness.Never {
			return health.CheckResult{Status: health.StatusHealthy, Message: "no viewer has connected"}
		}
		return health.CheckResult{Status: health.StatusHealthy, Message: "last heartbeat " + since.Round(time.Millisecond).String() + " ago"}
	})
}
