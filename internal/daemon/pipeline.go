// Package daemon assembles the capture pipeline: input hook, normalizer,
// session tracker, batch scheduler, liveness monitor and store.
//
// A Pipeline is constructed explicitly at startup and torn down with
// Shutdown, which drains the batch queue before returning.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rhythmd/internal/batch"
	"rhythmd/internal/bus"
	"rhythmd/internal/capture"
	"rhythmd/internal/config"
	"rhythmd/internal/focus"
	"rhythmd/internal/keystroke"
	"rhythmd/internal/liveness"
	"rhythmd/internal/logging"
	"rhythmd/internal/metrics"
	"rhythmd/internal/rhythm"
	"rhythmd/internal/session"
	"rhythmd/internal/store"
)

var (
	// ErrHookUnavailable is returned by Start when the input hook cannot be
	// installed. Monitoring cannot proceed without it.
	ErrHookUnavailable = errors.New("input hook unavailable")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("pipeline already started")

	// ErrStopped is returned by Start after Shutdown. A Pipeline runs once;
	// build a new one to capture again.
	ErrStopped = errors.New("pipeline shut down")
)

// Store is the persistence the pipeline needs.
type Store interface {
	batch.Writer
	RecentFlightTimes(ctx context.Context, limit int) ([]store.FlightSample, error)
}

// Options configures a Pipeline.
type Options struct {
	Config *config.Config
	Source keystroke.Source
	Store  Store
	Bus    bus.Bus

	// Focus overrides the platform focus provider. It is ignored when
	// focus lookups are disabled in Config.
	Focus focus.Provider

	Clock      func() time.Time
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Crash      *logging.CrashHandler
}

// Stats is a snapshot of pipeline state for status reporting.
type Stats struct {
	Batch     batch.Snapshot
	SessionID string
	Heartbeat time.Time
	Focus     focus.Info
}

// Pipeline owns every stage of capture. Nothing in it is global.
type Pipeline struct {
	cfg      atomic.Pointer[config.Config]
	source   keystroke.Source
	store    Store
	bus      bus.Bus
	log      *slog.Logger
	clock    func() time.Time
	crash    *logging.CrashHandler
	metrics  *metrics.Pipeline
	sessions *session.Tracker
	norm     *capture.Normalizer
	sched    *batch.Scheduler
	live     *liveness.Monitor
	focus    *focus.Tracker // nil when disabled

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Pipeline from opts. Nothing runs until Start.
func New(opts Options) (*Pipeline, error) {
	if opts.Source == nil || opts.Store == nil || opts.Bus == nil {
		return nil, errors.New("daemon: Source, Store and Bus are required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("daemon")
	}
	if opts.Crash == nil {
		opts.Crash = logging.NewCrashHandler("", "rhythmd", opts.Logger)
	}

	p := &Pipeline{
		source:  opts.Source,
		store:   opts.Store,
		bus:     opts.Bus,
		log:     opts.Logger,
		clock:   opts.Clock,
		crash:   opts.Crash,
		metrics: metrics.NewPipeline(opts.Registerer),
	}
	p.cfg.Store(cfg.Clone())

	p.sessions = session.NewTracker(cfg.SessionTimeout())
	p.sessions.OnRotate(func(prev, next string, gap float64) {
		p.metrics.RecordRotation()
		p.log.Info("session rotated", "previous", prev, "session_id", next, "gap_sec", gap)
	})
	p.norm = capture.NewNormalizer(p.sessions)
	p.live = liveness.New(opts.Clock, opts.Logger.With("component", "liveness"))

	p.sched = batch.New(batch.Options{
		Writer:          opts.Store,
		Liveness:        p.live,
		Bus:             opts.Bus,
		Policy:          batch.PolicyFromConfig(cfg),
		Tick:            time.Duration(cfg.Batch.TickMs) * time.Millisecond,
		NotifyThreshold: cfg.Batch.NotifyThreshold,
		Clock:           opts.Clock,
		Logger:          opts.Logger.With("component", "batch"),
		Metrics:         p.metrics,
		Crash:           opts.Crash,
	})

	if cfg.Focus.Enabled {
		provider := opts.Focus
		if provider == nil {
			provider = focus.New()
		}
		p.focus = focus.NewTracker(provider,
			time.Duration(cfg.Focus.PollMs)*time.Millisecond,
			opts.Logger.With("component", "focus"))
	}
	return p, nil
}

// Start installs the input hook and starts the background loops. It returns
// an error wrapping ErrHookUnavailable when the hook cannot be installed.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return ErrAlreadyStarted
	}

	if ok, reason := p.source.Available(); !ok {
		return fmt.Errorf("%w: %s", ErrHookUnavailable, reason)
	}

	runCtx, cancel := context.WithCancel(ctx)

	if p.focus != nil {
		p.focus.Start(runCtx)
	}

	p.goSafe("liveness", func() { p.live.Listen(runCtx, p.bus) })
	p.goSafe("scheduler", func() { p.sched.Run(runCtx) })

	if err := p.source.Start(runCtx, p.HandleRaw); err != nil {
		cancel()
		p.wg.Wait()
		if p.focus != nil {
			p.focus.Close()
		}
		return fmt.Errorf("%w: %w", ErrHookUnavailable, err)
	}

	p.cancel = cancel
	p.started = true
	p.log.Info("pipeline started",
		"session_id", p.sessions.Current(),
		"focus", p.focus != nil)
	return nil
}

func (p *Pipeline) goSafe(where string, fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.crash.Recover(where)
		fn()
	}()
}

// HandleRaw is the hook callback. It normalizes raw with the cached focus
// info and queues it. It does no I/O.
func (p *Pipeline) HandleRaw(raw keystroke.RawEvent) {
	defer p.crash.Recover("hook")

	var fi focus.Info
	if p.focus != nil {
		fi = p.focus.Current()
	}
	ev := p.norm.Normalize(raw, fi)
	p.metrics.RecordEvent(ev.Kind.String())
	p.sched.Enqueue(ev)
}

// Shutdown removes the hook, stops the loops and blocks until every queued
// event has been handed to the store.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	started, cancel := p.started, p.cancel
	p.started, p.stopped, p.cancel = false, true, nil
	p.mu.Unlock()

	var errs []error
	if started {
		if err := p.source.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop input hook: %w", err))
		}
	}

	if err := p.sched.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	if p.focus != nil {
		p.focus.Close()
	}

	snap := p.sched.Snapshot()
	p.log.Info("pipeline stopped",
		"batches_written", snap.BatchesWritten,
		"batches_dropped", snap.BatchesDropped,
		"events_written", snap.EventsWritten)
	return errors.Join(errs...)
}

// Analyze reads the recent flight times from the store and summarizes them.
// A limit of zero uses the configured window.
func (p *Pipeline) Analyze(ctx context.Context, limit int) (rhythm.Result, error) {
	cfg := p.cfg.Load()
	if limit <= 0 {
		limit = cfg.Analysis.WindowSamples
	}
	return AnalyzeStore(ctx, p.store, limit, cfg.Analysis.MaxFlightSec)
}

// AnalyzeStore runs the rhythm analysis against any flight-time source.
func AnalyzeStore(ctx context.Context, s interface {
	RecentFlightTimes(ctx context.Context, limit int) ([]store.FlightSample, error)
}, limit int, maxFlight float64) (rhythm.Result, error) {
	rows, err := s.RecentFlightTimes(ctx, limit)
	if err != nil {
		return rhythm.Result{}, fmt.Errorf("analyze: %w", err)
	}
	return rhythm.Analyze(rhythm.FilterSamples(rows, maxFlight)), nil
}

// ApplyConfig applies the hot-reloadable settings of cfg: batch cadences,
// liveness thresholds, session timeout and analysis window. Capture,
// storage and bus settings need a restart.
func (p *Pipeline) ApplyConfig(cfg *config.Config) error {
	policy := batch.PolicyFromConfig(cfg)
	if err := policy.Validate(); err != nil {
		return err
	}

	old := p.cfg.Load()
	p.sched.SetPolicy(policy)
	p.sessions.SetTimeout(cfg.SessionTimeout())
	p.cfg.Store(cfg.Clone())

	if old.Storage != cfg.Storage || old.Capture.Source != cfg.Capture.Source || old.Bus != cfg.Bus {
		p.log.Warn("capture, storage and bus changes take effect after restart")
	}
	p.log.Info("configuration applied", "session_timeout", cfg.SessionTimeout())
	return nil
}

// Stats returns the current pipeline state.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Batch:     p.sched.Snapshot(),
		SessionID: p.sessions.Current(),
		Heartbeat: p.live.LastHeartbeat(),
	}
	if p.focus != nil {
		st.Focus = p.focus.Current()
	}
	return st
}

// Scheduler exposes the batch scheduler, mainly for tests.
func (p *Pipeline) Scheduler() *batch.Scheduler {
	return p.sched
}

// Liveness exposes the liveness monitor.
func (p *Pipeline) Liveness() *liveness.Monitor {
	return p.live
}
