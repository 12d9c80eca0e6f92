package batch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rhythmd/internal/bus"
	"rhythmd/internal/capture"
	"rhythmd/internal/logging"
	"rhythmd/internal/metrics"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultTick            = time.Second
	DefaultNotifyThreshold = 10
	DefaultWriteTimeout    = 30 * time.Second
)

// Writer persists a batch. A batch is committed entirely or not at all.
type Writer interface {
	WriteBatch(ctx context.Context, events []capture.InputEvent) error
}

// Heartbeat reports how long ago a viewer was last active.
type Heartbeat interface {
	Since(now time.Time) time.Duration
}

// Emitter sends liveness signals.
type Emitter interface {
	Emit(s bus.Signal) error
}

// Options configures a Scheduler.
type Options struct {
	Writer   Writer
	Liveness Heartbeat // nil means always Idle
	Bus      Emitter   // nil disables dataUpdated
	Policy   Policy

	// Tick is the period of the interval check.
	Tick time.Duration

	// NotifyThreshold is the smallest written batch that emits dataUpdated.
	NotifyThreshold int

	// WriteTimeout bounds each background store write.
	WriteTimeout time.Duration

	Clock   func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Pipeline
	Crash   *logging.CrashHandler
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	QueueLength    int
	LastBatch      time.Time
	Mode           Mode
	Cadence        Cadence
	BatchesWritten uint64
	BatchesDropped uint64
	EventsWritten  uint64
}

// Scheduler buffers events and flushes them to a Writer.
//
// Enqueue is called from the input hook and never waits on the store: the
// queue is swapped out under a short lock and written on a background
// goroutine. Background writes are chained so they reach the store in the
// order their batches were cut.
//
// A batch whose write fails is logged, counted and dropped. It is not
// retried or re-queued.
type Scheduler struct {
	writer   Writer
	liveness Heartbeat
	emitter  Emitter
	tick     time.Duration
	notifyAt int
	timeout  time.Duration
	clock    func() time.Time
	log      *slog.Logger
	metrics  *metrics.Pipeline
	crash    *logging.CrashHandler

	policy atomic.Pointer[Policy]

	mu        sync.Mutex
	queue     []capture.InputEvent
	lastBatch time.Time
	tail      chan struct{} // closed when the latest dispatched write ends

	stop     chan struct{}
	stopOnce sync.Once

	written       atomic.Uint64
	dropped       atomic.Uint64
	eventsWritten atomic.Uint64
}

// New creates a Scheduler. It panics if opts.Writer is nil.
func New(opts Options) *Scheduler {
	if opts.Writer == nil {
		panic("batch: nil Writer")
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.NotifyThreshold <= 0 {
		opts.NotifyThreshold = DefaultNotifyThreshold
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("batch")
	}
	if opts.Crash == nil {
		opts.Crash = logging.NewCrashHandler("", "batch", opts.Logger)
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}

	tail := make(chan struct{})
	close(tail)

	s := &Scheduler{
		writer:    opts.Writer,
		liveness:  opts.Liveness,
		emitter:   opts.Bus,
		tick:      opts.Tick,
		notifyAt:  opts.NotifyThreshold,
		timeout:   opts.WriteTimeout,
		clock:     opts.Clock,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		crash:     opts.Crash,
		lastBatch: opts.Clock(),
		tail:      tail,
		stop:      make(chan struct{}),
	}
	p := opts.Policy
	s.policy.Store(&p)
	return s
}

// SetPolicy replaces the cadences and thresholds. It takes effect at the
// next decision.
func (s *Scheduler) SetPolicy(p Policy) {
	s.policy.Store(&p)
	s.log.Info("batch policy updated",
		"fast_size", p.Fast.Size, "slow_size", p.Slow.Size, "idle_size", p.Idle.Size)
}

// Policy returns the active policy.
func (s *Scheduler) Policy() Policy {
	return *s.policy.Load()
}

// Mode returns the mode at now.
func (s *Scheduler) Mode(now time.Time) Mode {
	if s.liveness == nil {
		return Idle
	}
	return ModeFor(s.liveness.Since(now), s.policy.Load().Thresholds)
}

// Enqueue appends ev and flushes in the background when the queue reaches
// the current batch size or the interval since the last batch has passed.
func (s *Scheduler) Enqueue(ev capture.InputEvent) {
	now := s.clock()
	mode := s.Mode(now)
	c := s.policy.Load().Cadence(mode)

	s.mu.Lock()
	s.queue = append(s.queue, ev)
	var batch []capture.InputEvent
	var prev, done chan struct{}
	if len(s.queue) >= c.Size || now.Sub(s.lastBatch) > c.Interval {
		batch, prev, done = s.cutLocked(now)
	}
	qlen := len(s.queue)
	s.mu.Unlock()

	s.metrics.SetQueue(qlen, int(mode))
	if batch != nil {
		s.dispatch(batch, prev, done)
	}
}

// cutLocked swaps out the queue and reserves the next slot in the write
// chain. s.mu must be held.
func (s *Scheduler) cutLocked(now time.Time) (batch []capture.InputEvent, prev, done chan struct{}) {
	batch = s.queue
	s.queue = nil
	s.lastBatch = now
	prev = s.tail
	done = make(chan struct{})
	s.tail = done
	return batch, prev, done
}

// checkInterval flushes a non-empty queue whose interval has elapsed.
func (s *Scheduler) checkInterval() {
	now := s.clock()
	mode := s.Mode(now)
	c := s.policy.Load().Cadence(mode)

	s.mu.Lock()
	var batch []capture.InputEvent
	var prev, done chan struct{}
	if len(s.queue) > 0 && now.Sub(s.lastBatch) > c.Interval {
		batch, prev, done = s.cutLocked(now)
	}
	qlen := len(s.queue)
	s.mu.Unlock()

	s.metrics.SetQueue(qlen, int(mode))
	if batch != nil {
		s.dispatch(batch, prev, done)
	}
}

func (s *Scheduler) dispatch(batch []capture.InputEvent, prev, done chan struct{}) {
	go func() {
		defer close(done)
		defer s.crash.Recover("batch-writer")
		<-prev

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = s.write(ctx, batch)
	}()
}

// write stores batch, dropping it on failure.
func (s *Scheduler) write(ctx context.Context, batch []capture.InputEvent) error {
	start := s.clock()
	err := s.writer.WriteBatch(ctx, batch)
	took := s.clock().Sub(start)

	if err != nil {
		s.dropped.Add(1)
		s.metrics.RecordDrop(len(batch), took)
		s.log.Error("batch write failed, dropping batch",
			"events", len(batch), "duration", took, "error", err)
		return err
	}

	s.written.Add(1)
	s.eventsWritten.Add(uint64(len(batch)))
	s.metrics.RecordWrite(len(batch), took)
	s.log.Debug("batch written", "events", len(batch), "duration", took)

	if len(batch) >= s.notifyAt && s.emitter != nil {
		if err := s.emitter.Emit(bus.DataUpdated); err != nil {
			s.log.Warn("emit dataUpdated", "error", err)
		} else {
			s.metrics.RecordNotify()
		}
	}
	return nil
}

// Run checks the interval condition every tick until ctx is done or Stop
// is called.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.checkInterval()
		}
	}
}

// Flush writes whatever is queued and waits for every earlier background
// write to finish. It returns the error of its own write, if any; the batch
// is dropped either way.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	var batch []capture.InputEvent
	var prev, done chan struct{}
	if len(s.queue) > 0 {
		batch, prev, done = s.cutLocked(s.clock())
	} else {
		// nothing to write: the chain tail closes once every write cut so
		// far has ended
		done = s.tail
	}
	s.mu.Unlock()
	s.metrics.SetQueue(0, int(s.Mode(s.clock())))

	if batch != nil {
		return s.writeInChain(ctx, batch, prev, done)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) writeInChain(ctx context.Context, batch []capture.InputEvent, prev, done chan struct{}) error {
	select {
	case <-prev:
	case <-ctx.Done():
		// Keep our place in the chain so later writes stay ordered.
		s.dispatch(batch, prev, done)
		return ctx.Err()
	}
	defer close(done)
	return s.write(ctx, batch)
}

// Stop ends Run and drains the queue with Flush.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.Flush(ctx)
}

// Snapshot returns the current queue state.
func (s *Scheduler) Snapshot() Snapshot {
	now := s.clock()
	mode := s.Mode(now)

	s.mu.Lock()
	qlen, last := len(s.queue), s.lastBatch
	s.mu.Unlock()

	return Snapshot{
		QueueLength:    qlen,
		LastBatch:      last,
		Mode:           mode,
		Cadence:        s.policy.Load().Cadence(mode),
		BatchesWritten: s.written.Load(),
		BatchesDropped: s.dropped.Load(),
		EventsWritten:  s.eventsWritten.Load(),
	}
}
