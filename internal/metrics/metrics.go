// Package metrics exposes rhythmd's pipeline counters to Prometheus.
//
// Features:
//   - Counters for captured events, written batches and dropped batches
//   - Gauges for queue length, batch mode and uptime
//   - Histogram for store write latency
//   - Optional HTTP endpoint for scraping
//
// All record methods are safe to call on a nil *Pipeline.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rhythmd"

// Pipeline holds the capture pipeline metrics.
type Pipeline struct {
	EventsCaptured   *prometheus.CounterVec
	EventsWritten    prometheus.Counter
	BatchesWritten   prometheus.Counter
	BatchesDropped   prometheus.Counter
	EventsDropped    prometheus.Counter
	SessionRotations prometheus.Counter
	DataUpdated      prometheus.Counter

	QueueLength prometheus.Gauge
	BatchMode   prometheus.Gauge

	WriteDuration prometheus.Histogram
	BatchSize     prometheus.Histogram
}

// NewPipeline creates the pipeline metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	started := time.Now()

	m := &Pipeline{
		EventsCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_captured_total",
			Help:      "Input events normalized, by kind.",
		}, []string{"kind"}),
		EventsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_written_total",
			Help:      "Input events committed to the store.",
		}),
		BatchesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_written_total",
			Help:      "Batches committed to the store.",
		}),
		BatchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_dropped_total",
			Help:      "Batches discarded after a failed store write.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Input events discarded with failed batches.",
		}),
		SessionRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_rotations_total",
			Help:      "Sessions ended by inactivity.",
		}),
		DataUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_updated_signals_total",
			Help:      "dataUpdated signals emitted after a flush.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Events buffered in the batch queue.",
		}),
		BatchMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_mode",
			Help:      "Current batch mode: 0 fast, 1 slow, 2 idle.",
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_write_seconds",
			Help:      "Latency of batch writes to the store.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size_events",
			Help:      "Events per flushed batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 200, 500, 1000},
		}),
	}

	if reg != nil {
		uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the daemon started.",
		}, func() float64 { return time.Since(started).Seconds() })

		reg.MustRegister(
			m.EventsCaptured, m.EventsWritten, m.BatchesWritten, m.BatchesDropped,
			m.EventsDropped, m.SessionRotations, m.DataUpdated,
			m.QueueLength, m.BatchMode, m.WriteDuration, m.BatchSize, uptime,
		)
	}
	return m
}

// RecordEvent counts one normalized event.
func (m *Pipeline) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsCaptured.WithLabelValues(kind).Inc()
}

// RecordWrite records a committed batch of n events.
func (m *Pipeline) RecordWrite(n int, took time.Duration) {
	if m == nil {
		return
	}
	m.BatchesWritten.Inc()
	m.EventsWritten.Add(float64(n))
	m.BatchSize.Observe(float64(n))
	m.WriteDuration.Observe(took.Seconds())
}

// RecordDrop records a batch of n events lost to a failed write.
func (m *Pipeline) RecordDrop(n int, took time.Duration) {
	if m == nil {
		return
	}
	m.BatchesDropped.Inc()
	m.EventsDropped.Add(float64(n))
	m.WriteDuration.Observe(took.Seconds())
}

// RecordRotation counts a session boundary.
func (m *Pipeline) RecordRotation() {
	if m == nil {
		return
	}
	m.SessionRotations.Inc()
}

// RecordNotify counts an emitted dataUpdated signal.
func (m *Pipeline) RecordNotify() {
	if m == nil {
		return
	}
	m.DataUpdated.Inc()
}

// SetQueue updates the queue gauges.
func (m *Pipeline) SetQueue(length int, mode int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(length))
	m.BatchMode.Set(float64(mode))
}

// Server serves /metrics for a gatherer.
type Server struct {
	srv *http.Server
	mux *http.ServeMux
	ln  net.Listener
	log *slog.Logger
}

// Listen binds addr and prepares a /metrics handler for g.
func Listen(addr string, g prometheus.Gatherer, log *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		mux: mux,
		ln:  ln,
		log: log,
	}, nil
}

// Handle adds an extra endpoint. It must be called before Serve.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.ln)
	}()
	if s.log != nil {
		s.log.Info("metrics endpoint listening", "addr", s.Addr())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
