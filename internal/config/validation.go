package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
)

// ErrInvalidConfig wraps every validation failure returned by the loader.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError is one rejected field, named by its dotted config key.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}

// ValidationErrors is every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i := range e {
		parts[i] = e[i].Error()
	}
	return strings.Join(parts, "; ")
}

// Has reports whether field was rejected.
func (e ValidationErrors) Has(field string) bool {
	return slices.ContainsFunc(e, func(v ValidationError) bool { return v.Field == field })
}

// problems accumulates ValidationErrors.
type problems struct {
	errs ValidationErrors
}

func (p *problems) add(field, format string, args ...any) {
	p.errs = append(p.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// check records msg against field unless ok.
func (p *problems) check(ok bool, field, msg string) {
	if !ok {
		p.add(field, "%s", msg)
	}
}

func (p *problems) oneOf(field, value string, allowed ...string) {
	if !slices.Contains(allowed, value) {
		p.add(field, "invalid value %q (valid: %s)", value, strings.Join(allowed, ", "))
	}
}

// ValidateConfig checks every section and returns ValidationErrors, or nil.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var p problems
	if c.Version < 1 || c.Version > Version {
		p.add("version", "unsupported version %d (current: %d)", c.Version, Version)
	}

	p.oneOf("capture.source", c.Capture.Source, "evdev", "simulated")
	p.check(c.Session.TimeoutSec > 0, "session.timeout_sec", "timeout must be positive")
	p.batch(&c.Batch)

	p.check(c.Liveness.ActiveThresholdSec > 0, "liveness.active_threshold_sec", "threshold must be positive")
	p.check(c.Liveness.IdleThresholdSec > c.Liveness.ActiveThresholdSec,
		"liveness.idle_threshold_sec", "idle threshold must exceed active threshold")

	p.check(c.Analysis.WindowSamples >= 1, "analysis.window_samples", "window must be at least 1")
	p.check(c.Analysis.MaxFlightSec > 0, "analysis.max_flight_sec", "max flight must be positive")

	p.check(!c.Focus.Enabled || c.Focus.PollMs >= 50, "focus.poll_ms", "poll interval must be at least 50ms")

	p.storage(&c.Storage)
	p.oneOf("bus.type", c.Bus.Type, "dbus", "memory")

	p.check(c.Viewer.RefreshMs >= 100, "viewer.refresh_ms", "refresh must be at least 100ms")
	p.check(c.Viewer.HeartbeatMs >= 100, "viewer.heartbeat_ms", "heartbeat must be at least 100ms")
	p.check(c.Viewer.TopApps >= 0, "viewer.top_apps", "cannot be negative")

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			p.add("metrics.listen", "invalid listen address: %v", err)
		}
	}

	p.logging(&c.Logging)

	if len(p.errs) == 0 {
		return nil
	}
	return p.errs
}

func (p *problems) batch(b *BatchConfig) {
	for _, m := range []struct {
		name string
		c    CadenceConfig
	}{{"fast", b.Fast}, {"slow", b.Slow}, {"idle", b.Idle}} {
		p.check(m.c.Size >= 1, "batch."+m.name+".size", "size must be at least 1")
		p.check(m.c.IntervalMs >= 1, "batch."+m.name+".interval_ms", "interval must be positive")
	}

	// fast <= slow <= idle, on both axes
	if b.Fast.Size > b.Slow.Size || b.Slow.Size > b.Idle.Size {
		p.add("batch.size", "sizes must satisfy fast <= slow <= idle (got %d, %d, %d)",
			b.Fast.Size, b.Slow.Size, b.Idle.Size)
	}
	if b.Fast.IntervalMs > b.Slow.IntervalMs || b.Slow.IntervalMs > b.Idle.IntervalMs {
		p.add("batch.interval_ms", "intervals must satisfy fast <= slow <= idle (got %d, %d, %d)",
			b.Fast.IntervalMs, b.Slow.IntervalMs, b.Idle.IntervalMs)
	}

	p.check(b.TickMs >= 10, "batch.tick_ms", "tick must be at least 10ms")
	p.check(b.NotifyThreshold >= 0, "batch.notify_threshold", "threshold cannot be negative")
}

func (p *problems) storage(s *StorageConfig) {
	switch s.Driver {
	case "sqlite3", "sqlite":
		p.check(s.Path != "", "storage.path", "path is required for sqlite")
	case "postgres":
		p.check(s.DSN != "", "storage.dsn", "dsn is required for postgres")
	default:
		p.oneOf("storage.driver", s.Driver, "sqlite3", "sqlite", "postgres")
	}
	p.check(s.MaxConnections >= 1, "storage.max_connections", "must be at least 1")
	p.check(s.BusyTimeoutMs >= 0, "storage.busy_timeout_ms", "cannot be negative")
}

func (p *problems) logging(l *LoggingConfig) {
	p.oneOf("logging.level", l.Level, "debug", "info", "warn", "error")
	p.oneOf("logging.format", l.Format, "text", "json")
	p.oneOf("logging.output", l.Output, "stdout", "stderr", "file", "both")
	if l.Output == "file" || l.Output == "both" {
		p.check(l.FilePath != "", "logging.file_path", "file path is required for file output")
	}
	p.check(l.MaxSizeMB >= 1, "logging.max_size_mb", "max size must be at least 1 MB")
	p.check(l.MaxBackups >= 0, "logging.max_backups", "max backups cannot be negative")
	p.check(l.MaxAgeDays >= 0, "logging.max_age_days", "max age cannot be negative")
}
