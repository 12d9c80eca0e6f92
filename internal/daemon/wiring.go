package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rhythmd/internal/config"
	"rhythmd/internal/keystroke"
	"rhythmd/internal/logging"
	"rhythmd/internal/store"
)

// NewSource returns the input source selected by cfg.Capture.Source.
func NewSource(cfg *config.Config, log *slog.Logger) (keystroke.Source, error) {
	switch cfg.Capture.Source {
	case "evdev", "":
		return keystroke.New(keystroke.Options{
			Devices: cfg.Capture.Devices,
			Mouse:   cfg.Capture.Mouse,
			Logger:  log,
		}), nil
	case "simulated":
		return keystroke.NewSimulated(), nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Capture.Source)
	}
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg *config.Config, component string) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Component = component
	lc.Compress = cfg.Logging.Compress
	if cfg.Logging.Output != "" {
		lc.Output = cfg.Logging.Output
	}
	if cfg.Logging.FilePath != "" {
		lc.FilePath = cfg.Logging.FilePath
	}
	if cfg.Logging.MaxSizeMB > 0 {
		lc.MaxSize = int64(cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.MaxBackups > 0 {
		lc.MaxBackups = cfg.Logging.MaxBackups
	}
	if cfg.Logging.MaxAgeDays > 0 {
		lc.MaxAge = cfg.Logging.MaxAgeDays
	}
	return logging.New(lc)
}

// StoreOptions maps the storage section to store.Options.
func StoreOptions(cfg *config.Config, readOnly bool) store.Options {
	return store.Options{
		Driver:         cfg.Storage.Driver,
		Path:           cfg.Storage.Path,
		DSN:            cfg.Storage.DSN,
		MaxConnections: cfg.Storage.MaxConnections,
		BusyTimeout:    time.Duration(cfg.Storage.BusyTimeoutMs) * time.Millisecond,
		ReadOnly:       readOnly,
	}
}

// OpenStore opens the configured store.
func OpenStore(ctx context.Context, cfg *config.Config, readOnly bool) (*store.Store, error) {
	s, err := store.Open(ctx, StoreOptions(cfg, readOnly))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	return s, nil
}
