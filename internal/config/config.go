// Package config is the rhythmd and rhythmctl configuration: a versioned
// TOML (or JSON/YAML) file over built-in defaults, RHYTHMD_* overrides and
// hot reload of the settings the daemon can change while running.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Version is written to new files; older files are migrated on load.
const Version = 2

// Config holds the complete daemon and viewer configuration.
type Config struct {
	// Version 0 or 1 marks a file written before the [viewer] section existed.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Capture configures the OS input hook.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Session configures inactivity-based session segmentation.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Batch configures the adaptive batch scheduler.
	Batch BatchConfig `toml:"batch" json:"batch" yaml:"batch"`

	// Liveness configures the viewer heartbeat thresholds.
	Liveness LivenessConfig `toml:"liveness" json:"liveness" yaml:"liveness"`

	// Analysis configures the rhythm analyzer input window.
	Analysis AnalysisConfig `toml:"analysis" json:"analysis" yaml:"analysis"`

	// Focus configures foreground window lookups.
	Focus FocusConfig `toml:"focus" json:"focus" yaml:"focus"`

	// Storage configures the event database.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Bus configures the liveness signal bus.
	Bus BusConfig `toml:"bus" json:"bus" yaml:"bus"`

	// Viewer configures rhythmctl watch.
	Viewer ViewerConfig `toml:"viewer" json:"viewer" yaml:"viewer"`

	// Metrics configures the prometheus endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Logging configures the daemon log.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// CaptureConfig selects the input source.
type CaptureConfig struct {
	// Source is "evdev" (Linux) or "simulated".
	Source string `toml:"source" json:"source" yaml:"source"`

	// Devices overrides device discovery with explicit /dev/input paths.
	Devices []string `toml:"devices" json:"devices" yaml:"devices"`

	// Mouse enables click capture from pointer devices.
	Mouse bool `toml:"mouse" json:"mouse" yaml:"mouse"`
}

// SessionConfig holds session segmentation settings.
type SessionConfig struct {
	// TimeoutSec is the inactivity gap after which a new session starts.
	TimeoutSec float64 `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// CadenceConfig is one batch mode's size and interval.
type CadenceConfig struct {
	Size       int `toml:"size" json:"size" yaml:"size"`
	IntervalMs int `toml:"interval_ms" json:"interval_ms" yaml:"interval_ms"`
}

// Interval returns the cadence interval as a duration.
func (c CadenceConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// BatchConfig holds scheduler cadences.
type BatchConfig struct {
	Fast CadenceConfig `toml:"fast" json:"fast" yaml:"fast"`
	Slow CadenceConfig `toml:"slow" json:"slow" yaml:"slow"`
	Idle CadenceConfig `toml:"idle" json:"idle" yaml:"idle"`

	// TickMs is the period of the interval check.
	TickMs int `toml:"tick_ms" json:"tick_ms" yaml:"tick_ms"`

	// NotifyThreshold is the minimum batch size that emits dataUpdated.
	NotifyThreshold int `toml:"notify_threshold" json:"notify_threshold" yaml:"notify_threshold"`
}

// LivenessConfig holds the heartbeat age thresholds selecting batch mode.
type LivenessConfig struct {
	ActiveThresholdSec float64 `toml:"active_threshold_sec" json:"active_threshold_sec" yaml:"active_threshold_sec"`
	IdleThresholdSec   float64 `toml:"idle_threshold_sec" json:"idle_threshold_sec" yaml:"idle_threshold_sec"`
}

// AnalysisConfig holds analyzer input settings.
type AnalysisConfig struct {
	// WindowSamples is the number of recent key-down rows fetched.
	WindowSamples int `toml:"window_samples" json:"window_samples" yaml:"window_samples"`

	// MaxFlightSec drops flight times at or above this value.
	MaxFlightSec float64 `toml:"max_flight_sec" json:"max_flight_sec" yaml:"max_flight_sec"`
}

// FocusConfig holds focus lookup settings.
type FocusConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
	PollMs  int  `toml:"poll_ms" json:"poll_ms" yaml:"poll_ms"`
}

// StorageConfig selects and tunes the event store.
type StorageConfig struct {
	// Driver is "sqlite3" (cgo), "sqlite" (pure Go) or "postgres".
	Driver string `toml:"driver" json:"driver" yaml:"driver"`

	// Path is the database file for the sqlite drivers.
	Path string `toml:"path" json:"path" yaml:"path"`

	// DSN is the connection string for postgres.
	DSN string `toml:"dsn" json:"dsn" yaml:"dsn"`

	// MaxConnections is the maximum number of open connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// BusyTimeoutMs bounds how long sqlite waits on a locked database.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// BusConfig selects the signal bus.
type BusConfig struct {
	// Type is "dbus" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`
}

// ViewerConfig holds rhythmctl watch settings.
type ViewerConfig struct {
	RefreshMs   int `toml:"refresh_ms" json:"refresh_ms" yaml:"refresh_ms"`
	HeartbeatMs int `toml:"heartbeat_ms" json:"heartbeat_ms" yaml:"heartbeat_ms"`
	TopApps     int `toml:"top_apps" json:"top_apps" yaml:"top_apps"`
}

// MetricsConfig holds the prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" json:"listen" yaml:"listen"`
}

// LoggingConfig maps onto logging.Config.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig is the configuration used when no file exists.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Capture: CaptureConfig{
			Source:  "evdev",
			Devices: []string{},
			Mouse:   true,
		},
		Session: SessionConfig{
			TimeoutSec: 30,
		},
		Batch: BatchConfig{
			Fast:            CadenceConfig{Size: 10, IntervalMs: 2000},
			Slow:            CadenceConfig{Size: 50, IntervalMs: 10000},
			Idle:            CadenceConfig{Size: 200, IntervalMs: 30000},
			TickMs:          1000,
			NotifyThreshold: 10,
		},
		Liveness: LivenessConfig{
			ActiveThresholdSec: 5,
			IdleThresholdSec:   60,
		},
		Analysis: AnalysisConfig{
			WindowSamples: 200,
			MaxFlightSec:  5.0,
		},
		Focus: FocusConfig{
			Enabled: true,
			PollMs:  500,
		},
		Storage: StorageConfig{
			Driver:         "sqlite3",
			Path:           filepath.Join(dir, "events.db"),
			MaxConnections: 4,
			BusyTimeoutMs:  5000,
		},
		Bus: BusConfig{
			Type: "dbus",
		},
		Viewer: ViewerConfig{
			RefreshMs:   5000,
			HeartbeatMs: 2000,
			TopApps:     5,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "rhythmd.log"),
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// ConfigPath is the first existing config file, or config.toml in the
// platform config directory.
func ConfigPath() string {
	if p := FindConfigFile(); p != "" {
		return p
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// DataDir returns the base rhythmd data directory.
// RHYTHMD_DATA_DIR overrides the platform default.
func DataDir() string {
	if envDir := os.Getenv("RHYTHMD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Load reads configuration from the specified path, migrates it, applies
// environment overrides and validates the result. A missing file yields the defaults.
// TOML, JSON and YAML are selected by extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	return readConfig(path)
}

// Validate returns ValidationErrors describing every invalid field.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Logging.FilePath)}
	if c.Storage.Driver != "postgres" {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies RHYTHMD_* variables on top of the file values.
// Unparsable numbers are ignored.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	overrides := []struct {
		env string
		set func(string)
	}{
		{"RHYTHMD_DB_DRIVER", func(v string) { c.Storage.Driver = v }},
		{"RHYTHMD_DB_PATH", func(v string) { c.Storage.Path = v }},
		{"RHYTHMD_DB_DSN", func(v string) { c.Storage.DSN = v }},
		{"RHYTHMD_CAPTURE_SOURCE", func(v string) { c.Capture.Source = v }},
		{"RHYTHMD_SESSION_TIMEOUT_SEC", func(v string) {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.Session.TimeoutSec = f
			}
		}},
		{"RHYTHMD_BUS", func(v string) { c.Bus.Type = v }},
		{"RHYTHMD_METRICS_LISTEN", func(v string) { c.Metrics.Enabled, c.Metrics.Listen = true, v }},
		{"RHYTHMD_LOG_LEVEL", func(v string) { c.Logging.Level = v }},
		{"RHYTHMD_LOG_FORMAT", func(v string) { c.Logging.Format = v }},
		{"RHYTHMD_LOG_PATH", func(v string) { c.Logging.FilePath = v }},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok && v != "" {
			o.set(v)
		}
	}
}

// Clone copies c; the copy shares no slices with it.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:  c.Version,
		Capture:  c.Capture,
		Session:  c.Session,
		Batch:    c.Batch,
		Liveness: c.Liveness,
		Analysis: c.Analysis,
		Focus:    c.Focus,
		Storage:  c.Storage,
		Bus:      c.Bus,
		Viewer:   c.Viewer,
		Metrics:  c.Metrics,
		Logging:  c.Logging,
	}
	clone.Capture.Devices = append([]string{}, c.Capture.Devices...)
	return clone
}

// SessionTimeout returns the session inactivity timeout.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutSec * float64(time.Second))
}

// ActiveThreshold returns the heartbeat age below which the viewer is active.
func (c *Config) ActiveThreshold() time.Duration {
	return time.Duration(c.Liveness.ActiveThresholdSec * float64(time.Second))
}

// IdleThreshold returns the heartbeat age at which batching goes idle.
func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.Liveness.IdleThresholdSec * float64(time.Second))
}

// DataSource returns the driver-specific data source name.
func (c *Config) DataSource() string {
	if c.Storage.Driver == "postgres" {
		return c.Storage.DSN
	}
	return c.Storage.Path
}
