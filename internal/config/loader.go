package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const reloadDelay = 100 * time.Millisecond

// Loader owns the config file: it loads it once and, after Watch, reloads it
// whenever it changes on disk. A reload that fails to parse or validate is
// sent on Errors and the previous Config stays current.
type Loader struct {
	path string

	mu        sync.RWMutex
	current   *Config
	listeners []func(*Config)

	watcher *fsnotify.Watcher
	errs    chan error
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewLoader returns a Loader for path, or for ConfigPath when path is empty.
func NewLoader(path string) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	return &Loader{
		path:    path,
		errs:    make(chan error, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (l *Loader) Path() string { return l.path }

// Load reads the file and makes the result current.
func (l *Loader) Load() (*Config, error) {
	cfg, err := readConfig(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the current Config; nil before the first Load.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers fn to run after each successful reload.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Errors delivers reload failures. Failures are dropped while one is unread.
func (l *Loader) Errors() <-chan error { return l.errs }

// Watch starts reloading on change. The parent directory is watched since
// editors commonly save by writing a temp file and renaming it over path.
func (l *Loader) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = w
	go l.loop()
	return nil
}

func (l *Loader) loop() {
	defer close(l.stopped)

	name := filepath.Base(l.path)
	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-l.stop:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				// bursts of events from one save collapse into one reload
				timer.Reset(reloadDelay)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.fail(err)
		case <-timer.C:
			l.reload()
		}
	}
}

func (l *Loader) reload() {
	cfg, err := readConfig(l.path)
	if err != nil {
		l.fail(fmt.Errorf("reload config: %w", err))
		return
	}

	l.mu.Lock()
	l.current = cfg
	listeners := slices.Clone(l.listeners)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

func (l *Loader) fail(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

// Close stops watching. It is safe to call without Watch and more than once.
func (l *Loader) Close() error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		if l.watcher != nil {
			err = l.watcher.Close()
			<-l.stopped
		}
	})
	return err
}

// readConfig is the whole load path: decode over defaults, migrate, apply
// RHYTHMD_* overrides, validate.
func readConfig(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	MigrateConfig(cfg)
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

type decoder func(data []byte, cfg *Config) error

func decodeTOML(data []byte, cfg *Config) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func decodeJSON(data []byte, cfg *Config) error {
	if err := ValidateJSON(data); err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func unmarshalJSON(data []byte, cfg *Config) error {
	return json.Unmarshal(data, cfg)
}

func decodeYAML(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}

var decoders = map[string]struct {
	name   string
	decode decoder
}{
	".toml": {"TOML", decodeTOML},
	".json": {"JSON", decodeJSON},
	".yaml": {"YAML", decodeYAML},
	".yml":  {"YAML", decodeYAML},
}

// decodeFile decodes path over DefaultConfig. A missing file yields the
// defaults. Files without a known extension are tried as TOML, JSON then
// YAML.
func decodeFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if d, ok := decoders[strings.ToLower(filepath.Ext(path))]; ok {
		cfg := unversionedDefaults()
		if err := d.decode(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.name, err)
		}
		return cfg, nil
	}

	// each attempt starts from clean defaults so a failed partial decode
	// leaves nothing behind
	for _, d := range []decoder{decodeTOML, unmarshalJSON, decodeYAML} {
		cfg := unversionedDefaults()
		if err := d(data, cfg); err == nil {
			return cfg, nil
		}
	}
	return nil, errors.New("parse config: not TOML, JSON or YAML")
}

// unversionedDefaults is DefaultConfig with Version 0: a file without a
// version field is a v1 file and MigrateConfig relies on this.
func unversionedDefaults() *Config {
	cfg := DefaultConfig()
	cfg.Version = 0
	return cfg
}
