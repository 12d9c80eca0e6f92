package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// CrashReport is what a recovered panic leaves behind.
type CrashReport struct {
	Timestamp    time.Time `json:"timestamp"`
	Component    string    `json:"component"`
	Where        string    `json:"where"`
	GOOS         string    `json:"goos"`
	GOARCH       string    `json:"goarch"`
	NumGoroutine int       `json:"num_goroutine"`
	PanicValue   string    `json:"panic_value"`
	StackTrace   string    `json:"stack_trace"`
}

const crashPrefix = "crash-"

// CrashHandler turns panics in background goroutines into logged reports so
// the input hook keeps running. With a directory set, each report is also
// kept as a JSON file there.
type CrashHandler struct {
	dir       string
	component string
	log       *slog.Logger

	mu      sync.Mutex
	onCrash func(CrashReport)
}

// NewCrashHandler returns a handler for component. An empty dir keeps
// reports in the log only.
func NewCrashHandler(dir, component string, log *slog.Logger) *CrashHandler {
	if log == nil {
		log = Component(component)
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			log.Warn("crash report directory unavailable", "dir", dir, "error", err)
			dir = ""
		}
	}
	return &CrashHandler{dir: dir, component: component, log: log}
}

// DefaultCrashDir is a "crashes" directory beside the default log file.
func DefaultCrashDir() string {
	return filepath.Join(filepath.Dir(DefaultLogPath()), "crashes")
}

// OnCrash sets a callback run after each report is recorded.
func (h *CrashHandler) OnCrash(fn func(CrashReport)) {
	h.mu.Lock()
	h.onCrash = fn
	h.mu.Unlock()
}

// Recover records a panic in progress. It only works when deferred directly:
//
//	defer h.Recover("writer")
func (h *CrashHandler) Recover(where string) {
	v := recover()
	if v == nil {
		return
	}
	h.record(h.newReport(where, v))
}

// Go starts fn on its own goroutine under Recover.
func (h *CrashHandler) Go(where string, fn func()) {
	go func() {
		defer h.Recover(where)
		fn()
	}()
}

func (h *CrashHandler) newReport(where string, v any) CrashReport {
	return CrashReport{
		Timestamp:    time.Now().UTC(),
		Component:    h.component,
		Where:        where,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprint(v),
		StackTrace:   string(debug.Stack()),
	}
}

func (h *CrashHandler) record(r CrashReport) {
	h.log.Error("recovered panic", "where", r.Where, "panic", r.PanicValue, "stack", r.StackTrace)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dir != "" {
		if err := h.save(r); err != nil {
			h.log.Warn("crash report not saved", "error", err)
		}
	}
	if h.onCrash != nil {
		h.onCrash(r)
	}
}

func (h *CrashHandler) save(r CrashReport) error {
	data, err := sonic.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode crash report: %w", err)
	}
	name := crashPrefix + r.Component + "-" + r.Timestamp.Format("20060102-150405.000000") + ".json"
	return os.WriteFile(filepath.Join(h.dir, name), data, 0640)
}

// Reports loads saved reports, oldest first. Unreadable files are skipped.
func (h *CrashHandler) Reports() ([]CrashReport, error) {
	if h.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, err
	}

	var out []CrashReport
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, crashPrefix) || filepath.Ext(name) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(h.dir, name))
		if err != nil {
			continue
		}
		var r CrashReport
		if sonic.Unmarshal(data, &r) == nil {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b CrashReport) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}
