// Package health tracks the state of daemon components and serves it next to
// /metrics. A component is critical (its failure makes the daemon unhealthy)
// or advisory (its failure only degrades).
package health

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Status is a component or aggregate state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

const defaultTimeout = 2 * time.Second

// CheckResult is the outcome of one check run.
type CheckResult struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
}

// Check probes one component. It should return promptly once ctx is done.
type Check func(ctx context.Context) CheckResult

// Component is a named Check. Timeout defaults to two seconds.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

type entry struct {
	comp *Component
	last CheckResult
}

// Checker holds components and their latest results.
type Checker struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ready   bool
	started time.Time
}

func NewChecker() *Checker {
	return &Checker{entries: make(map[string]*entry), started: time.Now()}
}

// Register adds comp, replacing any component with the same name. Its
// result is unknown until the next Check.
func (c *Checker) Register(comp *Component) {
	if comp.Timeout <= 0 {
		comp.Timeout = defaultTimeout
	}
	c.mu.Lock()
	c.entries[comp.Name] = &entry{comp: comp, last: CheckResult{Status: StatusUnknown}}
	c.mu.Unlock()
}

func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// SetReady marks whether the daemon has finished starting.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Names lists registered components in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.entries))
}

// Check runs all components in parallel and records their results.
// Panics and timeouts are reported as unhealthy.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	comps := make([]*Component, 0, len(c.entries))
	for _, e := range c.entries {
		comps = append(comps, e.comp)
	}
	c.mu.RUnlock()

	out := make([]CheckResult, len(comps))
	var wg sync.WaitGroup
	for i, comp := range comps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = probe(ctx, comp)
		}()
	}
	wg.Wait()

	results := make(map[string]CheckResult, len(comps))
	c.mu.Lock()
	for i, comp := range comps {
		results[comp.Name] = out[i]
		// skip components replaced while the check ran
		if e, ok := c.entries[comp.Name]; ok && e.comp == comp {
			e.last = out[i]
		}
	}
	c.mu.Unlock()
	return results
}

func probe(ctx context.Context, comp *Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	began := time.Now()
	ch := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				ch <- CheckResult{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(v)}
			}
		}()
		ch <- comp.Check(ctx)
	}()

	var res CheckResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = CheckResult{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	res.LastChecked = began
	res.Duration = time.Since(began)
	return res
}

// Results returns a copy of the latest results.
func (c *Checker) Results() map[string]CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]CheckResult, len(c.entries))
	for name, e := range c.entries {
		out[name] = e.last
	}
	return out
}

// OverallStatus folds the latest results: unhealthy if a critical component
// failed, unknown if a critical component has not been checked, degraded if
// anything else is off, healthy otherwise.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := StatusHealthy
	for _, e := range c.entries {
		s := e.last.Status
		switch {
		case s == StatusUnhealthy && e.comp.Critical:
			return StatusUnhealthy
		case s == StatusUnknown && e.comp.Critical:
			overall = StatusUnknown
		case (s == StatusUnhealthy || s == StatusDegraded) && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}
	return overall
}

// Response is the /health body.
type Response struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Report runs every check and summarizes.
func (c *Checker) Report(ctx context.Context) Response {
	components := c.Check(ctx)
	c.mu.RLock()
	ready, up := c.ready, time.Since(c.started)
	c.mu.RUnlock()

	return Response{
		Status:     c.OverallStatus(),
		Ready:      ready,
		Uptime:     up.Round(time.Second).String(),
		Components: components,
		Timestamp:  time.Now(),
	}
}

// ReadinessHandler serves /readyz from the latest results without running
// checks.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
			return
		}
		status := c.OverallStatus()
		writeJSON(w, statusCode(status == StatusUnhealthy), map[string]any{"status": status, "ready": true})
	})
}

// HealthHandler serves /health, running every check per request.
func (c *Checker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := c.Report(r.Context())
		writeJSON(w, statusCode(resp.Status == StatusUnhealthy || resp.Status == StatusUnknown), resp)
	})
}

func statusCode(failing bool) int {
	if failing {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(v)
}
