// Package viewer reads the event store and presents the rhythm analysis,
// either as a one-shot report or as a live terminal view that keeps the
// daemon in fast batching mode while it is open.
package viewer

import (
	"context"
	"fmt"
	"time"

	"rhythmd/internal/rhythm"
	"rhythmd/internal/store"
)

// Querier is the read side of the store.
type Querier interface {
	RecentFlightTimes(ctx context.Context, limit int) ([]store.FlightSample, error)
	TopApps(ctx context.Context, since time.Time, limit int) ([]store.AppCount, error)
	HourlyCounts(ctx context.Context, since time.Time) (store.HourlyHistogram, error)
	EventCount(ctx context.Context) (int64, error)
	Sessions(ctx context.Context, since time.Time, limit int) ([]store.SessionSummary, error)
}

// Options bounds what a Report covers.
type Options struct {
	Window    int           // flight-time samples analyzed
	MaxFlight float64       // seconds; longer gaps are not typing
	TopApps   int           // apps listed
	Sessions  int           // sessions listed
	Span      time.Duration // look-back for apps, sessions and the histogram
}

// DefaultOptions covers the last day.
func DefaultOptions() Options {
	return Options{
		Window:    200,
		MaxFlight: rhythm.MaxFlight,
		TopApps:   5,
		Sessions:  5,
		Span:      24 * time.Hour,
	}
}

// Report is everything the viewer shows.
type Report struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Analysis    rhythm.Result          `json:"analysis"`
	Events      int64                  `json:"events"`
	TopApps     []store.AppCount       `json:"top_apps"`
	Sessions    []store.SessionSummary `json:"sessions"`
	Hourly      store.HourlyHistogram  `json:"hourly"`
}

// Build runs every query for one report.
func Build(ctx context.Context, q Querier, opts Options, now time.Time) (Report, error) {
	since := now.Add(-opts.Span)
	r := Report{GeneratedAt: now}

	rows, err := q.RecentFlightTimes(ctx, opts.Window)
	if err != nil {
		return r, fmt.Errorf("flight times: %w", err)
	}
	r.Analysis = rhythm.Analyze(rhythm.FilterSamples(rows, opts.MaxFlight))

	if r.Events, err = q.EventCount(ctx); err != nil {
		return r, fmt.Errorf("event count: %w", err)
	}
	if r.TopApps, err = q.TopApps(ctx, since, opts.TopApps); err != nil {
		return r, fmt.Errorf("top apps: %w", err)
	}
	if r.Sessions, err = q.Sessions(ctx, since, opts.Sessions); err != nil {
		return r, fmt.Errorf("sessions: %w", err)
	}
	if r.Hourly, err = q.HourlyCounts(ctx, since); err != nil {
		return r, fmt.Errorf("hourly counts: %w", err)
	}
	return r, nil
}
