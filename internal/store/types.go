// Package store persists captured input events and answers the read-only
// queries used by the analyzer and viewers.
package store

import "time"

// FlightSample is one key-down row as read back for rhythm analysis.
// FlightTime is nil for the first key-down of a monitoring run.
type FlightSample struct {
	Timestamp  float64
	FlightTime *float64
}

// AppCount is the number of key-downs attributed to one app.
type AppCount struct {
	AppID  string `json:"app_id"`
	Events int    `json:"events"`
}

// SessionSummary describes one session as materialized from event rows.
type SessionSummary struct {
	ID     string    `json:"id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Events int       `json:"events"`
}

// Duration returns End minus Start.
func (s SessionSummary) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// HourlyHistogram counts key-downs by local hour of day.
type HourlyHistogram [24]int

// Total returns the sum over all hours.
func (h HourlyHistogram) Total() int {
	n := 0
	for _, c := range h {
		n += c
	}
	return n
}

// Peak returns the busiest hour, or -1 when empty.
func (h HourlyHistogram) Peak() int {
	peak, best := -1, 0
	for hour, c := range h {
		if c > best {
			peak, best = hour, c
		}
	}
	return peak
}
