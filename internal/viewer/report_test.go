package viewer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rhythmd/internal/rhythm"
	"rhythmd/internal/store"
)

func ptr[T any](v T) *T { return &v }

type fakeQuerier struct {
	flights  []store.FlightSample
	apps     []store.AppCount
	sessions []store.SessionSummary
	hourly   store.HourlyHistogram
	events   int64
	err      error

	since time.Time
	limit int
}

func (f *fakeQuerier) RecentFlightTimes(_ context.Context, limit int) ([]store.FlightSample, error) {
	f.limit = limit
	return f.flights, f.err
}

func (f *fakeQuerier) TopApps(_ context.Context, since time.Time, limit int) ([]store.AppCount, error) {
	f.since = since
	return f.apps, nil
}

func (f *fakeQuerier) HourlyCounts(context.Context, time.Time) (store.HourlyHistogram, error) {
	return f.hourly, nil
}

func (f *fakeQuerier) EventCount(context.Context) (int64, error) {
	return f.events, nil
}

func (f *fakeQuerier) Sessions(context.Context, time.Time, int) ([]store.SessionSummary, error) {
	return f.sessions, nil
}

func sampleQuerier(now time.Time) *fakeQuerier {
	q := &fakeQuerier{
		flights: []store.FlightSample{
			{Timestamp: 4, FlightTime: ptr(0.1)},
			{Timestamp: 3, FlightTime: ptr(0.1)},
			{Timestamp: 2, FlightTime: ptr(12.0)},
			{Timestamp: 1},
		},
		apps: []store.AppCount{
			{AppID: "code", Events: 120},
			{AppID: "an-application-with-a-very-long-identifier", Events: 3},
		},
		sessions: []store.SessionSummary{
			{ID: "0f8fad5b-d9cb-469f-a165-70867728950e", Start: now.Add(-time.Hour), End: now.Add(-50 * time.Minute), Events: 42},
		},
		events: 246,
	}
	q.hourly[9] = 100
	q.hourly[14] = 23
	return q
}

func TestBuild(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := sampleQuerier(now)

	r, err := Build(context.Background(), q, DefaultOptions(), now)
	require.NoError(t, err)

	assert.Equal(t, 200, q.limit)
	assert.Equal(t, now.Add(-24*time.Hour), q.since)
	assert.Equal(t, 2, r.Analysis.ActiveSamples, "gaps beyond max flight and the first key-down are dropped")
	assert.InDelta(t, 0.1, r.Analysis.MeanFlightTime, 1e-9)
	assert.Equal(t, rhythm.StateFlow, r.Analysis.State)
	assert.Equal(t, int64(246), r.Events)
	assert.Len(t, r.TopApps, 2)
	assert.Equal(t, now, r.GeneratedAt)
}

func TestBuildError(t *testing.T) {
	q := &fakeQuerier{err: errors.New("database is locked")}
	_, err := Build(context.Background(), q, DefaultOptions(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flight times")
}

func TestRenderPlain(t *testing.T) {
	now := time.Now()
	r, err := Build(context.Background(), sampleQuerier(now), DefaultOptions(), now)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, r, NewStyles(&buf)))
	out := buf.String()

	assert.NotContains(t, out, "\x1b[", "a buffer is not a terminal")
	assert.Contains(t, out, "flow")
	assert.Contains(t, out, "0.100s")
	assert.Contains(t, out, "code")
	assert.Contains(t, out, "…")
	assert.Contains(t, out, "0f8fad5b")
	assert.Contains(t, out, "42 events")
	assert.Contains(t, out, "peak 09:00, 123 key-downs total")
}

func TestRenderEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, Report{Analysis: rhythm.Analyze(nil)}, NewStyles(&buf)))
	out := buf.String()

	assert.Contains(t, out, "idle")
	assert.Contains(t, out, "no app activity recorded")
	assert.Contains(t, out, "no sessions in range")
	assert.NotContains(t, out, "Mean flight")
}

func TestFitColumn(t *testing.T) {
	assert.Equal(t, 10, runewidth.StringWidth(FitColumn("firefox", 10)))
	assert.Equal(t, "firefox   ", FitColumn("firefox", 10))

	wide := FitColumn("日本語のエディタアプリ", 10)
	assert.Equal(t, 10, runewidth.StringWidth(wide))
	assert.True(t, strings.HasSuffix(strings.TrimRight(wide, " "), "…"))

	assert.Equal(t, "(unknown) ", FitColumn("", 10))
}

func TestScoreBar(t *testing.T) {
	assert.Equal(t, "["+strings.Repeat("░", barWidth)+"]", ScoreBar(0))
	assert.Equal(t, "["+strings.Repeat("█", barWidth)+"]", ScoreBar(100))
	assert.Equal(t, "["+strings.Repeat("█", barWidth/2)+strings.Repeat("░", barWidth/2)+"]", ScoreBar(50))
	assert.Equal(t, ScoreBar(100), ScoreBar(140))
}

func TestSparkline(t *testing.T) {
	var h store.HourlyHistogram
	h[0] = 8
	h[12] = 1

	var buf bytes.Buffer
	line := strings.Split(Sparkline(h, NewStyles(&buf)), "\n")[0]
	runes := []rune(strings.TrimPrefix(line, "  "))
	require.Len(t, runes, 24)
	assert.Equal(t, '█', runes[0])
	assert.Equal(t, '▁', runes[12])
	assert.Equal(t, ' ', runes[1])
}
