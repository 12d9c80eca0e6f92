package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rhythmd/internal/capture"
)

const insertEvent = `
INSERT INTO events (timestamp, kind, key_code, modifiers, app_id, window_title, character,
                    flight_time, dwell_time, x, y, session_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// WriteBatch inserts events in one transaction. Either every event is
// committed or none is.
func (s *Store) WriteBatch(ctx context.Context, events []capture.InputEvent) error {
	if len(events) == 0 {
		return nil
	}
	if s.readOnly {
		return ErrReadOnly
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.d.rebind(insertEvent))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		if _, err := stmt.ExecContext(ctx,
			e.Timestamp, e.Kind.String(), e.KeyCode, int(e.Modifiers),
			nullString(e.AppID), nullString(e.WindowTitle), nullString(e.Character),
			nullFloat(e.FlightTime), nullFloat(e.DwellTime), nullFloat(e.X), nullFloat(e.Y),
			e.SessionID,
		); err != nil {
			return fmt.Errorf("insert event %d of %d: %w", i+1, len(events), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// RecentFlightTimes returns up to limit key-down rows, most recent first.
func (s *Store) RecentFlightTimes(ctx context.Context, limit int) ([]FlightSample, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT timestamp, flight_time FROM events
		WHERE kind = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`), capture.KeyDown.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query flight times: %w", err)
	}
	defer rows.Close()

	samples := make([]FlightSample, 0, limit)
	for rows.Next() {
		var fs FlightSample
		var flight sql.NullFloat64
		if err := rows.Scan(&fs.Timestamp, &flight); err != nil {
			return nil, fmt.Errorf("scan flight time: %w", err)
		}
		if flight.Valid {
			v := flight.Float64
			fs.FlightTime = &v
		}
		samples = append(samples, fs)
	}
	return samples, rows.Err()
}

// TopApps returns the apps with the most key-downs since the given time.
func (s *Store) TopApps(ctx context.Context, since time.Time, limit int) ([]AppCount, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT app_id, COUNT(*) AS n FROM events
		WHERE kind = ? AND app_id IS NOT NULL AND timestamp >= ?
		GROUP BY app_id
		ORDER BY n DESC, app_id
		LIMIT ?`), capture.KeyDown.String(), capture.Seconds(since), limit)
	if err != nil {
		return nil, fmt.Errorf("query top apps: %w", err)
	}
	defer rows.Close()

	var apps []AppCount
	for rows.Next() {
		var a AppCount
		if err := rows.Scan(&a.AppID, &a.Events); err != nil {
			return nil, fmt.Errorf("scan app count: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// HourlyCounts buckets key-downs since the given time by local hour of day.
func (s *Store) HourlyCounts(ctx context.Context, since time.Time) (HourlyHistogram, error) {
	var h HourlyHistogram

	rows, err := s.db.QueryContext(ctx, s.d.rebind(fmt.Sprintf(`
		SELECT %[1]s AS hour, COUNT(*) FROM events
		WHERE kind = ? AND timestamp >= ?
		GROUP BY %[1]s`, s.d.hourOfDay)), capture.KeyDown.String(), capture.Seconds(since))
	if err != nil {
		return h, fmt.Errorf("query hourly counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hour, n int
		if err := rows.Scan(&hour, &n); err != nil {
			return h, fmt.Errorf("scan hourly count: %w", err)
		}
		if hour >= 0 && hour < len(h) {
			h[hour] = n
		}
	}
	return h, rows.Err()
}

// EventCount returns the total number of stored events.
func (s *Store) EventCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Sessions returns up to limit sessions that had activity since the given
// time, most recent first.
func (s *Store) Sessions(ctx context.Context, since time.Time, limit int) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT session_id, MIN(timestamp) AS started, MAX(timestamp), COUNT(*) FROM events
		WHERE timestamp >= ?
		GROUP BY session_id
		ORDER BY started DESC
		LIMIT ?`), capture.Seconds(since), limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var ss SessionSummary
		var start, end float64
		if err := rows.Scan(&ss.ID, &start, &end, &ss.Events); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ss.Start, ss.End = capture.FromSeconds(start), capture.FromSeconds(end)
		out = append(out, ss)
	}
	return out, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
