package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Migration is one schema step. Up and Down run in a single transaction.
type Migration struct {
	Version     int
	Description string
	Up          []string
	Down        []string
}

// migrations are ordered by Version. Column types are written as {{real}},
// {{serial}} and {{bigint}} and expanded per dialect.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create events table",
		Up: []string{`
CREATE TABLE IF NOT EXISTS events (
    id              {{serial}},
    timestamp       {{real}} NOT NULL,
    kind            TEXT NOT NULL,
    key_code        INTEGER NOT NULL,
    modifiers       INTEGER NOT NULL DEFAULT 0,
    app_id          TEXT,
    window_title    TEXT,
    character       TEXT,
    flight_time     {{real}},
    dwell_time      {{real}},
    x               {{real}},
    y               {{real}},
    session_id      TEXT NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, timestamp)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS idx_events_session`,
			`DROP INDEX IF EXISTS idx_events_timestamp`,
			`DROP TABLE IF EXISTS events`,
		},
	},
	{
		Version:     2,
		Description: "Index key-downs by kind and app for analytics",
		Up: []string{
			`CREATE INDEX IF NOT EXISTS idx_events_kind_ts ON events(kind, timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_events_app ON events(app_id, timestamp)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS idx_events_app`,
			`DROP INDEX IF EXISTS idx_events_kind_ts`,
		},
	},
}

// LatestVersion is the version a fully migrated store reports.
func LatestVersion() int { return migrations[len(migrations)-1].Version }

const versionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     INTEGER PRIMARY KEY,
    applied_at  {{bigint}} NOT NULL,
    description TEXT
)`

// inTx runs fn in a transaction, committing only if fn succeeds.
func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func execAll(ctx context.Context, tx *sql.Tx, d *dialect, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, d.ddl(stmt)); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return nil
}

// migrate brings the schema to LatestVersion, one transaction per step.
func migrate(ctx context.Context, db *sql.DB, d *dialect) error {
	if _, err := db.ExecContext(ctx, d.ddl(versionTable)); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	have, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	record := d.rebind("INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)")
	for _, m := range migrations {
		if m.Version <= have {
			continue
		}
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if err := execAll(ctx, tx, d, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, record, m.Version, time.Now().UnixNano(), m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// rollback undoes the newest applied step.
func rollback(ctx context.Context, db *sql.DB, d *dialect) error {
	have, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if have == 0 {
		return errors.New("schema has no migrations applied")
	}
	idx := slices.IndexFunc(migrations, func(m Migration) bool { return m.Version == have })
	if idx < 0 {
		return fmt.Errorf("schema version %d is unknown to this build", have)
	}
	m := migrations[idx]

	err = inTx(ctx, db, func(tx *sql.Tx) error {
		if err := execAll(ctx, tx, d, m.Down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, d.rebind("DELETE FROM schema_migrations WHERE version = ?"), m.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("roll back migration %d: %w", m.Version, err)
	}
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// MigrationStatus compares the schema_migrations table with this build.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
	Applied        []AppliedMigration
}

// AppliedMigration is a schema_migrations row.
type AppliedMigration struct {
	Version     int
	AppliedAt   time.Time
	Description string
}

func migrationStatus(ctx context.Context, db *sql.DB) (*MigrationStatus, error) {
	st := &MigrationStatus{LatestVersion: LatestVersion()}

	rows, err := db.QueryContext(ctx, "SELECT version, applied_at, description FROM schema_migrations ORDER BY version")
	if err != nil {
		// no schema_migrations table: nothing applied
		st.Pending = migrations
		return st, nil
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a    AppliedMigration
			at   int64
			desc sql.NullString
		)
		if err := rows.Scan(&a.Version, &at, &desc); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		a.AppliedAt, a.Description = time.Unix(0, at), desc.String
		st.Applied = append(st.Applied, a)
		st.CurrentVersion = max(st.CurrentVersion, a.Version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}

	for _, m := range migrations {
		applied := slices.ContainsFunc(st.Applied, func(a AppliedMigration) bool { return a.Version == m.Version })
		if !applied {
			st.Pending = append(st.Pending, m)
		}
	}
	return st, nil
}
