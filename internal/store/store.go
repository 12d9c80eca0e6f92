package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

var (
	// ErrUnknownDriver is returned for drivers other than sqlite3, sqlite and postgres.
	ErrUnknownDriver = errors.New("unknown storage driver")

	// ErrNotFound is returned when opening a missing database read-only.
	ErrNotFound = errors.New("database not found")

	// ErrReadOnly is returned by writes on a read-only store.
	ErrReadOnly = errors.New("store opened read-only")
)

// Options configures Open.
type Options struct {
	Driver         string
	Path           string // sqlite drivers
	DSN            string // postgres
	MaxConnections int
	BusyTimeout    time.Duration

	// ReadOnly opens an existing database for queries only and skips
	// migrations.
	ReadOnly bool
}

// Store is the event database.
type Store struct {
	db       *sql.DB
	d        *dialect
	readOnly bool
}

// Open opens or creates the database and runs migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	d, err := lookupDialect(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := dataSource(d, opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.MaxConnections > 0 {
		db.SetMaxOpenConns(opts.MaxConnections)
	}

	s := &Store{db: db, d: d, readOnly: opts.ReadOnly}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if !opts.ReadOnly {
		if err := migrate(ctx, db, d); err != nil {
			db.Close()
			return nil, err
		}
		if d.driver != DriverPostgres {
			// Keystroke data is private to the user.
			_ = os.Chmod(opts.Path, 0600)
		}
	}
	return s, nil
}

// OpenDB wraps an existing connection without running migrations.
func OpenDB(db *sql.DB, driver string) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, d: d}, nil
}

func dataSource(d *dialect, opts Options) (string, error) {
	if d.driver == DriverPostgres {
		if opts.DSN == "" {
			return "", errors.New("postgres requires a DSN")
		}
		return opts.DSN, nil
	}

	if opts.Path == "" {
		return "", errors.New("sqlite requires a path")
	}
	if opts.ReadOnly {
		if _, err := os.Stat(opts.Path); err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %s", ErrNotFound, opts.Path)
			}
			return "", err
		}
	} else if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	q := url.Values{}
	switch d.driver {
	case DriverSQLite3:
		q.Set("_busy_timeout", fmt.Sprint(busy.Milliseconds()))
		if opts.ReadOnly {
			q.Set("mode", "ro")
		} else {
			q.Set("_journal_mode", "WAL")
			q.Set("_synchronous", "NORMAL")
		}
	case DriverSQLite:
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
		if opts.ReadOnly {
			q.Set("mode", "ro")
		} else {
			q.Add("_pragma", "journal_mode(WAL)")
			q.Add("_pragma", "synchronous(NORMAL)")
		}
	}
	return "file:" + opts.Path + "?" + q.Encode(), nil
}

// Driver returns the driver name.
func (s *Store) Driver() string {
	return s.d.driver
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if s.readOnly {
		return ErrReadOnly
	}
	return migrate(ctx, s.db, s.d)
}

// Rollback reverts the most recent migration.
func (s *Store) Rollback(ctx context.Context) error {
	if s.readOnly {
		return ErrReadOnly
	}
	return rollback(ctx, s.db, s.d)
}

// MigrationStatus reports the schema version.
func (s *Store) MigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	return migrationStatus(ctx, s.db)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
