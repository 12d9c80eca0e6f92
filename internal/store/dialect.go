package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Supported drivers.
const (
	DriverSQLite3  = "sqlite3"  // github.com/mattn/go-sqlite3 (cgo)
	DriverSQLite   = "sqlite"   // modernc.org/sqlite (pure Go)
	DriverPostgres = "postgres" // github.com/lib/pq
)

// dialect captures the SQL differences between drivers.
type dialect struct {
	driver string

	// numbered reports whether placeholders are $1, $2, ...
	numbered bool

	// types substitutes the type tokens in migration SQL.
	types *strings.Replacer

	// hourOfDay extracts the local hour from a unix-seconds column.
	hourOfDay string
}

var dialects = map[string]*dialect{
	DriverSQLite3: {
		driver:    DriverSQLite3,
		types:     strings.NewReplacer("{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{real}}", "REAL", "{{bigint}}", "INTEGER"),
		hourOfDay: "CAST(strftime('%H', timestamp, 'unixepoch', 'localtime') AS INTEGER)",
	},
	DriverSQLite: {
		driver:    DriverSQLite,
		types:     strings.NewReplacer("{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{real}}", "REAL", "{{bigint}}", "INTEGER"),
		hourOfDay: "CAST(strftime('%H', timestamp, 'unixepoch', 'localtime') AS INTEGER)",
	},
	DriverPostgres: {
		driver:    DriverPostgres,
		numbered:  true,
		types:     strings.NewReplacer("{{serial}}", "BIGSERIAL PRIMARY KEY", "{{real}}", "DOUBLE PRECISION", "{{bigint}}", "BIGINT"),
		hourOfDay: "CAST(EXTRACT(HOUR FROM to_timestamp(timestamp)) AS INTEGER)",
	},
}

func lookupDialect(driver string) (*dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	return d, nil
}

// rebind rewrites ? placeholders for drivers that number them.
func (d *dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *dialect) ddl(stmt string) string {
	return d.types.Replace(stmt)
}
