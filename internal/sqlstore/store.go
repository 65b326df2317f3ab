// Package sqlstore persists the provisioning data model over database/sql.
// It is dialect-neutral across PostgreSQL (jackc/pgx stdlib driver) and
// SQLite (mattn/go-sqlite3): both accept $N placeholders, and the schema
// keeps booleans as 0/1 integers and timestamps as epoch milliseconds.
package sqlstore

import (
	"database/sql"
	"time"
)

// Drivers recognized by Open. Callers importing this package still need the
// matching driver package linked in (blank import in the binary).
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// Open opens a database handle for the given driver and DSN. A file path is
// a valid DSN for the sqlite3 driver, which is how file-based deployments
// are configured.
func Open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// nullStr maps an optional string to its driver value.
func nullStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// Timestamps persist as epoch milliseconds, UTC.

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timePtr(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := fromMillis(ns.Int64)
	return &t
}

// Booleans persist as 0/1 integers.

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
