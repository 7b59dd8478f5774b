// Package store provides durable backends for participation ledgers and
// capability grants: SQL (SQLite or Postgres) and Redis.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax and driver name.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// DialectFor maps a configured driver name to a dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	}
	return 0, fmt.Errorf("store: unsupported database driver %q", driver)
}

// DriverName is the database/sql driver registered for d. The Postgres
// driver must be linked in by the binary.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

func (d Dialect) String() string { return d.DriverName() }

// Rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Open opens and pings a database. SQLite is limited to one connection so
// in-memory databases are shared and writes are serialized.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, 0, err
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, 0, fmt.Errorf("store: open %s: %w", d, err)
	}
	if d == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, 0, fmt.Errorf("store: ping %s: %w", d, err)
	}
	return db, d, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS ppr_entries (
		owner TEXT NOT NULL,
		sequence BIGINT NOT NULL,
		receipt_id TEXT NOT NULL,
		fulfills TEXT NOT NULL,
		side TEXT NOT NULL,
		claim_type TEXT NOT NULL,
		counterparty TEXT NOT NULL,
		claimed_at_ns BIGINT NOT NULL,
		document TEXT NOT NULL,
		receipt_hash TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		appended_at TEXT NOT NULL,
		PRIMARY KEY (owner, sequence),
		UNIQUE (owner, receipt_id),
		UNIQUE (owner, fulfills, side)
	)`,
	`CREATE INDEX IF NOT EXISTS ppr_entries_claimed ON ppr_entries (owner, claimed_at_ns)`,
	`CREATE TABLE IF NOT EXISTS capability_grants (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		granted_to TEXT NOT NULL,
		fields TEXT NOT NULL,
		context TEXT NOT NULL,
		created_at TEXT NOT NULL,
		created_at_ns BIGINT NOT NULL,
		expires_at TEXT NOT NULL,
		secret_digest TEXT NOT NULL UNIQUE,
		revoked_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS capability_grants_owner ON capability_grants (owner, created_at_ns)`,
}

// Migrate creates the tables used by this package. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migration %d: %w", i+1, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func rollback(tx *sql.Tx) { _ = tx.Rollback() }
