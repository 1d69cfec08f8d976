package infrastructure

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
)

// DatabaseOptions selects and tunes the inventory database.
type DatabaseOptions struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// OpenDatabase connects to the configured database and verifies it answers.
// SQLite is limited to a single connection so writers never contend for the
// file lock.
func OpenDatabase(ctx context.Context, opts DatabaseOptions) (*sqlx.DB, error) {
	dsn := opts.DSN
	switch opts.Driver {
	case DriverPostgres, DriverPgx:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, errors.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := sqlx.ConnectContext(ctx, opts.Driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if opts.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	return db, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id          BIGSERIAL PRIMARY KEY,
		kind        TEXT    NOT NULL,
		origin      TEXT    NOT NULL,
		destination TEXT    NOT NULL DEFAULT '',
		starts_at   BIGINT  NOT NULL,
		amount      INTEGER NOT NULL CHECK (amount >= 0)
	)`,
	`CREATE INDEX IF NOT EXISTS inventory_items_lookup
		ON inventory_items (kind, origin, destination, starts_at)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id             BIGSERIAL PRIMARY KEY,
		kind           TEXT    NOT NULL,
		transaction_id UUID    NOT NULL,
		item_id        BIGINT  NOT NULL REFERENCES inventory_items (id),
		amount         INTEGER NOT NULL CHECK (amount > 0),
		temporary      BOOLEAN NOT NULL,
		temporary_at   BIGINT  NOT NULL,
		UNIQUE (kind, transaction_id)
	)`,
	`CREATE INDEX IF NOT EXISTS reservations_temporary
		ON reservations (kind, temporary, temporary_at)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		kind        TEXT    NOT NULL,
		origin      TEXT    NOT NULL,
		destination TEXT    NOT NULL DEFAULT '',
		starts_at   INTEGER NOT NULL,
		amount      INTEGER NOT NULL CHECK (amount >= 0)
	)`,
	`CREATE INDEX IF NOT EXISTS inventory_items_lookup
		ON inventory_items (kind, origin, destination, starts_at)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		kind           TEXT    NOT NULL,
		transaction_id TEXT    NOT NULL,
		item_id        INTEGER NOT NULL REFERENCES inventory_items (id),
		amount         INTEGER NOT NULL CHECK (amount > 0),
		temporary      BOOLEAN NOT NULL,
		temporary_at   INTEGER NOT NULL,
		UNIQUE (kind, transaction_id)
	)`,
	`CREATE INDEX IF NOT EXISTS reservations_temporary
		ON reservations (kind, temporary, temporary_at)`,
}

// EnsureSchema creates the inventory tables when they are missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	statements := sqliteSchema
	if isPostgres(db.DriverName()) {
		statements = postgresSchema
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply inventory schema")
		}
	}
	return nil
}
