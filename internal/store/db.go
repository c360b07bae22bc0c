package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialects understood by NewDB.
const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps sql.DB for Postgres (pgx) or SQLite.
type DB struct {
	Client  *sql.DB
	Dialect string
}

// NewDB opens the database named by connString and pings it.
// "sqlite://path" and "sqlite::memory:" select SQLite; anything else is handed to pgx.
func NewDB(connString string) (*DB, error) {
	dialect, driver, dsn := parseConnString(connString)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		// one writer at a time; concurrent writers would only trade SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &DB{Client: db, Dialect: dialect}, nil
}

func parseConnString(connString string) (dialect, driver, dsn string) {
	switch {
	case strings.HasPrefix(connString, "sqlite://"):
		return SQLite, "sqlite3", sqliteDSN(strings.TrimPrefix(connString, "sqlite://"))
	case strings.HasPrefix(connString, "sqlite:"):
		return SQLite, "sqlite3", sqliteDSN(strings.TrimPrefix(connString, "sqlite:"))
	default:
		return Postgres, "pgx", connString
	}
}

func sqliteDSN(path string) string {
	if path == "" || path == ":memory:" {
		path = "file::memory:?cache=shared"
	} else if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// Migrate creates the schema for the connected dialect. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	schema, err := migrations.ReadFile("migrations/" + d.Dialect + ".sql")
	if err != nil {
		return fmt.Errorf("read %s schema: %w", d.Dialect, err)
	}
	for _, stmt := range strings.Split(string(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Healthy pings the database with the caller's deadline.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
