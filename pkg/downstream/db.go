package downstream

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	_ "github.com/lib/pq"  // Postgres Driver
	_ "modernc.org/sqlite" // SQLite Driver (lite mode)
)

// Dialect names the SQL backend in use.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

var schemas = map[Dialect]string{
	DialectPostgres: `
CREATE TABLE IF NOT EXISTS oteldemo (
	Id SERIAL PRIMARY KEY,
	Name TEXT NOT NULL
);`,
	DialectSQLite: `
CREATE TABLE IF NOT EXISTS oteldemo (
	Id INTEGER PRIMARY KEY AUTOINCREMENT,
	Name TEXT NOT NULL
);`,
}

// SeedNames are inserted, in order, into an empty table by Provision.
var SeedNames = []string{"Bob", "Alice"}

const seedQuery = "INSERT INTO " + TableName + " (Name) VALUES ('Bob'), ('Alice')"

// Open connects to Postgres when databaseURL is set. Otherwise it falls back
// to lite mode: a SQLite file named oteldemo.db under dataDir. Every handle is
// wrapped by otelsql so queries produce client spans.
func Open(ctx context.Context, databaseURL, dataDir string) (*sql.DB, Dialect, error) {
	if databaseURL == "" {
		if err := os.MkdirAll(dataDir, 0750); err != nil {
			return nil, "", fmt.Errorf("failed to create data dir: %w", err)
		}
		path := filepath.Join(dataDir, "oteldemo.db")
		slog.InfoContext(ctx, "lite mode: using sqlite", "path", path)
		db, err := OpenSQLite(ctx, path)
		return db, DialectSQLite, err
	}

	db, err := OpenPostgres(ctx, databaseURL)
	return db, DialectPostgres, err
}

// OpenPostgres opens and pings an instrumented Postgres handle.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	return open(ctx, "postgres", databaseURL, semconv.DBSystemPostgreSQL)
}

// OpenSQLite opens and pings an instrumented SQLite handle at path.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	return open(ctx, "sqlite", path, semconv.DBSystemSqlite)
}

func open(ctx context.Context, driver, dsn string, system attribute.KeyValue) (*sql.DB, error) {
	db, err := otelsql.Open(driver, dsn, otelsql.WithAttributes(system))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ping failed: %w", driver, err)
	}
	return db, nil
}

// Provision creates the demo table and seeds it when empty. It runs once at
// startup and is safe to repeat.
func Provision(ctx context.Context, db *sql.DB, dialect Dialect) error {
	schema, ok := schemas[dialect]
	if !ok {
		return fmt.Errorf("unsupported dialect %q", dialect)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create %s table: %w", TableName, err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+TableName).Scan(&count); err != nil {
		return fmt.Errorf("failed to count %s rows: %w", TableName, err)
	}
	if count > 0 {
		return nil
	}

	if _, err := db.ExecContext(ctx, seedQuery); err != nil {
		return fmt.Errorf("failed to seed %s: %w", TableName, err)
	}
	return nil
}
