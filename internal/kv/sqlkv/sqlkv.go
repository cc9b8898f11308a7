// Package sqlkv stores key-value pairs in a single SQL table. SQLite (modernc)
// and PostgreSQL (lib/pq) share the same queries.
package sqlkv

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/cart-store/internal/kv"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Repository struct {
	db     *sql.DB
	driver string
}

// Open connects to the database. For sqlite the dsn is a file path or ":memory:".
func Open(driver, dsn string) (*Repository, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		// one writer, and ":memory:" would otherwise give every connection its own database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	return &Repository{db: db, driver: driver}, nil
}

// RunMigrations applies the schema. An empty migrationsPath uses the migrations
// built into the binary; otherwise they are read from that directory.
func (r *Repository) RunMigrations(migrationsPath string) error {
	var (
		driver database.Driver
		err    error
	)
	switch r.driver {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(r.db, &sqlite.Config{})
	default:
		driver, err = postgres.WithInstance(r.db, &postgres.Config{
			MigrationsTable: "kv_schema_migrations",
		})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	var m *migrate.Migrate
	if migrationsPath == "" {
		src, srcErr := iofs.New(migrationsFS, "migrations")
		if srcErr != nil {
			return fmt.Errorf("could not load embedded migrations: %w", srcErr)
		}
		m, err = migrate.NewWithInstance("iofs", src, r.driver, driver)
	} else {
		m, err = migrate.NewWithDatabaseInstance(
			fmt.Sprintf("file://%s", migrationsPath),
			r.driver,
			driver,
		)
	}
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *Repository) Get(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM kv WHERE key = $1`

	var value string
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", kv.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query key: %w", err)
	}

	return value, nil
}

func (r *Repository) Set(ctx context.Context, key, value string) error {
	query := `INSERT INTO kv (key, value, updated_at)
	          VALUES ($1, $2, CURRENT_TIMESTAMP)
	          ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to upsert key: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
