package catalog

import (
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// runMigrations applies every pending migration in migrations/ against dsn.
// golang-migrate needs a database/sql handle (pgx/v5/stdlib supplies one); the
// pool used for everything else is a separate pgxpool.Pool opened by New.
func runMigrations(dsn, dbName string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("catalog: open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("catalog: postgres migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("catalog: migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dbName, driver)
	if err != nil {
		return fmt.Errorf("catalog: migrate instance: %w", err)
	}

	// Never call m.Close(): it would also close db via the postgres driver,
	// which here is solely ours (not shared with the pool), but closing the
	// source explicitly below is the documented way to release it without
	// touching the database driver.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("catalog: apply migrations: %w", err)
	}
	if err := src.Close(); err != nil {
		return fmt.Errorf("catalog: close migration source: %w", err)
	}
	return nil
}
