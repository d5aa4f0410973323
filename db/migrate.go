package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// source driver
)

// DefaultMigrationsPath locates the bundled schema migrations.
const DefaultMigrationsPath = "file://db/migrations"

// MigrateUp applies all pending up migrations. migrate.ErrNoChange is not
// an error: an up-to-date schema is the normal steady state.
//
// The migrator wraps the existing connection and is deliberately not
// closed afterwards; closing it would tear down the shared *sql.DB the
// caller keeps using.
func MigrateUp(conn *sql.DB, migrationsPath string) error {
	if migrationsPath == "" {
		migrationsPath = DefaultMigrationsPath
	}

	driver, err := sqlite.WithInstance(conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("db: create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "main", driver)
	if err != nil {
		return fmt.Errorf("db: create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("db: apply migrations: %w", err)
	}
	return nil
}
