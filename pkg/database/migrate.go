package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations
var migrationsFS embed.FS

// newMigrate builds a migrate instance over the embedded migrations that
// match the connection's driver.
func newMigrate(db *sqlx.DB) (*migrate.Migrate, error) {
	driverName := db.DriverName()
	src, err := iofs.New(migrationsFS, "migrations/"+driverName)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations for %s: %w", driverName, err)
	}

	var drv migratedb.Driver
	switch driverName {
	case DriverPostgres:
		drv, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case DriverSQLite:
		drv, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", driverName)
	}
	if err != nil {
		return nil, fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driverName, drv)
	if err != nil {
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

// Migrate applies all pending migrations. It returns the version the
// schema ended at.
func Migrate(db *sqlx.DB) (uint, error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("checking migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("database is in a dirty state (version %d); manual intervention required", version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return version, fmt.Errorf("applying migrations: %w", err)
	}
	version, _, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, err
	}
	return version, nil
}

// Rollback reverts steps migrations; steps <= 0 reverts everything.
func Rollback(db *sqlx.DB, steps int) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if steps > 0 {
		err = m.Steps(-steps)
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migrations: %w", err)
	}
	return nil
}

// Version reports the current schema version and whether it is dirty.
func Version(db *sqlx.DB) (uint, bool, error) {
	m, err := newMigrate(db)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force sets the schema version without running migrations.
func Force(db *sqlx.DB, version int) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return fmt.Errorf("forcing version: %w", err)
	}
	return nil
}
