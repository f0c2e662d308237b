package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// RunMigrations applies all pending postgres migrations embedded in the binary.
func RunMigrations(dbURL string) error {
	src, err := iofs.New(migrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	defer m.Close()

	return up(m)
}

// RunSQLMigrations applies the embedded migrations for a SQLite or MySQL
// backend. The migrator is not closed; closing it would close b's database.
func RunSQLMigrations(b *SQLBackend) error {
	src, err := iofs.New(migrationsFS, "migrations/"+b.Driver())
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	m, err := newSQLMigrator(b.DB(), b.Driver(), src)
	if err != nil {
		return err
	}
	return up(m)
}

func newSQLMigrator(db *sql.DB, driver string, src source.Driver) (*migrate.Migrate, error) {
	var (
		m   *migrate.Migrate
		err error
	)
	switch driver {
	case DriverSQLite:
		dbDriver, derr := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if derr != nil {
			return nil, fmt.Errorf("creating migration db driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", dbDriver)
	case DriverMySQL:
		dbDriver, derr := migratemysql.WithInstance(db, &migratemysql.Config{})
		if derr != nil {
			return nil, fmt.Errorf("creating migration db driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "mysql", dbDriver)
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
