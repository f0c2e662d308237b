package storage

import (
	"context"
	"fmt"
	"strings"
)

// Open returns the backend for driver. Postgres and SQL backends have their
// migrations applied before returning. An empty driver selects postgres.
func Open(ctx context.Context, driver, dsn string) (Backend, error) {
	switch strings.ToLower(driver) {
	case "", "postgres", "postgresql", "pgx":
		if err := RunMigrations(dsn); err != nil {
			return nil, err
		}
		return NewPostgresBackend(ctx, dsn)
	case DriverSQLite, DriverMySQL:
		b, err := OpenSQL(ctx, strings.ToLower(driver), dsn)
		if err != nil {
			return nil, err
		}
		if err := RunSQLMigrations(b); err != nil {
			b.Close()
			return nil, err
		}
		return b, nil
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
