package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// SQLBackend is a Backend over database/sql, used for SQLite and MySQL.
type SQLBackend struct {
	*sqlStore
	db     *sql.DB
	driver string
}

// OpenSQL opens a SQLite or MySQL database. SQLite gets a single connection
// so writers never contend; MySQL DSNs are forced to parse times as UTC and
// allow multi-statement migrations.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLBackend, error) {
	var db *sql.DB
	switch driver {
	case DriverSQLite:
		var err error
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parsing mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.MultiStatements = true
		cfg.Loc = time.UTC
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating mysql connector: %w", err)
		}
		db = sql.OpenDB(connector)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}
	return NewSQLBackend(db, driver), nil
}

// NewSQLBackend wraps an already open database.
func NewSQLBackend(db *sql.DB, driver string) *SQLBackend {
	style := onConflict
	if driver == DriverMySQL {
		style = onDuplicateKey
	}
	store := &sqlStore{
		db: sqlConn{q: db},
		begin: func(ctx context.Context) (txConn, error) {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return nil, err
			}
			return sqlTx{sqlConn: sqlConn{q: tx}, tx: tx}, nil
		},
		upsert: style,
	}
	return &SQLBackend{sqlStore: store, db: db, driver: driver}
}

// DB exposes the underlying handle for migrations.
func (b *SQLBackend) DB() *sql.DB { return b.db }

func (b *SQLBackend) Driver() string { return b.driver }

func (b *SQLBackend) Close() {
	b.db.Close() //nolint:errcheck
}

// sqlQuerier is implemented by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqlConn struct {
	q sqlQuerier
}

func (c sqlConn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, sqlError(err)
	}
	return res.RowsAffected()
}

func (c sqlConn) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return sqlRow{row: c.q.QueryRowContext(ctx, query, args...)}
}

func (c sqlConn) query(ctx context.Context, query string, args ...any) (rowIter, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{Rows: rows}, nil
}

type sqlRow struct {
	row *sql.Row
}

func (r sqlRow) Scan(dest ...any) error {
	return notFound(r.row.Scan(dest...), sql.ErrNoRows)
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() { r.Rows.Close() } //nolint:errcheck

type sqlTx struct {
	sqlConn
	tx *sql.Tx
}

func (t sqlTx) commit(context.Context) error   { return t.tx.Commit() }
func (t sqlTx) rollback(context.Context) error { return t.tx.Rollback() }

// SQLite extended result codes for constraint violations.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

func sqlError(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, myErr.Message)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqliteConstraintPrimaryKey, sqliteConstraintUnique:
			return fmt.Errorf("%w: %s", ErrAlreadyExists, liteErr.Error())
		}
	}
	return err
}
