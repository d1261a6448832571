// Package sqlite provides a SQLite implementation of database.DB backed by
// database/sql and the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/koustreak/sqlexplorer/internal/database"
	"github.com/koustreak/sqlexplorer/internal/errs"
)

// Driver is a SQLite implementation of database.DB.
type Driver struct {
	db *sql.DB
}

// New opens the database file named by cfg.DSN (":memory:" allowed).
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	db, err := sql.Open("sqlite", DSN(cfg.DSN))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid database path", err)
	}

	// an in-memory database exists per connection; keep exactly one
	if strings.Contains(cfg.DSN, ":memory:") {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	d := &Driver{db: db}
	if err := d.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// DSN adds the pragmas used for every connection to a file path.
func DSN(path string) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

func (d *Driver) Close() {
	_ = d.db.Close()
}

func (d *Driver) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	rows, err := d.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &sqlRows{rows: rows}, nil
}

// HasSchemas is false: tables hang directly off the connection.
func (d *Driver) HasSchemas() bool { return false }

// ListSchemas returns nothing; SQLite has no schema level.
func (d *Driver) ListSchemas(context.Context) ([]database.Object, error) {
	return []database.Object{}, nil
}

// ListTables returns tables and views. The schema argument is ignored.
func (d *Driver) ListTables(ctx context.Context, _ string) ([]database.Object, error) {
	const q = `
		SELECT name, NULL, CASE WHEN type = 'view' THEN 'V' ELSE '' END
		FROM sqlite_master
		WHERE type IN ('table', 'view')
		  AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY name`

	return d.objects(ctx, "failed to list tables", q)
}

// ListColumns returns the columns of table; the declared type is used as
// the comment.
func (d *Driver) ListColumns(ctx context.Context, _ string, table string) ([]database.Object, error) {
	const q = `
		SELECT name, type, NULL
		FROM pragma_table_info(?)
		ORDER BY cid`

	return d.objects(ctx, "failed to list columns", q, table)
}

func (d *Driver) objects(ctx context.Context, msg, q string, args ...any) ([]database.Object, error) {
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, msg)
	}
	return database.ScanObjects(&sqlRows{rows: rows})
}

type sqlRows struct {
	rows *sql.Rows
}

func (r *sqlRows) Next() bool                 { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error     { return r.rows.Scan(dest...) }
func (r *sqlRows) Columns() ([]string, error) { return r.rows.Columns() }
func (r *sqlRows) Close()                     { _ = r.rows.Close() }
func (r *sqlRows) Err() error                 { return r.rows.Err() }

// mapError translates modernc sqlite errors into *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindCanceled, msg, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		kind := errs.ErrKindQueryFailed
		switch sqErr.Code() & 0xff {
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB:
			kind = errs.ErrKindConnectionFailed
		case sqlite3.SQLITE_PERM, sqlite3.SQLITE_READONLY, sqlite3.SQLITE_AUTH:
			kind = errs.ErrKindPermissionDenied
		case sqlite3.SQLITE_INTERRUPT:
			kind = errs.ErrKindCanceled
		}
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, sqErr.Error()), err)
	}

	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}
