// Package mysql provides a MySQL implementation of database.DB backed by
// database/sql and go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/koustreak/sqlexplorer/internal/database"
	"github.com/koustreak/sqlexplorer/internal/errs"
)

// Driver is a MySQL implementation of database.DB.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	db *sql.DB
}

// New opens a MySQL connection pool using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid DSN", err)
	}
	return open(ctx, db, cfg)
}

func open(ctx context.Context, db *sql.DB, cfg *database.Config) (*Driver, error) {
	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(int(cfg.MinConns))
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	d := &Driver{db: db}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	if err := d.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return d, nil
}

// DSN builds a go-sql-driver DSN. An empty database connects without a
// default schema.
func DSN(host, port, user, pass, dbname string) string {
	c := mysql.NewConfig()
	c.User = user
	c.Passwd = pass
	c.Net = "tcp"
	c.Addr = host + ":" + port
	c.DBName = dbname
	c.ParseTime = true
	return c.FormatDSN()
}

// --- database.DB implementation ---

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
	return &mysqlRows{rows: rows}, nil
}

// HasSchemas is true: MySQL databases play the schema role.
func (d *Driver) HasSchemas() bool { return true }

func (d *Driver) ListSchemas(ctx context.Context) ([]database.Object, error) {
	const q = `
		SELECT schema_name, NULL, NULL
		FROM information_schema.schemata
		ORDER BY schema_name`

	return d.objects(ctx, "failed to list databases", q)
}

func (d *Driver) ListTables(ctx context.Context, schema string) ([]database.Object, error) {
	const q = `
		SELECT table_name,
		       table_comment,
		       CASE WHEN table_type = 'VIEW' THEN 'V' ELSE '' END
		FROM information_schema.tables
		WHERE table_schema = ?
		ORDER BY table_name`

	return d.objects(ctx, "failed to list tables", q, schema)
}

func (d *Driver) ListColumns(ctx context.Context, schema, table string) ([]database.Object, error) {
	const q = `
		SELECT c.column_name,
		       c.column_comment,
		       CASE WHEN EXISTS (
		           SELECT 1 FROM information_schema.partitions p
		           WHERE p.table_schema = c.table_schema
		             AND p.table_name   = c.table_name
		             AND p.partition_expression LIKE CONCAT('%', c.column_name, '%')
		       ) THEN 'parkey' ELSE '' END
		FROM information_schema.columns c
		WHERE c.table_schema = ?
		  AND c.table_name   = ?
		ORDER BY c.ordinal_position`

	return d.objects(ctx, "failed to list columns", q, schema, table)
}

func (d *Driver) objects(ctx context.Context, msg, q string, args ...any) ([]database.Object, error) {
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, msg)
	}
	return database.ScanObjects(&mysqlRows{rows: rows})
}

// --- sql.DB type wrappers ---

type mysqlRows struct {
	rows *sql.Rows
}

func (r *mysqlRows) Next() bool                 { return r.rows.Next() }
func (r *mysqlRows) Scan(dest ...any) error     { return r.rows.Scan(dest...) }
func (r *mysqlRows) Columns() ([]string, error) { return r.rows.Columns() }
func (r *mysqlRows) Close()                     { _ = r.rows.Close() }
func (r *mysqlRows) Err() error                 { return r.rows.Err() }

// --- error mapping ---

// mapError translates go-sql-driver/mysql errors into *errs.Error.
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

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return errs.Wrap(
			classifyMySQLCode(mysqlErr.Number),
			fmt.Sprintf("%s: %s", msg, mysqlErr.Message),
			err,
		)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// classifyMySQLCode maps MySQL error numbers to ErrKind.
func classifyMySQLCode(code uint16) errs.ErrKind {
	switch code {
	case 1045, 1049, 1040, 1203: // access denied for user, unknown db, too many connections
		return errs.ErrKindConnectionFailed
	case 1044, 1142, 1143: // access denied to db / table / column
		return errs.ErrKindPermissionDenied
	case 1317: // query interrupted
		return errs.ErrKindCanceled
	default:
		return errs.ErrKindQueryFailed
	}
}
