// Package postgres provides a PostgreSQL implementation of database.DB
// backed by pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koustreak/sqlexplorer/internal/database"
	"github.com/koustreak/sqlexplorer/internal/errs"
)

// Driver is a PostgreSQL implementation of database.DB.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid DSN", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	if cfg.Schema != "" {
		poolCfg.ConnConfig.RuntimeParams["search_path"] = cfg.Schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create connection pool", err)
	}

	d := &Driver{pool: pool}

	if err := d.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return d, nil
}

// --- database.DB implementation ---

// Ping verifies the database is reachable by acquiring and releasing a connection.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close drains the connection pool.
func (d *Driver) Close() {
	d.pool.Close()
}

// Query executes a SQL statement.
func (d *Driver) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &pgxRows{rows: rows}, nil
}

// HasSchemas is true: connections list schemas, schemas list tables.
func (d *Driver) HasSchemas() bool { return true }

// ListSchemas returns user schemas with their comments.
func (d *Driver) ListSchemas(ctx context.Context) ([]database.Object, error) {
	const q = `
		SELECT n.nspname,
		       obj_description(n.oid, 'pg_namespace'),
		       NULL
		FROM pg_catalog.pg_namespace n
		WHERE n.nspname NOT IN ('information_schema')
		  AND n.nspname NOT LIKE 'pg\_%'
		ORDER BY n.nspname`

	return d.objects(ctx, "failed to list schemas", q)
}

// ListTables returns tables, views and foreign tables of schema.
func (d *Driver) ListTables(ctx context.Context, schema string) ([]database.Object, error) {
	const q = `
		SELECT c.relname,
		       obj_description(c.oid, 'pg_class'),
		       CASE WHEN c.relkind IN ('v', 'm') THEN 'V' ELSE '' END
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
		  AND c.relkind IN ('r', 'p', 'v', 'm', 'f')
		  AND NOT c.relispartition
		ORDER BY c.relname`

	return d.objects(ctx, "failed to list tables", q, schema)
}

// ListColumns returns the columns of schema.table with their comments.
// Partition key columns are marked with KindPartKey.
func (d *Driver) ListColumns(ctx context.Context, schema, table string) ([]database.Object, error) {
	const q = `
		SELECT a.attname,
		       col_description(a.attrelid, a.attnum),
		       CASE WHEN pt.partrelid IS NOT NULL
		                 AND a.attnum = ANY (pt.partattrs::int2[]) THEN 'parkey'
		            ELSE '' END
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_catalog.pg_partitioned_table pt ON pt.partrelid = c.oid
		WHERE n.nspname = $1
		  AND c.relname = $2
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		ORDER BY a.attnum`

	return d.objects(ctx, "failed to list columns", q, schema, table)
}

func (d *Driver) objects(ctx context.Context, msg, q string, args ...any) ([]database.Object, error) {
	rows, err := d.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, msg)
	}
	objs, err := database.ScanObjects(&pgxRows{rows: rows})
	if err != nil {
		return nil, mapError(err, msg)
	}
	return objs, nil
}

// --- pgx type wrappers ---

// pgxRows wraps pgx.Rows to satisfy database.Rows.
type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgxRows) Close()                 { r.rows.Close() }
func (r *pgxRows) Err() error             { return r.rows.Err() }

func (r *pgxRows) Columns() ([]string, error) {
	descs := r.rows.FieldDescriptions()
	cols := make([]string, len(descs))
	for i, d := range descs {
		cols[i] = d.Name
	}
	return cols, nil
}

// --- error mapping ---

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var e *errs.Error
	if errors.As(err, &e) && !errors.As(err, new(*pgconn.PgError)) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindCanceled, msg, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.Wrap(classifySQLState(pgErr.Code), fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	// Fallthrough: connection-level errors (TLS, network, auth)
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// classifySQLState maps SQLSTATE classes to ErrKind.
func classifySQLState(code string) errs.ErrKind {
	if len(code) < 2 {
		return errs.ErrKindQueryFailed
	}
	switch code[:2] {
	case "08", "28": // connection exception, invalid authorization
		return errs.ErrKindConnectionFailed
	case "42":
		if code == "42501" {
			return errs.ErrKindPermissionDenied
		}
		return errs.ErrKindQueryFailed
	case "57":
		if code == "57014" { // query_canceled
			return errs.ErrKindCanceled
		}
		return errs.ErrKindQueryFailed
	default:
		return errs.ErrKindQueryFailed
	}
}
