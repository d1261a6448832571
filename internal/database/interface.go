package database

import "context"

// DB is the contract every engine driver implements. The registry and the
// HTTP server talk only to this interface; they never import the postgres,
// mysql or sqlite packages for anything but construction.
type DB interface {
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close()

	// Query executes a statement. Statements that return no rows yield
	// an empty result with no columns.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	Catalog
}

// Catalog lists the objects of a database.
type Catalog interface {
	// HasSchemas reports whether the engine has a schema level between
	// the connection and its tables.
	HasSchemas() bool

	// ListSchemas returns the schemas (databases, for MySQL) visible to
	// the connection.
	ListSchemas(ctx context.Context) ([]Object, error)

	// ListTables returns the tables and views of schema. Engines without
	// schemas ignore the argument.
	ListTables(ctx context.Context, schema string) ([]Object, error)

	// ListColumns returns the columns of a table in ordinal order.
	ListColumns(ctx context.Context, schema, table string) ([]Object, error)
}

// Object kinds.
const (
	KindView    = "V"      // table entry that is a view
	KindPartKey = "parkey" // column that is a partition key
)

// Object is one schema, table or column. Comment is the engine-side
// description (column type for sqlite columns). Kind marks views and
// partition keys.
type Object struct {
	Name    string
	Comment string
	Kind    string
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}
