// Package comments stores user annotations on connections, schemas, tables
// and columns in a local SQLite database. Comments are append-only; the
// newest entry for a node wins.
package comments

import (
	"context"
	"database/sql"
	"embed"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/errs"
	"github.com/koustreak/sqlexplorer/internal/logger"
)

// MsgArgError is returned for comments with an unknown type or missing
// target fields.
const MsgArgError = "arg error"

//go:embed migrations/*.sql
var migrations embed.FS

// Store is safe for concurrent use.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens (creating if needed) the comment database at path and
// applies pending migrations.
func Open(ctx context.Context, path string, log *logger.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to create comment store directory", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to open comment store", err)
	}
	// single writer; also keeps one shared in-memory database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to open comment store", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, log: logger.OrNop(log).Component("comments")}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "goose set dialect", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "failed to migrate comment store", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add records c. The fields required depend on c.Type: a connection
// comment needs only DBID, a column comment needs DBID, Table and Column.
// Table and column comments of engines without schemas carry an empty
// Schema, matching what the listings look up.
func (s *Store) Add(ctx context.Context, c api.Comment) error {
	if !valid(c) {
		return errs.New(errs.ErrKindInvalidInput, MsgArgError)
	}

	// fields below the target level are not stored
	switch c.Type {
	case api.CommentConn:
		c.Schema, c.Table, c.Column = "", "", ""
	case api.CommentSchema:
		c.Table, c.Column = "", ""
	case api.CommentTable:
		c.Column = ""
	}

	q, args, err := sq.Insert("comments").
		Columns("type", "dbid", "schema_name", "table_name", "column_name", "comment").
		Values(int(c.Type), c.DBID, c.Schema, c.Table, c.Column, c.Comment).
		ToSql()
	if err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "failed to build insert", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "failed to save comment", err)
	}

	s.log.DebugWith("comment saved", map[string]any{"type": int(c.Type), "dbid": c.DBID})
	return nil
}

func valid(c api.Comment) bool {
	if c.DBID == "" {
		return false
	}
	switch c.Type {
	case api.CommentConn:
		return true
	case api.CommentSchema:
		return c.Schema != ""
	case api.CommentTable:
		return c.Table != ""
	case api.CommentColumn:
		return c.Table != "" && c.Column != ""
	default:
		return false
	}
}

// Lookup returns the newest comment of every node of the given type below
// the given parent, keyed by node name. Connection comments ignore dbid,
// schema and table; schema comments use dbid; table comments use dbid and
// schema; column comments use all three.
func (s *Store) Lookup(ctx context.Context, typ api.CommentType, dbid, schema, table string) (map[string]string, error) {
	where := sq.Eq{"type": int(typ)}
	var key string
	switch typ {
	case api.CommentConn:
		key = "dbid"
	case api.CommentSchema:
		key = "schema_name"
		where["dbid"] = dbid
	case api.CommentTable:
		key = "table_name"
		where["dbid"] = dbid
		where["schema_name"] = schema
	case api.CommentColumn:
		key = "column_name"
		where["dbid"] = dbid
		where["schema_name"] = schema
		where["table_name"] = table
	default:
		return nil, errs.New(errs.ErrKindInvalidInput, MsgArgError)
	}

	latest, latestArgs, err := sq.Select("MAX(id)").From("comments").Where(where).GroupBy(key).ToSql()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindUnknown, "failed to build lookup", err)
	}
	q, args, err := sq.Select(key, "comment").
		From("comments").
		Where("id IN ("+latest+")", latestArgs...).
		ToSql()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindUnknown, "failed to build lookup", err)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read comments", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, comment string
		if err := rows.Scan(&name, &comment); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read comments", err)
		}
		out[name] = comment
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read comments", err)
	}
	return out, nil
}

// Overlay replaces the Desc of every node that has a stored comment.
// Lookup failures leave nodes untouched.
func (s *Store) Overlay(ctx context.Context, nodes []api.Node, typ api.CommentType, dbid, schema, table string) []api.Node {
	m, err := s.Lookup(ctx, typ, dbid, schema, table)
	if err != nil {
		s.log.WarnWith("comment lookup failed", err, map[string]any{"dbid": dbid})
		return nodes
	}
	for i := range nodes {
		if c, ok := m[nodes[i].Name]; ok {
			nodes[i].Desc = c
		}
	}
	return nodes
}
