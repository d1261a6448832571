package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/sqlexplorer/internal/database"
	"github.com/koustreak/sqlexplorer/internal/errs"
)

func newDriver(t *testing.T) *Driver {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "shop.db")
	d, err := New(ctx, database.DefaultConfig(database.DriverSQLite, path))
	require.NoError(t, err)
	t.Cleanup(d.Close)

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, joined DATETIME)`,
		`CREATE VIEW v_names AS SELECT name FROM users`,
		`INSERT INTO users (id, name) VALUES (1, 'ann'), (2, 'bob')`,
	} {
		_, err := d.db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	return d
}

func TestListTables(t *testing.T) {
	d := newDriver(t)

	objs, err := d.ListTables(context.Background(), "ignored")
	require.NoError(t, err)
	assert.Equal(t, []database.Object{
		{Name: "users"},
		{Name: "v_names", Kind: database.KindView},
	}, objs)
}

func TestListColumns(t *testing.T) {
	d := newDriver(t)

	objs, err := d.ListColumns(context.Background(), "", "users")
	require.NoError(t, err)
	assert.Equal(t, []database.Object{
		{Name: "id", Comment: "INTEGER"},
		{Name: "name", Comment: "TEXT"},
		{Name: "joined", Comment: "DATETIME"},
	}, objs)
}

func TestListColumns_UnknownTable(t *testing.T) {
	d := newDriver(t)

	objs, err := d.ListColumns(context.Background(), "", "nope")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestSchemas(t *testing.T) {
	d := newDriver(t)

	assert.False(t, d.HasSchemas())
	objs, err := d.ListSchemas(context.Background())
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestQuery(t *testing.T) {
	d := newDriver(t)

	rows, err := d.Query(context.Background(), "SELECT id, name FROM users ORDER BY id")
	require.NoError(t, err)

	res, err := database.ScanTable(rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	assert.Equal(t, [][]any{{int64(1), "ann"}, {int64(2), "bob"}}, res.Rows)
}

func TestQuery_SyntaxError(t *testing.T) {
	d := newDriver(t)

	_, err := d.Query(context.Background(), "SELEC nothing")
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
	assert.Contains(t, errs.Message(err), "query failed")
}

func TestQuery_Canceled(t *testing.T) {
	d := newDriver(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Query(ctx, "SELECT 1")
	require.Error(t, err)
	assert.True(t, errs.IsCanceled(err))
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", DSN("a.db"))
	assert.Equal(t, "file:a.db?mode=ro", DSN("file:a.db?mode=ro"))
}
