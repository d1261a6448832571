package mysql

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/sqlexplorer/internal/database"
	"github.com/koustreak/sqlexplorer/internal/errs"
)

func newMock(t *testing.T) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	d, err := open(context.Background(), db, database.DefaultConfig(database.DriverMySQL, "mock"))
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, mock
}

func TestListTables(t *testing.T) {
	d, mock := newMock(t)

	mock.ExpectQuery("FROM information_schema.tables").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "table_comment", "kind"}).
			AddRow("orders", "customer orders", "").
			AddRow("v_sales", nil, "V"))

	objs, err := d.ListTables(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, []database.Object{
		{Name: "orders", Comment: "customer orders"},
		{Name: "v_sales", Kind: database.KindView},
	}, objs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListColumns(t *testing.T) {
	d, mock := newMock(t)

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_comment", "kind"}).
			AddRow("id", "", "").
			AddRow("created", "order date", "parkey"))

	objs, err := d.ListColumns(context.Background(), "shop", "orders")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, database.KindPartKey, objs[1].Kind)
	assert.Equal(t, "order date", objs[1].Comment)
}

func TestListSchemas_Error(t *testing.T) {
	d, mock := newMock(t)

	mock.ExpectQuery("FROM information_schema.schemata").
		WillReturnError(&mysql.MySQLError{Number: 1044, Message: "Access denied"})

	_, err := d.ListSchemas(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsPermissionDenied(err))
	assert.Equal(t, "failed to list databases: Access denied", errs.Message(err))
}

func TestQuery_ScanTable(t *testing.T) {
	d, mock := newMock(t)

	mock.ExpectQuery("select id, name from users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("ann")).
			AddRow(int64(2), nil))

	rows, err := d.Query(context.Background(), "select id, name from users")
	require.NoError(t, err)

	res, err := database.ScanTable(rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	assert.Equal(t, [][]any{{int64(1), "ann"}, {int64(2), nil}}, res.Rows)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind errs.ErrKind
	}{
		{name: "canceled", err: context.Canceled, kind: errs.ErrKindCanceled},
		{name: "deadline", err: context.DeadlineExceeded, kind: errs.ErrKindTimeout},
		{name: "bad password", err: &mysql.MySQLError{Number: 1045}, kind: errs.ErrKindConnectionFailed},
		{name: "syntax", err: &mysql.MySQLError{Number: 1064}, kind: errs.ErrKindQueryFailed},
		{name: "interrupted", err: &mysql.MySQLError{Number: 1317}, kind: errs.ErrKindCanceled},
		{name: "network", err: errors.New("broken pipe"), kind: errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, errs.KindOf(mapError(tt.err, "x")))
		})
	}
}

func TestDSN(t *testing.T) {
	cfg, err := mysql.ParseDSN(DSN("db.local", "3307", "bob", "s3cr@t", "shop"))
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.User)
	assert.Equal(t, "s3cr@t", cfg.Passwd)
	assert.Equal(t, "db.local:3307", cfg.Addr)
	assert.Equal(t, "shop", cfg.DBName)
	assert.True(t, cfg.ParseTime)

	cfg, err = mysql.ParseDSN(DSN("h", "3306", "bob", "pw", ""))
	require.NoError(t, err)
	assert.Empty(t, cfg.DBName)
}
