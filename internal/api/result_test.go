package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Statuses(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status Status
		check  func(t *testing.T, r Result[[]Node])
	}{
		{
			name:   "data",
			body:   `{"data":[{"name":"pg1","desc":"","type":"conn","subtype":2,"fix":1}]}`,
			status: StatusOK,
			check: func(t *testing.T, r Result[[]Node]) {
				require.Len(t, r.Data, 1)
				assert.Equal(t, Node{Type: NodeConn, Name: "pg1", Subtype: "2", Fix: true}, r.Data[0])
			},
		},
		{
			name:   "need pass",
			body:   `{"error":"NEED-PASS","pass_info":{"db_id":"pg1","db_user":"alice"}}`,
			status: StatusNeedPass,
			check: func(t *testing.T, r Result[[]Node]) {
				require.NotNil(t, r.Pass)
				assert.Equal(t, PassInfo{DBID: "pg1", User: "alice"}, *r.Pass)
			},
		},
		{
			name:   "retry",
			body:   `{"error":"RETRY","data":"task-1"}`,
			status: StatusRetry,
			check: func(t *testing.T, r Result[[]Node]) {
				assert.Equal(t, "task-1", r.TaskID)
			},
		},
		{
			name:   "error",
			body:   `{"error":"task not exists"}`,
			status: StatusErr,
			check: func(t *testing.T, r Result[[]Node]) {
				assert.Equal(t, "task not exists", r.Message)
			},
		},
		{
			name:   "empty body",
			body:   ``,
			status: StatusOK,
			check: func(t *testing.T, r Result[[]Node]) {
				assert.Nil(t, r.Data)
			},
		},
		{
			name:   "not json",
			body:   `<html>bad gateway</html>`,
			status: StatusErr,
			check: func(t *testing.T, r Result[[]Node]) {
				assert.Contains(t, r.Message, "malformed response")
			},
		},
		{
			name:   "wrong data shape",
			body:   `{"data":"oops"}`,
			status: StatusErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Decode[[]Node]([]byte(tt.body))
			assert.Equal(t, tt.status, r.Status)
			if tt.check != nil {
				tt.check(t, r)
			}
		})
	}
}

func TestDecode_TableData(t *testing.T) {
	r := Decode[TableData]([]byte(`{"data":{"columns":["id","name"],"data":[[1,"a"],[2,"b"]]}}`))
	require.True(t, r.OK())
	assert.Equal(t, []string{"id", "name"}, r.Data.Columns)
	assert.Len(t, r.Data.Data, 2)

	// statements without a result set
	r = Decode[TableData]([]byte(`{"data":{}}`))
	assert.True(t, r.OK())
	assert.Empty(t, r.Data.Columns)
}

func TestDecode_EmptyObjectForScalar(t *testing.T) {
	r := Decode[string]([]byte(`{"data":{}}`))
	assert.True(t, r.OK())
	assert.Equal(t, "", r.Data)
}

func TestEnvelopes_RoundTrip(t *testing.T) {
	tests := []struct {
		env    Envelope
		status Status
	}{
		{env: DataEnvelope([]Node{}), status: StatusOK},
		{env: ErrorEnvelope("user or passwd error"), status: StatusErr},
		{env: NeedPassEnvelope("pg1", "bob"), status: StatusNeedPass},
		{env: RetryEnvelope("abc"), status: StatusRetry},
	}

	for _, tt := range tests {
		body, err := json.Marshal(tt.env)
		require.NoError(t, err)
		assert.Equal(t, tt.status, Decode[[]Node](body).Status, string(body))
	}
}

func TestConn_JSON(t *testing.T) {
	var c Conn
	require.NoError(t, json.Unmarshal([]byte(`{"db_id":"m1","db_type":"1","db_port":3307,"db_host":"h"}`), &c))
	assert.Equal(t, ConnMySQL, c.DBType)
	assert.Equal(t, Text("3307"), c.DBPort)

	require.NoError(t, json.Unmarshal([]byte(`{"db_id":"s1","db_type":6}`), &c))
	assert.Equal(t, ConnSQLite, c.DBType)
}

func TestComment_JSON(t *testing.T) {
	var c Comment
	require.NoError(t, json.Unmarshal([]byte(`{"type":"3","dbid":"pg1","schema":"public","table":"t","comment":"x"}`), &c))
	assert.Equal(t, CommentTable, c.Type)
}

func TestParseConnType(t *testing.T) {
	ct, err := ParseConnType("postgres")
	require.NoError(t, err)
	assert.Equal(t, ConnPostgres, ct)

	ct, err = ParseConnType("6")
	require.NoError(t, err)
	assert.Equal(t, ConnSQLite, ct)

	_, err = ParseConnType("db2")
	assert.Error(t, err)
}

func TestFlag(t *testing.T) {
	var f Flag
	assert.Error(t, f.UnmarshalJSON([]byte(`"yes"`)))
	require.NoError(t, f.UnmarshalJSON([]byte(`1`)))
	assert.True(t, bool(f))
	require.NoError(t, f.UnmarshalJSON([]byte(`false`)))
	assert.False(t, bool(f))
}
