package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/sqlexplorer/internal/api"
)

const prefix = "/jupyterlab-sql-explorer"

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(&Config{BaseURL: srv.URL + prefix, RetryMax: 1, Token: "secret"}, nil)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(&Config{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}

func TestListDBTables_Query(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotAuth = r.URL.Path, r.URL.RawQuery, r.Header.Get("Authorization")
		writeJSON(w, api.DataEnvelope([]api.Node{{Type: api.NodeTable, Name: "users"}}))
	})

	res := c.ListDBTables(context.Background(), "pg1", "public")

	require.True(t, res.OK())
	require.Len(t, res.Data, 1)
	assert.Equal(t, "users", res.Data[0].Name)
	assert.Equal(t, prefix+"/dbtables", gotPath)
	assert.Equal(t, "db=public&dbid=pg1", gotQuery)
	assert.Equal(t, "token secret", gotAuth)
}

func TestListDBTables_ConnectionLevelOmitsSchema(t *testing.T) {
	var gotQuery string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		writeJSON(w, api.DataEnvelope([]api.Node{}))
	})

	c.ListDBTables(context.Background(), "lite", "")
	assert.Equal(t, "dbid=lite", gotQuery)
}

func TestListColumns_NeedPass(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pg1", r.URL.Query().Get("dbid"))
		assert.Equal(t, "users", r.URL.Query().Get("tbl"))
		writeJSON(w, api.NeedPassEnvelope("pg1", "alice"))
	})

	res := c.ListColumns(context.Background(), "pg1", "public", "users")

	assert.Equal(t, api.StatusNeedPass, res.Status)
	require.NotNil(t, res.Pass)
	assert.Equal(t, "alice", res.Pass.User)
}

func TestEditConn_PostsJSON(t *testing.T) {
	var got api.Conn
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, api.ErrorEnvelope("db_id pg1 already exists."))
	})

	res := c.EditConn(context.Background(), api.Conn{DBID: "pg1", DBType: api.ConnPostgres, DBHost: "db"})

	assert.Equal(t, api.StatusErr, res.Status)
	assert.Equal(t, "db_id pg1 already exists.", res.Message)
	assert.Equal(t, "pg1", got.DBID)
	assert.Equal(t, api.ConnPostgres, got.DBType)
}

func TestQuery_RetryAndPoll(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "select 1", body["sql"])
			assert.Equal(t, "pg1", body["dbid"])
			assert.Equal(t, "public", body["db"])
			writeJSON(w, api.RetryEnvelope("task-1"))
		case http.MethodGet:
			assert.Equal(t, "task-1", r.URL.Query().Get("taskid"))
			writeJSON(w, api.DataEnvelope(api.TableData{Columns: []string{"?column?"}, Data: [][]any{{1}}}))
		case http.MethodDelete:
			writeJSON(w, struct{}{})
		}
	})

	res := c.Query(context.Background(), "select 1", "pg1", "public")
	require.Equal(t, api.StatusRetry, res.Status)
	assert.Equal(t, "task-1", res.TaskID)

	polled := c.Poll(context.Background(), res.TaskID)
	require.True(t, polled.OK())
	assert.Equal(t, []string{"?column?"}, polled.Data.Columns)

	assert.True(t, c.StopQuery(context.Background(), "task-1").OK())
}

func TestClearPass_AllWhenEmpty(t *testing.T) {
	var gotQuery string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		writeJSON(w, api.DataEnvelope("delete pass ok"))
	})

	res := c.ClearPass(context.Background(), "")
	assert.True(t, res.OK())
	assert.Equal(t, "delete pass ok", res.Data)
	assert.Empty(t, gotQuery)
}

func TestCancelMapsToAbort(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res := c.Poll(ctx, "t")
	assert.Equal(t, api.StatusErr, res.Status)
	assert.Equal(t, api.MsgAborted, res.Message)
}

func TestServerErrorRetriedThenReported(t *testing.T) {
	var hits atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	})

	res := c.ListConns(context.Background())

	assert.Equal(t, api.StatusErr, res.Status)
	assert.Contains(t, res.Message, "malformed response")
	assert.Equal(t, int32(2), hits.Load())
}

func TestNotFoundWithoutEnvelope(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	res := c.ListConns(context.Background())
	assert.Equal(t, api.StatusErr, res.Status)
	assert.Equal(t, "404 Not Found", res.Message)
}

func TestUnreachable(t *testing.T) {
	c, err := New(&Config{BaseURL: "http://127.0.0.1:1/x", RetryMax: 0}, nil)
	require.NoError(t, err)

	res := c.ListConns(context.Background())
	assert.Equal(t, api.StatusErr, res.Status)
	assert.Equal(t, "server unreachable", res.Message)
}
