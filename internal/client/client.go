// Package client talks to the explorer HTTP API and normalises every
// answer into an api.Result. It implements both catalog.Backend and
// query.Backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/errs"
	"github.com/koustreak/sqlexplorer/internal/logger"
)

// Config holds transport settings.
type Config struct {
	BaseURL  string        // e.g. http://localhost:8890/jupyterlab-sql-explorer
	Token    string        // sent as "Authorization: token <Token>" when set
	Timeout  time.Duration // per attempt; 0 leaves it to the context
	RetryMax int           // transport-level retries
}

// DefaultConfig returns settings for a local server.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:  "http://127.0.0.1:8890/jupyterlab-sql-explorer",
		RetryMax: 2,
	}
}

// Client is the HTTP transport.
type Client struct {
	base  *url.URL
	token string
	http  *retryablehttp.Client
	log   *logger.Logger
}

// New creates a client.
func New(cfg *Config, log *logger.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid server url", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "invalid server url %q", cfg.BaseURL)
	}

	log = logger.OrNop(log).Component("client")

	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.RetryMax
	hc.RetryWaitMin = 200 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.Logger = leveled{log: log}
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{base: base, token: cfg.Token, http: hc, log: log}, nil
}

// --- catalog ---

// ListConns lists the configured connections.
func (c *Client) ListConns(ctx context.Context) api.Result[[]api.Node] {
	return call[[]api.Node](ctx, c, http.MethodGet, "conns", nil, nil)
}

// ListDBTables lists the schemas of dbid, or its tables for engines
// without schemas. With schema set it lists the tables of that schema.
func (c *Client) ListDBTables(ctx context.Context, dbid, schema string) api.Result[[]api.Node] {
	q := url.Values{"dbid": {dbid}}
	if schema != "" {
		q.Set("db", schema)
	}
	return call[[]api.Node](ctx, c, http.MethodGet, "dbtables", q, nil)
}

// ListColumns lists the columns of a table.
func (c *Client) ListColumns(ctx context.Context, dbid, schema, table string) api.Result[[]api.Node] {
	q := url.Values{"dbid": {dbid}, "db": {schema}, "tbl": {table}}
	return call[[]api.Node](ctx, c, http.MethodGet, "columns", q, nil)
}

// EditConn creates a connection and returns the new list.
func (c *Client) EditConn(ctx context.Context, conn api.Conn) api.Result[[]api.Node] {
	return call[[]api.Node](ctx, c, http.MethodPost, "conns", nil, conn)
}

// DeleteConn removes a connection and returns the new list.
func (c *Client) DeleteConn(ctx context.Context, dbid string) api.Result[[]api.Node] {
	return call[[]api.Node](ctx, c, http.MethodDelete, "conns", url.Values{"dbid": {dbid}}, nil)
}

// SetPass submits a connection password.
func (c *Client) SetPass(ctx context.Context, pass api.PassInfo) api.Result[string] {
	return call[string](ctx, c, http.MethodPost, "pass", nil, pass)
}

// ClearPass forgets the password of dbid, or all passwords when empty.
func (c *Client) ClearPass(ctx context.Context, dbid string) api.Result[string] {
	var q url.Values
	if dbid != "" {
		q = url.Values{"dbid": {dbid}}
	}
	return call[string](ctx, c, http.MethodDelete, "pass", q, nil)
}

// AddComment stores a comment.
func (c *Client) AddComment(ctx context.Context, cm api.Comment) api.Result[string] {
	return call[string](ctx, c, http.MethodPost, "comments", nil, cm)
}

// --- query ---

type queryRequest struct {
	SQL    string `json:"sql"`
	DBID   string `json:"dbid"`
	Schema string `json:"db,omitempty"`
}

// Query submits a statement. The server normally answers RETRY with a
// task id to Poll.
func (c *Client) Query(ctx context.Context, sql, dbid, schema string) api.Result[api.TableData] {
	body := queryRequest{SQL: sql, DBID: dbid, Schema: schema}
	return call[api.TableData](ctx, c, http.MethodPost, "query", nil, body)
}

// Poll waits for a task. The server holds the request until the task
// finishes or its wait window passes, answering RETRY in the latter case.
func (c *Client) Poll(ctx context.Context, taskID string) api.Result[api.TableData] {
	return call[api.TableData](ctx, c, http.MethodGet, "query", url.Values{"taskid": {taskID}}, nil)
}

// StopQuery cancels a task.
func (c *Client) StopQuery(ctx context.Context, taskID string) api.Result[string] {
	return call[string](ctx, c, http.MethodDelete, "query", url.Values{"taskid": {taskID}}, nil)
}

// --- transport ---

func call[T any](ctx context.Context, c *Client, method, endpoint string, q url.Values, body any) api.Result[T] {
	status, raw, err := c.do(ctx, method, endpoint, q, body)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return api.Failure[T](api.MsgAborted)
		}
		c.log.With().Str("endpoint", endpoint).Err(err).Logger().Warn("request failed")
		return api.Failure[T](errs.Message(err))
	}

	res := api.Decode[T](raw)
	if status >= http.StatusBadRequest && res.Status == api.StatusOK {
		return api.Failure[T](fmt.Sprintf("%d %s", status, http.StatusText(status)))
	}
	return res
}

func (c *Client) do(ctx context.Context, method, endpoint string, q url.Values, body any) (int, []byte, error) {
	u := c.base.JoinPath(endpoint)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, errs.Wrap(errs.ErrKindInvalidInput, "encode request", err)
		}
		payload = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), payload)
	if err != nil {
		return 0, nil, errs.Wrap(errs.ErrKindInvalidInput, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, errs.FromContext(ctxErr)
		}
		return 0, nil, errs.Wrap(errs.ErrKindConnectionFailed, "server unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, errs.FromContext(ctxErr)
		}
		return 0, nil, errs.Wrap(errs.ErrKindConnectionFailed, "read response", err)
	}
	return resp.StatusCode, raw, nil
}

// leveled adapts the logger to retryablehttp.LeveledLogger.
type leveled struct {
	log *logger.Logger
}

func kv(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

func (l leveled) Error(msg string, keysAndValues ...any) {
	l.log.ErrorWith(msg, nil, kv(keysAndValues))
}

func (l leveled) Info(msg string, keysAndValues ...any) {
	l.log.DebugWith(msg, kv(keysAndValues))
}

func (l leveled) Debug(msg string, keysAndValues ...any) {
	l.log.DebugWith(msg, kv(keysAndValues))
}

func (l leveled) Warn(msg string, keysAndValues ...any) {
	l.log.WarnWith(msg, nil, kv(keysAndValues))
}
