package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/database"
	"github.com/koustreak/sqlexplorer/internal/errs"
	"github.com/koustreak/sqlexplorer/internal/logger"
)

// Reply texts.
const (
	MsgPassOK        = "set passwd ok"
	MsgPassCleared   = "delete pass ok"
	MsgCommentOK     = "set comment ok"
	MsgNoCommentSink = "can't set comment, please set comment store first!"
)

func (s *Server) reply(w http.ResponseWriter, env api.Envelope) {
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, api.ErrorEnvelope(msg))
}

// reqLog returns the request-scoped logger installed by accessLog.
func reqLog(r *http.Request) *logger.Logger {
	return logger.FromContext(r.Context())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}

// requireArgs returns the named query arguments, or reports the first
// missing one with 400.
func (s *Server) requireArgs(w http.ResponseWriter, r *http.Request, names ...string) ([]string, bool) {
	out := make([]string, len(names))
	q := r.URL.Query()
	for i, n := range names {
		v := q.Get(n)
		if v == "" {
			s.badRequest(w, fmt.Sprintf("missing argument %s", n))
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// --- connections ---

func (s *Server) connList(ctx context.Context) ([]api.Node, error) {
	nodes, err := s.reg.List()
	if err != nil {
		return nil, err
	}
	if s.notes != nil {
		nodes = s.notes.Overlay(ctx, nodes, api.CommentConn, "", "", "")
	}
	return nodes, nil
}

func (s *Server) listConns(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.connList(r.Context())
	if err != nil {
		s.reply(w, api.ErrorEnvelope(errs.Message(err)))
		return
	}
	s.reply(w, api.DataEnvelope(nodes))
}

func (s *Server) addConn(w http.ResponseWriter, r *http.Request) {
	var conn api.Conn
	if err := decodeBody(w, r, &conn); err != nil {
		s.badRequest(w, "invalid connection: "+err.Error())
		return
	}

	if err := s.reg.Add(conn); err != nil {
		reqLog(r).WarnWith("add connection failed", err, map[string]any{"dbid": conn.DBID})
		s.reply(w, api.ErrorEnvelope(errs.Message(err)))
		return
	}
	s.listConns(w, r)
}

func (s *Server) deleteConn(w http.ResponseWriter, r *http.Request) {
	args, ok := s.requireArgs(w, r, "dbid")
	if !ok {
		return
	}
	if err := s.reg.Delete(args[0]); err != nil {
		s.reply(w, api.ErrorEnvelope(errs.Message(err)))
		return
	}
	s.listConns(w, r)
}

// --- catalog ---

// checkPass answers NEED-PASS and returns false when dbid has no
// credentials yet. Lookup failures are reported with failMsg.
func (s *Server) checkPass(w http.ResponseWriter, r *http.Request, dbid, failMsg string) bool {
	ok, user, err := s.reg.CheckPass(dbid)
	if err != nil {
		reqLog(r).WarnWith("password check failed", err, map[string]any{"dbid": dbid})
		s.reply(w, api.ErrorEnvelope(failMsg))
		return false
	}
	if !ok {
		s.reply(w, api.NeedPassEnvelope(dbid, user))
		return false
	}
	return true
}

func objectNodes(typ api.NodeType, objs []database.Object) []api.Node {
	nodes := make([]api.Node, len(objs))
	for i, o := range objs {
		nodes[i] = api.Node{Type: typ, Name: o.Name, Desc: o.Comment, Subtype: api.Text(o.Kind)}
	}
	return nodes
}

func (s *Server) listDBTables(w http.ResponseWriter, r *http.Request) {
	args, ok := s.requireArgs(w, r, "dbid")
	if !ok {
		return
	}
	dbid, schema := args[0], r.URL.Query().Get("db")
	failMsg := "can't get db/table list of " + dbid

	if !s.checkPass(w, r, dbid, failMsg) {
		return
	}

	ctx := r.Context()
	nodes, err := s.dbTables(ctx, dbid, schema)
	if err != nil {
		reqLog(r).WarnWith("catalog listing failed", err, map[string]any{"dbid": dbid, "schema": schema})
		s.reply(w, api.ErrorEnvelope(failMsg))
		return
	}
	s.reply(w, api.DataEnvelope(nodes))
}

func (s *Server) dbTables(ctx context.Context, dbid, schema string) ([]api.Node, error) {
	db, err := s.reg.Open(ctx, dbid, "")
	if err != nil {
		return nil, err
	}

	if db.HasSchemas() && schema == "" {
		objs, err := db.ListSchemas(ctx)
		if err != nil {
			return nil, err
		}
		nodes := objectNodes(api.NodeDB, objs)
		if s.notes != nil {
			nodes = s.notes.Overlay(ctx, nodes, api.CommentSchema, dbid, "", "")
		}
		return nodes, nil
	}

	objs, err := db.ListTables(ctx, schema)
	if err != nil {
		return nil, err
	}
	nodes := objectNodes(api.NodeTable, objs)
	if s.notes != nil {
		nodes = s.notes.Overlay(ctx, nodes, api.CommentTable, dbid, schema, "")
	}
	return nodes, nil
}

func (s *Server) listColumns(w http.ResponseWriter, r *http.Request) {
	args, ok := s.requireArgs(w, r, "dbid", "tbl")
	if !ok {
		return
	}
	dbid, table, schema := args[0], args[1], r.URL.Query().Get("db")

	if !s.checkPass(w, r, dbid, "can't get table columns of "+table) {
		return
	}

	ctx := r.Context()
	db, err := s.reg.Open(ctx, dbid, "")
	if err != nil {
		s.reply(w, api.ErrorEnvelope(fmt.Sprintf("can't get table columns of %s, reason: %s", table, errs.Message(err))))
		return
	}
	objs, err := db.ListColumns(ctx, schema, table)
	if err != nil {
		s.reply(w, api.ErrorEnvelope(fmt.Sprintf("can't get table columns of %s, reason: %s", table, errs.Message(err))))
		return
	}

	nodes := objectNodes(api.NodeColumn, objs)
	if s.notes != nil {
		nodes = s.notes.Overlay(ctx, nodes, api.CommentColumn, dbid, schema, table)
	}
	s.reply(w, api.DataEnvelope(nodes))
}

// --- passwords ---

func (s *Server) setPass(w http.ResponseWriter, r *http.Request) {
	var p api.PassInfo
	if err := decodeBody(w, r, &p); err != nil || p.DBID == "" {
		s.badRequest(w, "invalid password request")
		return
	}

	if err := s.reg.SetPass(r.Context(), p.DBID, p.User, p.Pass); err != nil {
		s.reply(w, api.ErrorEnvelope(errs.Message(err)))
		return
	}
	s.reply(w, api.DataEnvelope(MsgPassOK))
}

func (s *Server) clearPass(w http.ResponseWriter, r *http.Request) {
	s.reg.ClearPass(r.URL.Query().Get("dbid"))
	s.reply(w, api.DataEnvelope(MsgPassCleared))
}

// --- queries ---

type queryRequest struct {
	SQL    string `json:"sql"`
	DBID   string `json:"dbid"`
	Schema string `json:"db"`
}

func (s *Server) submitQuery(w http.ResponseWriter, r *http.Request) {
	var q queryRequest
	if err := decodeBody(w, r, &q); err != nil || q.DBID == "" {
		s.badRequest(w, "invalid query request")
		return
	}

	ok, user, err := s.reg.CheckPass(q.DBID)
	if err != nil {
		s.reply(w, api.ErrorEnvelope(errs.Message(err)))
		return
	}
	if !ok {
		s.reply(w, api.NeedPassEnvelope(q.DBID, user))
		return
	}

	id := s.tasks.Submit(func(ctx context.Context) (*database.Result, error) {
		db, err := s.reg.Open(ctx, q.DBID, q.Schema)
		if err != nil {
			return nil, err
		}
		rows, err := db.Query(ctx, q.SQL)
		if err != nil {
			return nil, err
		}
		return database.ScanTable(rows)
	})

	reqLog(r).DebugWith("query submitted", map[string]any{"dbid": q.DBID, "task_id": id})
	s.reply(w, api.RetryEnvelope(id))
}

func (s *Server) pollQuery(w http.ResponseWriter, r *http.Request) {
	args, ok := s.requireArgs(w, r, "taskid")
	if !ok {
		return
	}
	id := args[0]

	res, done, err := s.tasks.Wait(r.Context(), id, s.cfg.PollWait)
	switch {
	case r.Context().Err() != nil:
		// client gone; the task stays collectable
		return
	case err != nil:
		s.reply(w, api.ErrorEnvelope(errs.Message(err)))
	case !done:
		s.reply(w, api.RetryEnvelope(id))
	default:
		s.reply(w, api.DataEnvelope(api.TableData{Columns: res.Columns, Data: res.Rows}))
	}
}

func (s *Server) cancelQuery(w http.ResponseWriter, r *http.Request) {
	args, ok := s.requireArgs(w, r, "taskid")
	if !ok {
		return
	}
	s.tasks.Cancel(args[0])
	s.reply(w, api.Envelope{})
}

// --- comments ---

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	var c api.Comment
	if err := decodeBody(w, r, &c); err != nil {
		s.badRequest(w, "invalid comment: "+err.Error())
		return
	}
	if s.notes == nil {
		s.reply(w, api.ErrorEnvelope(MsgNoCommentSink))
		return
	}

	if err := s.notes.Add(r.Context(), c); err != nil {
		s.reply(w, api.ErrorEnvelope(errs.Message(err)))
		return
	}
	s.reply(w, api.DataEnvelope(MsgCommentOK))
}
