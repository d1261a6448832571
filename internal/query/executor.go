// Package query runs SQL statements for one editor against the explorer
// backend: submit, follow the task until it finishes, and stop it on
// request. At most one statement runs per Executor.
package query

import (
	"context"
	"sync"
	"time"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/logger"
	"github.com/koustreak/sqlexplorer/internal/signal"
)

// Messages reported on QueryFinish and in results.
const (
	MsgNoConnection = "please select the db connection first!"
	MsgNeedPass     = "please input passwd and try again"
	MsgRunning      = "a query is already running"
	MsgAborted      = api.MsgAborted
)

const stopTimeout = 10 * time.Second

// Backend is the query side of the explorer API.
type Backend interface {
	Query(ctx context.Context, sql, dbid, schema string) api.Result[api.TableData]
	Poll(ctx context.Context, taskID string) api.Result[api.TableData]
	StopQuery(ctx context.Context, taskID string) api.Result[string]
}

// Relay is what the executor needs from the shared catalog cache.
type Relay interface {
	Conns() []string
	NeedPasswd() *signal.Signal[api.PassInfo]
	ConnChanged() *signal.Signal[string]
}

// Status is reported on QueryFinish.
type Status struct {
	Status api.Status
	ErrMsg string
}

// IntervalFunc returns the pause before the next poll given the time
// spent so far. Zero polls immediately.
type IntervalFunc func(elapsed time.Duration) time.Duration

// EscalatingInterval waits fast until window has passed, then slow.
func EscalatingInterval(fast, slow, window time.Duration) IntervalFunc {
	return func(elapsed time.Duration) time.Duration {
		if elapsed < window {
			return fast
		}
		return slow
	}
}

// Options configures an Executor.
type Options struct {
	DBID         string
	Schema       string
	ConnReadOnly bool
	Interval     IntervalFunc
	Logger       *logger.Logger
}

// Executor runs one statement at a time.
type Executor struct {
	backend  Backend
	relay    Relay
	schema   string
	readOnly bool
	interval IntervalFunc
	log      *logger.Logger

	mu      sync.Mutex
	dbid    string
	running bool
	cancel  context.CancelFunc
	taskID  string
	stopped bool

	begin  signal.Signal[struct{}]
	finish signal.Signal[Status]
}

// New creates an idle executor.
func New(backend Backend, relay Relay, opts Options) *Executor {
	return &Executor{
		backend:  backend,
		relay:    relay,
		dbid:     opts.DBID,
		schema:   opts.Schema,
		readOnly: opts.ConnReadOnly,
		interval: opts.Interval,
		log:      logger.OrNop(opts.Logger).Component("query"),
	}
}

// QueryBegin fires when a statement is submitted.
func (e *Executor) QueryBegin() *signal.Signal[struct{}] { return &e.begin }

// QueryFinish fires once per submitted statement, after the executor is
// idle again.
func (e *Executor) QueryFinish() *signal.Signal[Status] { return &e.finish }

// Query runs sql on the bound connection and blocks until it finishes,
// fails, needs a password or is stopped. A call made while another
// statement runs is refused without contacting the backend.
func (e *Executor) Query(ctx context.Context, sql string) api.Result[api.TableData] {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return api.Failure[api.TableData](MsgRunning)
	}
	if e.dbid == "" {
		e.mu.Unlock()
		e.finish.Emit(Status{Status: api.StatusErr, ErrMsg: MsgNoConnection})
		return api.Failure[api.TableData](MsgNoConnection)
	}
	ctx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.taskID = ""
	e.stopped = false
	dbid := e.dbid
	e.mu.Unlock()
	defer cancel()

	e.begin.Emit(struct{}{})
	log := e.log.With().Str("dbid", dbid).Logger()
	log.Debug("query submitted")

	started := time.Now()
	res := e.backend.Query(ctx, sql, dbid, e.schema)
	for res.Status == api.StatusRetry {
		e.setTask(res.TaskID)
		if err := e.pause(ctx, time.Since(started)); err != nil {
			res = api.Failure[api.TableData](MsgAborted)
			break
		}
		res = e.backend.Poll(ctx, res.TaskID)
	}
	if res.Status == api.StatusErr && ctx.Err() != nil {
		res.Message = MsgAborted
	}

	st := Status{Status: res.Status, ErrMsg: res.Message}
	if res.Status == api.StatusNeedPass {
		pass := api.PassInfo{DBID: dbid}
		if res.Pass != nil {
			pass = *res.Pass
		}
		if pass.DBID == "" {
			pass.DBID = dbid
		}
		e.relay.NeedPasswd().Emit(pass)
		st.ErrMsg = MsgNeedPass
	}

	e.mu.Lock()
	e.running = false
	e.cancel = nil
	e.taskID = ""
	e.mu.Unlock()

	log.With().
		Str("status", string(st.Status)).
		Str("elapsed", time.Since(started).String()).
		Logger().
		Debug("query finished")

	e.finish.Emit(st)
	return res
}

// setTask records the server task id. A Stop that arrived before the id
// was known is forwarded to the server here.
func (e *Executor) setTask(id string) {
	e.mu.Lock()
	prev := e.taskID
	e.taskID = id
	stopped := e.stopped
	e.mu.Unlock()

	if stopped && id != prev {
		e.stopTask(id)
	}
}

func (e *Executor) pause(ctx context.Context, elapsed time.Duration) error {
	var wait time.Duration
	if e.interval != nil {
		wait = e.interval(elapsed)
	}
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Stop aborts the running statement: the in-flight call is cancelled and
// the server task, if one was started, is told to stop without waiting
// for the answer. Stop does nothing when idle.
func (e *Executor) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel, taskID := e.cancel, e.taskID
	e.stopped = true
	e.mu.Unlock()

	cancel()
	if taskID != "" {
		e.stopTask(taskID)
	}
}

// stopTask tells the server to drop taskID without waiting for the answer.
func (e *Executor) stopTask(taskID string) {
	go func() {
		ctx, done := context.WithTimeout(context.Background(), stopTimeout)
		defer done()
		if res := e.backend.StopQuery(ctx, taskID); !res.OK() {
			e.log.With().Str("task", taskID).Logger().Warnf("stop query: %s", res.Message)
		}
	}()
}

// Running reports whether a statement is in flight.
func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// DBID returns the bound connection id.
func (e *Executor) DBID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dbid
}

// SetDBID binds another connection. It is refused for read-only
// executors and while a statement runs.
func (e *Executor) SetDBID(dbid string) bool {
	e.mu.Lock()
	if e.readOnly || e.running {
		e.mu.Unlock()
		return false
	}
	e.dbid = dbid
	e.mu.Unlock()

	e.relay.ConnChanged().Emit(dbid)
	return true
}

// Schema returns the schema statements run in.
func (e *Executor) Schema() string { return e.schema }

// IsConnReadOnly reports whether the connection binding is fixed.
func (e *Executor) IsConnReadOnly() bool { return e.readOnly }

// Conns lists the connections known to the catalog cache.
func (e *Executor) Conns() []string { return e.relay.Conns() }
