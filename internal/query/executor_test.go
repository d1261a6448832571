package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/signal"
)

type fakeRelay struct {
	conns       []string
	needPasswd  signal.Signal[api.PassInfo]
	connChanged signal.Signal[string]
}

func (r *fakeRelay) Conns() []string                          { return r.conns }
func (r *fakeRelay) NeedPasswd() *signal.Signal[api.PassInfo] { return &r.needPasswd }
func (r *fakeRelay) ConnChanged() *signal.Signal[string]      { return &r.connChanged }

// scriptBackend answers Query and Poll from a script of results. A nil
// entry blocks until the context is cancelled.
type scriptBackend struct {
	mu      sync.Mutex
	script  []*api.Result[api.TableData]
	queries int
	polls   []string
	stops   chan string
	entered chan struct{}
}

func newScript(results ...*api.Result[api.TableData]) *scriptBackend {
	return &scriptBackend{
		script:  results,
		stops:   make(chan string, 4),
		entered: make(chan struct{}, 16),
	}
}

func (b *scriptBackend) next(ctx context.Context) api.Result[api.TableData] {
	b.mu.Lock()
	var r *api.Result[api.TableData]
	if len(b.script) > 0 {
		r = b.script[0]
		b.script = b.script[1:]
	}
	b.mu.Unlock()

	b.entered <- struct{}{}
	if r == nil {
		<-ctx.Done()
		return api.Failure[api.TableData](MsgAborted)
	}
	return *r
}

func (b *scriptBackend) Query(ctx context.Context, sql, dbid, schema string) api.Result[api.TableData] {
	b.mu.Lock()
	b.queries++
	b.mu.Unlock()
	return b.next(ctx)
}

func (b *scriptBackend) Poll(ctx context.Context, taskID string) api.Result[api.TableData] {
	b.mu.Lock()
	b.polls = append(b.polls, taskID)
	b.mu.Unlock()
	return b.next(ctx)
}

func (b *scriptBackend) StopQuery(_ context.Context, taskID string) api.Result[string] {
	b.stops <- taskID
	return api.Success("")
}

func (b *scriptBackend) calls() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queries, len(b.polls)
}

func ptr(r api.Result[api.TableData]) *api.Result[api.TableData] { return &r }

func rows() api.Result[api.TableData] {
	return api.Success(api.TableData{Columns: []string{"n"}, Data: [][]any{{1}}})
}

type recorder struct {
	mu       sync.Mutex
	begins   int
	finishes []Status
	running  []bool
}

func record(e *Executor) *recorder {
	r := &recorder{}
	e.QueryBegin().Connect(func(struct{}) {
		r.mu.Lock()
		r.begins++
		r.running = append(r.running, e.Running())
		r.mu.Unlock()
	})
	e.QueryFinish().Connect(func(s Status) {
		r.mu.Lock()
		r.finishes = append(r.finishes, s)
		r.running = append(r.running, e.Running())
		r.mu.Unlock()
	})
	return r
}

func TestQuery_NoConnection(t *testing.T) {
	be := newScript()
	e := New(be, &fakeRelay{}, Options{})
	rec := record(e)

	res := e.Query(context.Background(), "select 1")

	assert.Equal(t, api.StatusErr, res.Status)
	q, p := be.calls()
	assert.Zero(t, q+p)
	assert.Zero(t, rec.begins)
	require.Len(t, rec.finishes, 1)
	assert.Equal(t, Status{Status: api.StatusErr, ErrMsg: MsgNoConnection}, rec.finishes[0])
}

func TestQuery_RetryThenOK(t *testing.T) {
	be := newScript(
		ptr(api.Retry[api.TableData]("t1")),
		ptr(api.Retry[api.TableData]("t1")),
		ptr(rows()),
	)
	e := New(be, &fakeRelay{}, Options{DBID: "pg1"})
	rec := record(e)

	res := e.Query(context.Background(), "select 1")

	require.True(t, res.OK())
	assert.Equal(t, []string{"n"}, res.Data.Columns)
	q, p := be.calls()
	assert.Equal(t, 1, q)
	assert.Equal(t, 2, p)
	assert.Equal(t, []string{"t1", "t1"}, be.polls)

	assert.Equal(t, 1, rec.begins)
	require.Len(t, rec.finishes, 1)
	assert.Equal(t, api.StatusOK, rec.finishes[0].Status)
	// running during begin, idle by finish
	assert.Equal(t, []bool{true, false}, rec.running)
	assert.False(t, e.Running())
}

func TestQuery_ErrorFinishes(t *testing.T) {
	be := newScript(ptr(api.Failure[api.TableData]("syntax error")))
	e := New(be, &fakeRelay{}, Options{DBID: "pg1"})
	rec := record(e)

	res := e.Query(context.Background(), "selec 1")

	assert.Equal(t, api.StatusErr, res.Status)
	require.Len(t, rec.finishes, 1)
	assert.Equal(t, Status{Status: api.StatusErr, ErrMsg: "syntax error"}, rec.finishes[0])
}

func TestQuery_NeedPassRelayed(t *testing.T) {
	be := newScript(ptr(api.NeedPass[api.TableData](api.PassInfo{DBID: "pg1", User: "alice"})))
	relay := &fakeRelay{}
	e := New(be, relay, Options{DBID: "pg1"})
	rec := record(e)

	var challenges []api.PassInfo
	relay.NeedPasswd().Connect(func(p api.PassInfo) { challenges = append(challenges, p) })

	res := e.Query(context.Background(), "select 1")

	assert.Equal(t, api.StatusNeedPass, res.Status)
	require.Len(t, challenges, 1)
	assert.Equal(t, "alice", challenges[0].User)
	require.Len(t, rec.finishes, 1)
	assert.Equal(t, Status{Status: api.StatusNeedPass, ErrMsg: MsgNeedPass}, rec.finishes[0])
	assert.False(t, e.Running())
}

func TestQuery_NeedPassDuringPoll(t *testing.T) {
	be := newScript(
		ptr(api.Retry[api.TableData]("t1")),
		ptr(api.NeedPass[api.TableData](api.PassInfo{DBID: "pg1"})),
	)
	relay := &fakeRelay{}
	e := New(be, relay, Options{DBID: "pg1"})

	fired := 0
	relay.NeedPasswd().Connect(func(api.PassInfo) { fired++ })

	assert.Equal(t, api.StatusNeedPass, e.Query(context.Background(), "x").Status)
	assert.Equal(t, 1, fired)
}

func TestQuery_NeedPassFillsDBID(t *testing.T) {
	be := newScript(ptr(api.NeedPass[api.TableData](api.PassInfo{User: "alice"})))
	relay := &fakeRelay{}
	e := New(be, relay, Options{DBID: "pg1"})

	var challenges []api.PassInfo
	relay.NeedPasswd().Connect(func(p api.PassInfo) { challenges = append(challenges, p) })

	e.Query(context.Background(), "select 1")

	assert.Equal(t, []api.PassInfo{{DBID: "pg1", User: "alice"}}, challenges)
}

func TestQuery_SingleFlight(t *testing.T) {
	be := newScript(nil)
	e := New(be, &fakeRelay{}, Options{DBID: "pg1"})
	rec := record(e)

	done := make(chan api.Result[api.TableData])
	go func() { done <- e.Query(context.Background(), "select sleep(10)") }()
	<-be.entered

	second := e.Query(context.Background(), "select 2")
	assert.Equal(t, api.Result[api.TableData]{Status: api.StatusErr, Message: MsgRunning}, second)
	q, _ := be.calls()
	assert.Equal(t, 1, q)

	e.Stop()
	first := <-done
	assert.Equal(t, api.StatusErr, first.Status)
	assert.Equal(t, MsgAborted, first.Message)

	assert.Equal(t, 1, rec.begins)
	assert.Len(t, rec.finishes, 1)
}

func TestStop_SendsStopForTask(t *testing.T) {
	be := newScript(ptr(api.Retry[api.TableData]("task-9")), nil)
	e := New(be, &fakeRelay{}, Options{DBID: "pg1"})
	rec := record(e)

	done := make(chan api.Result[api.TableData])
	go func() { done <- e.Query(context.Background(), "select 1") }()
	<-be.entered
	<-be.entered // blocked in Poll

	e.Stop()
	res := <-done

	assert.Equal(t, api.StatusErr, res.Status)
	select {
	case id := <-be.stops:
		assert.Equal(t, "task-9", id)
	case <-time.After(2 * time.Second):
		t.Fatal("stop was not sent")
	}
	require.Len(t, rec.finishes, 1)
	assert.Equal(t, api.StatusErr, rec.finishes[0].Status)
}

func TestStop_IdleIsNoop(t *testing.T) {
	be := newScript()
	e := New(be, &fakeRelay{}, Options{DBID: "pg1"})
	rec := record(e)

	e.Stop()

	assert.Empty(t, be.stops)
	assert.Empty(t, rec.finishes)
}

func TestStop_DuringPause(t *testing.T) {
	be := newScript(ptr(api.Retry[api.TableData]("t1")))
	e := New(be, &fakeRelay{}, Options{
		DBID:     "pg1",
		Interval: EscalatingInterval(time.Hour, time.Hour, time.Second),
	})

	done := make(chan api.Result[api.TableData])
	go func() { done <- e.Query(context.Background(), "x") }()
	<-be.entered

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.taskID == "t1"
	}, time.Second, time.Millisecond)
	e.Stop()

	res := <-done
	assert.Equal(t, MsgAborted, res.Message)
	_, polls := be.calls()
	assert.Zero(t, polls)
}

func TestSetDBID(t *testing.T) {
	relay := &fakeRelay{conns: []string{"pg1", "lite"}}
	e := New(newScript(), relay, Options{DBID: "pg1"})

	var changed []string
	relay.ConnChanged().Connect(func(id string) { changed = append(changed, id) })

	assert.True(t, e.SetDBID("lite"))
	assert.Equal(t, "lite", e.DBID())
	assert.Equal(t, []string{"lite"}, changed)
	assert.Equal(t, []string{"pg1", "lite"}, e.Conns())
}

func TestSetDBID_ReadOnly(t *testing.T) {
	relay := &fakeRelay{}
	e := New(newScript(), relay, Options{DBID: "pg1", ConnReadOnly: true, Schema: "public"})

	changed := 0
	relay.ConnChanged().Connect(func(string) { changed++ })

	assert.False(t, e.SetDBID("other"))
	assert.Equal(t, "pg1", e.DBID())
	assert.True(t, e.IsConnReadOnly())
	assert.Equal(t, "public", e.Schema())
	assert.Zero(t, changed)
}

func TestSetDBID_WhileRunning(t *testing.T) {
	be := newScript(nil)
	e := New(be, &fakeRelay{}, Options{DBID: "pg1"})

	done := make(chan struct{})
	go func() {
		e.Query(context.Background(), "x")
		close(done)
	}()
	<-be.entered

	assert.False(t, e.SetDBID("other"))
	e.Stop()
	<-done
	assert.True(t, e.SetDBID("other"))
}

func TestEscalatingInterval(t *testing.T) {
	f := EscalatingInterval(107*time.Millisecond, time.Second, 10*time.Second)
	assert.Equal(t, 107*time.Millisecond, f(0))
	assert.Equal(t, 107*time.Millisecond, f(9*time.Second))
	assert.Equal(t, time.Second, f(10*time.Second))
}

// stopOnSubmit stops the executor while the submit call is still in
// flight, before the executor has seen the task id.
type stopOnSubmit struct {
	*scriptBackend
	e *Executor
}

func (b *stopOnSubmit) Query(ctx context.Context, sql, dbid, schema string) api.Result[api.TableData] {
	b.e.Stop()
	return api.Retry[api.TableData]("task-late")
}

func TestStop_BeforeTaskKnown(t *testing.T) {
	be := &stopOnSubmit{scriptBackend: newScript()}
	e := New(be, &fakeRelay{}, Options{DBID: "pg1"})
	be.e = e
	rec := record(e)

	res := e.Query(context.Background(), "select 1")

	assert.Equal(t, MsgAborted, res.Message)
	select {
	case id := <-be.stops:
		assert.Equal(t, "task-late", id)
	case <-time.After(2 * time.Second):
		t.Fatal("stop was not sent")
	}
	assert.Empty(t, be.polls)
	require.Len(t, rec.finishes, 1)
	assert.Equal(t, MsgAborted, rec.finishes[0].ErrMsg)
}
