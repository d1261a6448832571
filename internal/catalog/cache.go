// Package catalog keeps the lazily expanded tree of connections, schemas,
// tables and columns that a database browser displays.
//
// Nodes are fetched on demand by LoadPath and read back with GetList.
// Each node's children are either unloaded, loaded or invalidated; which
// backend call fills a node depends only on the node's own type, so
// connections without a schema level (sqlite) hold tables directly.
package catalog

import (
	"context"
	"strconv"
	"sync"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/errs"
	"github.com/koustreak/sqlexplorer/internal/logger"
	"github.com/koustreak/sqlexplorer/internal/signal"
)

// Backend is the catalog side of the explorer API.
type Backend interface {
	ListConns(ctx context.Context) api.Result[[]api.Node]
	ListDBTables(ctx context.Context, dbid, schema string) api.Result[[]api.Node]
	ListColumns(ctx context.Context, dbid, schema, table string) api.Result[[]api.Node]
	EditConn(ctx context.Context, conn api.Conn) api.Result[[]api.Node]
	DeleteConn(ctx context.Context, dbid string) api.Result[[]api.Node]
	SetPass(ctx context.Context, pass api.PassInfo) api.Result[string]
	ClearPass(ctx context.Context, dbid string) api.Result[string]
	AddComment(ctx context.Context, c api.Comment) api.Result[string]
}

// Outcome is the result of LoadPath.
type Outcome struct {
	Status  api.Status
	Message string
}

// Loaded reports whether the whole path was walked.
func (o Outcome) Loaded() bool { return o.Status == api.StatusOK }

// Seed is a preset subtree. A seed with no children is unloaded unless
// Loaded is set.
type Seed struct {
	api.Node
	Children []Seed
	Loaded   bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Cache) { c.log = l.Component("catalog") }
}

// WithSeed preloads the tree. The root counts as loaded.
func WithSeed(seeds ...Seed) Option {
	return func(c *Cache) { c.tree.seed(rootID, seeds) }
}

// Cache is the catalog tree plus the notifications browser views listen to.
type Cache struct {
	backend Backend
	log     *logger.Logger

	mu   sync.Mutex
	tree *tree

	needPasswd     signal.Signal[api.PassInfo]
	passwdSettled  signal.Signal[string]
	connChanged    signal.Signal[string]
	createConn     signal.Signal[api.Conn]
	commentChanged signal.Signal[struct{}]
}

// New creates an empty cache on top of backend.
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		log:     logger.Nop(),
		tree:    newTree(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NeedPasswd fires when the backend asks for a connection password.
func (c *Cache) NeedPasswd() *signal.Signal[api.PassInfo] { return &c.needPasswd }

// PasswdSettled fires with the connection id once a password is accepted.
func (c *Cache) PasswdSettled() *signal.Signal[string] { return &c.passwdSettled }

// ConnChanged fires with a connection id after it is added or removed, or
// when a query editor switches to it.
func (c *Cache) ConnChanged() *signal.Signal[string] { return &c.connChanged }

// CreateConn fires with the rejected record when creating a connection fails.
func (c *Cache) CreateConn() *signal.Signal[api.Conn] { return &c.createConn }

// CommentChanged fires after a comment is stored.
func (c *Cache) CommentChanged() *signal.Signal[struct{}] { return &c.commentChanged }

// LoadPath makes sure the root and every node along path have their
// children loaded, fetching the missing levels one at a time. It stops at
// the first failure: a missing segment or an ERR response yields ERR, a
// password request yields NEED-PASS after announcing it on NeedPasswd.
func (c *Cache) LoadPath(ctx context.Context, path Path) Outcome {
	c.mu.Lock()
	rootState := c.tree.nodes[rootID].state
	c.mu.Unlock()

	if rootState != loaded {
		res := c.backend.ListConns(ctx)
		if out, ok := c.apply(rootID, scope{}, res); !ok {
			return out
		}
	}

	var sc scope
	cur := rootID
	for _, seg := range path {
		c.mu.Lock()
		id, ok := c.tree.child(cur, seg)
		if !ok {
			c.mu.Unlock()
			return Outcome{Status: api.StatusErr, Message: "no such node: " + path.String()}
		}
		n := c.tree.nodes[id]
		item, state := n.item, n.state
		c.mu.Unlock()

		sc = sc.enter(item)
		if state != loaded {
			res := c.fetch(ctx, item.Type, sc)
			if out, ok := c.apply(id, sc, res); !ok {
				return out
			}
		}
		cur = id
	}
	return Outcome{Status: api.StatusOK}
}

func (c *Cache) fetch(ctx context.Context, typ api.NodeType, sc scope) api.Result[[]api.Node] {
	c.log.With().
		Str("type", string(typ)).
		Str("dbid", sc.dbid).
		Str("schema", sc.schema).
		Str("table", sc.table).
		Logger().
		Debug("fetch children")

	switch typ {
	case api.NodeConn:
		return c.backend.ListDBTables(ctx, sc.dbid, "")
	case api.NodeDB:
		return c.backend.ListDBTables(ctx, sc.dbid, sc.schema)
	case api.NodeTable:
		return c.backend.ListColumns(ctx, sc.dbid, sc.schema, sc.table)
	case api.NodeColumn:
		return api.Success([]api.Node{})
	default:
		return api.Failure[[]api.Node]("unknown node type " + string(typ))
	}
}

// apply stores a fetch result for id. The second return is false when the
// walk must stop.
func (c *Cache) apply(id nodeID, sc scope, res api.Result[[]api.Node]) (Outcome, bool) {
	c.mu.Lock()
	if _, alive := c.tree.get(id); !alive {
		c.mu.Unlock()
		return Outcome{Status: api.StatusErr, Message: "node removed while loading"}, false
	}

	switch res.Status {
	case api.StatusOK:
		c.tree.setChildren(id, res.Data)
		c.mu.Unlock()
		return Outcome{Status: api.StatusOK}, true

	case api.StatusNeedPass:
		c.tree.invalidate(id)
		c.mu.Unlock()
		pass := api.PassInfo{DBID: sc.dbid}
		if res.Pass != nil {
			pass = *res.Pass
			if pass.DBID == "" {
				pass.DBID = sc.dbid
			}
		}
		c.needPasswd.Emit(pass)
		return Outcome{Status: api.StatusNeedPass}, false

	default:
		c.tree.invalidate(id)
		c.mu.Unlock()
		msg := res.Message
		if res.Status == api.StatusRetry {
			msg = "unexpected RETRY while loading catalog"
		}
		c.log.With().Str("dbid", sc.dbid).Logger().Warnf("catalog load failed: %s", msg)
		return Outcome{Status: api.StatusErr, Message: msg}, false
	}
}

// GetList returns the children of the node at path, or an empty list
// when the node is missing or not loaded.
func (c *Cache) GetList(path Path) []api.Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.tree.resolve(path)
	if !ok {
		return []api.Node{}
	}
	return c.tree.list(id)
}

// Refresh drops the children of the node at path so the next LoadPath
// fetches them again. The empty path refreshes the whole tree.
func (c *Cache) Refresh(path Path) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.tree.resolve(path)
	if !ok {
		return
	}
	if id != rootID && c.tree.nodes[id].state != loaded {
		return
	}
	c.tree.invalidate(id)
}

// Conns returns the names of the top-level connections.
func (c *Cache) Conns() []string {
	items := c.GetList(nil)
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}
	return names
}

// AddConn creates a connection on the backend and appends it to the tree.
// On failure the record is announced on CreateConn with ErrMsg set.
func (c *Cache) AddConn(ctx context.Context, conn api.Conn) error {
	res := c.backend.EditConn(ctx, conn)
	if !res.OK() {
		msg := failureMessage(res.Status, res.Message)
		conn.ErrMsg = msg
		c.createConn.Emit(conn)
		return errs.New(errs.ErrKindInvalidInput, msg)
	}

	c.mu.Lock()
	root := c.tree.nodes[rootID]
	if root.state == loaded {
		seg := Segment{Type: api.NodeConn, Name: conn.DBID}
		if _, exists := c.tree.child(rootID, seg); !exists {
			id := c.tree.alloc(api.Node{
				Type:    api.NodeConn,
				Name:    conn.DBID,
				Desc:    conn.Name,
				Subtype: api.Text(strconv.Itoa(int(conn.DBType))),
			})
			root.children = append(root.children, id)
		}
	}
	c.mu.Unlock()

	c.connChanged.Emit(conn.DBID)
	return nil
}

// DelConn deletes a connection on the backend and removes it from the tree.
func (c *Cache) DelConn(ctx context.Context, dbid string) error {
	res := c.backend.DeleteConn(ctx, dbid)
	if !res.OK() {
		return errs.New(errs.ErrKindQueryFailed, failureMessage(res.Status, res.Message))
	}

	c.mu.Lock()
	c.tree.removeChild(rootID, Segment{Type: api.NodeConn, Name: dbid})
	c.mu.Unlock()

	c.connChanged.Emit(dbid)
	return nil
}

// SetPass submits a password. A rejected password is announced again on
// NeedPasswd so the prompt can reappear.
func (c *Cache) SetPass(ctx context.Context, pass api.PassInfo) error {
	res := c.backend.SetPass(ctx, pass)
	if !res.OK() {
		c.needPasswd.Emit(api.PassInfo{DBID: pass.DBID, User: pass.User})
		return errs.New(errs.ErrKindPermissionDenied, failureMessage(res.Status, res.Message))
	}
	c.passwdSettled.Emit(pass.DBID)
	return nil
}

// ClearPass forgets the stored password of dbid, or of every connection
// when dbid is empty.
func (c *Cache) ClearPass(ctx context.Context, dbid string) error {
	res := c.backend.ClearPass(ctx, dbid)
	if !res.OK() {
		return errs.New(errs.ErrKindQueryFailed, failureMessage(res.Status, res.Message))
	}
	return nil
}

// AddComment stores a comment. The tree is not patched: listeners of
// CommentChanged reload the affected level to see it.
func (c *Cache) AddComment(ctx context.Context, cm api.Comment) error {
	res := c.backend.AddComment(ctx, cm)
	if !res.OK() {
		return errs.New(errs.ErrKindQueryFailed, failureMessage(res.Status, res.Message))
	}
	c.commentChanged.Emit(struct{}{})
	return nil
}

func failureMessage(status api.Status, msg string) string {
	if msg != "" {
		return msg
	}
	return string(status)
}
