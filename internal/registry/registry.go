// Package registry keeps the set of database connections the explorer can
// browse, the temporary passwords entered for them and a pool per
// (connection, schema) pair.
//
// Connections come from two places. Fixed connections are read from
// environment variables named <EnvPrefix><ID> whose value is a base64
// encoded JSON api.Conn; they cannot be edited. User connections live in a
// YAML file and are added or removed through the API.
package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/database"
	"github.com/koustreak/sqlexplorer/internal/database/mysql"
	"github.com/koustreak/sqlexplorer/internal/database/postgres"
	"github.com/koustreak/sqlexplorer/internal/database/sqlite"
	"github.com/koustreak/sqlexplorer/internal/errs"
	"github.com/koustreak/sqlexplorer/internal/logger"
)

// Validation messages returned by Add.
const (
	MsgNoType       = "must set db type."
	MsgNoHost       = "must set ip addr."
	MsgPostgresName = "postgres must set database name to connect"
	MsgSQLiteName   = "sqlite must set db name ( it's a database file )"
	MsgBadName      = "db name can only contain letters, numbers, and underscores."
	MsgBadPass      = "user or passwd error"
	MsgNoConn       = "conn not exists or error"
	MsgUnsupported  = "unsupported database type"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

var defaultPorts = map[api.ConnType]string{
	api.ConnMySQL:        "3306",
	api.ConnPostgres:     "5432",
	api.ConnOracle:       "1521",
	api.ConnHiveLDAP:     "10000",
	api.ConnHiveKerberos: "10000",
}

// Config locates the registry file and the sqlite data directory.
type Config struct {
	// File is the YAML file holding user connections.
	File string

	// DataDir is where relative sqlite database names are resolved.
	DataDir string

	// EnvPrefix marks environment variables that define fixed
	// connections. Defaults to "DB_".
	EnvPrefix string
}

// DefaultConfig places everything under ~/.sqlexplorer.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	root := filepath.Join(home, ".sqlexplorer")
	return &Config{
		File:      filepath.Join(root, "connections.yaml"),
		DataDir:   root,
		EnvPrefix: "DB_",
	}
}

// Opener opens a database from a resolved driver configuration.
type Opener func(ctx context.Context, cfg *database.Config) (database.DB, error)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = logger.OrNop(l).Component("registry") }
}

// WithEnviron replaces os.Environ as the source of fixed connections.
func WithEnviron(fn func() []string) Option {
	return func(r *Registry) { r.environ = fn }
}

// WithOpener replaces the opener used for one driver.
func WithOpener(d database.Driver, fn Opener) Option {
	return func(r *Registry) { r.openers[d] = fn }
}

type credentials struct {
	user string
	pass string
}

type poolKey struct {
	dbid   string
	schema string
}

// Registry is safe for concurrent use.
type Registry struct {
	cfg     Config
	log     *logger.Logger
	environ func() []string
	openers map[database.Driver]Opener

	fileMu sync.Mutex // serialises read-modify-write of the registry file

	mu     sync.Mutex
	passes map[string]credentials
	pools  map[poolKey]database.DB
}

// New returns a Registry. The registry file is created on first Add.
func New(cfg *Config, opts ...Option) *Registry {
	c := *cfg
	if c.EnvPrefix == "" {
		c.EnvPrefix = "DB_"
	}
	r := &Registry{
		cfg:     c,
		log:     logger.Nop(),
		environ: os.Environ,
		openers: map[database.Driver]Opener{
			database.DriverPostgres: func(ctx context.Context, cfg *database.Config) (database.DB, error) {
				return postgres.New(ctx, cfg)
			},
			database.DriverMySQL: func(ctx context.Context, cfg *database.Config) (database.DB, error) {
				return mysql.New(ctx, cfg)
			},
			database.DriverSQLite: func(ctx context.Context, cfg *database.Config) (database.DB, error) {
				return sqlite.New(ctx, cfg)
			},
		},
		passes: make(map[string]credentials),
		pools:  make(map[poolKey]database.DB),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// --- connection entries ---

type document struct {
	Connections []api.Conn `yaml:"connections"`
}

func (r *Registry) fixed() []api.Conn {
	var out []api.Conn
	for _, kv := range r.environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, r.cfg.EnvPrefix) || len(k) == len(r.cfg.EnvPrefix) {
			continue
		}
		id := k[len(r.cfg.EnvPrefix):]

		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			r.log.WarnWith("skipping fixed connection", err, map[string]any{"dbid": id})
			continue
		}
		var c api.Conn
		if err := json.Unmarshal(raw, &c); err != nil {
			r.log.WarnWith("skipping fixed connection", err, map[string]any{"dbid": id})
			continue
		}
		c.DBID = id
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DBID < out[j].DBID })
	return out
}

func (r *Registry) load() ([]api.Conn, error) {
	b, err := os.ReadFile(r.cfg.File)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read connection registry", err)
	}

	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		// an unreadable registry lists as empty rather than failing every request
		r.log.WarnWith("ignoring malformed connection registry", err, map[string]any{"file": r.cfg.File})
		return nil, nil
	}
	return doc.Connections, nil
}

func (r *Registry) save(conns []api.Conn) error {
	b, err := yaml.Marshal(document{Connections: conns})
	if err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "failed to encode connection registry", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.cfg.File), 0o700); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "failed to create registry directory", err)
	}

	tmp := r.cfg.File + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "failed to write connection registry", err)
	}
	if err := os.Rename(tmp, r.cfg.File); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "failed to write connection registry", err)
	}
	return nil
}

// List returns connection nodes: fixed connections first, then user
// connections in the order they were added.
func (r *Registry) List() ([]api.Node, error) {
	out := make([]api.Node, 0)
	for _, c := range r.fixed() {
		out = append(out, api.Node{
			Type:    api.NodeConn,
			Name:    c.DBID,
			Subtype: api.Text(fmt.Sprint(int(c.DBType))),
			Fix:     true,
		})
	}

	conns, err := r.load()
	if err != nil {
		return nil, err
	}
	for _, c := range conns {
		out = append(out, api.Node{
			Type:    api.NodeConn,
			Name:    c.DBID,
			Desc:    c.Name,
			Subtype: api.Text(fmt.Sprint(int(c.DBType))),
		})
	}
	return out, nil
}

// Get returns the connection with the given id.
func (r *Registry) Get(dbid string) (api.Conn, error) {
	for _, c := range r.fixed() {
		if c.DBID == dbid {
			return c, nil
		}
	}
	conns, err := r.load()
	if err != nil {
		return api.Conn{}, err
	}
	for _, c := range conns {
		if c.DBID == dbid {
			return c, nil
		}
	}
	return api.Conn{}, errs.New(errs.ErrKindNotFound, MsgNoConn)
}

// Add validates conn and appends it to the registry file. When several
// checks fail the last one is reported.
func (r *Registry) Add(conn api.Conn) error {
	if conn.DBType == 0 {
		return errs.New(errs.ErrKindInvalidInput, MsgNoType)
	}

	var msg string
	if conn.DBType != api.ConnSQLite && conn.DBHost == "" {
		msg = MsgNoHost
	}
	if conn.DBType == api.ConnPostgres && conn.DBName == "" {
		msg = MsgPostgresName
	}
	if conn.DBType == api.ConnSQLite {
		if conn.DBName == "" {
			msg = MsgSQLiteName
		}
	} else if conn.DBName != "" && !validName.MatchString(conn.DBName) {
		msg = MsgBadName
	}

	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	conns, err := r.load()
	if err != nil {
		return err
	}
	if r.exists(conn.DBID, conns) {
		msg = fmt.Sprintf("db_id %s already exists.", conn.DBID)
	}
	if msg != "" {
		return errs.New(errs.ErrKindInvalidInput, msg)
	}

	conn.ErrMsg = ""
	if err := r.save(append(conns, conn)); err != nil {
		return err
	}
	r.log.With().Str("dbid", conn.DBID).Str("type", conn.DBType.String()).Logger().Info("connection added")
	return nil
}

func (r *Registry) exists(dbid string, conns []api.Conn) bool {
	for _, c := range r.fixed() {
		if c.DBID == dbid {
			return true
		}
	}
	for _, c := range conns {
		if c.DBID == dbid {
			return true
		}
	}
	return false
}

// Delete removes a user connection and closes its pools. Unknown and
// fixed connections are left alone.
func (r *Registry) Delete(dbid string) error {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	conns, err := r.load()
	if err != nil {
		return err
	}
	kept := conns[:0]
	for _, c := range conns {
		if c.DBID != dbid {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(conns) {
		return nil
	}
	if err := r.save(kept); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.passes, dbid)
	r.mu.Unlock()
	r.dropPools(dbid)

	r.log.With().Str("dbid", dbid).Logger().Info("connection deleted")
	return nil
}

// --- passwords ---

func needsPass(c api.Conn) bool {
	switch c.DBType {
	case api.ConnSQLite, api.ConnHiveKerberos:
		return false
	}
	return c.DBUser == "" || c.DBPass == ""
}

// CheckPass reports whether credentials are available for dbid. When they
// are not, the configured user (possibly empty) is returned for the
// password prompt.
func (r *Registry) CheckPass(dbid string) (bool, string, error) {
	c, err := r.Get(dbid)
	if err != nil {
		return false, "", err
	}
	if !needsPass(c) {
		return true, "", nil
	}

	r.mu.Lock()
	_, ok := r.passes[dbid]
	r.mu.Unlock()
	if ok {
		return true, "", nil
	}
	return false, c.DBUser, nil
}

// SetPass stores temporary credentials for dbid and verifies them by
// connecting. Credentials that fail to connect are forgotten.
func (r *Registry) SetPass(ctx context.Context, dbid, user, pass string) error {
	r.mu.Lock()
	r.passes[dbid] = credentials{user: user, pass: pass}
	r.mu.Unlock()
	r.dropPools(dbid)

	if _, err := r.Open(ctx, dbid, ""); err != nil {
		r.mu.Lock()
		delete(r.passes, dbid)
		r.mu.Unlock()
		r.log.WarnWith("password rejected", err, map[string]any{"dbid": dbid})
		return errs.Wrap(errs.ErrKindPermissionDenied, MsgBadPass, err)
	}
	return nil
}

// ClearPass forgets the temporary credentials of dbid, or of every
// connection when dbid is empty.
func (r *Registry) ClearPass(dbid string) {
	r.mu.Lock()
	var ids []string
	if dbid == "" {
		for id := range r.passes {
			ids = append(ids, id)
		}
		r.passes = make(map[string]credentials)
	} else if _, ok := r.passes[dbid]; ok {
		delete(r.passes, dbid)
		ids = append(ids, dbid)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.dropPools(id)
	}
}

// --- pools ---

// Open returns the pool for dbid with schema as the default schema,
// opening it on first use.
func (r *Registry) Open(ctx context.Context, dbid, schema string) (database.DB, error) {
	c, err := r.Get(dbid)
	if err != nil {
		return nil, err
	}
	if c.DBType == api.ConnSQLite {
		schema = ""
	}
	key := poolKey{dbid: dbid, schema: schema}

	r.mu.Lock()
	if db, ok := r.pools[key]; ok {
		r.mu.Unlock()
		return db, nil
	}
	cred, hasCred := r.passes[dbid]
	r.mu.Unlock()

	user, pass := c.DBUser, c.DBPass
	if needsPass(c) {
		if !hasCred {
			return nil, errs.Newf(errs.ErrKindPermissionDenied, "password required for %s", dbid)
		}
		user, pass = cred.user, cred.pass
	}

	cfg, err := r.driverConfig(c, user, pass, schema)
	if err != nil {
		return nil, err
	}
	open, ok := r.openers[cfg.Driver]
	if !ok {
		return nil, errs.New(errs.ErrKindUnsupported, MsgUnsupported)
	}

	db, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.pools[key]; ok {
		db.Close()
		return existing, nil
	}
	r.pools[key] = db
	r.log.DebugWith("pool opened", map[string]any{"dbid": dbid, "schema": schema, "driver": string(cfg.Driver)})
	return db, nil
}

func (r *Registry) driverConfig(c api.Conn, user, pass, schema string) (*database.Config, error) {
	port := string(c.DBPort)
	if port == "" {
		port = defaultPorts[c.DBType]
	}

	switch c.DBType {
	case api.ConnMySQL:
		// mysql databases double as schemas
		name := c.DBName
		if schema != "" {
			name = schema
		}
		return database.DefaultConfig(database.DriverMySQL, mysql.DSN(c.DBHost, port, user, pass, name)), nil

	case api.ConnPostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(user, pass),
			Host:   c.DBHost + ":" + port,
			Path:   "/" + c.DBName,
		}
		cfg := database.DefaultConfig(database.DriverPostgres, u.String())
		cfg.Schema = schema
		return cfg, nil

	case api.ConnSQLite:
		path := c.DBName
		if path != ":memory:" && !filepath.IsAbs(path) {
			path = filepath.Join(r.cfg.DataDir, path)
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create database directory", err)
			}
		}
		return database.DefaultConfig(database.DriverSQLite, path), nil

	default:
		return nil, errs.New(errs.ErrKindUnsupported, MsgUnsupported)
	}
}

func (r *Registry) dropPools(dbid string) {
	r.mu.Lock()
	var closing []database.DB
	for k, db := range r.pools {
		if k.dbid == dbid {
			closing = append(closing, db)
			delete(r.pools, k)
		}
	}
	r.mu.Unlock()

	for _, db := range closing {
		db.Close()
	}
}

// Close closes every open pool.
func (r *Registry) Close() {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[poolKey]database.DB)
	r.mu.Unlock()

	for _, db := range pools {
		db.Close()
	}
}
