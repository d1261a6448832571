// Package cli implements the sqlexplorer command line: the HTTP server and
// a terminal client that browses catalogs and runs queries through it.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/catalog"
	"github.com/koustreak/sqlexplorer/internal/client"
	"github.com/koustreak/sqlexplorer/internal/config"
	"github.com/koustreak/sqlexplorer/internal/errs"
	"github.com/koustreak/sqlexplorer/internal/filestore"
	"github.com/koustreak/sqlexplorer/internal/filestore/minio"
	"github.com/koustreak/sqlexplorer/internal/logger"
)

// maxPassTries bounds how often a password is asked for in one command.
const maxPassTries = 3

// App carries the streams and settings shared by all commands.
type App struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Prompter asks for user names and passwords. Defaults to the terminal.
	Prompter Prompter

	// OpenStore connects to the export bucket. Defaults to MinIO.
	OpenStore func(ctx context.Context, cfg *filestore.Config) (filestore.Store, error)

	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
}

// NewApp returns an App bound to the process streams.
func NewApp() *App {
	return &App{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

func (a *App) init(cfg *config.Config) {
	a.cfg = cfg
	lc := cfg.LoggerConfig()
	lc.Output = a.Err
	a.log = logger.New(lc)
	if a.Prompter == nil {
		a.Prompter = &termPrompter{in: bufio.NewReader(a.In), out: a.Err}
	}
}

func (a *App) openStore(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
	if a.OpenStore != nil {
		return a.OpenStore(ctx, cfg)
	}
	d, err := minio.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (a *App) client() (*client.Client, error) {
	return client.New(a.cfg.ClientConfig(), a.log)
}

func (a *App) catalog(c *client.Client) *catalog.Cache {
	return catalog.New(c, catalog.WithLogger(a.log))
}

// settle runs load and answers password challenges raised on cache until
// load stops asking, the user gives up, or maxPassTries is reached. load is
// repeated once each password is accepted.
func (a *App) settle(ctx context.Context, cache *catalog.Cache, p Prompter, load func() (api.Status, string)) (api.Status, string, error) {
	var challenge *api.PassInfo
	settled := false
	offNeed := cache.NeedPasswd().Connect(func(pi api.PassInfo) { challenge = &pi })
	defer offNeed()
	offSettled := cache.PasswdSettled().Connect(func(string) { settled = true })
	defer offSettled()

	st, msg := load()
	for tries := 0; st == api.StatusNeedPass && tries < maxPassTries; tries++ {
		if challenge == nil {
			break
		}
		pi := *challenge
		challenge = nil

		if err := a.askPassword(ctx, cache, p, pi); err != nil {
			return st, msg, err
		}
		if settled {
			settled = false
			st, msg = load()
		}
	}
	return st, msg, nil
}

func (a *App) askPassword(ctx context.Context, cache *catalog.Cache, p Prompter, pi api.PassInfo) error {
	user := pi.User
	if user == "" {
		u, err := p.Line(fmt.Sprintf("user for %s: ", pi.DBID))
		if err != nil {
			return err
		}
		user = u
	}
	pass, err := p.Secret(fmt.Sprintf("password for %s@%s: ", user, pi.DBID))
	if err != nil {
		return err
	}
	if err := cache.SetPass(ctx, api.PassInfo{DBID: pi.DBID, User: user, Pass: pass}); err != nil {
		fmt.Fprintln(a.Err, errs.Message(err))
	}
	return nil
}

// failure turns a non-OK status into a command error.
func failure(st api.Status, msg string) error {
	switch st {
	case api.StatusOK:
		return nil
	case api.StatusNeedPass:
		return errs.New(errs.ErrKindPermissionDenied, "password required")
	}
	if msg == "" {
		msg = string(st)
	}
	return errs.New(errs.ErrKindQueryFailed, msg)
}
