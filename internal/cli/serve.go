package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/koustreak/sqlexplorer/internal/comments"
	"github.com/koustreak/sqlexplorer/internal/database"
	"github.com/koustreak/sqlexplorer/internal/registry"
	"github.com/koustreak/sqlexplorer/internal/server"
	"github.com/koustreak/sqlexplorer/internal/task"
)

func newServeCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the explorer HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.String("addr", "", "listen address (host:port)")
	f.String("base-path", "", "URL prefix of every route")
	f.String("server-token", "", "require \"Authorization: token <value>\"")
	f.Int64("max-tasks", 0, "queries allowed to run at once")
	f.StringSlice("cors-origin", nil, "allowed CORS origin (repeatable)")
	f.Float64("rate-limit", 0, "requests per second per client (0 disables)")
	f.String("registry", "", "connection registry file")
	f.String("data-dir", "", "directory for relative sqlite database names")
	f.String("comments-db", "", "comment database path (empty disables comments)")
	return cmd
}

func (a *App) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(a.cfg.RegistryConfig(), registry.WithLogger(a.log))
	defer reg.Close()

	var notes *comments.Store
	if path := a.cfg.Comments.Path; path != "" {
		var err error
		notes, err = comments.Open(ctx, path, a.log)
		if err != nil {
			return err
		}
		defer notes.Close()
	}

	tasks := task.New[*database.Result](a.cfg.TaskConfig(), a.log)
	srv := server.New(a.cfg.ServerConfig(), reg, notes, tasks, a.log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		// Running queries hold long-polls open; cancel them so the
		// graceful shutdown does not wait out the poll window.
		<-gctx.Done()
		tasks.Close()
		return nil
	})
	return g.Wait()
}
