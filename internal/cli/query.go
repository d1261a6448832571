package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/catalog"
	"github.com/koustreak/sqlexplorer/internal/errs"
	"github.com/koustreak/sqlexplorer/internal/export"
	"github.com/koustreak/sqlexplorer/internal/query"
)

// presignTTL is how long the download link of an export stays valid.
const presignTTL = 24 * time.Hour

type queryOptions struct {
	conn   string
	schema string
	format string
	input  string
	export string
}

func newQueryCmd(a *App) *cobra.Command {
	opts := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run a statement, or open a console",
		Long: `Run one SQL statement on a connection and print the result.

Without a statement (and with a terminal on stdin) an interactive console
opens. Statements end with ';'. Ctrl-C stops the running statement.`,
		Example: `  sqlexplorer query -c warehouse "SELECT count(*) FROM orders"
  sqlexplorer query -c warehouse --db sales -f csv -i report.sql
  sqlexplorer query -c warehouse "SELECT * FROM orders" --export orders-2024
  sqlexplorer query -c warehouse`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd.Context(), args, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.conn, "conn", "c", "", "connection id")
	f.StringVar(&opts.schema, "db", "", "schema (database) to run in")
	f.StringVarP(&opts.format, "format", "f", FormatTable, "output format: table, json, csv")
	f.StringVarP(&opts.input, "input", "i", "", "read the statement from a file")
	f.StringVar(&opts.export, "export", "", "also upload the result as CSV under this object key")
	return cmd
}

func (a *App) newExecutor(cache *catalog.Cache, c query.Backend, dbid, schema string) *query.Executor {
	return query.New(c, cache, query.Options{
		DBID:     dbid,
		Schema:   schema,
		Interval: query.EscalatingInterval(300*time.Millisecond, 2*time.Second, 10*time.Second),
		Logger:   a.log,
	})
}

func (a *App) runQuery(ctx context.Context, args []string, opts *queryOptions) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}

	var sql string
	switch {
	case len(args) > 0:
		sql = strings.Join(args, " ")
	case opts.input != "":
		b, err := os.ReadFile(opts.input)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "failed to read "+opts.input, err)
		}
		sql = string(b)
	case !isTerminal(a.In):
		b, err := io.ReadAll(a.In)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "failed to read stdin", err)
		}
		sql = string(b)
	}

	c, err := a.client()
	if err != nil {
		return err
	}
	cache := a.catalog(c)
	ex := a.newExecutor(cache, c, opts.conn, opts.schema)

	if strings.TrimSpace(sql) == "" {
		return a.console(ctx, cache, ex, opts)
	}
	if opts.conn == "" {
		return errs.New(errs.ErrKindInvalidInput, "--conn is required")
	}
	return a.runStatement(ctx, cache, ex, a.Prompter, strings.TrimSuffix(strings.TrimSpace(sql), ";"), opts)
}

// runStatement runs sql, asking for a password if needed, then renders
// and optionally exports the result.
func (a *App) runStatement(ctx context.Context, cache *catalog.Cache, ex *query.Executor, p Prompter, sql string, opts *queryOptions) error {
	release := stopOnInterrupt(ex)
	defer release()

	var data api.TableData
	st, msg, err := a.settle(ctx, cache, p, func() (api.Status, string) {
		res := ex.Query(ctx, sql)
		data = res.Data
		return res.Status, res.Message
	})
	if err != nil {
		return err
	}
	if err := failure(st, msg); err != nil {
		return err
	}

	if err := renderResult(a.Out, data, opts.format); err != nil {
		return err
	}
	if opts.export != "" {
		return a.exportResult(ctx, opts.export, data)
	}
	return nil
}

// stopOnInterrupt turns Ctrl-C into Stop while a statement runs.
func stopOnInterrupt(ex *query.Executor) (release func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			ex.Stop()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func (a *App) exportResult(ctx context.Context, key string, data api.TableData) error {
	fc := a.cfg.ExportConfig()
	if !fc.Enabled() {
		return errs.New(errs.ErrKindInvalidInput, "export endpoint is not configured")
	}
	store, err := a.openStore(ctx, fc)
	if err != nil {
		return err
	}
	defer store.Close()

	info, err := export.CSV(ctx, store, fc.Bucket, key, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Err, "exported %d rows to %s/%s\n", len(data.Data), fc.Bucket, info.Key)

	link, err := store.PresignGetURL(ctx, fc.Bucket, info.Key, presignTTL)
	if err != nil {
		a.log.WarnWith("presign export failed", err, map[string]any{"key": info.Key})
		return nil
	}
	fmt.Fprintln(a.Err, link)
	return nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
