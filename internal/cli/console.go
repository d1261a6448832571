package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chzyer/readline"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/catalog"
	"github.com/koustreak/sqlexplorer/internal/errs"
	"github.com/koustreak/sqlexplorer/internal/query"
)

const consoleHelp = `
Commands:
  .help            Show this help message
  .conn            List connections and show the current one
  .conn <id>       Run statements on connection <id>
  .tables [schema] List schemas or tables of the current connection
  .quit / .exit    Leave the console

Statements end with ';'. Ctrl-C stops a running statement and
discards a half-typed one.
`

func consolePrompt(ex *query.Executor) string {
	if id := ex.DBID(); id != "" {
		return id + "> "
	}
	return "sql> "
}

func (a *App) console(ctx context.Context, cache *catalog.Cache, ex *query.Executor, opts *queryOptions) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          consolePrompt(ex),
		HistoryFile:     filepath.Join(a.cfg.Registry.DataDir, "query_history"),
		AutoComplete:    consoleCompleter(cache),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdout:          a.Out,
		Stderr:          a.Err,
	})
	if err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "failed to start console", err)
	}
	defer func() { _ = rl.Close() }()

	p := &rlPrompter{rl: rl, prompt: consolePrompt(ex)}
	fmt.Fprintln(a.Out, "sqlexplorer console. Type .help for commands, .quit to exit")

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(p.prompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := a.dotCommand(ctx, cache, ex, p, line, opts.format); quit {
				return nil
			}
			p.prompt = consolePrompt(ex)
			rl.SetPrompt(p.prompt)
			continue
		}

		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString("\n")
			rl.SetPrompt("   ...> ")
			continue
		}
		rl.SetPrompt(p.prompt)

		sql := strings.TrimSuffix(buf.String(), ";")
		buf.Reset()

		if ex.DBID() == "" {
			fmt.Fprintln(a.Err, "no connection selected, use .conn <id>")
			continue
		}
		if err := a.runStatement(ctx, cache, ex, p, sql, opts); err != nil {
			fmt.Fprintf(a.Err, "Error: %s\n", errs.Message(err))
		}
	}
}

// dotCommand handles a console command and reports whether to quit.
func (a *App) dotCommand(ctx context.Context, cache *catalog.Cache, ex *query.Executor, p Prompter, line, format string) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case ".quit", ".exit":
		return true

	case ".help":
		fmt.Fprint(a.Out, consoleHelp)

	case ".conn":
		if out := cache.LoadPath(ctx, nil); !out.Loaded() {
			fmt.Fprintf(a.Err, "Error: %s\n", out.Message)
			return false
		}
		if len(fields) == 1 {
			fmt.Fprintf(a.Out, "current: %s\n", ex.DBID())
			_ = renderNodes(a.Out, cache.GetList(nil), format)
			return false
		}
		id := fields[1]
		if !slices.Contains(cache.Conns(), id) {
			fmt.Fprintf(a.Err, "Error: no connection %s\n", id)
			return false
		}
		if !ex.SetDBID(id) {
			fmt.Fprintln(a.Err, "Error: the connection of this console is fixed")
			return false
		}
		fmt.Fprintf(a.Out, "using %s\n", id)

	case ".tables":
		dbid := ex.DBID()
		if dbid == "" {
			fmt.Fprintln(a.Err, "no connection selected, use .conn <id>")
			return false
		}
		path := catalog.Names(append([]string{dbid}, fields[1:]...)...)
		st, msg, err := a.settle(ctx, cache, p, func() (api.Status, string) {
			out := cache.LoadPath(ctx, path)
			return out.Status, out.Message
		})
		if err == nil {
			err = failure(st, msg)
		}
		if err != nil {
			fmt.Fprintf(a.Err, "Error: %s\n", errs.Message(err))
			return false
		}
		_ = renderNodes(a.Out, cache.GetList(path), format)

	default:
		fmt.Fprintf(a.Err, "Unknown command: %s (type .help for commands)\n", fields[0])
	}
	return false
}

func consoleCompleter(cache *catalog.Cache) *readline.PrefixCompleter {
	conns := func(string) []string { return cache.Conns() }
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".conn", readline.PcItemDynamic(conns)),
		readline.PcItem(".tables"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
