package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/catalog"
)

func newSelectCmd(a *App) *cobra.Command {
	opts := &queryOptions{}
	var limit int
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "select <conn> <table> [column...]",
		Short: "Query a table through its starter SELECT",
		Long: `Build the starter query for a table, "SELECT t.a, t.b FROM table t",
and run it. Without columns every column of the table is selected.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(opts.format); err != nil {
				return err
			}
			ctx := cmd.Context()
			opts.conn = args[0]
			table, cols := args[1], args[2:]

			c, err := a.client()
			if err != nil {
				return err
			}
			cache := a.catalog(c)

			if len(cols) == 0 {
				path := catalog.Names(opts.conn)
				if opts.schema != "" {
					path = append(path, catalog.Segment{Name: opts.schema})
				}
				path = append(path, catalog.Segment{Type: api.NodeTable, Name: table})

				st, msg, err := a.settle(ctx, cache, a.Prompter, func() (api.Status, string) {
					out := cache.LoadPath(ctx, path)
					return out.Status, out.Message
				})
				if err != nil {
					return err
				}
				if err := failure(st, msg); err != nil {
					return err
				}
				for _, n := range cache.GetList(path) {
					cols = append(cols, n.Name)
				}
			}

			sql := catalog.SelectSQL(table, cols)
			if limit > 0 {
				sql = fmt.Sprintf("%s LIMIT %d", sql, limit)
			}
			if printOnly {
				fmt.Fprintln(a.Out, sql)
				return nil
			}

			ex := a.newExecutor(cache, c, opts.conn, opts.schema)
			return a.runStatement(ctx, cache, ex, a.Prompter, sql, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.schema, "db", "", "schema (database) holding the table")
	f.StringVarP(&opts.format, "format", "f", FormatTable, "output format: table, json, csv")
	f.StringVar(&opts.export, "export", "", "also upload the result as CSV under this object key")
	f.IntVar(&limit, "limit", 100, "row limit (0 for none)")
	f.BoolVar(&printOnly, "print", false, "print the statement instead of running it")
	return cmd
}
