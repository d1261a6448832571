package cli

import (
	"github.com/spf13/cobra"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/catalog"
)

func newTreeCmd(a *App) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "tree [conn [schema] [table]]",
		Short: "List one level of the catalog",
		Long: `List the children of a catalog node: connections with no argument,
schemas (or tables, for engines without schemas) of a connection, tables
of a schema, or the columns of a table.

A password is asked for when the connection needs one.`,
		Args: cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			cache := a.catalog(c)
			path := catalog.Names(args...)

			st, msg, err := a.settle(cmd.Context(), cache, a.Prompter, func() (api.Status, string) {
				out := cache.LoadPath(cmd.Context(), path)
				return out.Status, out.Message
			})
			if err != nil {
				return err
			}
			if err := failure(st, msg); err != nil {
				return err
			}
			return renderNodes(a.Out, cache.GetList(path), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "output format: table, json, csv")
	return cmd
}
