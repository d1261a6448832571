package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/errs"
)

type commentFlags struct {
	schema, table, column string
}

// comment picks the most specific level that was named.
func (f commentFlags) comment(dbid, text string) (api.Comment, error) {
	c := api.Comment{DBID: dbid, Schema: f.schema, Table: f.table, Column: f.column, Comment: text}
	switch {
	case f.column != "":
		if f.table == "" {
			return c, errs.New(errs.ErrKindInvalidInput, "--column needs --table")
		}
		c.Type = api.CommentColumn
	case f.table != "":
		c.Type = api.CommentTable
	case f.schema != "":
		c.Type = api.CommentSchema
	default:
		c.Type = api.CommentConn
	}
	return c, nil
}

func newCommentCmd(a *App) *cobra.Command {
	var f commentFlags
	cmd := &cobra.Command{
		Use:   "comment <conn> <text...>",
		Short: "Attach a description to a connection, schema, table or column",
		Example: `  sqlexplorer comment warehouse "nightly copy of prod"
  sqlexplorer comment warehouse --db sales --table orders --column amount "gross, in cents"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := f.comment(args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			if err := a.catalog(c).AddComment(cmd.Context(), cm); err != nil {
				return err
			}
			fmt.Fprintln(a.Out, "comment saved")
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.schema, "db", "", "schema (database)")
	fl.StringVar(&f.table, "table", "", "table")
	fl.StringVar(&f.column, "column", "", "column of --table")
	return cmd
}
