package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/errs"
)

func newConnsCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conns",
		Short: "List, add and remove connections",
	}
	cmd.AddCommand(newConnsListCmd(a), newConnsAddCmd(a), newConnsRmCmd(a))
	return cmd
}

func newConnsListCmd(a *App) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List connections (fixed ones are marked *)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			res := c.ListConns(cmd.Context())
			if !res.OK() {
				return failure(res.Status, res.Message)
			}
			return renderNodes(a.Out, res.Data, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "output format: table, json, csv")
	return cmd
}

type connFlags struct {
	id, typ, host, port, name, user, pass, desc string
}

func (f connFlags) conn() (api.Conn, error) {
	var typ api.ConnType
	if f.typ != "" {
		t, err := api.ParseConnType(f.typ)
		if err != nil {
			return api.Conn{}, errs.Wrap(errs.ErrKindInvalidInput, err.Error(), err)
		}
		typ = t
	}
	return api.Conn{
		DBID:   f.id,
		DBType: typ,
		DBHost: f.host,
		DBPort: api.Text(f.port),
		DBName: f.name,
		DBUser: f.user,
		DBPass: f.pass,
		Name:   f.desc,
	}, nil
}

func newConnsAddCmd(a *App) *cobra.Command {
	var f connFlags
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a connection",
		Example: `  sqlexplorer conns add warehouse --type postgres --host db.internal --db analytics --user ann
  sqlexplorer conns add scratch --type sqlite --db scratch.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.id = args[0]
			conn, err := f.conn()
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			if err := a.catalog(c).AddConn(cmd.Context(), conn); err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "added %s\n", conn.DBID)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.typ, "type", "", "engine: mysql, postgres, oracle, hive-ldap, hive-kerberos, sqlite (or 1-6)")
	fl.StringVar(&f.host, "host", "", "server host")
	fl.StringVar(&f.port, "port", "", "server port (engine default when empty)")
	fl.StringVar(&f.name, "db", "", "database name, or the file for sqlite")
	fl.StringVar(&f.user, "user", "", "user name")
	fl.StringVar(&f.pass, "pass", "", "password (prefer the prompt)")
	fl.StringVar(&f.desc, "desc", "", "description shown in listings")
	return cmd
}

func newConnsRmCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			if err := a.catalog(c).DelConn(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "removed %s\n", args[0])
			return nil
		},
	}
}
