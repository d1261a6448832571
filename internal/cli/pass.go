package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koustreak/sqlexplorer/internal/api"
)

func newPassCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Manage the passwords the server keeps in memory",
	}
	cmd.AddCommand(newPassSetCmd(a), newPassClearCmd(a))
	return cmd
}

func newPassSetCmd(a *App) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "set <conn>",
		Short: "Send a password; the server verifies it by connecting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			cache := a.catalog(c)

			if user == "" {
				if user, err = a.Prompter.Line(fmt.Sprintf("user for %s: ", args[0])); err != nil {
					return err
				}
			}
			pass, err := a.Prompter.Secret(fmt.Sprintf("password for %s@%s: ", user, args[0]))
			if err != nil {
				return err
			}
			if err := cache.SetPass(cmd.Context(), api.PassInfo{DBID: args[0], User: user, Pass: pass}); err != nil {
				return err
			}
			fmt.Fprintln(a.Out, "password accepted")
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user name")
	return cmd
}

func newPassClearCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [conn]",
		Short: "Forget the password of a connection, or of all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			dbid := ""
			if len(args) == 1 {
				dbid = args[0]
			}
			if err := a.catalog(c).ClearPass(cmd.Context(), dbid); err != nil {
				return err
			}
			fmt.Fprintln(a.Out, "password cleared")
			return nil
		},
	}
}
