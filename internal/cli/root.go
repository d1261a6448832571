package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koustreak/sqlexplorer/internal/config"
	"github.com/koustreak/sqlexplorer/internal/errs"
)

// NewRootCmd builds the command tree around a.
func NewRootCmd(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "sqlexplorer",
		Short: "Browse database catalogs and run SQL through the explorer API",
		Long: `sqlexplorer serves the explorer HTTP API ("serve") and is also a
terminal client for it: list and edit connections, walk the
connection/schema/table/column tree and run queries.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(a.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			a.init(cfg)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.In)
	root.SetOut(a.Out)
	root.SetErr(a.Err)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./sqlexplorer.yaml)")
	pf.String("server", "", "explorer API base URL")
	pf.String("token", "", "API token")
	pf.Duration("timeout", 0, "per-request timeout")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (console, json)")

	root.AddCommand(
		newServeCmd(a),
		newConnsCmd(a),
		newTreeCmd(a),
		newQueryCmd(a),
		newSelectCmd(a),
		newPassCmd(a),
		newCommentCmd(a),
	)
	return root
}

// Execute runs the command line with the process streams.
func Execute(ctx context.Context) error {
	a := NewApp()
	if err := NewRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(a.Err, "Error: %s\n", errs.Message(err))
		return err
	}
	return nil
}
