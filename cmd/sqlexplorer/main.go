// Command sqlexplorer serves the explorer HTTP API and browses it from the
// terminal. Run "sqlexplorer --help" for the commands.
package main

import (
	"context"
	"os"

	"github.com/koustreak/sqlexplorer/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
