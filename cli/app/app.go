package app

import (
	"fmt"
	"os"
	"runtime"

	"github.com/nspcc-dev/neo-mpt/cli/db"
	"github.com/nspcc-dev/neo-mpt/cli/options"
	"github.com/nspcc-dev/neo-mpt/cli/server"
	"github.com/nspcc-dev/neo-mpt/pkg/config"
	"github.com/urfave/cli"
)

func versionPrinter(c *cli.Context) {
	_, _ = fmt.Fprintf(c.App.Writer, "neo-mpt\nVersion: %s\nGoVersion: %s\n",
		config.Version,
		runtime.Version(),
	)
}

// New creates a neo-mpt instance of [cli.App] with all commands included.
func New() *cli.App {
	cli.VersionPrinter = versionPrinter
	ctl := cli.NewApp()
	ctl.Name = "neo-mpt"
	ctl.Version = config.Version
	ctl.Usage = "Merkle Patricia Trie state storage tool"
	ctl.ErrWriter = os.Stdout
	ctl.Flags = options.Common

	ctl.Commands = append(ctl.Commands, db.NewCommands()...)
	ctl.Commands = append(ctl.Commands, server.NewCommands()...)
	return ctl
}
