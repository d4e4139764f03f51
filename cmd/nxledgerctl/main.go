package main

import (
	"os"

	"github.com/erazemk/nxledger/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
