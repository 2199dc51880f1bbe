// Package main provides the wishwell command line.
package main

import (
	"fmt"
	"os"

	"github.com/kimhsiao/wishwell/backend/internal/cli"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := cli.NewRootCommand()
	cmd.Version = Version
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		if !cli.WasReported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
