// Command spprobed runs the continuous probe harness for a decentralized
// storage network: see package cli for the run/migrate subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/evalgo/spprobe/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
