package main

import (
	"fmt"
	"os"

	"github.com/DeBrosOfficial/hyperdrive/pkg/cli"
)

// version metadata populated via -ldflags at build time
var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	v := version
	if commit != "" {
		v += " (commit " + commit + ")"
	}
	if date != "" {
		v += " built " + date
	}

	if err := cli.NewRootCmd(v).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
