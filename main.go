// Package main serves as the entry point for the wellness memory CLI. The
// application follows the standard Go CLI pattern: a cobra command tree
// rooted in the cli package, configuration layered from defaults,
// environment variables, config file and flags, and exit codes suitable for
// scripting and automation.
package main

import (
	"log"

	"github.com/AllieRays/redis-wellness/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
