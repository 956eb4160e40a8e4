// cheetah-dispatch creates, submits and monitors detector run processing
// jobs on a batch queue.
package main

import (
	"os"

	"github.com/sacla-sfx/cheetah-dispatch/internal/cli"
)

// Version information, injected at build time via -ldflags.
var (
	Version   = "v0.9.0"
	BuildTime = "unknown"
)

func main() {
	cli.Version = Version
	cli.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
