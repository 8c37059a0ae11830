// Command dwell is the local dwell-time tracker: it ingests browser tab
// events, folds them into per-day accumulations, and reports where the
// time went.
package main

import (
	"errors"
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"

	"github.com/runnerr0/dwell/internal/cli"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Run(version); err != nil {
		// go-flags prints its own parse errors; only surface the rest.
		var flagsErr *goflags.Error
		if !errors.As(err, &flagsErr) {
			fmt.Fprintf(os.Stderr, "dwell: %v\n", err)
		}
		os.Exit(1)
	}
}
