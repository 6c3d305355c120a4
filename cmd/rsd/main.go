// SPDX-License-Identifier: GPL-3.0-or-later

// Command rsd records HTTP responses to fixture files and replays them.
//
// Usage:
//
//	rsd fetch --dir testdata --name example https://example.com/
//	rsd headers testdata/example.rsd
//
// Running fetch twice with the same name replays the fixture saved by the
// first run without touching the network.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "rsd:", err)
		os.Exit(1)
	}
}
