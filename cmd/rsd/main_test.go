// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"testing"
)

// runRSD executes the rsd command line with args.
func runRSD(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var outbuf, errbuf bytes.Buffer
	cmd := newRootCmd(&outbuf, &errbuf)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return outbuf.String(), errbuf.String(), err
}
