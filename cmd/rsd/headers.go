// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/bassosimone/intercept"
	"github.com/spf13/cobra"
)

func newHeadersCmd(global *globalOptions) *cobra.Command {
	var parsed bool
	cmd := &cobra.Command{
		Use:   "headers FILE",
		Short: "Print the header lines of a fixture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := intercept.OpenFileBackend(args[0])
			if err != nil {
				return err
			}
			defer backend.Close()

			var raw bytes.Buffer
			scanner := intercept.NewHeaderScanner(global.config, global.logger)
			lines, err := scanner.Scan(backend, &raw)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !parsed {
				for _, line := range lines {
					fmt.Fprintln(out, line)
				}
				return nil
			}

			status, header, err := intercept.ParseHeaderLines(lines)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %d %s\n", status.Proto, status.StatusCode, status.Reason)
			for _, key := range slices.Sorted(maps.Keys(header)) {
				for _, value := range header[key] {
					fmt.Fprintf(out, "%s: %s\n", key, value)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&parsed, "parsed", false, "print the parsed status line and canonical headers")
	return cmd
}
