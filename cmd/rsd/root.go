// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"io"
	"log/slog"

	"github.com/bassosimone/intercept"
	"github.com/spf13/cobra"
)

// globalOptions contains the flags shared by all the subcommands.
type globalOptions struct {
	configPath string
	logFormat  string
	logLevel   string

	// Initialized by the root command before running a subcommand.
	config *intercept.Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "rsd",
		Short: "Record and replay raw HTTP responses",
		Long: `rsd fetches a URL saving the raw response bytes to <dir>/<name>.rsd.

When the fixture already exists, rsd replays it without using the network.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			format, err := parseFormat(opts.logFormat)
			if err != nil {
				return err
			}
			opts.logger = newLogger(stderr, level, format)

			opts.config = intercept.NewConfig()
			if opts.configPath == "" {
				return nil
			}
			fc, err := loadFileConfig(opts.configPath)
			if err != nil {
				return err
			}
			return fc.apply(opts.config)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML file with timeouts, TLS and DNS settings")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	root.AddCommand(newFetchCmd(opts))
	root.AddCommand(newHeadersCmd(opts))
	return root
}
