// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/bassosimone/intercept"
	"github.com/spf13/cobra"
)

type fetchOptions struct {
	data        string
	dir         string
	headers     []string
	httpVersion string
	method      string
	name        string
	persist     bool
}

func newFetchCmd(global *globalOptions) *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Fetch URL and write the raw response to the standard output",
		Long: `Fetch URL using the <dir>/<name>.rsd fixture.

When the fixture exists the response is replayed from it. Otherwise the
request is sent to the server and the response is saved to the fixture.
With --persist the fixture is <dir>/<name>-1.rsd.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, global, opts, args[0])
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.data, "data", "", "request body")
	flags.StringVar(&opts.dir, "dir", ".", "directory containing the fixtures")
	flags.StringArrayVarP(&opts.headers, "header", "H", nil, "request header as 'Name: value' (repeatable)")
	flags.StringVar(&opts.httpVersion, "http-version", intercept.DefaultProtocolVersion, "HTTP version: 1.0 or 1.1")
	flags.StringVar(&opts.method, "method", http.MethodGet, "request method")
	flags.StringVar(&opts.name, "name", "", "fixture name (required)")
	flags.BoolVar(&opts.persist, "persist", false, "use a numbered fixture name")
	cmd.MarkFlagRequired("name")
	return cmd
}

func runFetch(cmd *cobra.Command, global *globalOptions, opts *fetchOptions, rawURL string) error {
	reg := intercept.NewRegistry()
	if !reg.SetSaveDir(opts.dir) {
		return fmt.Errorf("not a directory: %s", opts.dir)
	}
	setName := reg.SetSaveFilename
	if opts.persist {
		setName = reg.PersistSaveFile
	}
	if !setName(opts.name) {
		return fmt.Errorf("%w: %q", intercept.ErrValidation, opts.name)
	}
	request, err := opts.requestOptions()
	if err != nil {
		return err
	}

	sess := intercept.NewSession(global.config, reg, global.logger)
	sess.Request = request
	if err := sess.Open(cmd.Context(), rawURL, "rb"); err != nil {
		return err
	}
	_, err = io.Copy(cmd.OutOrStdout(), sess)
	return errors.Join(err, sess.Close())
}

func (opts *fetchOptions) requestOptions() (*intercept.RequestOptions, error) {
	switch opts.httpVersion {
	case "1.0", "1.1":
	default:
		return nil, fmt.Errorf("invalid HTTP version: %q", opts.httpVersion)
	}
	request := &intercept.RequestOptions{
		Method:          strings.ToUpper(opts.method),
		Header:          http.Header{},
		ProtocolVersion: opts.httpVersion,
	}
	for _, entry := range opts.headers {
		name, value, found := strings.Cut(entry, ":")
		if name = strings.TrimSpace(name); !found || name == "" {
			return nil, fmt.Errorf("invalid header: %q", entry)
		}
		request.Header.Add(textproto.CanonicalMIMEHeaderKey(name), strings.TrimSpace(value))
	}
	if opts.data != "" {
		request.Body = []byte(opts.data)
	}
	return request, nil
}
