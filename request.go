// SPDX-License-Identifier: GPL-3.0-or-later

package intercept

import (
	"bytes"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/bassosimone/runtimex"
	"golang.org/x/net/http/httpguts"
)

// DefaultProtocolVersion is the HTTP version used when [RequestOptions]
// leaves ProtocolVersion empty.
const DefaultProtocolVersion = "1.0"

// RequestOptions controls the raw request built by [BuildRequest].
//
// The zero value is a GET request using [DefaultProtocolVersion].
type RequestOptions struct {
	// Method is the request method; empty means "GET".
	Method string

	// Header contains the request headers.
	Header http.Header

	// Body is sent verbatim after the headers.
	Body []byte

	// ProtocolVersion is "1.0" or "1.1"; empty means [DefaultProtocolVersion].
	ProtocolVersion string
}

// BuildRequest serializes the request to send to the target.
//
// The output only depends on its inputs: headers are emitted in sorted
// key order so that the same options always produce the same bytes.
//
// A Host header is injected as the first header when missing. For HTTP/1.1
// a "Connection: close" header is added when missing, since the response
// is read until the server closes the connection. A Content-Length header
// is added when there is a body and the header is missing. Expect headers
// are dropped because nobody waits for a 100 Continue here.
//
// The caller validates opts with [*RequestOptions.Validate] first.
func BuildRequest(target *Target, opts *RequestOptions) []byte {
	runtimex.Assert(target != nil)
	if opts == nil {
		opts = &RequestOptions{}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	version := opts.ProtocolVersion
	if version == "" {
		version = DefaultProtocolVersion
	}

	var lines []string
	if !hasHeader(opts.Header, "Host") {
		lines = append(lines, "Host: "+target.HostHeader())
	}
	for _, key := range slices.Sorted(maps.Keys(opts.Header)) {
		if strings.EqualFold(key, "Expect") {
			continue
		}
		for _, value := range opts.Header[key] {
			lines = append(lines, key+": "+value)
		}
	}
	if version == "1.1" && !hasHeader(opts.Header, "Connection") {
		lines = append(lines, "Connection: close")
	}
	if len(opts.Body) > 0 && !hasHeader(opts.Header, "Content-Length") {
		lines = append(lines, "Content-Length: "+strconv.Itoa(len(opts.Body)))
	}

	var buf bytes.Buffer
	buf.WriteString(method + " " + target.RequestURI() + " HTTP/" + version + "\r\n")
	for _, line := range lines {
		buf.WriteString(line + "\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(opts.Body)
	return buf.Bytes()
}

// Validate returns an error wrapping [ErrInvalidRequest] when the method
// is not a token, the version is neither "1.0" nor "1.1", or a header
// name or value would break the framing of the request, for example
// because it contains CR or LF.
func (opts *RequestOptions) Validate() error {
	if opts == nil {
		return nil
	}
	if opts.Method != "" && !httpguts.ValidHeaderFieldName(opts.Method) {
		return fmt.Errorf("%w: method %q", ErrInvalidRequest, opts.Method)
	}
	switch opts.ProtocolVersion {
	case "", "1.0", "1.1":
	default:
		return fmt.Errorf("%w: version %q", ErrInvalidRequest, opts.ProtocolVersion)
	}
	for key, values := range opts.Header {
		if !httpguts.ValidHeaderFieldName(key) {
			return fmt.Errorf("%w: header name %q", ErrInvalidRequest, key)
		}
		for _, value := range values {
			if !httpguts.ValidHeaderFieldValue(value) {
				return fmt.Errorf("%w: value of header %q", ErrInvalidRequest, key)
			}
		}
	}
	return nil
}

func hasHeader(header http.Header, name string) bool {
	for key := range header {
		if strings.EqualFold(key, name) {
			return true
		}
	}
	return false
}
